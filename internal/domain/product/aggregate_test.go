package product

import (
	"context"
	"testing"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProductService() (*Service, *mocks.MockEventStore) {
	eventStore := mocks.NewMockEventStore()
	service := NewService(eventStore, zap.NewNop())
	return service, eventStore
}

func validParams() CreateParams {
	return CreateParams{
		SellerID:   "seller-1",
		SellerName: "Acme",
		Name:       "T-Shirt",
		Image:      "https://img.example/tshirt.png",
		Variants: []VariantSpec{
			{VariantID: "red-l", Attributes: "Red / L", BasePrice: decimal.NewFromInt(100)},
			{VariantID: "blue-m", Attributes: "Blue / M", BasePrice: decimal.NewFromInt(120)},
		},
		BulkDiscount: []pricing.Tier{
			{MinQty: 10, PriceDiscountPerUnit: decimal.NewFromInt(10)},
			{MinQty: 5, PriceDiscountPerUnit: decimal.NewFromInt(5)},
		},
	}
}

// ============================================
// Create Product Tests
// ============================================

func TestService_Create_ValidProduct(t *testing.T) {
	service, eventStore := newTestProductService()
	ctx := context.Background()

	p, err := service.Create(ctx, validParams())

	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "T-Shirt", p.Name)
	assert.Equal(t, "seller-1", p.SellerID)
	assert.True(t, p.IsActive)
	assert.False(t, p.IsBlocked)
	assert.Equal(t, 1, p.Version)
	require.Len(t, p.Variants, 2)
	assert.True(t, p.Variants[0].InStock)
	assert.Equal(t, 5, p.BulkDiscount[0].MinQty, "tiers are stored sorted")

	require.Len(t, eventStore.AppendCalls, 1)
	assert.Equal(t, EventProductCreated, eventStore.AppendCalls[0].EventType)
	assert.Equal(t, AggregateType, eventStore.AppendCalls[0].AggregateType)
	assert.Equal(t, 0, eventStore.AppendCalls[0].ExpectedVersion)
}

func TestService_Create_GeneratesVariantIDs(t *testing.T) {
	service, _ := newTestProductService()
	params := validParams()
	params.Variants = []VariantSpec{{Attributes: "One size", BasePrice: decimal.NewFromInt(50)}}

	p, err := service.Create(context.Background(), params)

	require.NoError(t, err)
	assert.NotEmpty(t, p.Variants[0].VariantID)
}

func TestService_Create_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *CreateParams)
		err    error
	}{
		{"empty name", func(p *CreateParams) { p.Name = "  " }, ErrInvalidName},
		{"missing seller", func(p *CreateParams) { p.SellerID = "" }, ErrSellerRequired},
		{"no variants", func(p *CreateParams) { p.Variants = nil }, ErrNoVariants},
		{"zero price", func(p *CreateParams) { p.Variants[0].BasePrice = decimal.Zero }, ErrInvalidPrice},
		{"duplicate variant", func(p *CreateParams) { p.Variants[1].VariantID = "red-l" }, ErrDuplicateVariant},
		{"bad tier", func(p *CreateParams) {
			p.BulkDiscount = []pricing.Tier{{MinQty: 0, PriceDiscountPerUnit: decimal.NewFromInt(5)}}
		}, pricing.ErrInvalidTierQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, eventStore := newTestProductService()
			params := validParams()
			tt.modify(&params)

			_, err := service.Create(context.Background(), params)

			assert.ErrorIs(t, err, tt.err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Empty(t, eventStore.AppendCalls)
		})
	}
}

// ============================================
// Get / Update Tests
// ============================================

func TestService_Get_NotFound(t *testing.T) {
	service, _ := newTestProductService()

	_, err := service.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_Update_Success(t *testing.T) {
	service, _ := newTestProductService()
	ctx := context.Background()
	created, err := service.Create(ctx, validParams())
	require.NoError(t, err)

	_, err = service.Update(ctx, created.ID, "Polo", "soft", "img2")
	require.NoError(t, err)

	p, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Polo", p.Name)
	assert.Equal(t, "img2", p.Image)
	assert.Equal(t, 2, p.Version)
}

func TestService_Update_NotFound(t *testing.T) {
	service, _ := newTestProductService()

	_, err := service.Update(context.Background(), "missing", "Name", "", "")

	assert.ErrorIs(t, err, ErrProductNotFound)
}

// ============================================
// Variant Tests
// ============================================

func TestService_ChangeVariantPrice(t *testing.T) {
	service, _ := newTestProductService()
	ctx := context.Background()
	created, err := service.Create(ctx, validParams())
	require.NoError(t, err)

	p, err := service.ChangeVariantPrice(ctx, created.ID, "red-l", decimal.NewFromInt(90))
	require.NoError(t, err)

	v, ok := p.Variant("red-l")
	require.True(t, ok)
	assert.True(t, v.BasePrice.Equal(decimal.NewFromInt(90)))

	_, err = service.ChangeVariantPrice(ctx, created.ID, "nope", decimal.NewFromInt(90))
	assert.ErrorIs(t, err, ErrVariantNotFound)

	_, err = service.ChangeVariantPrice(ctx, created.ID, "red-l", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestService_SetVariantInStock(t *testing.T) {
	service, _ := newTestProductService()
	ctx := context.Background()
	created, err := service.Create(ctx, validParams())
	require.NoError(t, err)

	_, err = service.SetVariantInStock(ctx, created.ID, "blue-m", false)
	require.NoError(t, err)

	p, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	v, _ := p.Variant("blue-m")
	assert.False(t, v.InStock)
	v, _ = p.Variant("red-l")
	assert.True(t, v.InStock)
}

func TestService_AddVariant_Duplicate(t *testing.T) {
	service, _ := newTestProductService()
	ctx := context.Background()
	created, err := service.Create(ctx, validParams())
	require.NoError(t, err)

	_, err = service.AddVariant(ctx, created.ID, VariantSpec{VariantID: "red-l", BasePrice: decimal.NewFromInt(1)})

	assert.ErrorIs(t, err, ErrDuplicateVariant)
}

// ============================================
// Flag Tests
// ============================================

func TestService_BlockAndDeactivate(t *testing.T) {
	service, eventStore := newTestProductService()
	ctx := context.Background()
	created, err := service.Create(ctx, validParams())
	require.NoError(t, err)

	_, err = service.Block(ctx, created.ID, "counterfeit")
	require.NoError(t, err)
	_, err = service.Block(ctx, created.ID, "again")
	require.NoError(t, err)
	_, err = service.SetActive(ctx, created.ID, false)
	require.NoError(t, err)

	p, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, p.IsBlocked)
	assert.Equal(t, "counterfeit", p.BlockReason)
	assert.False(t, p.IsActive)
	assert.Len(t, eventStore.EventsOfType(EventProductBlocked), 1, "blocking twice appends once")

	p, err = service.Unblock(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, p.IsBlocked)
}

func TestProduct_CheckOwner(t *testing.T) {
	p := &Product{SellerID: "seller-1"}

	assert.NoError(t, p.CheckOwner("seller-1"))
	err := p.CheckOwner("seller-2")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestService_Snapshot_AfterThreshold(t *testing.T) {
	service, eventStore := newTestProductService()
	ctx := context.Background()
	created, err := service.Create(ctx, validParams())
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		_, err := service.ChangeVariantPrice(ctx, created.ID, "red-l", decimal.NewFromInt(int64(100+i)))
		require.NoError(t, err)
	}

	require.Len(t, eventStore.SnapshotCalls, 1)
	assert.Equal(t, 10, eventStore.SnapshotCalls[0].Version)

	p, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	v, _ := p.Variant("red-l")
	assert.True(t, v.BasePrice.Equal(decimal.NewFromInt(108)))
}
