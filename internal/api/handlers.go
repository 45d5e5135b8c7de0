package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/api/middleware"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/command"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/example/marketplace-orders/internal/query"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	addresses    address.Book
	logger       *zap.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, addresses address.Book, logger *zap.Logger) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		addresses:    addresses,
		logger:       logger.Named("api"),
	}
}

// decode reads a JSON body into v and answers 400 when it cannot
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

// claims is set by Authenticator.Require on every route that reaches a handler
func claims(r *http.Request) *auth.Claims {
	c, _ := middleware.ClaimsFrom(r.Context())
	return c
}

func actor(r *http.Request) command.Actor {
	return command.ActorFromClaims(claims(r))
}

func userID(r *http.Request) string {
	return claims(r).UserID
}

func pageFrom(r *http.Request) store.Page {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return store.Page{Limit: limit, Offset: offset}.Normalize()
}

// ============================================
// Cart
// ============================================

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.queryHandler.GetCart(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var cmd command.AddToCart
	if !decode(w, r, &cmd) {
		return
	}
	cmd.UserID = userID(r)
	c, err := h.cmdHandler.AddToCart(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) SetCartQuantity(w http.ResponseWriter, r *http.Request) {
	var cmd command.SetCartQuantity
	if !decode(w, r, &cmd) {
		return
	}
	cmd.UserID = userID(r)
	cmd.ProductID = chi.URLParam(r, "productID")
	cmd.VariantID = chi.URLParam(r, "variantID")
	c, err := h.cmdHandler.SetCartQuantity(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.RemoveFromCart(r.Context(), command.RemoveFromCart{
		UserID:    userID(r),
		ProductID: chi.URLParam(r, "productID"),
		VariantID: chi.URLParam(r, "variantID"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) SyncCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.SyncCart(r.Context(), command.SyncCart{UserID: userID(r)})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.ClearCart(r.Context(), command.ClearCart{UserID: userID(r)})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) CheckoutPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.queryHandler.CheckoutPreview(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// ============================================
// Orders
// ============================================

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AddressID           string `json:"address_id"`
		PaymentMethod       string `json:"payment_method"`
		ExpectedCartVersion *int   `json:"expected_cart_version"`
	}
	if !decode(w, r, &req) {
		return
	}
	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	o, err := h.cmdHandler.PlaceOrder(r.Context(), command.PlaceOrder{
		UserID:              userID(r),
		AddressID:           req.AddressID,
		PaymentMethod:       method,
		ExpectedCartVersion: req.ExpectedCartVersion,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) PayOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.cmdHandler.PayOrder(r.Context(), command.PayOrder{
		UserID:  userID(r),
		OrderID: chi.URLParam(r, "orderID"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queryHandler.ListOrders(r.Context(), userID(r), pageFrom(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) ListSellerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queryHandler.ListSellerOrders(r.Context(), userID(r), pageFrom(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrder(r.Context(), claims(r), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	o, err := h.cmdHandler.CancelOrder(r.Context(), command.CancelOrder{
		Actor:   actor(r),
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) ReturnOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.cmdHandler.ReturnOrder(r.Context(), command.ReturnOrder{
		UserID:  userID(r),
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) StartProcessing(w http.ResponseWriter, r *http.Request) {
	o, err := h.cmdHandler.StartProcessing(r.Context(), command.StartProcessing{
		Actor:   actor(r),
		OrderID: chi.URLParam(r, "orderID"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) ShipOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackingNumber string `json:"tracking_number"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	o, err := h.cmdHandler.ShipOrder(r.Context(), command.ShipOrder{
		Actor:          actor(r),
		OrderID:        chi.URLParam(r, "orderID"),
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.cmdHandler.DeliverOrder(r.Context(), command.DeliverOrder{
		Actor:   actor(r),
		OrderID: chi.URLParam(r, "orderID"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// ============================================
// Products
// ============================================

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	viewer, _ := middleware.ClaimsFrom(r.Context())
	p, err := h.queryHandler.GetProduct(r.Context(), viewer, chi.URLParam(r, "productID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateProduct
	if !decode(w, r, &cmd) {
		return
	}
	cmd.Actor = actor(r)
	p, err := h.cmdHandler.CreateProduct(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateProduct
	if !decode(w, r, &cmd) {
		return
	}
	cmd.Actor = actor(r)
	cmd.ProductID = chi.URLParam(r, "productID")
	p, err := h.cmdHandler.UpdateProduct(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) AddProductVariant(w http.ResponseWriter, r *http.Request) {
	var cmd command.AddProductVariant
	if !decode(w, r, &cmd.Variant) {
		return
	}
	cmd.Actor = actor(r)
	cmd.ProductID = chi.URLParam(r, "productID")
	p, err := h.cmdHandler.AddProductVariant(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) ChangeVariantPrice(w http.ResponseWriter, r *http.Request) {
	var cmd command.ChangeVariantPrice
	if !decode(w, r, &cmd) {
		return
	}
	cmd.Actor = actor(r)
	cmd.ProductID = chi.URLParam(r, "productID")
	cmd.VariantID = chi.URLParam(r, "variantID")
	p, err := h.cmdHandler.ChangeVariantPrice(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) SetVariantInStock(w http.ResponseWriter, r *http.Request) {
	var cmd command.SetVariantInStock
	if !decode(w, r, &cmd) {
		return
	}
	cmd.Actor = actor(r)
	cmd.ProductID = chi.URLParam(r, "productID")
	cmd.VariantID = chi.URLParam(r, "variantID")
	p, err := h.cmdHandler.SetVariantInStock(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) AddStock(w http.ResponseWriter, r *http.Request) {
	var cmd command.AddStock
	if !decode(w, r, &cmd) {
		return
	}
	cmd.Actor = actor(r)
	cmd.ProductID = chi.URLParam(r, "productID")
	cmd.VariantID = chi.URLParam(r, "variantID")
	inv, err := h.cmdHandler.AddStock(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"product_id":      inv.ProductID,
		"variant_id":      inv.VariantID,
		"total_stock":     inv.TotalStock,
		"reserved_stock":  inv.ReservedStock,
		"available_stock": inv.AvailableStock(),
	})
}

func (h *Handlers) SetBulkDiscount(w http.ResponseWriter, r *http.Request) {
	var cmd command.SetBulkDiscount
	if !decode(w, r, &cmd) {
		return
	}
	cmd.Actor = actor(r)
	cmd.ProductID = chi.URLParam(r, "productID")
	p, err := h.cmdHandler.SetBulkDiscount(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) SetProductActive(w http.ResponseWriter, r *http.Request) {
	var cmd command.SetProductActive
	if !decode(w, r, &cmd) {
		return
	}
	cmd.Actor = actor(r)
	cmd.ProductID = chi.URLParam(r, "productID")
	p, err := h.cmdHandler.SetProductActive(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ============================================
// Admin
// ============================================

func (h *Handlers) BlockProduct(w http.ResponseWriter, r *http.Request) {
	var cmd command.BlockProduct
	if r.ContentLength != 0 && !decode(w, r, &cmd) {
		return
	}
	cmd.ProductID = chi.URLParam(r, "productID")
	p, err := h.cmdHandler.BlockProduct(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) UnblockProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.cmdHandler.UnblockProduct(r.Context(), command.UnblockProduct{ProductID: chi.URLParam(r, "productID")})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ============================================
// Addresses
// ============================================

func (h *Handlers) ListAddresses(w http.ResponseWriter, r *http.Request) {
	list, err := h.addresses.ListByUser(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []address.Address{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) SaveAddress(w http.ResponseWriter, r *http.Request) {
	var a address.Address
	if !decode(w, r, &a) {
		return
	}
	saved, err := h.cmdHandler.SaveAddress(r.Context(), command.SaveAddress{UserID: userID(r), Address: a})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, saved)
}
