package api

import (
	"net/http"
	"time"

	"github.com/example/marketplace-orders/internal/api/middleware"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handlers       *Handlers
	JWTService     *auth.JWTService
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	authn := middleware.NewAuthenticator(cfg.JWTService, cfg.Logger)
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(withLogging(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(authn.Identify).Get("/products/{productID}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(authn.Require)

			// Any signed-in role; visibility and permission are decided per order
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/orders/{orderID}/cancel", h.CancelOrder)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(auth.RoleBuyer))

				r.Route("/cart", func(r chi.Router) {
					r.Get("/", h.GetCart)
					r.Delete("/", h.ClearCart)
					r.Post("/items", h.AddToCart)
					r.Put("/items/{productID}/{variantID}", h.SetCartQuantity)
					r.Delete("/items/{productID}/{variantID}", h.RemoveFromCart)
					r.Post("/sync", h.SyncCart)
				})
				r.Get("/checkout/preview", h.CheckoutPreview)

				r.Get("/orders", h.ListOrders)
				r.Post("/orders", h.PlaceOrder)
				r.Post("/orders/{orderID}/pay", h.PayOrder)
				r.Post("/orders/{orderID}/return", h.ReturnOrder)

				r.Get("/addresses", h.ListAddresses)
				r.Post("/addresses", h.SaveAddress)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(auth.RoleSeller, auth.RoleAdmin))

				r.Post("/orders/{orderID}/process", h.StartProcessing)
				r.Post("/orders/{orderID}/ship", h.ShipOrder)
				r.Post("/orders/{orderID}/deliver", h.DeliverOrder)

				r.Route("/seller", func(r chi.Router) {
					r.Get("/orders", h.ListSellerOrders)
					r.Post("/products", h.CreateProduct)
					r.Route("/products/{productID}", func(r chi.Router) {
						r.Put("/", h.UpdateProduct)
						r.Put("/active", h.SetProductActive)
						r.Put("/bulk-discount", h.SetBulkDiscount)
						r.Post("/variants", h.AddProductVariant)
						r.Put("/variants/{variantID}/price", h.ChangeVariantPrice)
						r.Put("/variants/{variantID}/availability", h.SetVariantInStock)
						r.Post("/variants/{variantID}/stock", h.AddStock)
					})
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(auth.RoleAdmin))
				r.Post("/admin/products/{productID}/block", h.BlockProduct)
				r.Post("/admin/products/{productID}/unblock", h.UnblockProduct)
			})
		})
	})

	return r
}

func withLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}
