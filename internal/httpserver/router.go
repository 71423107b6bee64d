package httpserver

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/domain"
	cartsvc "storefront-checkout/internal/service/cart"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Checkout is the per-session action surface.
type Checkout interface {
	Snapshot() checkout.Snapshot
	AddToCart(ctx context.Context, in cartsvc.AddInput) (checkout.Snapshot, error)
	UpdateQuantity(ctx context.Context, key domain.LineKey, quantity int) (checkout.Snapshot, error)
	RemoveFromCart(ctx context.Context, key domain.LineKey) (checkout.Snapshot, error)
	SelectAddress(ctx context.Context, addressID string) (checkout.Snapshot, error)
	UseNewAddress(ctx context.Context, in domain.Address) (checkout.Snapshot, error)
	LookupPostalCode(ctx context.Context, code string) (*domain.PostalLookup, error)
	SelectShipping(ctx context.Context, serviceID string) (checkout.Snapshot, error)
	SelectMethod(ctx context.Context, method domain.PaymentMethod) (checkout.Snapshot, error)
	ApplyCoupon(ctx context.Context, code string) (checkout.Snapshot, error)
	RemoveCoupon(ctx context.Context) (checkout.Snapshot, error)
	Submit(ctx context.Context, in checkout.SubmitInput) (checkout.Snapshot, error)
	CheckPaymentStatus(ctx context.Context) (checkout.Snapshot, error)
	AbandonPayment(ctx context.Context) (checkout.Snapshot, error)
}

type SessionManager interface {
	NewSession() string
	Get(ctx context.Context, sessionID string) (Checkout, error)
	Close(sessionID string) bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the router.
type Deps struct {
	Sessions       SessionManager
	Store          Pinger
	Metrics        http.Handler
	AllowedOrigins []string
	EventInterval  time.Duration
}

// Sessions adapts a checkout.Manager to SessionManager.
func Sessions(m *checkout.Manager) SessionManager {
	return managerSessions{m: m}
}

type managerSessions struct {
	m *checkout.Manager
}

func (s managerSessions) NewSession() string { return s.m.NewSession() }

func (s managerSessions) Get(ctx context.Context, id string) (Checkout, error) {
	o, err := s.m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s managerSessions) Close(id string) bool { return s.m.Close(id) }

// buildRouter wires routes for the API. Event streams end when done closes.
func buildRouter(logger *log.Logger, deps Deps, done <-chan struct{}) *gin.Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.EventInterval <= 0 {
		deps.EventInterval = time.Second
	}
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery())
	if c, ok := corsConfig(deps.AllowedOrigins); ok {
		router.Use(cors.New(c))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Store))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	h := &handlers{sessions: deps.Sessions, interval: deps.EventInterval, done: done}
	router.POST("/sessions", h.createSession)

	sess := router.Group("/sessions/:sessionID")
	sess.DELETE("/checkout", h.closeSession)

	loaded := sess.Group("", sessionMiddleware(deps.Sessions))
	loaded.GET("/checkout", h.snapshot)
	loaded.GET("/checkout/events", h.events)
	loaded.POST("/cart/items", h.addItem)
	loaded.PATCH("/cart/items", h.updateItem)
	loaded.DELETE("/cart/items", h.removeItem)
	loaded.POST("/checkout/address", h.selectAddress)
	loaded.GET("/checkout/postal-code/:code", h.lookupPostalCode)
	loaded.POST("/checkout/shipping", h.selectShipping)
	loaded.POST("/checkout/method", h.selectMethod)
	loaded.POST("/checkout/coupon", h.applyCoupon)
	loaded.DELETE("/checkout/coupon", h.removeCoupon)
	loaded.POST("/checkout/submit", h.submit)
	loaded.POST("/checkout/payment/refresh", h.refreshPayment)
	loaded.DELETE("/checkout/payment", h.abandonPayment)

	return router
}

func corsConfig(origins []string) (cors.Config, bool) {
	if len(origins) == 0 {
		return cors.Config{}, false
	}
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return c, true
}

type checkoutCtxKeyType struct{}

var checkoutCtxKey = checkoutCtxKeyType{}

// sessionMiddleware forwards the caller's bearer token and loads the
// session's checkout into the request context.
func sessionMiddleware(sessions SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("sessionID"))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing session id"})
			return
		}
		ctx := c.Request.Context()
		if tok := bearerToken(c.GetHeader("Authorization")); tok != "" {
			ctx = backend.WithAuthToken(ctx, tok)
		}
		co, err := sessions.Get(ctx, id)
		if err != nil {
			status, body := errorResponse(err)
			c.AbortWithStatusJSON(status, body)
			return
		}
		ctx = context.WithValue(ctx, checkoutCtxKey, co)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func checkoutFrom(c *gin.Context) Checkout {
	co, _ := c.Request.Context().Value(checkoutCtxKey).(Checkout)
	return co
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
