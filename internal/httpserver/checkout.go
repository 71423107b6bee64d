package httpserver

import (
	"net/http"
	"time"

	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/money"
	cartsvc "storefront-checkout/internal/service/cart"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	sessions SessionManager
	interval time.Duration
	done     <-chan struct{}
}

type addItemRequest struct {
	ProductID string       `json:"productId"`
	VariantID *string      `json:"variantId"`
	Name      string       `json:"name"`
	Quantity  int          `json:"quantity"`
	UnitPrice money.Amount `json:"unitPrice"`
	Size      string       `json:"size"`
	Color     string       `json:"color"`
}

type updateItemRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type addressRequest struct {
	AddressID string          `json:"addressId"`
	Address   *domain.Address `json:"address"`
}

type shippingRequest struct {
	ServiceID string `json:"serviceId"`
}

type methodRequest struct {
	Method string `json:"method"`
}

type couponRequest struct {
	Code string `json:"code"`
}

func (h *handlers) createSession(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"sessionId": h.sessions.NewSession()})
}

func (h *handlers) closeSession(c *gin.Context) {
	h.sessions.Close(c.Param("sessionID"))
	c.Status(http.StatusNoContent)
}

func (h *handlers) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, checkoutFrom(c).Snapshot())
}

// events pushes a snapshot every interval so the countdown stays current.
// The stream ends once the checkout settles or the client goes away.
func (h *handlers) events(c *gin.Context) {
	co := checkoutFrom(c)
	ctx := c.Request.Context()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	for {
		snap := co.Snapshot()
		c.SSEvent("checkout", snap)
		c.Writer.Flush()
		if snap.State.Settled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}
	}
}

func (h *handlers) addItem(c *gin.Context) {
	var req addItemRequest
	if !bind(c, &req) {
		return
	}
	snap, err := checkoutFrom(c).AddToCart(c.Request.Context(), cartsvc.AddInput{
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		Name:           req.Name,
		Quantity:       req.Quantity,
		UnitPriceCents: req.UnitPrice.Cents(),
		Size:           req.Size,
		Color:          req.Color,
	})
	respond(c, snap, err)
}

func (h *handlers) updateItem(c *gin.Context) {
	var req updateItemRequest
	if !bind(c, &req) {
		return
	}
	key := domain.LineKey{ProductID: req.ProductID, Size: req.Size, Color: req.Color}
	snap, err := checkoutFrom(c).UpdateQuantity(c.Request.Context(), key, req.Quantity)
	respond(c, snap, err)
}

func (h *handlers) removeItem(c *gin.Context) {
	key := domain.LineKey{
		ProductID: c.Query("productId"),
		Size:      c.Query("size"),
		Color:     c.Query("color"),
	}
	snap, err := checkoutFrom(c).RemoveFromCart(c.Request.Context(), key)
	respond(c, snap, err)
}

func (h *handlers) selectAddress(c *gin.Context) {
	var req addressRequest
	if !bind(c, &req) {
		return
	}
	co := checkoutFrom(c)
	switch {
	case req.Address != nil:
		snap, err := co.UseNewAddress(c.Request.Context(), *req.Address)
		respond(c, snap, err)
	case req.AddressID != "":
		snap, err := co.SelectAddress(c.Request.Context(), req.AddressID)
		respond(c, snap, err)
	default:
		writeError(c, domain.NewValidationError("addressId", "addressId or address is required"))
	}
}

func (h *handlers) lookupPostalCode(c *gin.Context) {
	res, err := checkoutFrom(c).LookupPostalCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": res != nil, "lookup": res})
}

func (h *handlers) selectShipping(c *gin.Context) {
	var req shippingRequest
	if !bind(c, &req) {
		return
	}
	snap, err := checkoutFrom(c).SelectShipping(c.Request.Context(), req.ServiceID)
	respond(c, snap, err)
}

func (h *handlers) selectMethod(c *gin.Context) {
	var req methodRequest
	if !bind(c, &req) {
		return
	}
	method, ok := domain.ParsePaymentMethod(req.Method)
	if !ok {
		writeError(c, domain.NewValidationError("method", "unsupported payment method"))
		return
	}
	snap, err := checkoutFrom(c).SelectMethod(c.Request.Context(), method)
	respond(c, snap, err)
}

func (h *handlers) applyCoupon(c *gin.Context) {
	var req couponRequest
	if !bind(c, &req) {
		return
	}
	snap, err := checkoutFrom(c).ApplyCoupon(c.Request.Context(), req.Code)
	respond(c, snap, err)
}

func (h *handlers) removeCoupon(c *gin.Context) {
	snap, err := checkoutFrom(c).RemoveCoupon(c.Request.Context())
	respond(c, snap, err)
}

func (h *handlers) submit(c *gin.Context) {
	var req checkout.SubmitInput
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	snap, err := checkoutFrom(c).Submit(c.Request.Context(), req)
	respond(c, snap, err)
}

func (h *handlers) refreshPayment(c *gin.Context) {
	snap, err := checkoutFrom(c).CheckPaymentStatus(c.Request.Context())
	respond(c, snap, err)
}

func (h *handlers) abandonPayment(c *gin.Context) {
	snap, err := checkoutFrom(c).AbandonPayment(c.Request.Context())
	respond(c, snap, err)
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "message": err.Error()})
		return false
	}
	return true
}

// respond writes the snapshot, with the error attached when the action failed.
func respond(c *gin.Context, snap checkout.Snapshot, err error) {
	if err != nil {
		status, body := errorResponse(err)
		body["checkout"] = snap
		setRetryAfter(c, err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, snap)
}
