package httpserver

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/checkout"
	"storefront-checkout/internal/domain"

	"github.com/gin-gonic/gin"
)

var statusByCode = map[string]int{
	checkout.CodeValidation:        http.StatusUnprocessableEntity,
	checkout.CodeCouponRejected:    http.StatusUnprocessableEntity,
	checkout.CodeTokenization:      http.StatusUnprocessableEntity,
	checkout.CodeRateLimited:       http.StatusTooManyRequests,
	checkout.CodeGatewayRejected:   http.StatusPaymentRequired,
	checkout.CodeArtifact:          http.StatusBadGateway,
	checkout.CodeNetwork:           http.StatusServiceUnavailable,
	checkout.CodeResolver:          http.StatusServiceUnavailable,
	checkout.CodeNotFound:          http.StatusNotFound,
	checkout.CodeInvalidTransition: http.StatusConflict,
	checkout.CodeAttemptInProgress: http.StatusConflict,
	checkout.CodePaymentActive:     http.StatusConflict,
	checkout.CodeTokenReused:       http.StatusConflict,
	checkout.CodePaymentExpired:    http.StatusConflict,
}

func errorResponse(err error) (int, gin.H) {
	code := checkout.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := gin.H{"error": code, "message": backend.Message(err)}
	if status == http.StatusInternalServerError {
		body["message"] = "internal error"
	}

	var (
		verr *domain.ValidationError
		cerr *domain.CouponRejectedError
		gerr *domain.GatewayRejectedError
	)
	switch {
	case errors.As(err, &verr):
		body["fields"] = verr.Fields
	case errors.As(err, &cerr):
		body["reason"] = cerr.Reason
	case errors.As(err, &gerr):
		body["reason"] = gerr.Reason
	}
	return status, body
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	setRetryAfter(c, err)
	c.JSON(status, body)
}

func setRetryAfter(c *gin.Context, err error) {
	var rerr *domain.RateLimitedError
	if errors.As(err, &rerr) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rerr.RetryAfter.Seconds()))))
	}
}
