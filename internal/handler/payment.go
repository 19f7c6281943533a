package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cabgo/internal/service"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService *service.PaymentService
	receiptService *service.ReceiptService
	logger         *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService, receiptService *service.ReceiptService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		receiptService: receiptService,
		logger:         logger,
	}
}

// ProcessPaymentRequest is the HTTP request body for processing a payment.
// A zero amount charges the ride's fare.
type ProcessPaymentRequest struct {
	RideID int64   `json:"ride_id"`
	Amount float64 `json:"amount,omitempty"`
	Method string  `json:"method,omitempty"`
}

// PaymentResponse is the HTTP response for payment operations.
type PaymentResponse struct {
	ID             string    `json:"id"`
	RideID         int64     `json:"ride_id"`
	Amount         float64   `json:"amount"`
	Method         string    `json:"method"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReceiptResponse is the HTTP response for a ride receipt.
type ReceiptResponse struct {
	ID              string    `json:"id"`
	RideID          int64     `json:"ride_id"`
	PaymentID       string    `json:"payment_id"`
	RiderID         string    `json:"rider_id"`
	DriverID        string    `json:"driver_id"`
	PickupLocation  string    `json:"pickup_location"`
	DropoffLocation string    `json:"dropoff_location"`
	Fare            float64   `json:"fare"`
	AmountPaid      float64   `json:"amount_paid"`
	PaymentMethod   string    `json:"payment_method"`
	PaymentStatus   string    `json:"payment_status"`
	CompletedAt     time.Time `json:"completed_at"`
	PaidAt          time.Time `json:"paid_at"`
}

// ProcessPayment handles POST /v1/payments
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	payment, err := h.paymentService.ProcessPayment(c.Request.Context(), p, service.ProcessPaymentRequest{
		RideID: req.RideID,
		Amount: req.Amount,
		Method: req.Method,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusCreated, PaymentResponse{
		ID:             payment.ID,
		RideID:         payment.RideID,
		Amount:         payment.Amount,
		Method:         string(payment.Method),
		Status:         string(payment.Status),
		IdempotencyKey: payment.IdempotencyKey,
		CreatedAt:      payment.CreatedAt,
	})
}

// GetReceipt handles GET /v1/payments/ride/:rideId
// With ?format=text the receipt is rendered as plain text.
func (h *PaymentHandler) GetReceipt(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c, "rideId")
	if !ok {
		return
	}

	receipt, err := h.paymentService.GetReceipt(c.Request.Context(), p, rideID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, h.receiptService.FormatReceipt(receipt))
		return
	}

	respondJSON(c, http.StatusOK, ReceiptResponse{
		ID:              receipt.ID,
		RideID:          receipt.RideID,
		PaymentID:       receipt.PaymentID,
		RiderID:         receipt.RiderID,
		DriverID:        receipt.DriverID,
		PickupLocation:  receipt.PickupLocation,
		DropoffLocation: receipt.DropoffLocation,
		Fare:            receipt.Fare,
		AmountPaid:      receipt.AmountPaid,
		PaymentMethod:   string(receipt.PaymentMethod),
		PaymentStatus:   string(receipt.PaymentStatus),
		CompletedAt:     receipt.CompletedAt,
		PaidAt:          receipt.PaidAt,
	})
}
