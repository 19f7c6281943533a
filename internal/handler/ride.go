package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
	logger      *zap.Logger
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService, logger *zap.Logger) *RideHandler {
	return &RideHandler{
		rideService: rideService,
		logger:      logger,
	}
}

// BookRideRequest is the HTTP request body for booking a ride.
type BookRideRequest struct {
	PickupLocation  string `json:"pickup_location"`
	DropoffLocation string `json:"dropoff_location"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// UpdateStatusRequest is the HTTP request body for a driver-issued transition.
type UpdateStatusRequest struct {
	Status   string `json:"status"`
	RideID   int64  `json:"ride_id,omitempty"`
	DriverID string `json:"driver_id,omitempty"`
}

// RideResponse is the HTTP response for ride data.
type RideResponse struct {
	ID              int64     `json:"id"`
	RiderID         string    `json:"rider_id"`
	DriverID        string    `json:"driver_id"`
	PickupLocation  string    `json:"pickup_location"`
	DropoffLocation string    `json:"dropoff_location"`
	Fare            float64   `json:"fare"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toRideResponse(r *domain.Ride) RideResponse {
	return RideResponse{
		ID:              r.ID,
		RiderID:         r.RiderID,
		DriverID:        r.DriverID,
		PickupLocation:  r.PickupLocation,
		DropoffLocation: r.DropoffLocation,
		Fare:            r.Fare,
		Status:          string(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toRideResponses(rides []*domain.Ride) []RideResponse {
	response := make([]RideResponse, 0, len(rides))
	for _, r := range rides {
		response = append(response, toRideResponse(r))
	}
	return response
}

// BookRide handles POST /v1/rides
func (h *RideHandler) BookRide(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req BookRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ride, err := h.rideService.BookRide(c.Request.Context(), p, service.BookRideRequest{
		PickupLocation:  req.PickupLocation,
		DropoffLocation: req.DropoffLocation,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRideResponse(ride))
}

// ListRides handles GET /v1/rides
func (h *RideHandler) ListRides(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	rides, err := h.rideService.GetRidesForUser(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponses(rides))
}

// GetLatestRide handles GET /v1/rides/latest
func (h *RideHandler) GetLatestRide(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	ride, err := h.rideService.GetLatestRide(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c, "id")
	if !ok {
		return
	}

	ride, err := h.rideService.GetRide(c.Request.Context(), p, rideID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	rideID, ok := rideIDParam(c, "id")
	if !ok {
		return
	}

	var req CancelRideRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	ride, err := h.rideService.CancelRide(c.Request.Context(), p, rideID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// UpdateStatus handles PUT /v1/rides/status
func (h *RideHandler) UpdateStatus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.RideID < 0 {
		badRequest(c, service.ErrInvalidRideID.Error())
		return
	}

	ride, err := h.rideService.UpdateStatus(c.Request.Context(), p, service.UpdateStatusRequest{
		Status:          req.Status,
		RideID:          req.RideID,
		ClaimedDriverID: req.DriverID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// GetPendingRides handles GET /v1/rides/pending
func (h *RideHandler) GetPendingRides(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	rides, err := h.rideService.GetPendingRidesForDriver(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponses(rides))
}
