package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/service"
)

// RatingHandler handles HTTP requests for ratings.
type RatingHandler struct {
	ratingService *service.RatingService
	logger        *zap.Logger
}

// NewRatingHandler creates a new RatingHandler.
func NewRatingHandler(ratingService *service.RatingService, logger *zap.Logger) *RatingHandler {
	return &RatingHandler{ratingService: ratingService, logger: logger}
}

// SubmitRatingRequest is the HTTP request body for rating a ride.
type SubmitRatingRequest struct {
	RideID   int64  `json:"ride_id"`
	Score    int    `json:"score"`
	Comments string `json:"comments,omitempty"`
}

// RatingResponse is the HTTP response for rating data.
type RatingResponse struct {
	ID        string    `json:"id"`
	RideID    int64     `json:"ride_id"`
	RiderID   string    `json:"rider_id"`
	DriverID  string    `json:"driver_id"`
	Score     int       `json:"score"`
	Comments  string    `json:"comments,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toRatingResponse(r *domain.Rating) RatingResponse {
	return RatingResponse{
		ID:        r.ID,
		RideID:    r.RideID,
		RiderID:   r.RiderID,
		DriverID:  r.DriverID,
		Score:     r.Score,
		Comments:  r.Comments,
		CreatedAt: r.CreatedAt,
	}
}

// SubmitRating handles POST /v1/ratings
func (h *RatingHandler) SubmitRating(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req SubmitRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	rating, err := h.ratingService.SubmitRating(c.Request.Context(), p, service.SubmitRatingRequest{
		RideID:   req.RideID,
		Score:    req.Score,
		Comments: req.Comments,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRatingResponse(rating))
}

// ListMine handles GET /v1/ratings/me
func (h *RatingHandler) ListMine(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	ratings, err := h.ratingService.ListRatingsForDriver(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]RatingResponse, 0, len(ratings))
	for _, r := range ratings {
		response = append(response, toRatingResponse(r))
	}
	respondJSON(c, http.StatusOK, response)
}
