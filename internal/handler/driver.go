package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cabgo/internal/domain"
	"cabgo/internal/service"
)

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	directory       *service.DriverDirectory
	identityService *service.IdentityService
	rideService     *service.RideService
	logger          *zap.Logger
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(
	directory *service.DriverDirectory,
	identityService *service.IdentityService,
	rideService *service.RideService,
	logger *zap.Logger,
) *DriverHandler {
	return &DriverHandler{
		directory:       directory,
		identityService: identityService,
		rideService:     rideService,
		logger:          logger,
	}
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	LicenseNumber  string `json:"license_number"`
	VehicleDetails string `json:"vehicle_details"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	LicenseNumber  string    `json:"license_number"`
	VehicleDetails string    `json:"vehicle_details"`
	Available      bool      `json:"available"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	return DriverResponse{
		ID:             d.ID,
		Name:           d.Name,
		Phone:          d.Phone,
		LicenseNumber:  d.LicenseNumber,
		VehicleDetails: d.VehicleDetails,
		Available:      d.Available,
		UpdatedAt:      d.UpdatedAt,
	}
}

// Register handles POST /v1/drivers/register
func (h *DriverHandler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	driver, err := h.directory.Register(c.Request.Context(), service.RegisterDriverRequest{
		Name:           req.Name,
		Phone:          req.Phone,
		LicenseNumber:  req.LicenseNumber,
		VehicleDetails: req.VehicleDetails,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDriverResponse(driver))
}

// Me handles GET /v1/drivers/me
func (h *DriverHandler) Me(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	driver, err := h.identityService.GetDriverProfile(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// ListAvailable handles GET /v1/drivers/available
func (h *DriverHandler) ListAvailable(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	drivers, err := h.directory.ListAvailable(c.Request.Context(), p)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	response := make([]DriverResponse, 0, len(drivers))
	for _, d := range drivers {
		response = append(response, toDriverResponse(d))
	}
	respondJSON(c, http.StatusOK, response)
}

// Reconcile handles POST /v1/drivers/:id/reconcile
func (h *DriverHandler) Reconcile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	result, err := h.rideService.ReconcileDriver(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}
