package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cabgo/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRideBooked    NotificationType = "RIDE_BOOKED"
	NotificationStatusChanged NotificationType = "RIDE_STATUS_CHANGED"
	NotificationRideCompleted NotificationType = "RIDE_COMPLETED"
	NotificationRideCancelled NotificationType = "RIDE_CANCELLED"
)

// Publisher delivers an encoded notification under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Notification represents a ride lifecycle event sent to the rider and driver.
type Notification struct {
	ID             string            `json:"id"`
	Type           NotificationType  `json:"type"`
	RideID         int64             `json:"ride_id"`
	RiderID        string            `json:"rider_id"`
	DriverID       string            `json:"driver_id"`
	Status         domain.RideStatus `json:"status"`
	PreviousStatus domain.RideStatus `json:"previous_status,omitempty"`
	Message        string            `json:"message"`
	Reason         string            `json:"reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NotificationService emits ride notifications after state changes commit.
// Delivery is best-effort: failures are logged and never returned.
type NotificationService struct {
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher Publisher, timeout time.Duration, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}
}

// NotifyRideBooked tells both parties a driver was bound to the ride.
func (s *NotificationService) NotifyRideBooked(ctx context.Context, ride *domain.Ride) {
	s.send(ctx, Notification{
		Type:    NotificationRideBooked,
		Message: "Your ride has been booked",
	}, ride, "")
}

// NotifyStatusChanged reports a driver-issued transition.
func (s *NotificationService) NotifyStatusChanged(ctx context.Context, ride *domain.Ride, previous domain.RideStatus) {
	n := Notification{
		Type:    NotificationStatusChanged,
		Message: "Your ride is now " + strings.ToLower(string(ride.Status)),
	}
	if ride.Status == domain.RideStatusCompleted {
		n.Type = NotificationRideCompleted
		n.Message = "Your ride is complete"
	}
	s.send(ctx, n, ride, previous)
}

// NotifyRideCancelled reports a cancellation and its reason.
func (s *NotificationService) NotifyRideCancelled(ctx context.Context, ride *domain.Ride, previous domain.RideStatus, reason string) {
	s.send(ctx, Notification{
		Type:    NotificationRideCancelled,
		Message: "Your ride has been cancelled",
		Reason:  reason,
	}, ride, previous)
}

func (s *NotificationService) send(ctx context.Context, n Notification, ride *domain.Ride, previous domain.RideStatus) {
	if s == nil || s.publisher == nil {
		return
	}

	n.ID = uuid.New().String()
	n.RideID = ride.ID
	n.RiderID = ride.RiderID
	n.DriverID = ride.DriverID
	n.Status = ride.Status
	n.PreviousStatus = previous
	n.CreatedAt = time.Now().UTC()

	body, err := json.Marshal(n)
	if err != nil {
		s.logger.Warn("notification encode failed", zap.Int64("ride_id", ride.ID), zap.Error(err))
		return
	}

	// Delivery must not be cut short by the caller going away.
	pctx, cancel := withTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.publisher.Publish(pctx, RoutingKey(ride.Status), body); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("type", string(n.Type)),
			zap.Int64("ride_id", ride.ID),
			zap.Error(err),
		)
	}
}

// RoutingKey is the topic routing key for a ride status.
func RoutingKey(status domain.RideStatus) string {
	return "ride." + strings.ToLower(string(status))
}
