package domain

import "time"

// Receipt summarizes a paid ride.
type Receipt struct {
	ID              string
	RideID          int64
	PaymentID       string
	RiderID         string
	DriverID        string
	PickupLocation  string
	DropoffLocation string
	Fare            float64
	AmountPaid      float64
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	CompletedAt     time.Time
	PaidAt          time.Time
}
