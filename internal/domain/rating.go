package domain

import "time"

// Rating is a rider's score for the driver of a completed ride.
type Rating struct {
	ID        string
	RideID    int64
	RiderID   string
	DriverID  string
	Score     int
	Comments  string
	CreatedAt time.Time
}
