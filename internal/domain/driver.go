package domain

import "time"

// Driver represents a driver in the system. Available is owned by the driver
// directory: it is false exactly while the driver holds an active ride.
type Driver struct {
	ID             string
	Name           string
	Phone          string
	LicenseNumber  string
	VehicleDetails string
	Available      bool
	UpdatedAt      time.Time
}
