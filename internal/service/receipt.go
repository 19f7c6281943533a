package service

import (
	"fmt"
	"strconv"

	"cabgo/internal/domain"
)

// ReceiptService builds receipts from a ride and its payment.
type ReceiptService struct{}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService() *ReceiptService {
	return &ReceiptService{}
}

// GenerateReceipt builds the receipt for a paid ride.
func (s *ReceiptService) GenerateReceipt(ride *domain.Ride, payment *domain.Payment) *domain.Receipt {
	return &domain.Receipt{
		ID:              "RCPT-" + strconv.FormatInt(ride.ID, 10),
		RideID:          ride.ID,
		PaymentID:       payment.ID,
		RiderID:         ride.RiderID,
		DriverID:        ride.DriverID,
		PickupLocation:  ride.PickupLocation,
		DropoffLocation: ride.DropoffLocation,
		Fare:            ride.Fare,
		AmountPaid:      payment.Amount,
		PaymentMethod:   payment.Method,
		PaymentStatus:   payment.Status,
		CompletedAt:     ride.UpdatedAt,
		PaidAt:          payment.CreatedAt,
	}
}

// FormatReceipt formats the receipt as plain text.
func (s *ReceiptService) FormatReceipt(receipt *domain.Receipt) string {
	return `
=====================================
        RIDE RECEIPT
=====================================
Receipt ID: ` + receipt.ID + `
Ride ID:    ` + strconv.FormatInt(receipt.RideID, 10) + `
Date:       ` + receipt.PaidAt.Format("Jan 02, 2006 3:04 PM") + `

TRIP DETAILS
-------------------------------------
Pickup:  ` + receipt.PickupLocation + `
Dropoff: ` + receipt.DropoffLocation + `

FARE
-------------------------------------
Fare:    ` + formatAmount(receipt.Fare) + `
Paid:    ` + formatAmount(receipt.AmountPaid) + `

PAYMENT
-------------------------------------
Method: ` + string(receipt.PaymentMethod) + `
Status: ` + string(receipt.PaymentStatus) + `

=====================================
     Thank you for riding with us!
=====================================
`
}

func formatAmount(f float64) string {
	return fmt.Sprintf("%.2f", f)
}
