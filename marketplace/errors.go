package marketplace

import "github.com/verdantgrid/carbonledger/common"

var (
	// ErrListingNotFound is returned when no listing exists for the given id
	ErrListingNotFound = common.NewCodedError("listing_not_found", "listing not found")

	// ErrListingNotActive is returned for purchases and cancellations against
	// a listing that has already settled or been cancelled
	ErrListingNotActive = common.NewCodedError("listing_not_active", "listing is not active")

	// ErrListingExists is returned when an active listing already escrows the credit
	ErrListingExists = common.NewCodedError("listing_exists", "an active listing already exists for the carbon credit")

	// ErrInsufficientPayment is returned when the offered payment does not cover the listing price
	ErrInsufficientPayment = common.NewCodedError("insufficient_payment", "offered payment does not cover the listing price")

	// ErrPaymentFailed is returned when the payment provider fails to capture authorized funds
	ErrPaymentFailed = common.NewCodedError("payment_failed", "payment capture failed")

	// ErrNotSeller is returned when a cancellation is requested by anyone other than the seller
	ErrNotSeller = common.NewCodedError("not_seller", "requester is not the listing seller")
)
