package marketplace

import (
	"context"
	"encoding/hex"

	"github.com/verdantgrid/carbonledger/common"
)

// PaymentProvider abstracts the two-phase payment rail backing purchases;
// funds are authorized before settlement commits and captured only after
type PaymentProvider interface {
	// Authorize places a hold on the buyer's funds, returning an opaque
	// authorization reference
	Authorize(ctx context.Context, buyer string, amount uint64) (string, error)

	// Capture settles previously authorized funds
	Capture(ctx context.Context, authRef string) error

	// Void releases a hold without capturing
	Void(ctx context.Context, authRef string) error
}

// AutoApprovePaymentProvider approves every authorization and capture; for
// local development and deployments where settlement happens out of band
type AutoApprovePaymentProvider struct{}

// Authorize approves the hold unconditionally
func (p *AutoApprovePaymentProvider) Authorize(ctx context.Context, buyer string, amount uint64) (string, error) {
	ref, err := common.RandomBytes(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ref), nil
}

// Capture approves the capture unconditionally
func (p *AutoApprovePaymentProvider) Capture(ctx context.Context, authRef string) error {
	return nil
}

// Void releases the hold unconditionally
func (p *AutoApprovePaymentProvider) Void(ctx context.Context, authRef string) error {
	return nil
}
