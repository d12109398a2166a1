package ledger

import "github.com/verdantgrid/carbonledger/common"

var (
	// ErrCreditNotFound is returned when no credit exists for the given id
	ErrCreditNotFound = common.NewCodedError("credit_not_found", "carbon credit not found")

	// ErrInconsistentCarbonFactor is returned when the claimed carbon amount
	// does not equal the energy amount scaled by the applied carbon factor
	ErrInconsistentCarbonFactor = common.NewCodedError("inconsistent_carbon_factor", "carbon amount is inconsistent with energy amount and carbon factor")

	// ErrAlreadyRetired is returned for any transition attempted on a retired credit
	ErrAlreadyRetired = common.NewCodedError("already_retired", "carbon credit has been retired")

	// ErrNotOwner is returned when the requester does not own the credit
	ErrNotOwner = common.NewCodedError("not_owner", "requester is not the current owner of the carbon credit")

	// ErrCreditListed is returned for transitions attempted while a credit is escrow-locked by an active listing
	ErrCreditListed = common.NewCodedError("credit_listed", "carbon credit is escrow-locked by an active listing")

	// ErrUnknownCommitment is returned when a private transfer spends a commitment that was never registered
	ErrUnknownCommitment = common.NewCodedError("commitment_not_found", "spent commitment is not registered")

	// ErrStaleRoot is returned in strict root mode when the advertised merkle
	// root does not match the commitment registry root
	ErrStaleRoot = common.NewCodedError("stale_registry_root", "merkle root does not match the commitment registry root")
)
