/*
 * Copyright 2023-2025 Verdant Grid, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	uuid "github.com/kthomas/go.uuid"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/ledger"
)

const natsListingCreatedSubject = "carbon.listing.created"
const natsListingCancelledSubject = "carbon.listing.cancelled"
const natsListingPurchasedSubject = "carbon.listing.purchased"

// Marketplace brokers carbon credit listings; an active listing escrows its
// credit and settlement is all-or-nothing: the buyer owns the credit if and
// only if the payment captures
type Marketplace struct {
	store     Store
	credits   ledger.CreditStore
	payments  PaymentProvider
	publisher ledger.Publisher
}

// NewMarketplace initializes a marketplace over the given collaborators
func NewMarketplace(store Store, credits ledger.CreditStore, payments PaymentProvider, publisher ledger.Publisher) *Marketplace {
	return &Marketplace{
		store:     store,
		credits:   credits,
		payments:  payments,
		publisher: publisher,
	}
}

// FindListing resolves the listing for the given id
func (m *Marketplace) FindListing(listingID uuid.UUID) (*Listing, error) {
	return m.store.FindListing(listingID)
}

// ListingParams are the create listing call parameters
type ListingParams struct {
	CreditID uuid.UUID `json:"credit_id"`
	Seller   string    `json:"seller"`
	Price    uint64    `json:"price"`
	Currency *string   `json:"currency,omitempty"`
}

// CreateListing lists the credit for sale, locking it in escrow; the credit
// refuses transfer and retirement until the listing settles or is cancelled
func (m *Marketplace) CreateListing(ctx context.Context, params *ListingParams) (*uuid.UUID, error) {
	var listingID *uuid.UUID

	err := common.WithLock(creditLockKey(params.CreditID), func() error {
		credit, err := m.credits.FindCredit(params.CreditID)
		if err != nil {
			return err
		}

		if _, err := m.store.FindListingByCredit(params.CreditID); err == nil {
			return ErrListingExists
		}

		if err := credit.Listable(); err != nil {
			return err
		}

		if credit.Owner == nil || *credit.Owner != params.Seller {
			return ledger.ErrNotOwner
		}

		listing := &Listing{
			CreditID: params.CreditID,
			Seller:   common.StringOrNil(params.Seller),
			Price:    params.Price,
			Currency: params.Currency,
			Active:   true,
		}

		if !listing.validate() {
			return fmt.Errorf("failed to create listing; invalid listing params")
		}

		credit.Status = common.StringOrNil(ledger.CreditStatusListed)

		err = m.store.CreateListing(listing, credit)
		if err != nil {
			return err
		}

		listingID = &listing.ID

		m.dispatchEvent(natsListingCreatedSubject, map[string]interface{}{
			"listing_id": listing.ID.String(),
			"credit_id":  params.CreditID.String(),
			"seller":     params.Seller,
			"price":      params.Price,
		})

		return nil
	})

	return listingID, err
}

// CancelListing deactivates the listing and releases the escrowed credit
// back to the seller; seller-only
func (m *Marketplace) CancelListing(ctx context.Context, listingID uuid.UUID, requester string) error {
	return common.WithLock(listingLockKey(listingID), func() error {
		listing, err := m.store.FindListing(listingID)
		if err != nil {
			return err
		}

		if !listing.Active {
			return ErrListingNotActive
		}

		if listing.Seller == nil || *listing.Seller != requester {
			return ErrNotSeller
		}

		return common.WithLock(creditLockKey(listing.CreditID), func() error {
			credit, err := m.credits.FindCredit(listing.CreditID)
			if err != nil {
				return err
			}

			listing.Active = false
			credit.Status = common.StringOrNil(ledger.CreditStatusActive)

			err = m.store.CommitCancellation(listing, credit)
			if err != nil {
				return err
			}

			m.dispatchEvent(natsListingCancelledSubject, map[string]interface{}{
				"listing_id": listing.ID.String(),
				"credit_id":  listing.CreditID.String(),
				"seller":     *listing.Seller,
			})

			return nil
		})
	})
}

// PurchaseParams are the purchase call parameters; payment is the amount the
// buyer offers, which must cover the listing price
type PurchaseParams struct {
	ListingID uuid.UUID `json:"listing_id"`
	Buyer     string    `json:"buyer"`
	Payment   uint64    `json:"payment"`
}

// Purchase atomically settles the listing: funds are authorized, the listing
// deactivates and the credit reassigns in one commit, then the authorized
// funds capture. A capture failure reverses the commit and voids the hold,
// so no partial settlement is ever observable.
func (m *Marketplace) Purchase(ctx context.Context, params *PurchaseParams) (*uuid.UUID, error) {
	var settlementID *uuid.UUID

	err := common.WithLock(listingLockKey(params.ListingID), func() error {
		listing, err := m.store.FindListing(params.ListingID)
		if err != nil {
			return err
		}

		if !listing.Active {
			return ErrListingNotActive
		}

		if params.Payment < listing.Price {
			return ErrInsufficientPayment
		}

		// the credit lock is held across the settle-and-reverse window so a
		// buyer-side transfer or relisting cannot interleave between the
		// settlement commit and a capture-failure reversal
		return common.WithLock(creditLockKey(listing.CreditID), func() error {
			credit, err := m.credits.FindCredit(listing.CreditID)
			if err != nil {
				return err
			}

			authRef, err := m.payments.Authorize(ctx, params.Buyer, listing.Price)
			if err != nil {
				return fmt.Errorf("%w; %s", ErrPaymentFailed, err.Error())
			}

			seller := *listing.Seller
			settledAt := time.Now()

			listing.Active = false
			credit.Owner = common.StringOrNil(params.Buyer)
			credit.Status = common.StringOrNil(ledger.CreditStatusActive)

			settlement := &Settlement{
				ListingID:  listing.ID,
				CreditID:   credit.ID,
				Buyer:      common.StringOrNil(params.Buyer),
				Seller:     common.StringOrNil(seller),
				Price:      listing.Price,
				PaymentRef: common.StringOrNil(authRef),
				SettledAt:  &settledAt,
			}

			err = m.store.CommitSettlement(listing, credit, settlement)
			if err != nil {
				if voidErr := m.payments.Void(ctx, authRef); voidErr != nil {
					common.Log.Warningf("failed to void payment authorization %s; %s", authRef, voidErr.Error())
				}
				return err
			}

			err = m.payments.Capture(ctx, authRef)
			if err != nil {
				m.reverseSettlement(ctx, listing, credit, settlement, seller, authRef)
				return fmt.Errorf("%w; %s", ErrPaymentFailed, err.Error())
			}

			settlementID = &settlement.ID

			m.dispatchEvent(natsListingPurchasedSubject, map[string]interface{}{
				"listing_id":    listing.ID.String(),
				"settlement_id": settlement.ID.String(),
				"credit_id":     credit.ID.String(),
				"buyer":         params.Buyer,
				"seller":        seller,
				"price":         listing.Price,
			})

			return nil
		})
	})

	return settlementID, err
}

// reverseSettlement compensates for a capture failure after the settlement
// committed; the listing reinstates and the seller's credit returns to escrow
func (m *Marketplace) reverseSettlement(ctx context.Context, listing *Listing, credit *ledger.CarbonCredit, settlement *Settlement, seller, authRef string) {
	if err := m.payments.Void(ctx, authRef); err != nil {
		common.Log.Warningf("failed to void payment authorization %s; %s", authRef, err.Error())
	}

	// the reversal only overwrites the exact state the settlement wrote; if
	// the credit changed underneath (i.e., an out-of-band write) surface the
	// conflict for reconciliation instead of clobbering it
	current, err := m.credits.FindCredit(credit.ID)
	if err != nil {
		common.Log.Errorf("failed to resolve credit %s while reversing settlement %s; %s", credit.ID, settlement.ID, err.Error())
		return
	}
	if current.Owner == nil || settlement.Buyer == nil || *current.Owner != *settlement.Buyer ||
		current.Status == nil || *current.Status != ledger.CreditStatusActive {
		common.Log.Errorf("refusing to reverse settlement %s; credit %s mutated after settlement; manual reconciliation required", settlement.ID, credit.ID)
		return
	}

	listing.Active = true
	credit.Owner = common.StringOrNil(seller)
	credit.Status = common.StringOrNil(ledger.CreditStatusListed)

	err = m.store.CommitReversal(listing, credit, settlement)
	if err != nil {
		common.Log.Errorf("failed to reverse settlement %s after capture failure; %s", settlement.ID, err.Error())
	}
}

func (m *Marketplace) dispatchEvent(subject string, params map[string]interface{}) {
	if m.publisher == nil {
		return
	}

	payload, _ := json.Marshal(params)
	err := m.publisher.Publish(subject, payload)
	if err != nil {
		common.Log.Warningf("failed to dispatch %s event; %s", subject, err.Error())
	}
}

func creditLockKey(creditID uuid.UUID) string {
	return fmt.Sprintf("carbon.token.%s", creditID)
}

func listingLockKey(listingID uuid.UUID) string {
	return fmt.Sprintf("carbon.listing.%s", listingID)
}
