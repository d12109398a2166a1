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
	"time"

	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/api"

	"github.com/verdantgrid/carbonledger/common"
)

// Listing model; an active listing holds its credit in escrow until the
// listing settles or is cancelled
type Listing struct {
	provide.Model

	CreditID uuid.UUID `sql:"not null;type:uuid" json:"credit_id"`
	Seller   *string   `sql:"not null" json:"seller"`
	Price    uint64    `sql:"not null" json:"price"`
	Currency *string   `json:"currency,omitempty"`

	Active bool `sql:"not null;default:true" json:"active"`
}

// TableName returns the db table for listing persistence
func (l *Listing) TableName() string {
	return "listings"
}

// validate the listing params
func (l *Listing) validate() bool {
	l.Errors = make([]*provide.Error, 0)

	if l.CreditID == uuid.Nil {
		l.Errors = append(l.Errors, &provide.Error{
			Message: common.StringOrNil("listing credit id required"),
		})
	}

	if l.Seller == nil {
		l.Errors = append(l.Errors, &provide.Error{
			Message: common.StringOrNil("listing seller required"),
		})
	}

	if l.Price == 0 {
		l.Errors = append(l.Errors, &provide.Error{
			Message: common.StringOrNil("listing price required"),
		})
	}

	return len(l.Errors) == 0
}

// Settlement records a completed purchase; one per settled listing
type Settlement struct {
	provide.Model

	ListingID uuid.UUID `sql:"not null;type:uuid" json:"listing_id"`
	CreditID  uuid.UUID `sql:"not null;type:uuid" json:"credit_id"`

	Buyer  *string `sql:"not null" json:"buyer"`
	Seller *string `sql:"not null" json:"seller"`
	Price  uint64  `sql:"not null" json:"price"`

	PaymentRef *string    `json:"payment_ref,omitempty"`
	SettledAt  *time.Time `json:"settled_at"`
}

// TableName returns the db table for settlement persistence
func (s *Settlement) TableName() string {
	return "settlements"
}
