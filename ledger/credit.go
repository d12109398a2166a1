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

package ledger

import (
	"time"

	provide "github.com/provideplatform/provide-go/api"

	"github.com/verdantgrid/carbonledger/common"
)

// CreditStatusActive credit is held and transferable
const CreditStatusActive = "active"

// CreditStatusListed credit is escrow-locked by an active marketplace listing
const CreditStatusListed = "listed"

// CreditStatusRetired credit has been permanently retired; terminal
const CreditStatusRetired = "retired"

// CarbonCredit model; owned exclusively by the ledger and mutated only
// through its defined transitions: active -> listed -> active | retired
type CarbonCredit struct {
	provide.Model

	Owner *string `sql:"not null" json:"owner"`

	CarbonAmount uint64 `json:"carbon_amount"`
	EnergyAmount uint64 `json:"energy_amount"`

	ProjectHash *string `sql:"not null" json:"project_hash"`
	ProjectType *string `json:"project_type"`
	Location    *string `json:"location"`
	Vintage     int     `json:"vintage"`
	URI         *string `json:"uri,omitempty"`

	Verified bool `sql:"not null;default:false" json:"verified"`
	Retired  bool `sql:"not null;default:false" json:"retired"`

	Status *string `sql:"not null;default:'active'" json:"status"`

	MintedAt  *time.Time `json:"minted_at"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`

	RetirementReason *string `json:"retirement_reason,omitempty"`
}

// TableName returns the db table for carbon credit persistence
func (c *CarbonCredit) TableName() string {
	return "carbon_credits"
}

// listed returns true while the credit is escrow-locked by a listing
func (c *CarbonCredit) listed() bool {
	return c.Status != nil && *c.Status == CreditStatusListed
}

// transferable asserts the credit can change hands
func (c *CarbonCredit) transferable() error {
	if c.Retired {
		return ErrAlreadyRetired
	}
	if c.listed() {
		return ErrCreditListed
	}
	return nil
}

// Listable asserts an active listing may be created for the credit
func (c *CarbonCredit) Listable() error {
	if c.Retired {
		return ErrAlreadyRetired
	}
	if c.listed() {
		return ErrCreditListed
	}
	return nil
}

// retirable asserts the credit may be permanently retired
func (c *CarbonCredit) retirable() error {
	if c.Retired {
		return ErrAlreadyRetired
	}
	if c.listed() {
		return ErrCreditListed
	}
	return nil
}

// validate the credit params
func (c *CarbonCredit) validate() bool {
	c.Errors = make([]*provide.Error, 0)

	if c.Owner == nil {
		c.Errors = append(c.Errors, &provide.Error{
			Message: common.StringOrNil("credit owner required"),
		})
	}

	if c.ProjectHash == nil {
		c.Errors = append(c.Errors, &provide.Error{
			Message: common.StringOrNil("credit project hash required"),
		})
	}

	if c.CarbonAmount == 0 {
		c.Errors = append(c.Errors, &provide.Error{
			Message: common.StringOrNil("credit carbon amount required"),
		})
	}

	return len(c.Errors) == 0
}
