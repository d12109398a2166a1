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
	"sync"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"

	"github.com/verdantgrid/carbonledger/ledger"
)

// Store persists listings and settlements; the multi-record mutations are
// atomic so a listing and its escrowed credit never disagree
type Store interface {
	FindListing(listingID uuid.UUID) (*Listing, error)
	FindListingByCredit(creditID uuid.UUID) (*Listing, error)

	// CreateListing persists the listing and the escrow-locked credit atomically
	CreateListing(listing *Listing, credit *ledger.CarbonCredit) error

	// CommitCancellation deactivates the listing and releases the credit atomically
	CommitCancellation(listing *Listing, credit *ledger.CarbonCredit) error

	// CommitSettlement deactivates the listing, reassigns the credit and
	// records the settlement atomically
	CommitSettlement(listing *Listing, credit *ledger.CarbonCredit, settlement *Settlement) error

	// CommitReversal undoes a committed settlement, reinstating the listing
	// and the seller's escrowed credit atomically
	CommitReversal(listing *Listing, credit *ledger.CarbonCredit, settlement *Settlement) error
}

// DatabaseStore persists marketplace state using the given gorm connection
type DatabaseStore struct {
	db *gorm.DB
}

// InitDatabaseStore initializes a marketplace store over the given db connection
func InitDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// FindListing loads the listing for the given id
func (s *DatabaseStore) FindListing(listingID uuid.UUID) (*Listing, error) {
	listing := &Listing{}
	s.db.Where("id = ?", listingID).Find(&listing)
	if listing.ID == uuid.Nil {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

// FindListingByCredit loads the active listing escrowing the given credit
func (s *DatabaseStore) FindListingByCredit(creditID uuid.UUID) (*Listing, error) {
	listing := &Listing{}
	s.db.Where("credit_id = ? AND active = true", creditID).Find(&listing)
	if listing.ID == uuid.Nil {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

// CreateListing persists the listing and escrowed credit in a single db transaction
func (s *DatabaseStore) CreateListing(listing *Listing, credit *ledger.CarbonCredit) error {
	return s.transactionally(func(tx *gorm.DB) error {
		if errs := tx.Create(&listing).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		if errs := tx.Save(&credit).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		return nil
	})
}

// CommitCancellation deactivates the listing and releases the credit in a single db transaction
func (s *DatabaseStore) CommitCancellation(listing *Listing, credit *ledger.CarbonCredit) error {
	return s.transactionally(func(tx *gorm.DB) error {
		if errs := tx.Save(&listing).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		if errs := tx.Save(&credit).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		return nil
	})
}

// CommitSettlement settles the listing in a single db transaction
func (s *DatabaseStore) CommitSettlement(listing *Listing, credit *ledger.CarbonCredit, settlement *Settlement) error {
	return s.transactionally(func(tx *gorm.DB) error {
		if errs := tx.Save(&listing).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		if errs := tx.Save(&credit).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		if errs := tx.Create(&settlement).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		return nil
	})
}

// CommitReversal undoes a committed settlement in a single db transaction
func (s *DatabaseStore) CommitReversal(listing *Listing, credit *ledger.CarbonCredit, settlement *Settlement) error {
	return s.transactionally(func(tx *gorm.DB) error {
		if errs := tx.Save(&listing).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		if errs := tx.Save(&credit).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		if errs := tx.Delete(&settlement).GetErrors(); len(errs) > 0 {
			return errs[0]
		}
		return nil
	})
}

func (s *DatabaseStore) transactionally(fn func(tx *gorm.DB) error) error {
	tx := s.db.Begin()
	if errs := tx.GetErrors(); len(errs) > 0 {
		return errs[0]
	}

	err := fn(tx)
	if err != nil {
		tx.Rollback()
		return err
	}

	if errs := tx.Commit().GetErrors(); len(errs) > 0 {
		tx.Rollback()
		return errs[0]
	}
	return nil
}

// InMemoryStore is an ephemeral marketplace store for tests and
// single-process deployments without a configured database; credit writes
// flow through the shared credit store under a single mutex
type InMemoryStore struct {
	mutex       sync.Mutex
	credits     ledger.CreditStore
	listings    map[uuid.UUID]*Listing
	settlements map[uuid.UUID]*Settlement
}

// InitInMemoryStore initializes an in-memory marketplace store sharing the
// given credit store
func InitInMemoryStore(credits ledger.CreditStore) *InMemoryStore {
	return &InMemoryStore{
		credits:     credits,
		listings:    map[uuid.UUID]*Listing{},
		settlements: map[uuid.UUID]*Settlement{},
	}
}

// FindListing returns a copy of the listing for the given id
func (s *InMemoryStore) FindListing(listingID uuid.UUID) (*Listing, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	listing, listingOk := s.listings[listingID]
	if !listingOk {
		return nil, ErrListingNotFound
	}

	copied := *listing
	return &copied, nil
}

// FindListingByCredit returns a copy of the active listing escrowing the given credit
func (s *InMemoryStore) FindListingByCredit(creditID uuid.UUID) (*Listing, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, listing := range s.listings {
		if listing.CreditID == creditID && listing.Active {
			copied := *listing
			return &copied, nil
		}
	}
	return nil, ErrListingNotFound
}

// CreateListing stores the listing and escrowed credit under a single lock
func (s *InMemoryStore) CreateListing(listing *Listing, credit *ledger.CarbonCredit) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if listing.ID == uuid.Nil {
		listing.ID, _ = uuid.NewV4()
	}

	err := s.credits.SaveCredit(credit)
	if err != nil {
		return err
	}

	copied := *listing
	s.listings[listing.ID] = &copied
	return nil
}

// CommitCancellation stores the deactivated listing and released credit under a single lock
func (s *InMemoryStore) CommitCancellation(listing *Listing, credit *ledger.CarbonCredit) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, listingOk := s.listings[listing.ID]; !listingOk {
		return ErrListingNotFound
	}

	err := s.credits.SaveCredit(credit)
	if err != nil {
		return err
	}

	copied := *listing
	s.listings[listing.ID] = &copied
	return nil
}

// CommitSettlement stores the settled listing, reassigned credit and
// settlement record under a single lock
func (s *InMemoryStore) CommitSettlement(listing *Listing, credit *ledger.CarbonCredit, settlement *Settlement) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, listingOk := s.listings[listing.ID]; !listingOk {
		return ErrListingNotFound
	}

	if settlement.ID == uuid.Nil {
		settlement.ID, _ = uuid.NewV4()
	}

	err := s.credits.SaveCredit(credit)
	if err != nil {
		return err
	}

	copiedListing := *listing
	s.listings[listing.ID] = &copiedListing

	copiedSettlement := *settlement
	s.settlements[settlement.ID] = &copiedSettlement
	return nil
}

// CommitReversal reinstates the listing and the seller's escrowed credit
// under a single lock
func (s *InMemoryStore) CommitReversal(listing *Listing, credit *ledger.CarbonCredit, settlement *Settlement) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, listingOk := s.listings[listing.ID]; !listingOk {
		return ErrListingNotFound
	}

	err := s.credits.SaveCredit(credit)
	if err != nil {
		return err
	}

	copied := *listing
	s.listings[listing.ID] = &copied

	delete(s.settlements, settlement.ID)
	return nil
}
