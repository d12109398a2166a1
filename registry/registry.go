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

package registry

import (
	"sync"

	dbconf "github.com/kthomas/go-db-config"
	uuid "github.com/kthomas/go.uuid"
	provide "github.com/provideplatform/provide-go/api"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/registry/providers"
	"github.com/verdantgrid/carbonledger/state"
)

var (
	// ErrCommitmentExists is returned when registering a commitment that is already present
	ErrCommitmentExists = common.NewCodedError("commitment_already_exists", "commitment has already been registered")

	// ErrNullifierReused is returned when spending a nullifier that has already been spent
	ErrNullifierReused = common.NewCodedError("nullifier_reused", "nullifier has already been spent")
)

// Store model for a commitment or nullifier storage provider
type Store struct {
	provide.Model

	Name     *string `json:"name"`
	Provider *string `sql:"not null" json:"provider"`
	Curve    *string `sql:"not null" json:"curve"`
}

// Find loads a store instance for the given id
func Find(storeID uuid.UUID) *Store {
	db := dbconf.DatabaseConnection()
	store := &Store{}
	db.Where("id = ?", storeID).Find(&store)
	if store.ID == uuid.Nil {
		return nil
	}
	return store
}

// Create a store
func (s *Store) Create() bool {
	if !s.validate() {
		return false
	}

	db := dbconf.DatabaseConnection()

	if db.NewRecord(s) {
		result := db.Create(&s)
		rowsAffected := result.RowsAffected
		errors := result.GetErrors()
		if len(errors) > 0 {
			for _, err := range errors {
				s.Errors = append(s.Errors, &provide.Error{
					Message: common.StringOrNil(err.Error()),
				})
			}
		}
		if !db.NewRecord(s) {
			success := rowsAffected > 0
			if success {
				common.Log.Debugf("initialized %s store: %s", *s.Provider, s.ID)
			}
			return success
		}
	}

	return false
}

// ProviderFactory initializes the storage provider backing the store
func (s *Store) ProviderFactory() providers.StoreProvider {
	if s.Provider == nil {
		common.Log.Warning("failed to initialize store provider; no provider defined")
		return nil
	}

	switch *s.Provider {
	case providers.StoreProviderDenseMerkleTree:
		return providers.InitDenseMerkleTreeStoreProvider(s.ID, s.Curve)
	case providers.StoreProviderSparseMerkleTree:
		return providers.InitSparseMerkleTreeStoreProvider(s.ID, s.Curve)
	default:
		common.Log.Warningf("failed to initialize store provider; unknown provider: %s", *s.Provider)
	}

	return nil
}

// validate the store params
func (s *Store) validate() bool {
	s.Errors = make([]*provide.Error, 0)

	if s.Provider == nil {
		s.Errors = append(s.Errors, &provide.Error{
			Message: common.StringOrNil("store provider required"),
		})
	}

	if s.Curve == nil {
		s.Errors = append(s.Errors, &provide.Error{
			Message: common.StringOrNil("store curve required"),
		})
	}

	return len(s.Errors) == 0
}

// Registry maintains the two append-only sets anchoring note validity and
// spend-once semantics: the commitment registry (dense merkle tree) and the
// nullifier set (sparse merkle tree)
type Registry struct {
	commitments providers.StoreProvider
	nullifiers  providers.StoreProvider

	commitmentsMutex sync.Mutex
	nullifiersMutex  sync.Mutex
}

// NewRegistry initializes a registry over the given storage providers
func NewRegistry(commitments, nullifiers providers.StoreProvider) *Registry {
	return &Registry{
		commitments: commitments,
		nullifiers:  nullifiers,
	}
}

// RegisterCommitment inserts the given commitment; registration is
// append-only and idempotency violations are rejected
func (r *Registry) RegisterCommitment(hash string) error {
	r.commitmentsMutex.Lock()
	defer r.commitmentsMutex.Unlock()

	if r.commitments.Contains(hash) {
		return ErrCommitmentExists
	}

	_, err := r.commitments.Insert(hash)
	if err != nil {
		return err
	}

	common.Log.Debugf("registered commitment: %s", hash)
	return nil
}

// IsCommitmentValid returns true if the commitment has been registered
func (r *Registry) IsCommitmentValid(hash string) bool {
	r.commitmentsMutex.Lock()
	defer r.commitmentsMutex.Unlock()
	return r.commitments.Contains(hash)
}

// SpendNullifier atomically checks and inserts the given nullifier; the
// insertion is the canonical spend event. Exactly one of any number of
// concurrent submissions of the same nullifier succeeds.
func (r *Registry) SpendNullifier(hash string) error {
	r.nullifiersMutex.Lock()
	defer r.nullifiersMutex.Unlock()

	if r.nullifiers.Contains(hash) {
		return ErrNullifierReused
	}

	_, err := r.nullifiers.Insert(hash)
	if err != nil {
		return err
	}

	common.Log.Debugf("spent nullifier: %s", hash)
	return nil
}

// IsNullifierUsed returns true if the nullifier has been spent
func (r *Registry) IsNullifierUsed(hash string) bool {
	r.nullifiersMutex.Lock()
	defer r.nullifiersMutex.Unlock()
	return r.nullifiers.Contains(hash)
}

// CommitmentRoot returns the current root of the commitment registry
func (r *Registry) CommitmentRoot() (*string, error) {
	return r.commitments.Root()
}

// NullifierRoot returns the current root of the nullifier set
func (r *Registry) NullifierRoot() (*string, error) {
	return r.nullifiers.Root()
}

// StateAt returns commitment and nullifier state snapshots at the given epoch
func (r *Registry) StateAt(epoch uint64) (*state.State, *state.State, error) {
	commitmentState, err := r.commitments.StateAt(epoch)
	if err != nil {
		return nil, nil, err
	}

	nullifierState, err := r.nullifiers.StateAt(epoch)
	if err != nil {
		return commitmentState, nil, err
	}

	return commitmentState, nullifierState, nil
}
