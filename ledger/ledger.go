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
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	uuid "github.com/kthomas/go.uuid"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/gate"
	"github.com/verdantgrid/carbonledger/registry"
	"github.com/verdantgrid/carbonledger/state"
)

// Verifier authorizes confidential state transitions; satisfied by gate.Gate
type Verifier interface {
	Verify(ctx context.Context, proof *gate.Proof, kind gate.CircuitKind) error
}

// Ledger owns carbon credit records and enforces the credit lifecycle state
// machine; every confidential transition commits values derived exclusively
// from verified proof public signals
type Ledger struct {
	credits   CreditStore
	registry  *registry.Registry
	gate      Verifier
	publisher Publisher
}

// NewLedger initializes a carbon credit ledger over the given collaborators
func NewLedger(credits CreditStore, reg *registry.Registry, verifier Verifier, publisher Publisher) *Ledger {
	return &Ledger{
		credits:   credits,
		registry:  reg,
		gate:      verifier,
		publisher: publisher,
	}
}

// Credits exposes the underlying credit store to trusted collaborators (i.e., the marketplace)
func (l *Ledger) Credits() CreditStore {
	return l.credits
}

// FindCredit resolves the credit for the given id
func (l *Ledger) FindCredit(creditID uuid.UUID) (*CarbonCredit, error) {
	return l.credits.FindCredit(creditID)
}

// ListCredits returns credits, optionally filtered by owner
func (l *Ledger) ListCredits(owner *string) ([]*CarbonCredit, error) {
	return l.credits.ListCredits(owner)
}

// RegistryStateAt returns commitment and nullifier state snapshots at the given epoch
func (l *Ledger) RegistryStateAt(epoch uint64) (*state.State, *state.State, error) {
	return l.registry.StateAt(epoch)
}

// MintParams are the mint call parameters; amount and commitment fields are
// cross-checked against, and committed from, the proof's public signals
type MintParams struct {
	Owner        string      `json:"owner"`
	CarbonAmount uint64      `json:"carbon_amount"`
	EnergyAmount uint64      `json:"energy_amount"`
	ProjectHash  string      `json:"project_hash"`
	ProjectType  *string     `json:"project_type"`
	Location     *string     `json:"location"`
	Vintage      int         `json:"vintage"`
	URI          *string     `json:"uri,omitempty"`
	Proof        *gate.Proof `json:"proof"`
}

// PrivateTransferParams are the confidential transfer call parameters; the
// nullifier and commitments actually committed are derived from the proof's
// public signals, never from these fields
type PrivateTransferParams struct {
	NullifierHash       string      `json:"nullifier_hash"`
	SenderCommitment    string      `json:"sender_commitment"`
	NewSenderCommitment string      `json:"new_sender_commitment"`
	ReceiverCommitment  string      `json:"receiver_commitment"`
	MerkleRoot          string      `json:"merkle_root"`
	Proof               *gate.Proof `json:"proof"`
}

// Mint issues a new verified carbon credit after the issuance circuit proof
// clears the gate and the carbon factor policy check passes. Once
// verification succeeds the commit runs to completion; a mint abandoned by
// the caller before verification completes leaves no state behind.
func (l *Ledger) Mint(ctx context.Context, params *MintParams) (*uuid.UUID, error) {
	if params.Proof == nil {
		return nil, fmt.Errorf("%w; no proof supplied", gate.ErrProofInvalid)
	}

	err := l.gate.Verify(ctx, params.Proof, gate.CircuitKindIssuance)
	if err != nil {
		return nil, err
	}

	signals, err := gate.ParseIssuanceSignals(params.Proof.PublicSignals)
	if err != nil {
		return nil, err
	}

	err = l.checkIssuancePolicy(params, signals)
	if err != nil {
		return nil, err
	}

	// the atomic spend-once guard for the issuance note; a replayed proof
	// fails here regardless of concurrency
	err = l.registry.RegisterCommitment(signals.NoteCommitment)
	if err != nil {
		return nil, err
	}

	mintedAt := time.Now()
	credit := &CarbonCredit{
		Owner:        common.StringOrNil(params.Owner),
		CarbonAmount: signals.CarbonAmount.Uint64(),
		EnergyAmount: signals.EnergyAmount.Uint64(),
		ProjectHash:  common.StringOrNil(params.ProjectHash),
		ProjectType:  params.ProjectType,
		Location:     params.Location,
		Vintage:      params.Vintage,
		URI:          params.URI,
		Verified:     true,
		Status:       common.StringOrNil(CreditStatusActive),
		MintedAt:     &mintedAt,
	}

	if !credit.validate() {
		return nil, fmt.Errorf("failed to mint carbon credit; invalid credit params")
	}

	err = l.credits.CreateCredit(credit)
	if err != nil {
		// the commitment is burned; the caller must regenerate a fresh
		// proof and nonce, consistent with the no-replay policy. emit the
		// burned note so operators can reconcile the registry against the
		// credit table
		common.Log.Warningf("failed to persist carbon credit after committing note %s; %s", signals.NoteCommitment, err.Error())
		l.dispatchEvent(natsMintOrphanedSubject, map[string]interface{}{
			"owner":      params.Owner,
			"commitment": signals.NoteCommitment,
			"error":      err.Error(),
		})
		return nil, err
	}

	l.dispatchEvent(natsCreditMintedSubject, map[string]interface{}{
		"credit_id":     credit.ID.String(),
		"owner":         params.Owner,
		"carbon_amount": credit.CarbonAmount,
		"energy_amount": credit.EnergyAmount,
		"commitment":    signals.NoteCommitment,
		"vintage":       credit.Vintage,
	})

	common.Log.Debugf("minted carbon credit %s; %d g CO2 across %d kWh", credit.ID, credit.CarbonAmount, credit.EnergyAmount)
	return &credit.ID, nil
}

func (l *Ledger) checkIssuancePolicy(params *MintParams, signals *gate.IssuanceSignals) error {
	denominator := new(big.Int).SetUint64(common.CarbonFactorDenominator)
	if signals.Denominator.Cmp(denominator) != 0 {
		return ErrInconsistentCarbonFactor
	}

	if signals.MinEnergy.Cmp(new(big.Int).SetUint64(common.MinEnergyThreshold)) < 0 {
		return fmt.Errorf("%w; proof asserts a weaker energy threshold than policy requires", gate.ErrProofInvalid)
	}

	// carbon * denominator == energy * factor; the circuit binds this, the
	// ledger re-asserts it as policy
	expected := new(big.Int).Mul(signals.EnergyAmount, signals.CarbonFactor)
	claimed := new(big.Int).Mul(signals.CarbonAmount, denominator)
	if claimed.Cmp(expected) != 0 {
		return ErrInconsistentCarbonFactor
	}

	if !signals.CarbonAmount.IsUint64() || !signals.EnergyAmount.IsUint64() {
		return fmt.Errorf("%w; amount signal out of range", gate.ErrProofInvalid)
	}

	// the circuit only proves IssuedAt <= MaxIssuedAt; the ledger clock bounds
	// the window itself so a prover cannot claim an arbitrarily distant one
	horizon := big.NewInt(time.Now().Add(common.IssuanceWindowTolerance).Unix())
	if signals.MaxIssuedAt.Cmp(horizon) > 0 {
		return fmt.Errorf("%w; reporting window extends beyond the permitted horizon", gate.ErrProofInvalid)
	}

	if params.CarbonAmount != signals.CarbonAmount.Uint64() {
		return ErrInconsistentCarbonFactor
	}

	if params.EnergyAmount != signals.EnergyAmount.Uint64() {
		return fmt.Errorf("%w; energy amount does not match proof public signals", gate.ErrProofInvalid)
	}

	return nil
}

// TransferPublic reassigns ownership of an unretired, unlisted credit
func (l *Ledger) TransferPublic(ctx context.Context, creditID uuid.UUID, from, to string) error {
	return common.WithLock(tokenLockKey(creditID), func() error {
		credit, err := l.credits.FindCredit(creditID)
		if err != nil {
			return err
		}

		if err := credit.transferable(); err != nil {
			return err
		}

		if credit.Owner == nil || *credit.Owner != from {
			return ErrNotOwner
		}

		credit.Owner = common.StringOrNil(to)
		return l.credits.SaveCredit(credit)
	})
}

// TransferPrivate executes a confidential transfer: the proof clears the
// gate, the nullifier is atomically spent, and the change and receiver
// commitments are registered. Ownership is implicit in knowledge of the new
// notes' secrets; no credit record changes hands.
func (l *Ledger) TransferPrivate(ctx context.Context, params *PrivateTransferParams) error {
	if params.Proof == nil {
		return fmt.Errorf("%w; no proof supplied", gate.ErrProofInvalid)
	}

	err := l.gate.Verify(ctx, params.Proof, gate.CircuitKindTransfer)
	if err != nil {
		return err
	}

	signals, err := gate.ParseTransferSignals(params.Proof.PublicSignals)
	if err != nil {
		return err
	}

	if common.RegistryStrictRoot {
		root, err := l.registry.CommitmentRoot()
		if err != nil || root == nil || params.MerkleRoot != *root {
			return ErrStaleRoot
		}
	}

	if !l.registry.IsCommitmentValid(signals.SpentCommitment) {
		return ErrUnknownCommitment
	}

	if l.registry.IsCommitmentValid(signals.NewSenderCommitment) || l.registry.IsCommitmentValid(signals.ReceiverCommitment) {
		return registry.ErrCommitmentExists
	}

	// the single atomic check-and-insert; a concurrent double-spend of the
	// same note fails here with exactly one winner
	err = l.registry.SpendNullifier(signals.Nullifier)
	if err != nil {
		return err
	}

	err = l.registry.RegisterCommitment(signals.NewSenderCommitment)
	if err == nil {
		err = l.registry.RegisterCommitment(signals.ReceiverCommitment)
	}
	if err != nil {
		// the nullifier is irrevocably spent; surface the inconsistency
		// rather than fabricating a recovery
		common.Log.Warningf("failed to register output commitment after spending nullifier %s; %s", signals.Nullifier, err.Error())
		return err
	}

	l.dispatchEvent(natsPrivateTransferSubject, map[string]interface{}{
		"nullifier":             signals.Nullifier,
		"spent_commitment":      signals.SpentCommitment,
		"new_sender_commitment": signals.NewSenderCommitment,
		"receiver_commitment":   signals.ReceiverCommitment,
	})

	common.Log.Debugf("executed confidential transfer; nullifier: %s", signals.Nullifier)
	return nil
}

// Retire permanently retires the credit; irreversible
func (l *Ledger) Retire(ctx context.Context, creditID uuid.UUID, requester string, reason *string) error {
	return common.WithLock(tokenLockKey(creditID), func() error {
		credit, err := l.credits.FindCredit(creditID)
		if err != nil {
			return err
		}

		if err := credit.retirable(); err != nil {
			return err
		}

		if credit.Owner == nil || *credit.Owner != requester {
			return ErrNotOwner
		}

		retiredAt := time.Now()
		credit.Retired = true
		credit.Status = common.StringOrNil(CreditStatusRetired)
		credit.RetiredAt = &retiredAt
		credit.RetirementReason = reason

		err = l.credits.SaveCredit(credit)
		if err != nil {
			return err
		}

		l.dispatchEvent(natsCreditRetiredSubject, map[string]interface{}{
			"credit_id":     credit.ID.String(),
			"owner":         *credit.Owner,
			"carbon_amount": credit.CarbonAmount,
			"reason":        reason,
		})

		return nil
	})
}

func (l *Ledger) dispatchEvent(subject string, params map[string]interface{}) {
	if l.publisher == nil {
		return
	}

	payload, _ := json.Marshal(params)
	err := l.publisher.Publish(subject, payload)
	if err != nil {
		common.Log.Warningf("failed to dispatch %s event; %s", subject, err.Error())
	}
}

func tokenLockKey(creditID uuid.UUID) string {
	return fmt.Sprintf("carbon.token.%s", creditID)
}
