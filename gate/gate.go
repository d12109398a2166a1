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

package gate

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/zkp/circuits"
)

// CircuitKind selects the circuit a submitted proof claims to satisfy
type CircuitKind string

// CircuitKindIssuance credit issuance circuit
const CircuitKindIssuance CircuitKind = "carbon_issuance"

// CircuitKindTransfer confidential transfer circuit
const CircuitKindTransfer CircuitKind = "confidential_transfer"

const issuanceSignalCount = 8
const transferSignalCount = 4

var (
	// ErrProofInvalid is returned for a malformed or false proof; terminal for the submission
	ErrProofInvalid = common.NewCodedError("proof_invalid", "proof is malformed or does not verify")

	// ErrVerifyingKeyMismatch is returned when no verification key is configured for the circuit kind
	ErrVerifyingKeyMismatch = common.NewCodedError("verification_key_mismatch", "no verification key configured for circuit kind")
)

// Gate is the sole authority permitting a confidential state transition.
// Verification is pure: the gate never mutates registry or ledger state, and
// callers must derive the values they commit exclusively from the proof's
// public signals, never from request fields.
type Gate struct {
	verifyingKeys map[CircuitKind]groth16.VerifyingKey
}

// NewGate initializes a verifier gate with no keys configured
func NewGate() *Gate {
	return &Gate{
		verifyingKeys: map[CircuitKind]groth16.VerifyingKey{},
	}
}

// RequireVerifyingKey imports and registers the verification key artifact for
// the given circuit kind, replacing any previously configured key
func (g *Gate) RequireVerifyingKey(kind CircuitKind, raw []byte) error {
	vk, err := ImportVerifyingKey(raw)
	if err != nil {
		return fmt.Errorf("failed to configure verification key for %s circuit; %s", kind, err.Error())
	}

	g.verifyingKeys[kind] = vk
	common.Log.Debugf("configured verification key for %s circuit", kind)
	return nil
}

// VerifyingKeyConfigured returns true if a key is loaded for the circuit kind
func (g *Gate) VerifyingKeyConfigured(kind CircuitKind) bool {
	_, vkOk := g.verifyingKeys[kind]
	return vkOk
}

// Verify validates the submitted proof and its public signals against the
// verification key configured for the circuit kind. A nil error is the only
// authorization to commit the corresponding state change.
func (g *Gate) Verify(ctx context.Context, proof *Proof, kind CircuitKind) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return common.ErrTimeout
		}
		return err
	}

	vk, vkOk := g.verifyingKeys[kind]
	if !vkOk {
		return ErrVerifyingKeyMismatch
	}

	assignment, err := publicAssignmentFactory(kind, proof.PublicSignals)
	if err != nil {
		common.Log.Debugf("failed to build public witness for %s circuit; %s", kind, err.Error())
		return fmt.Errorf("%w; %s", ErrProofInvalid, err.Error())
	}

	witval, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w; %s", ErrProofInvalid, err.Error())
	}

	prf, err := proof.Groth16()
	if err != nil {
		return fmt.Errorf("%w; %s", ErrProofInvalid, err.Error())
	}

	err = groth16.Verify(prf, vk, witval)
	if err != nil {
		common.Log.Debugf("proof failed verification for %s circuit; %s", kind, err.Error())
		return ErrProofInvalid
	}

	return nil
}

func parseSignals(signals []string, count int) ([]*big.Int, error) {
	if len(signals) != count {
		return nil, fmt.Errorf("expected %d public signals; got %d", count, len(signals))
	}

	modulus := ecc.BN254.ScalarField()

	vals := make([]*big.Int, len(signals))
	for i := range signals {
		val, valOk := new(big.Int).SetString(signals[i], 10)
		if !valOk {
			return nil, fmt.Errorf("public signal at index %d is not a decimal field element", i)
		}
		// a signal outside [0, r) would alias another field element once the
		// witness reduces mod r; reject rather than canonicalize silently
		if val.Sign() < 0 || val.Cmp(modulus) >= 0 {
			return nil, fmt.Errorf("public signal at index %d is outside the scalar field", i)
		}
		vals[i] = val
	}

	return vals, nil
}

func publicAssignmentFactory(kind CircuitKind, signals []string) (frontend.Circuit, error) {
	switch kind {
	case CircuitKindIssuance:
		vals, err := parseSignals(signals, issuanceSignalCount)
		if err != nil {
			return nil, err
		}
		return &circuits.IssuanceCircuit{
			EnergyAmount:   vals[0],
			CarbonAmount:   vals[1],
			CarbonFactor:   vals[2],
			Denominator:    vals[3],
			MinEnergy:      vals[4],
			IssuedAt:       vals[5],
			MaxIssuedAt:    vals[6],
			NoteCommitment: vals[7],
		}, nil
	case CircuitKindTransfer:
		vals, err := parseSignals(signals, transferSignalCount)
		if err != nil {
			return nil, err
		}
		return &circuits.TransferCircuit{
			Nullifier:           vals[0],
			SpentCommitment:     vals[1],
			NewSenderCommitment: vals[2],
			ReceiverCommitment:  vals[3],
		}, nil
	}

	return nil, fmt.Errorf("unknown circuit kind: %s", kind)
}

// IssuanceSignals provides named access to the issuance circuit public signals
type IssuanceSignals struct {
	EnergyAmount   *big.Int
	CarbonAmount   *big.Int
	CarbonFactor   *big.Int
	Denominator    *big.Int
	MinEnergy      *big.Int
	IssuedAt       *big.Int
	MaxIssuedAt    *big.Int
	NoteCommitment string
}

// ParseIssuanceSignals decodes the ordered issuance public signals
func ParseIssuanceSignals(signals []string) (*IssuanceSignals, error) {
	vals, err := parseSignals(signals, issuanceSignalCount)
	if err != nil {
		return nil, fmt.Errorf("%w; %s", ErrProofInvalid, err.Error())
	}

	return &IssuanceSignals{
		EnergyAmount:   vals[0],
		CarbonAmount:   vals[1],
		CarbonFactor:   vals[2],
		Denominator:    vals[3],
		MinEnergy:      vals[4],
		IssuedAt:       vals[5],
		MaxIssuedAt:    vals[6],
		NoteCommitment: vals[7].String(),
	}, nil
}

// TransferSignals provides named access to the transfer circuit public signals
type TransferSignals struct {
	Nullifier           string
	SpentCommitment     string
	NewSenderCommitment string
	ReceiverCommitment  string
}

// ParseTransferSignals decodes the ordered transfer public signals
func ParseTransferSignals(signals []string) (*TransferSignals, error) {
	vals, err := parseSignals(signals, transferSignalCount)
	if err != nil {
		return nil, fmt.Errorf("%w; %s", ErrProofInvalid, err.Error())
	}

	return &TransferSignals{
		Nullifier:           vals[0].String(),
		SpentCommitment:     vals[1].String(),
		NewSenderCommitment: vals[2].String(),
		ReceiverCommitment:  vals[3].String(),
	}, nil
}
