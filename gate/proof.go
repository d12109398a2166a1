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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// Proof is the groth16 proof wire representation: affine group element
// coordinates and public signals, each a decimal-string field element.
// The b coordinate pairs are ordered [[x.a0, x.a1], [y.a0, y.a1]].
type Proof struct {
	A             [2]string    `json:"a"`
	B             [2][2]string `json:"b"`
	C             [2]string    `json:"c"`
	PublicSignals []string     `json:"publicSignals"`
}

// ParseProof unmarshals a JSON-encoded wire proof
func ParseProof(raw []byte) (*Proof, error) {
	proof := &Proof{}
	err := json.Unmarshal(raw, proof)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proof; %s", err.Error())
	}
	return proof, nil
}

func setFp(e *fp.Element, val string) error {
	_, err := e.SetString(val)
	if err != nil {
		return fmt.Errorf("failed to parse field element %s; %s", val, err.Error())
	}
	return nil
}

// Groth16 decodes the wire proof into a bn254 groth16 proof
func (p *Proof) Groth16() (groth16.Proof, error) {
	prf := &groth16bn254.Proof{}

	if err := setFp(&prf.Ar.X, p.A[0]); err != nil {
		return nil, err
	}
	if err := setFp(&prf.Ar.Y, p.A[1]); err != nil {
		return nil, err
	}

	if err := setFp(&prf.Bs.X.A0, p.B[0][0]); err != nil {
		return nil, err
	}
	if err := setFp(&prf.Bs.X.A1, p.B[0][1]); err != nil {
		return nil, err
	}
	if err := setFp(&prf.Bs.Y.A0, p.B[1][0]); err != nil {
		return nil, err
	}
	if err := setFp(&prf.Bs.Y.A1, p.B[1][1]); err != nil {
		return nil, err
	}

	if err := setFp(&prf.Krs.X, p.C[0]); err != nil {
		return nil, err
	}
	if err := setFp(&prf.Krs.Y, p.C[1]); err != nil {
		return nil, err
	}

	if !prf.Ar.IsOnCurve() || !prf.Krs.IsOnCurve() || !prf.Bs.IsOnCurve() {
		return nil, fmt.Errorf("failed to decode proof; coordinates not on curve")
	}

	return prf, nil
}

// WireProof exports a bn254 groth16 proof and its public signals to the wire
// representation; used when bridging proofs produced by an in-process prover
func WireProof(proof groth16.Proof, publicSignals []string) (*Proof, error) {
	prf, prfOk := proof.(*groth16bn254.Proof)
	if !prfOk {
		return nil, fmt.Errorf("failed to encode proof; expected bn254 groth16 proof, got %T", proof)
	}

	return &Proof{
		A: [2]string{prf.Ar.X.String(), prf.Ar.Y.String()},
		B: [2][2]string{
			{prf.Bs.X.A0.String(), prf.Bs.X.A1.String()},
			{prf.Bs.Y.A0.String(), prf.Bs.Y.A1.String()},
		},
		C:             [2]string{prf.Krs.X.String(), prf.Krs.Y.String()},
		PublicSignals: publicSignals,
	}, nil
}

type verifyingKeyJSON struct {
	Alpha [2]string    `json:"alpha"`
	Beta  [2][2]string `json:"beta"`
	Gamma [2][2]string `json:"gamma"`
	Delta [2][2]string `json:"delta"`
	IC    [][2]string  `json:"ic"`
}

// ImportVerifyingKey decodes a verification key from either the JSON
// coordinate-array artifact format or gnark binary serialization
func ImportVerifyingKey(raw []byte) (groth16.VerifyingKey, error) {
	if len(raw) > 0 && raw[0] == '{' {
		return importVerifyingKeyJSON(raw)
	}

	vk := &groth16bn254.VerifyingKey{}
	_, err := vk.ReadFrom(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode verifying key; %s", err.Error())
	}
	return vk, nil
}

func importVerifyingKeyJSON(raw []byte) (groth16.VerifyingKey, error) {
	var artifact verifyingKeyJSON
	err := json.Unmarshal(raw, &artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to parse verifying key artifact; %s", err.Error())
	}

	vk := &groth16bn254.VerifyingKey{}

	if err := setFp(&vk.G1.Alpha.X, artifact.Alpha[0]); err != nil {
		return nil, err
	}
	if err := setFp(&vk.G1.Alpha.Y, artifact.Alpha[1]); err != nil {
		return nil, err
	}

	if err := setG2(&vk.G2.Beta, artifact.Beta); err != nil {
		return nil, err
	}
	if err := setG2(&vk.G2.Gamma, artifact.Gamma); err != nil {
		return nil, err
	}
	if err := setG2(&vk.G2.Delta, artifact.Delta); err != nil {
		return nil, err
	}

	vk.G1.K = make([]bn254.G1Affine, len(artifact.IC))
	for i := range artifact.IC {
		if err := setFp(&vk.G1.K[i].X, artifact.IC[i][0]); err != nil {
			return nil, err
		}
		if err := setFp(&vk.G1.K[i].Y, artifact.IC[i][1]); err != nil {
			return nil, err
		}
	}

	err = vk.Precompute()
	if err != nil {
		return nil, fmt.Errorf("failed to precompute verifying key pairing lines; %s", err.Error())
	}

	return vk, nil
}

func setG2(point *bn254.G2Affine, coords [2][2]string) error {
	if err := setFp(&point.X.A0, coords[0][0]); err != nil {
		return err
	}
	if err := setFp(&point.X.A1, coords[0][1]); err != nil {
		return err
	}
	if err := setFp(&point.Y.A0, coords[1][0]); err != nil {
		return err
	}
	return setFp(&point.Y.A1, coords[1][1])
}
