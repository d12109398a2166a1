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

package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	gnarkhash "github.com/consensys/gnark-crypto/hash"
)

// PanicIfEmpty panics if the given string is empty
func PanicIfEmpty(val string, msg string) {
	if val == "" {
		panic(msg)
	}
}

// StringOrNil returns the given string or nil when empty
func StringOrNil(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

// RandomBytes generates a cryptographically random byte array
func RandomBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return nil, fmt.Errorf("error generating random bytes %s", err.Error())
	}
	return b, nil
}

// MimcHash returns the hex-encoded MiMC digest of the given input for the named curve
func MimcHash(curve *string, val []byte) (*string, error) {
	h := MimcHashFactory(curve)
	if h == nil {
		return nil, fmt.Errorf("failed to resolve mimc hash for curve: %s", *curve)
	}

	h.Write(val)
	return StringOrNil(hex.EncodeToString(h.Sum(nil))), nil
}

// MimcHashFactory returns a native MiMC hash instance for the named curve
func MimcHashFactory(curve *string) hash.Hash {
	if curve == nil {
		return nil
	}

	switch strings.ToLower(*curve) {
	case ecc.BLS12_377.String():
		return gnarkhash.MIMC_BLS12_377.New()
	case ecc.BLS12_381.String():
		return gnarkhash.MIMC_BLS12_381.New()
	case ecc.BN254.String():
		return gnarkhash.MIMC_BN254.New()
	case ecc.BW6_761.String():
		return gnarkhash.MIMC_BW6_761.New()
	default:
		Log.Warningf("failed to resolve hash type string; unknown or unsupported curve: %s", *curve)
	}

	return nil
}

// GnarkCurveIDFactory returns an ecc curve id corresponding to the input name
func GnarkCurveIDFactory(curveID *string) ecc.ID {
	if curveID == nil {
		return ecc.UNKNOWN
	}

	switch strings.ToLower(*curveID) {
	case ecc.BLS12_377.String():
		return ecc.BLS12_377
	case ecc.BLS12_381.String():
		return ecc.BLS12_381
	case ecc.BN254.String():
		return ecc.BN254
	case ecc.BW6_761.String():
		return ecc.BW6_761
	default:
		return ecc.UNKNOWN
	}
}
