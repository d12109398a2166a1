package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// IssuanceCircuit proves that a registered production device generated at
// least the minimum provable energy amount within the permitted reporting
// window, and that the claimed carbon amount is exactly the energy amount
// scaled by the applied carbon factor, without revealing the device secret.
//
// The order of the public fields below defines the public signal ordering on
// the wire; the verifier gate derives all committed values from these signals.
type IssuanceCircuit struct {
	// Public inputs
	EnergyAmount   frontend.Variable `gnark:",public"`
	CarbonAmount   frontend.Variable `gnark:",public"`
	CarbonFactor   frontend.Variable `gnark:",public"`
	Denominator    frontend.Variable `gnark:",public"`
	MinEnergy      frontend.Variable `gnark:",public"`
	IssuedAt       frontend.Variable `gnark:",public"`
	MaxIssuedAt    frontend.Variable `gnark:",public"`
	NoteCommitment frontend.Variable `gnark:",public"`

	// Private inputs
	DeviceSecret frontend.Variable
	NoteNonce    frontend.Variable
}

// Define the issuance constraint system
func (c *IssuanceCircuit) Define(api frontend.API) error {
	// energy >= threshold, issued within the reporting window
	api.AssertIsLessOrEqual(c.MinEnergy, c.EnergyAmount)
	api.AssertIsLessOrEqual(c.IssuedAt, c.MaxIssuedAt)

	// carbon * denominator == energy * factor
	api.AssertIsEqual(
		api.Mul(c.CarbonAmount, c.Denominator),
		api.Mul(c.EnergyAmount, c.CarbonFactor),
	)

	// cm = H(carbonAmount, deviceSecret, nonce)
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.CarbonAmount)
	hasher.Write(c.DeviceSecret)
	hasher.Write(c.NoteNonce)
	api.AssertIsEqual(c.NoteCommitment, hasher.Sum())

	return nil
}
