package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// TransferCircuit proves a confidential transfer: the prover knows the secret
// material of an unspent note whose commitment is registered, the published
// nullifier is correctly derived from that material, and the two output
// commitments conserve the note's balance. Balances never appear in public
// signals; conservation is structural in the commitment derivations.
type TransferCircuit struct {
	// Public inputs
	Nullifier           frontend.Variable `gnark:",public"`
	SpentCommitment     frontend.Variable `gnark:",public"`
	NewSenderCommitment frontend.Variable `gnark:",public"`
	ReceiverCommitment  frontend.Variable `gnark:",public"`

	// Private inputs
	SenderBalance  frontend.Variable
	TransferAmount frontend.Variable
	SenderSecret   frontend.Variable
	SenderNonce    frontend.Variable
	NewSenderNonce frontend.Variable
	ReceiverPubKey frontend.Variable
	ReceiverNonce  frontend.Variable
}

// Define the transfer constraint system
func (c *TransferCircuit) Define(api frontend.API) error {
	// nf = PRF(secret, nonce)
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hasher.Write(c.SenderSecret)
	hasher.Write(c.SenderNonce)
	api.AssertIsEqual(c.Nullifier, hasher.Sum())

	// spent cm = H(balance, secret, nonce)
	hasher.Reset()
	hasher.Write(c.SenderBalance)
	hasher.Write(c.SenderSecret)
	hasher.Write(c.SenderNonce)
	api.AssertIsEqual(c.SpentCommitment, hasher.Sum())

	// balance >= amount; change = balance - amount
	api.AssertIsLessOrEqual(c.TransferAmount, c.SenderBalance)
	change := api.Sub(c.SenderBalance, c.TransferAmount)

	// change cm = H(balance - amount, secret, newNonce)
	hasher.Reset()
	hasher.Write(change)
	hasher.Write(c.SenderSecret)
	hasher.Write(c.NewSenderNonce)
	api.AssertIsEqual(c.NewSenderCommitment, hasher.Sum())

	// receiver cm = H(amount, receiverPk, receiverNonce)
	hasher.Reset()
	hasher.Write(c.TransferAmount)
	hasher.Write(c.ReceiverPubKey)
	hasher.Write(c.ReceiverNonce)
	api.AssertIsEqual(c.ReceiverCommitment, hasher.Sum())

	return nil
}
