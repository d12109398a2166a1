package state

import uuid "github.com/kthomas/go.uuid"

// State is a snapshot of an append-only store which can only advance as the
// result of a verified ledger transition
type State struct {
	ID      uuid.UUID  `json:"id"`
	StoreID *uuid.UUID `json:"store_id"`
	Epoch   uint64     `json:"epoch"`
	Nonce   uint64     `json:"nonce"`

	StateClaims []*StateClaim
}

// StateClaim is the representation of a valid store state as observed at a
// given epoch; the root anchors every value below it
type StateClaim struct {
	Cardinality uint64   `json:"cardinality"`
	Path        []string `json:"path"`
	Root        *string  `json:"root"`
	Values      []string `json:"values"`
}
