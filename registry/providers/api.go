package providers

import (
	dbconf "github.com/kthomas/go-db-config"
	uuid "github.com/kthomas/go.uuid"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/registry/providers/dmt"
	"github.com/verdantgrid/carbonledger/registry/providers/smt"
	"github.com/verdantgrid/carbonledger/state"
)

// StoreProviderDenseMerkleTree dense merkle tree storage provider
const StoreProviderDenseMerkleTree = "dmt"

// StoreProviderSparseMerkleTree sparse merkle tree storage provider
const StoreProviderSparseMerkleTree = "smt"

// StoreProvider provides a common interface to interact with append-only
// commitment and nullifier storage facilities
type StoreProvider interface {
	Contains(val string) bool
	Get(key []byte) (val []byte, err error)
	Height() int
	Insert(val string) (root []byte, err error)
	Root() (root *string, err error)
	StateAt(epoch uint64) (*state.State, error)
}

// InitDenseMerkleTreeStoreProvider initializes a durable dense merkle tree
func InitDenseMerkleTreeStoreProvider(id uuid.UUID, curve *string) *dmt.DMT {
	return dmt.InitDMT(dbconf.DatabaseConnection(), id, common.MimcHashFactory(curve))
}

// InitSparseMerkleTreeStoreProvider initializes a durable sparse merkle tree
func InitSparseMerkleTreeStoreProvider(id uuid.UUID, curve *string) *smt.SMT {
	return smt.InitSMT(dbconf.DatabaseConnection(), id, common.MimcHashFactory(curve))
}

// InitEphemeralDenseMerkleTreeStoreProvider initializes an in-memory dense
// merkle tree with no persistence
func InitEphemeralDenseMerkleTreeStoreProvider(id uuid.UUID, curve *string) *dmt.DMT {
	return dmt.InitDMT(nil, id, common.MimcHashFactory(curve))
}

// InitEphemeralSparseMerkleTreeStoreProvider initializes an in-memory sparse
// merkle tree with no persistence
func InitEphemeralSparseMerkleTreeStoreProvider(id uuid.UUID, curve *string) *smt.SMT {
	return smt.InitSMT(nil, id, common.MimcHashFactory(curve))
}
