package smt

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/providenetwork/smt"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/state"
)

// SMT is a sparse merkle tree backing the nullifier set; absence of a key is
// provable before a spend and presence is provable after
type SMT struct {
	db    *gorm.DB
	hash  hash.Hash
	id    *uuid.UUID
	mutex *sync.Mutex
	tree  *smt.SparseMerkleTree
}

// InitSMT initializes a sparse merkle tree, importing any previously
// persisted state from the given db connection; a nil db yields an ephemeral tree
func InitSMT(db *gorm.DB, id uuid.UUID, h hash.Hash) *SMT {
	var tree *smt.SparseMerkleTree

	if db != nil {
		var err error
		tree, err = loadTree(db, id, h)
		if err != nil {
			common.Log.Warningf("failed to load sparse merkle tree store %s; %s", id, err.Error())
			return nil
		}
	}

	if tree == nil {
		tree = smt.NewSparseMerkleTree(smt.NewSimpleMap(), smt.NewSimpleMap(), h)
	}

	return &SMT{
		db:    db,
		hash:  h,
		id:    &id,
		mutex: &sync.Mutex{},
		tree:  tree,
	}
}

func loadTree(db *gorm.DB, id uuid.UUID, h hash.Hash) (*smt.SparseMerkleTree, error) {
	var tree *smt.SparseMerkleTree

	rows, err := db.Raw("SELECT nodes, values, root FROM trees WHERE store_id = ? ORDER BY id DESC LIMIT 1", id).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sparse merkle tree from store: %s; %s", id, err.Error())
	}

	for rows.Next() {
		var nodesRaw json.RawMessage
		var valuesRaw json.RawMessage
		var root string

		err = rows.Scan(&nodesRaw, &valuesRaw, &root)
		if err != nil {
			return nil, fmt.Errorf("failed to scan the store for sparse merkle tree; %s", err.Error())
		}

		var nodes *smt.SimpleMap
		var values *smt.SimpleMap

		json.Unmarshal(nodesRaw, &nodes)
		json.Unmarshal(valuesRaw, &values)
		rootBytes, _ := hex.DecodeString(root)

		tree = smt.ImportSparseMerkleTree(nodes, values, h, rootBytes)
		common.Log.Debugf("imported sparse merkle tree for store %s with root: %s", id, root)
	}

	return tree, nil
}

// commit the current state of the sparse merkle tree to the database
func (s *SMT) commit() error {
	nodes, _ := json.Marshal(s.tree.Nodes())
	values, _ := json.Marshal(s.tree.Values())
	root := s.tree.Root()

	db := s.db.Exec("INSERT INTO trees (store_id, nodes, values, root) VALUES (?, ?, ?, ?)", s.id, nodes, values, hex.EncodeToString(root))
	if db.RowsAffected == 0 {
		return fmt.Errorf("failed to persist sparse merkle tree state: %s", s.id)
	}

	return nil
}

func (s *SMT) digest(val []byte) []byte {
	s.hash.Reset()
	s.hash.Write(val)
	sum := s.hash.Sum(nil)
	s.hash.Reset()
	return sum
}

// Contains returns true if a membership proof exists for the given value
func (s *SMT) Contains(val string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_val := []byte(val)
	key := s.digest(_val)

	proof, err := s.tree.Prove(key)
	if err != nil {
		common.Log.Warningf("failed to generate sparse merkle proof; %s", err.Error())
		return false
	}

	return smt.VerifyProof(proof, s.tree.Root(), key, _val, s.hash)
}

// Get returns the value stored under the given key
func (s *SMT) Get(key []byte) (val []byte, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.tree.Get(key)
}

// Height returns the height of the tree
func (s *SMT) Height() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.tree.Height()
}

// Insert adds the given value under its digest and persists the new tree state
func (s *SMT) Insert(val string) (root []byte, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_val := []byte(val)
	key := s.digest(_val)

	root, err = s.tree.Update(key, _val)
	if err != nil {
		return nil, err
	}

	if s.db != nil {
		err = s.commit()
		if err != nil {
			return nil, err
		}
	}

	return root, nil
}

// Root returns the hex-encoded root of the tree
func (s *SMT) Root() (root *string, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.tree.Root() == nil || len(s.tree.Root()) == 0 {
		return nil, errors.New("tree does not contain a valid root")
	}
	return common.StringOrNil(hex.EncodeToString(s.tree.Root())), nil
}

// StateAt returns the state of the tree at the given epoch
func (s *SMT) StateAt(epoch uint64) (*state.State, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}

	claims := []*state.StateClaim{
		{
			Cardinality: uint64(1),
			Path:        []string{},
			Root:        root,
			Values:      []string{},
		},
	}

	return &state.State{
		StoreID:     s.id,
		Epoch:       epoch,
		StateClaims: claims,
	}, nil
}
