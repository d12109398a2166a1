package dmt

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
	"github.com/providenetwork/merkletree"

	"github.com/verdantgrid/carbonledger/common"
	"github.com/verdantgrid/carbonledger/state"
)

// DMT is a dense merkle tree anchoring an append-only set of commitments;
// when a db is configured every inserted value and recalculated root is
// persisted so the tree can be rebuilt on load
type DMT struct {
	db     *gorm.DB
	hash   hash.Hash
	id     *uuid.UUID
	mutex  *sync.Mutex
	tree   *merkletree.MerkleTree
	values []merkletree.Content
}

type leaf struct {
	hash  hash.Hash
	value string
}

// CalculateHash returns the digest of the leaf value
func (l *leaf) CalculateHash() ([]byte, error) {
	l.hash.Reset()
	l.hash.Write([]byte(l.value))
	sum := l.hash.Sum(nil)
	l.hash.Reset()
	return sum, nil
}

// Equals compares leaf values
func (l *leaf) Equals(other merkletree.Content) (bool, error) {
	otherLeaf, leafOk := other.(*leaf)
	if !leafOk {
		return false, errors.New("invalid content type for dense merkle tree leaf")
	}
	return l.value == otherLeaf.value, nil
}

// InitDMT initializes a dense merkle tree, replaying any previously persisted
// values from the given db connection; a nil db yields an ephemeral tree
func InitDMT(db *gorm.DB, id uuid.UUID, h hash.Hash) *DMT {
	instance := &DMT{
		db:     db,
		hash:   h,
		id:     &id,
		mutex:  &sync.Mutex{},
		values: make([]merkletree.Content, 0),
	}

	if db != nil {
		err := instance.loadValues()
		if err != nil {
			common.Log.Warningf("failed to load dense merkle tree store %s; %s", id, err.Error())
			return nil
		}
	}

	return instance
}

func (s *DMT) loadValues() error {
	rows, err := s.db.Raw("SELECT value FROM hashes WHERE store_id = ? ORDER BY id", s.id).Rows()
	if err != nil {
		return fmt.Errorf("failed to resolve dense merkle tree from store: %s; %s", s.id, err.Error())
	}

	for rows.Next() {
		var value string
		err = rows.Scan(&value)
		if err != nil {
			return fmt.Errorf("failed to scan the store for dense merkle tree values; %s", err.Error())
		}
		s.values = append(s.values, &leaf{hash: s.hash, value: value})
	}

	if len(s.values) > 0 {
		err = s.rebuild()
		if err != nil {
			return err
		}
		common.Log.Debugf("imported dense merkle tree for store %s; root: %s", s.id, hex.EncodeToString(s.tree.MerkleRoot()))
	}

	return nil
}

func (s *DMT) rebuild() error {
	if s.tree == nil {
		tree, err := merkletree.NewTreeWithHashStrategy(s.values, func() hash.Hash {
			return s.hash
		})
		if err != nil {
			return err
		}
		s.tree = tree
		return nil
	}

	return s.tree.RebuildTreeWith(s.values)
}

// commit the current root of the dense merkle tree to the database
func (s *DMT) commit(value string) error {
	db := s.db.Exec("INSERT INTO hashes (store_id, value) VALUES (?, ?)", s.id, value)
	if db.RowsAffected == 0 {
		return fmt.Errorf("failed to persist value within dense merkle tree: %s", s.id)
	}

	db = s.db.Exec("INSERT INTO trees (store_id, root) VALUES (?, ?)", s.id, hex.EncodeToString(s.tree.MerkleRoot()))
	if db.RowsAffected == 0 {
		return fmt.Errorf("failed to persist root within dense merkle tree: %s", s.id)
	}

	return nil
}

// Contains returns true if the given value has been inserted
func (s *DMT) Contains(val string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, content := range s.values {
		if content.(*leaf).value == val {
			return true
		}
	}

	return false
}

func (s *DMT) Get(key []byte) (val []byte, err error) {
	return nil, errors.New("dense merkle tree does not support keyed retrieval")
}

// Height returns the number of leaves in the tree
func (s *DMT) Height() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.values)
}

// Insert appends the given value, recalculates the tree and persists the new
// value and root
func (s *DMT) Insert(val string) (root []byte, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.values = append(s.values, &leaf{hash: s.hash, value: val})
	err = s.rebuild()
	if err != nil {
		s.values = s.values[:len(s.values)-1]
		return nil, err
	}

	if s.db != nil {
		err = s.commit(val)
		if err != nil {
			return nil, err
		}
	}

	return s.tree.MerkleRoot(), nil
}

// Root returns the hex-encoded merkle root
func (s *DMT) Root() (root *string, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.tree == nil || len(s.tree.MerkleRoot()) == 0 {
		return nil, errors.New("tree does not contain a valid root")
	}
	return common.StringOrNil(hex.EncodeToString(s.tree.MerkleRoot())), nil
}

// StateAt returns the state of the tree at the given epoch
func (s *DMT) StateAt(epoch uint64) (*state.State, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}

	claims := []*state.StateClaim{
		{
			Cardinality: uint64(s.Height()),
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
