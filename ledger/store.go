package ledger

import (
	"sync"

	"github.com/jinzhu/gorm"
	uuid "github.com/kthomas/go.uuid"
)

// CreditStore provides persistence for carbon credit records; the ledger is
// the only writer
type CreditStore interface {
	FindCredit(creditID uuid.UUID) (*CarbonCredit, error)
	ListCredits(owner *string) ([]*CarbonCredit, error)
	CreateCredit(credit *CarbonCredit) error
	SaveCredit(credit *CarbonCredit) error
}

// DatabaseCreditStore persists credits using the given gorm connection
type DatabaseCreditStore struct {
	db *gorm.DB
}

// InitDatabaseCreditStore initializes a credit store over the given db connection
func InitDatabaseCreditStore(db *gorm.DB) *DatabaseCreditStore {
	return &DatabaseCreditStore{db: db}
}

// FindCredit loads the credit for the given id
func (s *DatabaseCreditStore) FindCredit(creditID uuid.UUID) (*CarbonCredit, error) {
	credit := &CarbonCredit{}
	s.db.Where("id = ?", creditID).Find(&credit)
	if credit.ID == uuid.Nil {
		return nil, ErrCreditNotFound
	}
	return credit, nil
}

// ListCredits returns credits, optionally filtered by owner
func (s *DatabaseCreditStore) ListCredits(owner *string) ([]*CarbonCredit, error) {
	credits := make([]*CarbonCredit, 0)
	query := s.db.Order("created_at DESC")
	if owner != nil {
		query = query.Where("owner = ?", *owner)
	}
	query.Find(&credits)
	return credits, nil
}

// CreateCredit persists a new credit record
func (s *DatabaseCreditStore) CreateCredit(credit *CarbonCredit) error {
	result := s.db.Create(&credit)
	errors := result.GetErrors()
	if len(errors) > 0 {
		return errors[0]
	}
	return nil
}

// SaveCredit persists the mutated credit record
func (s *DatabaseCreditStore) SaveCredit(credit *CarbonCredit) error {
	result := s.db.Save(&credit)
	errors := result.GetErrors()
	if len(errors) > 0 {
		return errors[0]
	}
	return nil
}

// InMemoryCreditStore is an ephemeral credit store for tests and
// single-process deployments without a configured database
type InMemoryCreditStore struct {
	mutex   sync.RWMutex
	credits map[uuid.UUID]*CarbonCredit
}

// InitInMemoryCreditStore initializes an empty in-memory credit store
func InitInMemoryCreditStore() *InMemoryCreditStore {
	return &InMemoryCreditStore{
		credits: map[uuid.UUID]*CarbonCredit{},
	}
}

// FindCredit returns a copy of the credit for the given id
func (s *InMemoryCreditStore) FindCredit(creditID uuid.UUID) (*CarbonCredit, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	credit, creditOk := s.credits[creditID]
	if !creditOk {
		return nil, ErrCreditNotFound
	}

	copied := *credit
	return &copied, nil
}

// ListCredits returns copies of all credits, optionally filtered by owner
func (s *InMemoryCreditStore) ListCredits(owner *string) ([]*CarbonCredit, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	credits := make([]*CarbonCredit, 0)
	for _, credit := range s.credits {
		if owner != nil && (credit.Owner == nil || *credit.Owner != *owner) {
			continue
		}
		copied := *credit
		credits = append(credits, &copied)
	}
	return credits, nil
}

// CreateCredit stores a new credit, assigning an id when none is set
func (s *InMemoryCreditStore) CreateCredit(credit *CarbonCredit) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if credit.ID == uuid.Nil {
		credit.ID, _ = uuid.NewV4()
	}

	copied := *credit
	s.credits[credit.ID] = &copied
	return nil
}

// SaveCredit stores the mutated credit
func (s *InMemoryCreditStore) SaveCredit(credit *CarbonCredit) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, creditOk := s.credits[credit.ID]; !creditOk {
		return ErrCreditNotFound
	}

	copied := *credit
	s.credits[credit.ID] = &copied
	return nil
}
