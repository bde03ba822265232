package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-txsim/internal/domain"
	"github.com/tbourn/go-txsim/internal/repo"
)

// memStore is an in-memory Store without Transactor, so the executor takes
// the compensation path. The *Err hooks inject failures.
type memStore struct {
	mu sync.Mutex

	balances  map[string]float64
	txs       map[string]*domain.TransactionRecord
	transfers []domain.TokenTransfer
	claims    []domain.TokenClaim
	petitions []domain.Petition
	votes     map[string]domain.PetitionVote

	balanceErr      error
	creditErr       func(userID string, call int) error
	createTxErr     error
	updateErr       error
	updateErrOnce   error
	transferErr     error
	voteErr         error
	hasVotedErr     error
	panicOnGet      bool
	panicOnPetition bool

	creditCalls int
	updateCalls int
	writes      int
}

func newMemStore() *memStore {
	return &memStore{
		balances: map[string]float64{},
		txs:      map[string]*domain.TransactionRecord{},
		votes:    map[string]domain.PetitionVote{},
	}
}

func balKey(user, token string) string { return user + "\x00" + token }

func (m *memStore) set(user, token string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balKey(user, token)] = amount
}

func (m *memStore) bal(user, token string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balKey(user, token)]
}

func (m *memStore) GetBalance(_ context.Context, userID, tokenID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	v, ok := m.balances[balKey(userID, tokenID)]
	if !ok {
		return 0, ErrNoBalance
	}
	return v, nil
}

func (m *memStore) Credit(_ context.Context, userID, tokenID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creditCalls++
	if m.creditErr != nil {
		if err := m.creditErr(userID, m.creditCalls); err != nil {
			return err
		}
	}
	m.writes++
	m.balances[balKey(userID, tokenID)] += amount
	return nil
}

func (m *memStore) Debit(_ context.Context, userID, tokenID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := balKey(userID, tokenID)
	v, ok := m.balances[k]
	if !ok || v < amount {
		return ErrInsufficientBalance
	}
	m.writes++
	m.balances[k] = v - amount
	return nil
}

func (m *memStore) CreateTransaction(_ context.Context, rec *domain.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createTxErr != nil {
		return m.createTxErr
	}
	if _, ok := m.txs[rec.ID]; ok {
		return ErrDuplicateTransaction
	}
	m.writes++
	cp := *rec
	m.txs[rec.ID] = &cp
	return nil
}

func (m *memStore) GetTransaction(_ context.Context, id string) (*domain.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnGet {
		panic("boom")
	}
	rec, ok := m.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) UpdateTransactionStatus(_ context.Context, id string, status domain.TxStatus, result *string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if err := m.updateErrOnce; err != nil {
		m.updateErrOnce = nil
		return err
	}
	if m.updateErr != nil {
		return m.updateErr
	}
	rec, ok := m.txs[id]
	if !ok {
		return ErrTransactionNotFound
	}
	rec.Status, rec.Result, rec.Error = status, result, errMsg
	return nil
}

func (m *memStore) ResetTransaction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.txs[id]
	if !ok || rec.Status != domain.StatusFailed {
		return ErrTransactionNotFound
	}
	rec.Status, rec.Result, rec.Error = domain.StatusPending, nil, ""
	return nil
}

func (m *memStore) CreateTransfer(_ context.Context, t *domain.TokenTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transferErr != nil {
		return m.transferErr
	}
	t.ID = uuid.NewString()
	m.writes++
	m.transfers = append(m.transfers, *t)
	return nil
}

func (m *memStore) CreateClaim(_ context.Context, c *domain.TokenClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.NewString()
	m.writes++
	m.claims = append(m.claims, *c)
	return nil
}

func (m *memStore) CreatePetition(_ context.Context, p *domain.Petition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnPetition {
		panic("store exploded")
	}
	p.ID = uuid.NewString()
	m.writes++
	m.petitions = append(m.petitions, *p)
	return nil
}

func (m *memStore) HasVoted(_ context.Context, petitionID, voterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasVotedErr != nil {
		return false, m.hasVotedErr
	}
	_, ok := m.votes[balKey(petitionID, voterID)]
	return ok, nil
}

func (m *memStore) CreateVote(_ context.Context, v *domain.PetitionVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voteErr != nil {
		return m.voteErr
	}
	k := balKey(v.PetitionID, v.VoterID)
	if _, ok := m.votes[k]; ok {
		return ErrAlreadyVoted
	}
	v.ID = uuid.NewString()
	m.writes++
	m.votes[k] = *v
	return nil
}

var _ Store = (*memStore)(nil)

// newStoreDB opens a fresh in-memory SQLite database with the full schema.
func newStoreDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:txsvc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func consented() domain.Metadata { return domain.Metadata{ConsentVerified: true} }
