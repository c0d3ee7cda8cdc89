// Package memstore is an in-process implementation of repository.Querier. Transactions
// are serialized behind one mutex and applied to a cloned snapshot, so a failed
// transaction leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/repository"
	"github.com/google/uuid"
)

// transferKey mirrors the (initiator_id, idempotency_key) unique constraint.
type transferKey struct {
	initiator uuid.UUID
	key       string
}

type state struct {
	seq int64

	accounts       map[uuid.UUID]models.Account
	accountNumbers map[string]uuid.UUID

	transfers    map[uuid.UUID]models.TransferRecord
	transferKeys map[transferKey]uuid.UUID

	entries []models.Entry

	beneficiaries map[uuid.UUID]models.Beneficiary

	jobs          map[uuid.UUID]models.ScheduledJob
	jobByTransfer map[uuid.UUID]uuid.UUID

	settlements          map[uuid.UUID]models.Settlement
	settlementByTransfer map[uuid.UUID]uuid.UUID

	audit []models.AuditLog

	idempotency map[string]repository.IdempotencyKey

	order map[uuid.UUID]int64
}

func newState() *state {
	return &state{
		accounts:             make(map[uuid.UUID]models.Account),
		accountNumbers:       make(map[string]uuid.UUID),
		transfers:            make(map[uuid.UUID]models.TransferRecord),
		transferKeys:         make(map[transferKey]uuid.UUID),
		beneficiaries:        make(map[uuid.UUID]models.Beneficiary),
		jobs:                 make(map[uuid.UUID]models.ScheduledJob),
		jobByTransfer:        make(map[uuid.UUID]uuid.UUID),
		settlements:          make(map[uuid.UUID]models.Settlement),
		settlementByTransfer: make(map[uuid.UUID]uuid.UUID),
		idempotency:          make(map[string]repository.IdempotencyKey),
		order:                make(map[uuid.UUID]int64),
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:                  s.seq,
		accounts:             make(map[uuid.UUID]models.Account, len(s.accounts)),
		accountNumbers:       make(map[string]uuid.UUID, len(s.accountNumbers)),
		transfers:            make(map[uuid.UUID]models.TransferRecord, len(s.transfers)),
		transferKeys:         make(map[transferKey]uuid.UUID, len(s.transferKeys)),
		entries:              append([]models.Entry(nil), s.entries...),
		beneficiaries:        make(map[uuid.UUID]models.Beneficiary, len(s.beneficiaries)),
		jobs:                 make(map[uuid.UUID]models.ScheduledJob, len(s.jobs)),
		jobByTransfer:        make(map[uuid.UUID]uuid.UUID, len(s.jobByTransfer)),
		settlements:          make(map[uuid.UUID]models.Settlement, len(s.settlements)),
		settlementByTransfer: make(map[uuid.UUID]uuid.UUID, len(s.settlementByTransfer)),
		audit:                append([]models.AuditLog(nil), s.audit...),
		idempotency:          make(map[string]repository.IdempotencyKey, len(s.idempotency)),
		order:                make(map[uuid.UUID]int64, len(s.order)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.accountNumbers {
		c.accountNumbers[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	for k, v := range s.transferKeys {
		c.transferKeys[k] = v
	}
	for k, v := range s.beneficiaries {
		c.beneficiaries[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.jobByTransfer {
		c.jobByTransfer[k] = v
	}
	for k, v := range s.settlements {
		c.settlements[k] = v
	}
	for k, v := range s.settlementByTransfer {
		c.settlementByTransfer[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.order {
		c.order[k] = v
	}
	return c
}

func (s *state) next(id uuid.UUID) {
	s.seq++
	s.order[id] = s.seq
}

// Store is a concurrency-safe in-memory repository.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty store seeded with the system clearing and fee accounts.
func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.seedSystemAccounts()
	return s
}

func (s *Store) seedSystemAccounts() {
	system := uuid.MustParse(domain.SystemCustomerID)
	seeds := []struct {
		id, number, name, currency string
	}{
		{domain.ClearingAccountCRC, "SYS-CLEARING-CRC", "Settlement clearing CRC", domain.CurrencyCRC},
		{domain.ClearingAccountUSD, "SYS-CLEARING-USD", "Settlement clearing USD", domain.CurrencyUSD},
		{domain.FeeAccountCRC, "SYS-FEES-CRC", "Fee income CRC", domain.CurrencyCRC},
		{domain.FeeAccountUSD, "SYS-FEES-USD", "Fee income USD", domain.CurrencyUSD},
	}
	q := &queries{store: s, st: s.st, inTx: true}
	for _, seed := range seeds {
		_, err := q.CreateAccount(context.Background(), repository.CreateAccountParams{
			ID:         uuid.MustParse(seed.id),
			CustomerID: system,
			Number:     seed.number,
			HolderName: seed.name,
			Currency:   seed.currency,
			Status:     domain.AccountStatusActive,
		})
		if err != nil {
			panic(fmt.Sprintf("seed system account %s: %v", seed.number, err))
		}
	}
}

// Queries returns a query set where every call is its own atomic unit. It must not be
// used from inside a RunInTx callback.
func (s *Store) Queries() repository.Querier {
	return &queries{store: s}
}

// RunInTx runs fn against a private copy of the state and publishes it only if fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.st.clone()
	if err := fn(&queries{store: s, st: working, inTx: true}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.st = working
	return nil
}
