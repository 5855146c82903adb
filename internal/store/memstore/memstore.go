// Package memstore is an in-process ledger.Storage.
//
// Units of work run without holding locks: reads are served from the
// committed state and remembered with the row version they saw, writes are
// buffered. At commit the read versions are re-checked under a short
// mutex; if any row changed (or appeared) in the meantime the unit is
// discarded with ledger.ErrConflict. Units touching disjoint accounts never
// conflict with each other.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"funds-ledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type accountRow struct {
	acc     ledger.Account
	version uint64
}

type recordRow struct {
	rec     ledger.Record
	version uint64
}

type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*accountRow
	emails   map[string]uuid.UUID
	records  map[uuid.UUID]*recordRow
	events   []ledger.Event
}

var _ ledger.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]*accountRow),
		emails:   make(map[string]uuid.UUID),
		records:  make(map[uuid.UUID]*recordRow),
	}
}

func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s, false)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, newTx(s, true))
}

// Events returns a copy of the audit events committed so far.
func (s *Store) Events() []ledger.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Event, len(s.events))
	copy(out, s.events)
	return out
}

// TotalBalance sums every committed balance.
func (s *Store) TotalBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, row := range s.accounts {
		total = total.Add(row.acc.Balance)
	}
	return total
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seen := range t.accountReads {
		var cur uint64
		if row, ok := s.accounts[id]; ok {
			cur = row.version
		}
		if cur != seen {
			return fmt.Errorf("account %s: %w", id, ledger.ErrConflict)
		}
	}
	for id, seen := range t.recordReads {
		var cur uint64
		if row, ok := s.records[id]; ok {
			cur = row.version
		}
		if cur != seen {
			return fmt.Errorf("record %s: %w", id, ledger.ErrConflict)
		}
	}
	for email, id := range t.newEmails {
		if owner, ok := s.emails[email]; ok && owner != id {
			return fmt.Errorf("email %s: %w", email, ledger.ErrConflict)
		}
	}

	for id, acc := range t.accountWrites {
		row, ok := s.accounts[id]
		if !ok {
			row = &accountRow{}
			s.accounts[id] = row
		}
		row.acc = acc
		row.version++
	}
	for email, id := range t.newEmails {
		s.emails[email] = id
	}
	for id, rec := range t.recordWrites {
		row, ok := s.records[id]
		if !ok {
			row = &recordRow{}
			s.records[id] = row
		}
		row.rec = rec
		row.version++
	}
	s.events = append(s.events, t.events...)
	return nil
}

// tx buffers one unit of work.
type tx struct {
	s        *Store
	readOnly bool

	accountReads  map[uuid.UUID]uint64
	recordReads   map[uuid.UUID]uint64
	accountWrites map[uuid.UUID]ledger.Account
	recordWrites  map[uuid.UUID]ledger.Record
	newEmails     map[string]uuid.UUID
	events        []ledger.Event
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		s:             s,
		readOnly:      readOnly,
		accountReads:  make(map[uuid.UUID]uint64),
		recordReads:   make(map[uuid.UUID]uint64),
		accountWrites: make(map[uuid.UUID]ledger.Account),
		recordWrites:  make(map[uuid.UUID]ledger.Record),
		newEmails:     make(map[string]uuid.UUID),
	}
}

func (t *tx) Accounts() ledger.AccountStore { return accounts{t} }
func (t *tx) Records() ledger.RecordStore   { return records{t} }

func (t *tx) Audit(ctx context.Context, ev ledger.Event) error {
	if t.readOnly {
		return errReadOnly
	}
	t.events = append(t.events, ev)
	return nil
}

var errReadOnly = errors.New("memstore: write in read-only unit")

// account resolves id against the unit's own writes first, then the
// committed state, remembering the version it saw.
func (t *tx) account(id uuid.UUID) (ledger.Account, bool) {
	if acc, ok := t.accountWrites[id]; ok {
		return acc, true
	}
	t.s.mu.Lock()
	row, ok := t.s.accounts[id]
	var acc ledger.Account
	var version uint64
	if ok {
		acc, version = row.acc, row.version
	}
	t.s.mu.Unlock()

	if _, seen := t.accountReads[id]; !seen {
		t.accountReads[id] = version
	}
	return acc, ok
}

func (t *tx) record(id uuid.UUID) (ledger.Record, bool) {
	if rec, ok := t.recordWrites[id]; ok {
		return rec, true
	}
	t.s.mu.Lock()
	row, ok := t.s.records[id]
	var rec ledger.Record
	var version uint64
	if ok {
		rec, version = row.rec, row.version
	}
	t.s.mu.Unlock()

	if _, seen := t.recordReads[id]; !seen {
		t.recordReads[id] = version
	}
	return rec, ok
}

type accounts struct{ t *tx }

func (a accounts) Get(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	acc, ok := a.t.account(id)
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return acc, nil
}

// Lock registers the rows in the unit's read set; the commit-time version
// check then plays the role of the row lock.
func (a accounts) Lock(ctx context.Context, ids ...uuid.UUID) error {
	if a.t.readOnly {
		return errReadOnly
	}
	for _, id := range ledger.SortIDs(ids...) {
		a.t.account(id)
	}
	return nil
}

func (a accounts) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (ledger.Account, error) {
	if a.t.readOnly {
		return ledger.Account{}, errReadOnly
	}
	acc, ok := a.t.account(id)
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	acc.Balance = acc.Balance.Add(delta)
	a.t.accountWrites[id] = acc
	return acc, nil
}

func (a accounts) Create(ctx context.Context, acc ledger.Account) (ledger.Account, error) {
	if a.t.readOnly {
		return ledger.Account{}, errReadOnly
	}
	email := strings.ToLower(acc.Email)

	a.t.s.mu.Lock()
	_, taken := a.t.s.emails[email]
	a.t.s.mu.Unlock()
	if _, staged := a.t.newEmails[email]; taken || staged {
		return ledger.Account{}, ledger.ErrDuplicate
	}
	if _, exists := a.t.account(acc.ID); exists {
		return ledger.Account{}, ledger.ErrDuplicate
	}

	acc.Email = email
	a.t.accountWrites[acc.ID] = acc
	a.t.newEmails[email] = acc.ID
	return acc, nil
}

type records struct{ t *tx }

func (r records) Create(ctx context.Context, rec ledger.Record) (ledger.Record, error) {
	if r.t.readOnly {
		return ledger.Record{}, errReadOnly
	}
	if _, exists := r.t.record(rec.ID); exists {
		return ledger.Record{}, ledger.ErrDuplicate
	}
	rec.Sender, rec.Receiver = ledger.AccountSummary{}, ledger.AccountSummary{}
	r.t.recordWrites[rec.ID] = rec
	return rec, nil
}

func (r records) Get(ctx context.Context, id uuid.UUID) (ledger.Record, error) {
	rec, ok := r.t.record(id)
	if !ok {
		return ledger.Record{}, ledger.ErrNotFound
	}
	return r.withSummaries(rec), nil
}

func (r records) GetForUpdate(ctx context.Context, id uuid.UUID) (ledger.Record, error) {
	if r.t.readOnly {
		return ledger.Record{}, errReadOnly
	}
	return r.Get(ctx, id)
}

func (r records) UpdateStatus(ctx context.Context, id uuid.UUID, status ledger.Status, at time.Time) (ledger.Record, error) {
	if r.t.readOnly {
		return ledger.Record{}, errReadOnly
	}
	rec, ok := r.t.record(id)
	if !ok {
		return ledger.Record{}, ledger.ErrNotFound
	}
	if !rec.Status.CanTransitionTo(status) {
		return ledger.Record{}, fmt.Errorf("memstore: illegal status transition %s -> %s", rec.Status, status)
	}
	rec.Status = status
	rec.UpdatedAt = at
	r.t.recordWrites[id] = rec
	return rec, nil
}

func (r records) ListByParticipant(ctx context.Context, id uuid.UUID) ([]ledger.Record, error) {
	r.t.s.mu.Lock()
	var out []ledger.Record
	for _, row := range r.t.s.records {
		if row.rec.Involves(id) {
			out = append(out, row.rec)
		}
	}
	r.t.s.mu.Unlock()

	for i := range out {
		out[i] = r.withSummaries(out[i])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

func (r records) withSummaries(rec ledger.Record) ledger.Record {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()
	if row, ok := r.t.s.accounts[rec.SenderID]; ok {
		rec.Sender = row.acc.Summary()
	}
	if row, ok := r.t.s.accounts[rec.ReceiverID]; ok {
		rec.Receiver = row.acc.Summary()
	}
	return rec
}
