package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/splitpocket/splitpocket/eventlogger"
)

// Store is the single authoritative owner of groups and expenses. It is
// constructed once at startup and injected into whatever needs it. Every
// mutation goes through one choke point that validates all-or-nothing,
// adjusts the affected group's cached total, emits a mutation event and
// hands the new snapshot to the persistence provider. Reads only ever see
// a group's total in sync with its expense set.
type Store struct {
	mu         sync.RWMutex
	groups     map[string]Group
	groupOrder []string
	expenses   map[string]Expense
	expOrder   []string

	ids       IDAllocator
	now       func() time.Time
	snapshots SnapshotStore
	events    *eventlogger.Worker
}

type StoreOption func(*Store)

func WithIDAllocator(ids IDAllocator) StoreOption {
	return func(s *Store) { s.ids = ids }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func WithEvents(w *eventlogger.Worker) StoreOption {
	return func(s *Store) { s.events = w }
}

// NewStore builds an empty store. snapshots may be nil for a purely
// in-memory ledger; saves are then skipped.
func NewStore(snapshots SnapshotStore, opts ...StoreOption) *Store {
	s := &Store{
		groups:    make(map[string]Group),
		expenses:  make(map[string]Expense),
		ids:       NewUUIDAllocator(),
		now:       time.Now,
		snapshots: snapshots,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate loads the persisted snapshot into the store. A missing snapshot
// leaves the store empty; a corrupt or unreadable one is reported so the
// caller can log it and continue on empty in-memory state. Group totals
// are recomputed from the expense set rather than trusted from disk.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	snap, err := s.snapshots.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = make(map[string]Group, len(snap.Groups))
	s.groupOrder = s.groupOrder[:0]
	s.expenses = make(map[string]Expense, len(snap.Expenses))
	s.expOrder = s.expOrder[:0]
	for _, g := range snap.Groups {
		g.TotalExpenses = 0
		s.groups[g.ID] = copyGroup(g)
		s.groupOrder = append(s.groupOrder, g.ID)
	}
	for _, e := range snap.Expenses {
		s.expenses[e.ID] = copyExpense(e)
		s.expOrder = append(s.expOrder, e.ID)
		if g, ok := s.groups[e.GroupID]; ok {
			g.TotalExpenses += e.Amount
			s.groups[e.GroupID] = g
		}
	}
	return nil
}

// mutate is the single write choke point: fn runs under the write lock
// and returns the event payload; on success the mutation event is logged
// and the fresh snapshot is handed to the persistence provider. Save
// failures never roll back the applied mutation.
func (s *Store) mutate(eventType string, fn func() (any, error)) error {
	s.mu.Lock()
	payload, err := fn()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.events != nil {
		s.events.Log(eventlogger.NewEvent(
			eventlogger.WithType(eventType),
			eventlogger.WithData(payload),
		))
	}
	s.persist(snap)
	return nil
}

func (s *Store) persist(snap Snapshot) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(context.Background(), snap); err != nil {
		slog.Error("failed to persist snapshot", "error", err,
			"groups", len(snap.Groups), "expenses", len(snap.Expenses))
	}
}

// AddGroup creates a group with a fresh id and zero total. Members
// without an id get one allocated; duplicate member ids or emails and an
// empty member list are rejected.
func (s *Store) AddGroup(name string, members []Member) (Group, error) {
	var created Group
	err := s.mutate("group.created", func() (any, error) {
		if err := validateGroupInput(name, members); err != nil {
			return nil, err
		}
		ms := make([]Member, len(members))
		copy(ms, members)
		for i := range ms {
			if ms[i].ID == "" {
				ms[i].ID = s.ids.NewID()
			}
		}
		created = Group{
			ID:        s.ids.NewID(),
			Name:      name,
			Members:   ms,
			CreatedAt: s.now(),
		}
		s.groups[created.ID] = created
		s.groupOrder = append(s.groupOrder, created.ID)
		return GroupCreatedEvent{
			GroupID:   created.ID,
			Name:      created.Name,
			Members:   ms,
			CreatedAt: created.CreatedAt,
		}, nil
	})
	if err != nil {
		return Group{}, err
	}
	return copyGroup(created), nil
}

// AddExpense validates the expense against its owning group, stores it
// under a fresh id and increments the group's total in the same critical
// section. For an equal split with no explicit shares the splits are
// derived over the full member list. Invalid input leaves the store
// untouched.
func (s *Store) AddExpense(e Expense) (Expense, error) {
	var stored Expense
	err := s.mutate("expense.added", func() (any, error) {
		group, ok := s.groups[e.GroupID]
		if !ok {
			return nil, ErrGroupNotFound
		}
		if e.SplitType == SplitTypeEqual && len(e.Splits) == 0 {
			splits, err := EqualSplit(e.Amount, group.MemberIDs())
			if err != nil {
				return nil, err
			}
			e.Splits = splits
		}
		if err := e.validate(group); err != nil {
			return nil, err
		}
		e.ID = s.ids.NewID()
		if e.Date.IsZero() {
			e.Date = s.now()
		}
		stored = copyExpense(e)
		s.expenses[stored.ID] = stored
		s.expOrder = append(s.expOrder, stored.ID)
		group.TotalExpenses += stored.Amount
		s.groups[group.ID] = group
		return ExpenseAddedEvent{
			ExpenseID: stored.ID,
			GroupID:   stored.GroupID,
			PaidBy:    stored.PaidBy,
			Amount:    stored.Amount,
			Category:  stored.Category,
			SplitType: stored.SplitType,
			Date:      stored.Date,
			Splits:    stored.Splits,
		}, nil
	})
	if err != nil {
		return Expense{}, err
	}
	return copyExpense(stored), nil
}

// UpdateExpense replaces the stored expense with the same id. The owning
// group's total is recomputed as old total - old amount + new amount in
// the same critical section; if the expense moved between groups both
// totals are adjusted.
func (s *Store) UpdateExpense(e Expense) error {
	return s.mutate("expense.updated", func() (any, error) {
		old, ok := s.expenses[e.ID]
		if !ok {
			return nil, ErrExpenseNotFound
		}
		group, ok := s.groups[e.GroupID]
		if !ok {
			return nil, ErrGroupNotFound
		}
		if err := e.validate(group); err != nil {
			return nil, err
		}
		if old.GroupID == e.GroupID {
			group.TotalExpenses = group.TotalExpenses - old.Amount + e.Amount
			s.groups[group.ID] = group
		} else {
			if oldGroup, ok := s.groups[old.GroupID]; ok {
				oldGroup.TotalExpenses -= old.Amount
				s.groups[oldGroup.ID] = oldGroup
			}
			group.TotalExpenses += e.Amount
			s.groups[group.ID] = group
		}
		s.expenses[e.ID] = copyExpense(e)
		return ExpenseUpdatedEvent{
			ExpenseID: e.ID,
			GroupID:   e.GroupID,
			OldAmount: old.Amount,
			NewAmount: e.Amount,
		}, nil
	})
}

// DeleteExpense removes the expense and decrements the owning group's
// total. Deleting an unknown id is an error, not a silent no-op.
func (s *Store) DeleteExpense(id string) error {
	return s.mutate("expense.deleted", func() (any, error) {
		e, ok := s.expenses[id]
		if !ok {
			return nil, ErrExpenseNotFound
		}
		delete(s.expenses, id)
		s.expOrder = removeID(s.expOrder, id)
		if g, ok := s.groups[e.GroupID]; ok {
			g.TotalExpenses -= e.Amount
			s.groups[g.ID] = g
		}
		return ExpenseDeletedEvent{
			ExpenseID: e.ID,
			GroupID:   e.GroupID,
			Amount:    e.Amount,
		}, nil
	})
}

// DeleteGroup removes the group and cascades removal of every expense
// referencing it.
func (s *Store) DeleteGroup(id string) error {
	return s.mutate("group.deleted", func() (any, error) {
		if _, ok := s.groups[id]; !ok {
			return nil, ErrGroupNotFound
		}
		removed := 0
		kept := s.expOrder[:0]
		for _, expID := range s.expOrder {
			if s.expenses[expID].GroupID == id {
				delete(s.expenses, expID)
				removed++
				continue
			}
			kept = append(kept, expID)
		}
		s.expOrder = kept
		delete(s.groups, id)
		s.groupOrder = removeID(s.groupOrder, id)
		return GroupDeletedEvent{GroupID: id, ExpensesRemoved: removed}, nil
	})
}

// UpdateGroup replaces the stored group's name and members by id. The
// cached total is never taken from the caller; it is recomputed from the
// stored expenses. Member changes that would orphan an existing expense's
// payer or splits are rejected.
func (s *Store) UpdateGroup(g Group) error {
	return s.mutate("group.updated", func() (any, error) {
		existing, ok := s.groups[g.ID]
		if !ok {
			return nil, ErrGroupNotFound
		}
		if err := validateGroupInput(g.Name, g.Members); err != nil {
			return nil, err
		}
		updated := copyGroup(g)
		for i := range updated.Members {
			if updated.Members[i].ID == "" {
				updated.Members[i].ID = s.ids.NewID()
			}
		}
		updated.CreatedAt = existing.CreatedAt
		updated.TotalExpenses = 0
		for _, expID := range s.expOrder {
			e := s.expenses[expID]
			if e.GroupID != g.ID {
				continue
			}
			if err := e.validate(updated); err != nil {
				return nil, ErrInvalidSplit
			}
			updated.TotalExpenses += e.Amount
		}
		s.groups[updated.ID] = updated
		return GroupUpdatedEvent{
			GroupID:       updated.ID,
			Name:          updated.Name,
			TotalExpenses: updated.TotalExpenses,
		}, nil
	})
}

// ClearAllData empties both collections. Idempotent.
func (s *Store) ClearAllData() error {
	return s.mutate("data.cleared", func() (any, error) {
		evt := DataClearedEvent{Groups: len(s.groups), Expenses: len(s.expenses)}
		s.groups = make(map[string]Group)
		s.groupOrder = nil
		s.expenses = make(map[string]Expense)
		s.expOrder = nil
		return evt, nil
	})
}

// Groups returns all groups in insertion order.
func (s *Store) Groups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groupOrder))
	for _, id := range s.groupOrder {
		out = append(out, copyGroup(s.groups[id]))
	}
	return out
}

// SearchGroups returns groups whose name contains q, case-insensitively.
func (s *Store) SearchGroups(q string) []Group {
	q = strings.ToLower(q)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groupOrder))
	for _, id := range s.groupOrder {
		g := s.groups[id]
		if strings.Contains(strings.ToLower(g.Name), q) {
			out = append(out, copyGroup(g))
		}
	}
	return out
}

// Group returns a single group by id.
func (s *Store) Group(id string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return copyGroup(g), nil
}

// Expense returns a single expense by id.
func (s *Store) Expense(id string) (Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.expenses[id]
	if !ok {
		return Expense{}, ErrExpenseNotFound
	}
	return copyExpense(e), nil
}

// Expenses returns all expenses in insertion order.
func (s *Store) Expenses() []Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Expense, 0, len(s.expOrder))
	for _, id := range s.expOrder {
		out = append(out, copyExpense(s.expenses[id]))
	}
	return out
}

// GroupExpenses returns the expenses of one group in insertion order.
func (s *Store) GroupExpenses(groupID string) []Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Expense
	for _, id := range s.expOrder {
		if e := s.expenses[id]; e.GroupID == groupID {
			out = append(out, copyExpense(e))
		}
	}
	return out
}

// Snapshot returns a read-only copy of the full ledger.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Groups:   make([]Group, 0, len(s.groupOrder)),
		Expenses: make([]Expense, 0, len(s.expOrder)),
	}
	for _, id := range s.groupOrder {
		snap.Groups = append(snap.Groups, copyGroup(s.groups[id]))
	}
	for _, id := range s.expOrder {
		snap.Expenses = append(snap.Expenses, copyExpense(s.expenses[id]))
	}
	return snap
}

func copyGroup(g Group) Group {
	members := make([]Member, len(g.Members))
	copy(members, g.Members)
	g.Members = members
	return g
}

func copyExpense(e Expense) Expense {
	splits := make(map[string]float64, len(e.Splits))
	for k, v := range e.Splits {
		splits[k] = v
	}
	e.Splits = splits
	return e
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
