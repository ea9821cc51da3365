package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

type seqAllocator struct {
	n int
}

func (s *seqAllocator) NewID() string {
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

func fixedClock() time.Time {
	return time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
}

func newTestStore() (*Store, *MemorySnapshotStore) {
	snapshots := NewMemorySnapshotStore()
	store := NewStore(snapshots,
		WithIDAllocator(&seqAllocator{}),
		WithClock(fixedClock),
	)
	return store, snapshots
}

func mustAddGroup(t *testing.T, s *Store, name string, memberNames ...string) Group {
	t.Helper()
	members := make([]Member, len(memberNames))
	for i, n := range memberNames {
		members[i] = Member{Name: n}
	}
	g, err := s.AddGroup(name, members)
	if err != nil {
		t.Fatalf("AddGroup(%q): %v", name, err)
	}
	return g
}

// totalsInSync recomputes every group's total from the expense list and
// compares it against the cached value.
func totalsInSync(t *testing.T, s *Store) {
	t.Helper()
	expected := make(map[string]float64)
	for _, e := range s.Expenses() {
		expected[e.GroupID] += e.Amount
	}
	for _, g := range s.Groups() {
		if math.Abs(g.TotalExpenses-expected[g.ID]) > amountTolerance {
			t.Errorf("group %s cached total %v, expenses sum to %v", g.ID, g.TotalExpenses, expected[g.ID])
		}
	}
}

func TestAddGroup(t *testing.T) {
	store, _ := newTestStore()

	g := mustAddGroup(t, store, "Trip to Rome", "Ana", "Bruno")
	if g.ID == "" {
		t.Fatal("expected a generated group id")
	}
	if g.TotalExpenses != 0 {
		t.Errorf("new group total = %v, want 0", g.TotalExpenses)
	}
	if !g.CreatedAt.Equal(fixedClock()) {
		t.Errorf("CreatedAt = %v, want %v", g.CreatedAt, fixedClock())
	}
	for _, m := range g.Members {
		if m.ID == "" {
			t.Errorf("member %q has no allocated id", m.Name)
		}
	}
}

func TestAddGroupValidation(t *testing.T) {
	store, snapshots := newTestStore()

	tests := []struct {
		name    string
		group   string
		members []Member
		wantErr error
	}{
		{
			name:    "empty name",
			group:   "  ",
			members: []Member{{Name: "Ana"}},
			wantErr: ErrEmptyName,
		},
		{
			name:    "no members",
			group:   "Trip",
			wantErr: ErrNoMembers,
		},
		{
			name:    "duplicate member id",
			group:   "Trip",
			members: []Member{{ID: "m1", Name: "Ana"}, {ID: "m1", Name: "Bruno"}},
			wantErr: ErrDuplicateMember,
		},
		{
			name:    "duplicate email case insensitive",
			group:   "Trip",
			members: []Member{{Name: "Ana", Email: "ana@example.com"}, {Name: "Bruno", Email: "ANA@example.com"}},
			wantErr: ErrDuplicateMember,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.AddGroup(tt.group, tt.members); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if got := len(store.Groups()); got != 0 {
		t.Errorf("rejected groups should not be stored, found %d", got)
	}
	if snapshots.Saves() != 0 {
		t.Errorf("rejected mutations should not persist, got %d saves", snapshots.Saves())
	}
}

func TestAddExpense(t *testing.T) {
	store, snapshots := newTestStore()
	g := mustAddGroup(t, store, "Dinner club", "Ana", "Bruno", "Carla")
	payer := g.Members[0].ID

	e, err := store.AddExpense(Expense{
		GroupID:   g.ID,
		Title:     "Pizza night",
		Amount:    90,
		Category:  "Food",
		PaidBy:    payer,
		SplitType: SplitTypeEqual,
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected a generated expense id")
	}
	if !e.Date.Equal(fixedClock()) {
		t.Errorf("Date = %v, want clock time", e.Date)
	}
	if len(e.Splits) != 3 {
		t.Fatalf("equal split should cover all members, got %d shares", len(e.Splits))
	}
	for _, m := range g.Members {
		if e.Splits[m.ID] != 30 {
			t.Errorf("share for %s = %v, want 30", m.Name, e.Splits[m.ID])
		}
	}

	updated, err := store.Group(g.ID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if updated.TotalExpenses != 90 {
		t.Errorf("group total = %v, want 90", updated.TotalExpenses)
	}
	totalsInSync(t, store)

	if snapshots.Saves() != 2 {
		t.Errorf("expected 2 snapshot saves (group + expense), got %d", snapshots.Saves())
	}
}

func TestAddExpenseValidation(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")
	payer := g.Members[0].ID

	tests := []struct {
		name    string
		expense Expense
		wantErr error
	}{
		{
			name:    "unknown group",
			expense: Expense{GroupID: "nope", Title: "Rent", Amount: 10, PaidBy: payer, SplitType: SplitTypeEqual},
			wantErr: ErrGroupNotFound,
		},
		{
			name:    "empty title",
			expense: Expense{GroupID: g.ID, Title: " ", Amount: 10, PaidBy: payer, SplitType: SplitTypeEqual},
			wantErr: ErrEmptyTitle,
		},
		{
			name:    "negative amount",
			expense: Expense{GroupID: g.ID, Title: "Rent", Amount: -1, PaidBy: payer, SplitType: SplitTypeEqual},
			wantErr: ErrNegativeAmount,
		},
		{
			name:    "payer not a member",
			expense: Expense{GroupID: g.ID, Title: "Rent", Amount: 10, PaidBy: "stranger", SplitType: SplitTypeEqual},
			wantErr: ErrUnknownPayer,
		},
		{
			name: "split references unknown member",
			expense: Expense{GroupID: g.ID, Title: "Rent", Amount: 10, PaidBy: payer, SplitType: SplitTypeCustom,
				Splits: map[string]float64{payer: 5, "stranger": 5}},
			wantErr: ErrInvalidSplit,
		},
		{
			name: "splits don't sum to amount",
			expense: Expense{GroupID: g.ID, Title: "Rent", Amount: 10, PaidBy: payer, SplitType: SplitTypeCustom,
				Splits: map[string]float64{payer: 3, g.Members[1].ID: 3}},
			wantErr: ErrInvalidSplit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.AddExpense(tt.expense); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if got := len(store.Expenses()); got != 0 {
		t.Errorf("rejected expenses should not be stored, found %d", got)
	}
	totalsInSync(t, store)
}

func TestAddExpenseCustomSplitWithinTolerance(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno", "Carla")
	ids := g.MemberIDs()

	// Thirds of 100 don't sum to exactly 100 in decimal but do within
	// the float tolerance.
	third := 100.0 / 3.0
	_, err := store.AddExpense(Expense{
		GroupID:   g.ID,
		Title:     "Groceries",
		Amount:    100,
		PaidBy:    ids[0],
		SplitType: SplitTypeCustom,
		Splits:    map[string]float64{ids[0]: third, ids[1]: third, ids[2]: third},
	})
	if err != nil {
		t.Fatalf("split within tolerance rejected: %v", err)
	}
}

func TestUpdateExpense(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")
	payer := g.Members[0].ID

	e, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 100, PaidBy: payer, SplitType: SplitTypeEqual,
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	e.Amount = 140
	e.Splits = map[string]float64{g.Members[0].ID: 70, g.Members[1].ID: 70}
	if err := store.UpdateExpense(e); err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}

	updated, err := store.Group(g.ID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if updated.TotalExpenses != 140 {
		t.Errorf("group total = %v, want 140", updated.TotalExpenses)
	}
	totalsInSync(t, store)
}

func TestUpdateExpenseMovesGroups(t *testing.T) {
	store, _ := newTestStore()
	g1 := mustAddGroup(t, store, "Flat", "Ana", "Bruno")
	g2, err := store.AddGroup("Trip", g1.Members)
	if err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	payer := g1.Members[0].ID

	e, err := store.AddExpense(Expense{
		GroupID: g1.ID, Title: "Rent", Amount: 100, PaidBy: payer, SplitType: SplitTypeEqual,
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	e.GroupID = g2.ID
	if err := store.UpdateExpense(e); err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}

	from, _ := store.Group(g1.ID)
	to, _ := store.Group(g2.ID)
	if from.TotalExpenses != 0 {
		t.Errorf("source group total = %v, want 0", from.TotalExpenses)
	}
	if to.TotalExpenses != 100 {
		t.Errorf("target group total = %v, want 100", to.TotalExpenses)
	}
	totalsInSync(t, store)
}

func TestUpdateExpenseInvalidLeavesTotalsUntouched(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")
	payer := g.Members[0].ID

	e, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 100, PaidBy: payer, SplitType: SplitTypeEqual,
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	bad := e
	bad.Amount = 200 // splits still sum to 100
	if err := store.UpdateExpense(bad); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}

	group, _ := store.Group(g.ID)
	if group.TotalExpenses != 100 {
		t.Errorf("group total = %v, want 100 after rejected update", group.TotalExpenses)
	}
	stored := store.Expenses()[0]
	if stored.Amount != 100 {
		t.Errorf("stored amount = %v, want 100 after rejected update", stored.Amount)
	}
}

func TestUpdateExpenseNotFound(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana")
	err := store.UpdateExpense(Expense{
		ID: "missing", GroupID: g.ID, Title: "Rent", Amount: 10,
		PaidBy: g.Members[0].ID, Splits: map[string]float64{g.Members[0].ID: 10},
	})
	if !errors.Is(err, ErrExpenseNotFound) {
		t.Errorf("expected ErrExpenseNotFound, got %v", err)
	}
}

func TestExpenseByID(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")

	if _, err := store.Expense("missing"); !errors.Is(err, ErrExpenseNotFound) {
		t.Fatalf("expected ErrExpenseNotFound, got %v", err)
	}

	added, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 100, PaidBy: g.Members[0].ID, SplitType: SplitTypeEqual,
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	// An update with a zero date must read back with the stored values,
	// not whatever the caller passed in.
	update := added
	update.Date = time.Time{}
	update.Amount = 120
	update.Splits = map[string]float64{g.Members[0].ID: 60, g.Members[1].ID: 60}
	if err := store.UpdateExpense(update); err != nil {
		t.Fatalf("UpdateExpense: %v", err)
	}

	got, err := store.Expense(added.ID)
	if err != nil {
		t.Fatalf("Expense: %v", err)
	}
	if got.Amount != 120 {
		t.Errorf("Amount = %v, want 120", got.Amount)
	}
	if got.Title != "Rent" {
		t.Errorf("Title = %q, want Rent", got.Title)
	}

	got.Splits[g.Members[0].ID] = -1
	fresh, _ := store.Expense(added.ID)
	if fresh.Splits[g.Members[0].ID] < 0 {
		t.Error("mutating a returned expense leaked into the store")
	}
}

func TestDeleteExpense(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")
	payer := g.Members[0].ID

	e, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 100, PaidBy: payer, SplitType: SplitTypeEqual,
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	if err := store.DeleteExpense(e.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
	group, _ := store.Group(g.ID)
	if group.TotalExpenses != 0 {
		t.Errorf("group total = %v, want 0 after delete", group.TotalExpenses)
	}
	if got := len(store.Expenses()); got != 0 {
		t.Errorf("expected no expenses, found %d", got)
	}

	if err := store.DeleteExpense(e.ID); !errors.Is(err, ErrExpenseNotFound) {
		t.Errorf("deleting a missing expense should fail, got %v", err)
	}
	totalsInSync(t, store)
}

func TestDeleteGroupCascades(t *testing.T) {
	store, _ := newTestStore()
	g1 := mustAddGroup(t, store, "Flat", "Ana", "Bruno")
	g2 := mustAddGroup(t, store, "Trip", "Carla", "Dan")

	for i := 0; i < 3; i++ {
		if _, err := store.AddExpense(Expense{
			GroupID: g1.ID, Title: "Rent", Amount: 10, PaidBy: g1.Members[0].ID, SplitType: SplitTypeEqual,
		}); err != nil {
			t.Fatalf("AddExpense: %v", err)
		}
	}
	kept, err := store.AddExpense(Expense{
		GroupID: g2.ID, Title: "Hotel", Amount: 200, PaidBy: g2.Members[0].ID, SplitType: SplitTypeEqual,
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	if err := store.DeleteGroup(g1.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if _, err := store.Group(g1.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
	expenses := store.Expenses()
	if len(expenses) != 1 || expenses[0].ID != kept.ID {
		t.Errorf("cascade delete should only keep the other group's expense, got %v", expenses)
	}

	if err := store.DeleteGroup(g1.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("deleting a missing group should fail, got %v", err)
	}
	totalsInSync(t, store)
}

func TestUpdateGroup(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")

	if _, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 100, PaidBy: g.Members[0].ID, SplitType: SplitTypeEqual,
	}); err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	renamed := g
	renamed.Name = "Old flat"
	renamed.TotalExpenses = 9999 // caller-supplied totals are ignored
	if err := store.UpdateGroup(renamed); err != nil {
		t.Fatalf("UpdateGroup: %v", err)
	}

	updated, err := store.Group(g.ID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if updated.Name != "Old flat" {
		t.Errorf("Name = %q, want %q", updated.Name, "Old flat")
	}
	if updated.TotalExpenses != 100 {
		t.Errorf("total = %v, want recomputed 100", updated.TotalExpenses)
	}
	if !updated.CreatedAt.Equal(g.CreatedAt) {
		t.Errorf("CreatedAt changed on update")
	}
}

func TestUpdateGroupRejectsOrphaningMembers(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")

	if _, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 100, PaidBy: g.Members[0].ID, SplitType: SplitTypeEqual,
	}); err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	shrunk := g
	shrunk.Members = g.Members[:1] // drops Bruno, who holds a split share
	if err := store.UpdateGroup(shrunk); !errors.Is(err, ErrInvalidSplit) {
		t.Errorf("expected ErrInvalidSplit, got %v", err)
	}

	unchanged, _ := store.Group(g.ID)
	if len(unchanged.Members) != 2 {
		t.Errorf("rejected update should leave members intact, got %d", len(unchanged.Members))
	}
}

func TestClearAllData(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana")
	if _, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 10, PaidBy: g.Members[0].ID, SplitType: SplitTypeEqual,
	}); err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	if err := store.ClearAllData(); err != nil {
		t.Fatalf("ClearAllData: %v", err)
	}
	if len(store.Groups()) != 0 || len(store.Expenses()) != 0 {
		t.Error("expected an empty store after clear")
	}

	// Clearing an empty store is fine.
	if err := store.ClearAllData(); err != nil {
		t.Fatalf("second ClearAllData: %v", err)
	}
}

func TestSearchGroups(t *testing.T) {
	store, _ := newTestStore()
	mustAddGroup(t, store, "Trip to Rome", "Ana")
	mustAddGroup(t, store, "Flatmates", "Ana")
	mustAddGroup(t, store, "Road trip", "Ana")

	got := store.SearchGroups("TRIP")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Name != "Trip to Rome" || got[1].Name != "Road trip" {
		t.Errorf("unexpected match order: %q, %q", got[0].Name, got[1].Name)
	}
}

func TestHydrateRecomputesTotals(t *testing.T) {
	snapshots := NewMemorySnapshotStore()
	stale := Snapshot{
		Groups: []Group{{
			ID:   "g1",
			Name: "Flat",
			Members: []Member{
				{ID: "m1", Name: "Ana"},
				{ID: "m2", Name: "Bruno"},
			},
			TotalExpenses: 12345, // stale cached value on disk
		}},
		Expenses: []Expense{{
			ID: "e1", GroupID: "g1", Title: "Rent", Amount: 80,
			PaidBy: "m1", SplitType: SplitTypeEqual,
			Splits: map[string]float64{"m1": 40, "m2": 40},
		}},
	}
	if err := snapshots.Save(context.Background(), stale); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store := NewStore(snapshots)
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	g, err := store.Group("g1")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if g.TotalExpenses != 80 {
		t.Errorf("hydrated total = %v, want 80 recomputed from expenses", g.TotalExpenses)
	}
	if len(store.Expenses()) != 1 {
		t.Errorf("expected 1 hydrated expense, got %d", len(store.Expenses()))
	}
}

func TestHydrateMissingSnapshot(t *testing.T) {
	store, _ := newTestStore()
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("missing snapshot should not be an error: %v", err)
	}
	if len(store.Groups()) != 0 {
		t.Error("expected an empty store")
	}
}

func TestReadsReturnCopies(t *testing.T) {
	store, _ := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")
	if _, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 100, PaidBy: g.Members[0].ID, SplitType: SplitTypeEqual,
	}); err != nil {
		t.Fatalf("AddExpense: %v", err)
	}

	groups := store.Groups()
	groups[0].Members[0].Name = "Hacked"
	expenses := store.Expenses()
	for id := range expenses[0].Splits {
		expenses[0].Splits[id] = -1
	}

	fresh, _ := store.Group(g.ID)
	if fresh.Members[0].Name != "Ana" {
		t.Error("mutating a returned group leaked into the store")
	}
	for _, share := range store.Expenses()[0].Splits {
		if share < 0 {
			t.Error("mutating a returned expense leaked into the store")
		}
	}
}

func TestEveryMutationPersists(t *testing.T) {
	store, snapshots := newTestStore()
	g := mustAddGroup(t, store, "Flat", "Ana", "Bruno")
	e, err := store.AddExpense(Expense{
		GroupID: g.ID, Title: "Rent", Amount: 100, PaidBy: g.Members[0].ID, SplitType: SplitTypeEqual,
	})
	if err != nil {
		t.Fatalf("AddExpense: %v", err)
	}
	if err := store.DeleteExpense(e.ID); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
	if err := store.DeleteGroup(g.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}

	if snapshots.Saves() != 4 {
		t.Errorf("expected 4 saves for 4 mutations, got %d", snapshots.Saves())
	}
	last, err := snapshots.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(last.Groups) != 0 || len(last.Expenses) != 0 {
		t.Errorf("final snapshot should be empty, got %d groups %d expenses", len(last.Groups), len(last.Expenses))
	}
}
