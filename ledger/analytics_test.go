package ledger

import (
	"math"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCategoryTotals(t *testing.T) {
	expenses := []Expense{
		{Category: "Food", Amount: 30},
		{Category: "Food", Amount: 12.5},
		{Category: "Transport", Amount: 8},
		{Category: "", Amount: 5},
	}
	totals := CategoryTotals(expenses)
	if math.Abs(totals["Food"]-42.5) > amountTolerance {
		t.Errorf("Food = %v, want 42.5", totals["Food"])
	}
	if totals["Transport"] != 8 {
		t.Errorf("Transport = %v, want 8", totals["Transport"])
	}
	if totals[""] != 5 {
		t.Errorf("uncategorized = %v, want 5", totals[""])
	}
}

func TestMonthlyTotalsChronological(t *testing.T) {
	// Deliberately out of order and spanning a year boundary.
	expenses := []Expense{
		{Amount: 10, Date: date(2025, time.March, 5)},
		{Amount: 20, Date: date(2024, time.December, 31)},
		{Amount: 30, Date: date(2025, time.January, 1)},
		{Amount: 40, Date: date(2025, time.March, 20)},
	}
	got := MonthlyTotals(expenses)
	want := []MonthTotal{
		{Label: "Dec 2024", Total: 20},
		{Label: "Jan 2025", Total: 30},
		{Label: "Mar 2025", Total: 50},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d buckets, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMonthlyTotalsEmpty(t *testing.T) {
	if got := MonthlyTotals(nil); len(got) != 0 {
		t.Errorf("expected no buckets, got %v", got)
	}
}

func TestTotalBalance(t *testing.T) {
	expenses := []Expense{
		{Amount: 10.25},
		{Amount: 0},
		{Amount: 89.75},
	}
	if got := TotalBalance(expenses); got != 100 {
		t.Errorf("TotalBalance = %v, want 100", got)
	}
	if got := TotalBalance(nil); got != 0 {
		t.Errorf("TotalBalance(nil) = %v, want 0", got)
	}
}

func TestNewExport(t *testing.T) {
	snap := Snapshot{
		Groups:   []Group{{ID: "g1", Name: "Flat"}},
		Expenses: []Expense{{ID: "e1", GroupID: "g1", Title: "Rent", Amount: 100}},
	}
	now := time.Date(2025, time.June, 1, 15, 4, 5, 0, time.FixedZone("CEST", 2*3600))

	doc := NewExport(snap, now)
	if doc.AppVersion != "1.0.0" {
		t.Errorf("AppVersion = %q, want 1.0.0", doc.AppVersion)
	}
	if doc.ExportDate != "2025-06-01T13:04:05Z" {
		t.Errorf("ExportDate = %q, want UTC RFC3339", doc.ExportDate)
	}
	if len(doc.Groups) != 1 || len(doc.Expenses) != 1 {
		t.Errorf("export should carry the full snapshot, got %d groups %d expenses",
			len(doc.Groups), len(doc.Expenses))
	}
}
