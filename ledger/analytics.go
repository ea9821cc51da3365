package ledger

import (
	"sort"
	"time"
)

// CategoryTotals sums expense amounts per category.
func CategoryTotals(expenses []Expense) map[string]float64 {
	totals := make(map[string]float64)
	for _, e := range expenses {
		totals[e.Category] += e.Amount
	}
	return totals
}

// MonthTotal is one bar of the monthly chart.
type MonthTotal struct {
	Label string  `json:"label"` // e.g. "Jan 2025"
	Total float64 `json:"total"`
}

// MonthlyTotals buckets expenses by calendar month and returns the
// buckets in chronological order so charts read left to right in time.
func MonthlyTotals(expenses []Expense) []MonthTotal {
	type monthKey struct {
		year  int
		month time.Month
	}
	totals := make(map[monthKey]float64)
	for _, e := range expenses {
		totals[monthKey{e.Date.Year(), e.Date.Month()}] += e.Amount
	}

	keys := make([]monthKey, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})

	out := make([]MonthTotal, 0, len(keys))
	for _, k := range keys {
		label := time.Date(k.year, k.month, 1, 0, 0, 0, 0, time.UTC).Format("Jan 2006")
		out = append(out, MonthTotal{Label: label, Total: totals[k]})
	}
	return out
}

// TotalBalance is the sum of all expense amounts.
func TotalBalance(expenses []Expense) float64 {
	var total float64
	for _, e := range expenses {
		total += e.Amount
	}
	return total
}
