package ledger

import "time"

// Mutation event payloads emitted through the event worker. Every write
// path produces exactly one of these, which doubles as an audit trail for
// the cached group totals.

type GroupCreatedEvent struct {
	GroupID   string    `json:"group_id"`
	Name      string    `json:"name"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type GroupUpdatedEvent struct {
	GroupID       string  `json:"group_id"`
	Name          string  `json:"name"`
	TotalExpenses float64 `json:"total_expenses"`
}

type GroupDeletedEvent struct {
	GroupID         string `json:"group_id"`
	ExpensesRemoved int    `json:"expenses_removed"`
}

type ExpenseAddedEvent struct {
	ExpenseID string             `json:"expense_id"`
	GroupID   string             `json:"group_id"`
	PaidBy    string             `json:"paid_by"`
	Amount    float64            `json:"amount"`
	Category  string             `json:"category"`
	SplitType SplitType          `json:"split_type"`
	Date      time.Time          `json:"date"`
	Splits    map[string]float64 `json:"splits"`
}

type ExpenseUpdatedEvent struct {
	ExpenseID string  `json:"expense_id"`
	GroupID   string  `json:"group_id"`
	OldAmount float64 `json:"old_amount"`
	NewAmount float64 `json:"new_amount"`
}

type ExpenseDeletedEvent struct {
	ExpenseID string  `json:"expense_id"`
	GroupID   string  `json:"group_id"`
	Amount    float64 `json:"amount"`
}

type DataClearedEvent struct {
	Groups   int `json:"groups"`
	Expenses int `json:"expenses"`
}
