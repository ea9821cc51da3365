package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSnapshotStore persists the ledger snapshot across four tables:
// groups, group_members, expenses and expense_splits. Save replaces the
// whole state in one transaction, which keeps the load/save contract as
// simple as the file backend while staying queryable.
type PostgresSnapshotStore struct {
	db *sql.DB
}

func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (r *PostgresSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"expense_splits", "expenses", "group_members", "groups"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	insertGroup := `INSERT INTO groups (id, name, created_at, total_expenses, position) VALUES ($1, $2, $3, $4, $5)`
	insertMember := `INSERT INTO group_members (group_id, member_id, name, email, position) VALUES ($1, $2, $3, $4, $5)`
	for i, g := range snap.Groups {
		if _, err := tx.ExecContext(ctx, insertGroup, g.ID, g.Name, g.CreatedAt, g.TotalExpenses, i); err != nil {
			return fmt.Errorf("inserting group: %w", err)
		}
		for j, m := range g.Members {
			if _, err := tx.ExecContext(ctx, insertMember, g.ID, m.ID, m.Name, m.Email, j); err != nil {
				return fmt.Errorf("inserting group member: %w", err)
			}
		}
	}

	insertExpense := `INSERT INTO expenses (id, group_id, title, description, amount, paid_date, category, paid_by, split_type, position) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	insertSplit := `INSERT INTO expense_splits (expense_id, member_id, amount) VALUES ($1, $2, $3)`
	for i, e := range snap.Expenses {
		if _, err := tx.ExecContext(ctx, insertExpense, e.ID, e.GroupID, e.Title, e.Description, e.Amount, e.Date, e.Category, e.PaidBy, string(e.SplitType), i); err != nil {
			return fmt.Errorf("inserting expense: %w", err)
		}
		for memberID, share := range e.Splits {
			if _, err := tx.ExecContext(ctx, insertSplit, e.ID, memberID, share); err != nil {
				return fmt.Errorf("inserting expense split: %w", err)
			}
		}
	}

	return tx.Commit()
}

func (r *PostgresSnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	groups, err := r.loadGroups(ctx)
	if err != nil {
		return snap, err
	}
	expenses, err := r.loadExpenses(ctx)
	if err != nil {
		return snap, err
	}
	if len(groups) == 0 && len(expenses) == 0 {
		return snap, ErrNoSnapshot
	}
	snap.Groups = groups
	snap.Expenses = expenses
	return snap, nil
}

func (r *PostgresSnapshotStore) loadGroups(ctx context.Context) ([]Group, error) {
	query := `SELECT id, name, created_at, total_expenses FROM groups ORDER BY position`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	byID := make(map[string]int)
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt, &g.TotalExpenses); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		byID[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memberQuery := `SELECT group_id, member_id, name, email FROM group_members ORDER BY group_id, position`
	memberRows, err := r.db.QueryContext(ctx, memberQuery)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var groupID string
		var m Member
		if err := memberRows.Scan(&groupID, &m.ID, &m.Name, &m.Email); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		if i, ok := byID[groupID]; ok {
			groups[i].Members = append(groups[i].Members, m)
		}
	}
	return groups, memberRows.Err()
}

func (r *PostgresSnapshotStore) loadExpenses(ctx context.Context) ([]Expense, error) {
	query := `SELECT id, group_id, title, description, amount, paid_date, category, paid_by, split_type
              FROM expenses
              ORDER BY position`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying expenses: %w", err)
	}
	defer rows.Close()

	var expenses []Expense
	byID := make(map[string]int)
	for rows.Next() {
		var e Expense
		var description sql.NullString
		var splitType string
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Title, &description, &e.Amount, &e.Date, &e.Category, &e.PaidBy, &splitType); err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		if description.Valid {
			e.Description = description.String
		}
		e.SplitType = SplitType(splitType)
		e.Splits = make(map[string]float64)
		byID[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	splitQuery := `SELECT expense_id, member_id, amount FROM expense_splits`
	splitRows, err := r.db.QueryContext(ctx, splitQuery)
	if err != nil {
		return nil, fmt.Errorf("querying expense splits: %w", err)
	}
	defer splitRows.Close()

	for splitRows.Next() {
		var expenseID, memberID string
		var amount float64
		if err := splitRows.Scan(&expenseID, &memberID, &amount); err != nil {
			return nil, fmt.Errorf("scanning expense split: %w", err)
		}
		if i, ok := byID[expenseID]; ok {
			expenses[i].Splits[memberID] = amount
		}
	}
	return expenses, splitRows.Err()
}
