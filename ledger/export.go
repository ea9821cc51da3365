package ledger

import "time"

const appVersion = "1.0.0"

// ExportDocument is the JSON shape handed to the share/save action.
type ExportDocument struct {
	Groups     []Group   `json:"groups"`
	Expenses   []Expense `json:"expenses"`
	ExportDate string    `json:"exportDate"`
	AppVersion string    `json:"appVersion"`
}

// NewExport wraps a snapshot with export metadata.
func NewExport(snap Snapshot, now time.Time) ExportDocument {
	return ExportDocument{
		Groups:     snap.Groups,
		Expenses:   snap.Expenses,
		ExportDate: now.UTC().Format(time.RFC3339),
		AppVersion: appVersion,
	}
}
