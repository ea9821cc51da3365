package ledger

import (
	"errors"
	"math"
	"strings"
	"time"
)

type SplitType string

const (
	SplitTypeEqual  SplitType = "equal"
	SplitTypeCustom SplitType = "custom"
)

// amountTolerance bounds floating point drift when comparing a split sum
// to the expense amount.
const amountTolerance = 1e-6

type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Expense struct {
	ID          string             `json:"id"`
	GroupID     string             `json:"groupId"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Amount      float64            `json:"amount"`
	Date        time.Time          `json:"date"`
	Category    string             `json:"category"`
	PaidBy      string             `json:"paidBy"`
	SplitType   SplitType          `json:"splitType"`
	Splits      map[string]float64 `json:"splits"`
}

type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
	// TotalExpenses is a cached aggregate equal to the sum of the
	// amounts of every expense referencing this group.
	TotalExpenses float64 `json:"totalExpenses"`
}

var (
	ErrEmptyName       = errors.New("name can't be empty")
	ErrEmptyTitle      = errors.New("title can't be empty")
	ErrNoMembers       = errors.New("group needs at least one member")
	ErrDuplicateMember = errors.New("duplicate member id or email")
	ErrNegativeAmount  = errors.New("amount must be zero or positive")
	ErrUnknownPayer    = errors.New("payer must be a group member")
	ErrInvalidSplit    = errors.New("splits reference unknown members or don't sum to the amount")
	ErrNoRecipients    = errors.New("no members to split the expense")
	ErrGroupNotFound   = errors.New("group not found")
	ErrExpenseNotFound = errors.New("expense not found")
)

// HasMember reports whether id belongs to the group's member list.
func (g Group) HasMember(id string) bool {
	for _, m := range g.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// MemberIDs returns member ids in insertion order.
func (g Group) MemberIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

func validateGroupInput(name string, members []Member) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(members) == 0 {
		return ErrNoMembers
	}
	seenIDs := make(map[string]struct{}, len(members))
	seenEmails := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m.ID != "" {
			if _, ok := seenIDs[m.ID]; ok {
				return ErrDuplicateMember
			}
			seenIDs[m.ID] = struct{}{}
		}
		email := strings.ToLower(strings.TrimSpace(m.Email))
		if email == "" {
			continue
		}
		if _, ok := seenEmails[email]; ok {
			return ErrDuplicateMember
		}
		seenEmails[email] = struct{}{}
	}
	return nil
}

// validate checks an expense against its owning group: non-negative
// amount, payer and split keys inside the member set, and a split sum
// equal to the amount within tolerance.
func (e Expense) validate(g Group) error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if e.Amount < 0 {
		return ErrNegativeAmount
	}
	if !g.HasMember(e.PaidBy) {
		return ErrUnknownPayer
	}
	if len(e.Splits) == 0 {
		return ErrNoRecipients
	}
	var sum float64
	for id, share := range e.Splits {
		if !g.HasMember(id) {
			return ErrInvalidSplit
		}
		sum += share
	}
	if math.Abs(sum-e.Amount) > amountTolerance {
		return ErrInvalidSplit
	}
	return nil
}
