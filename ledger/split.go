package ledger

// EqualSplit divides amount evenly across memberIDs. Every member gets
// amount/n at full float precision; no cent remainder is redistributed.
func EqualSplit(amount float64, memberIDs []string) (map[string]float64, error) {
	if len(memberIDs) == 0 {
		return nil, ErrNoRecipients
	}
	share := amount / float64(len(memberIDs))
	splits := make(map[string]float64, len(memberIDs))
	for _, id := range memberIDs {
		splits[id] = share
	}
	return splits, nil
}

// NetPositions computes the signed balance each split member ends up with
// for a single expense. The payer is owed amount minus their own share;
// everyone else owes their share.
func NetPositions(e Expense) (map[string]float64, error) {
	if len(e.Splits) == 0 {
		return nil, ErrNoRecipients
	}
	positions := make(map[string]float64, len(e.Splits))
	for id, share := range e.Splits {
		if id == e.PaidBy {
			positions[id] = e.Amount - share
		} else {
			positions[id] = -share
		}
	}
	return positions, nil
}

// GroupBalances sums net positions per member across a set of expenses.
// Positive means the member is owed money, negative means they owe.
func GroupBalances(expenses []Expense) (map[string]float64, error) {
	balances := make(map[string]float64)
	for _, e := range expenses {
		positions, err := NetPositions(e)
		if err != nil {
			return nil, err
		}
		for id, v := range positions {
			balances[id] += v
		}
	}
	return balances, nil
}

// Balance is the payer-side rollup shown on the home screen.
type Balance struct {
	Owed       float64 `json:"owed"`
	Receivable float64 `json:"receivable"`
}

// OwedAndReceivable compares each expense payer's recorded share to the
// even share amount/len(splits). An excess accrues to Owed, a deficit to
// Receivable; both are positive magnitudes. An expense whose payer holds
// no split share contributes nothing. This intentionally keeps the
// simplified payer-vs-even-share model rather than a full pairwise
// settlement across members.
func OwedAndReceivable(expenses []Expense) (Balance, error) {
	var b Balance
	for _, e := range expenses {
		if len(e.Splits) == 0 {
			return Balance{}, ErrNoRecipients
		}
		paid, ok := e.Splits[e.PaidBy]
		if !ok {
			continue
		}
		evenShare := e.Amount / float64(len(e.Splits))
		switch {
		case paid > evenShare:
			b.Owed += paid - evenShare
		case paid < evenShare:
			b.Receivable += evenShare - paid
		}
	}
	return b, nil
}
