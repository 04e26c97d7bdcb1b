// Package settlement holds the payment-status vocabulary shared by payments
// and the orders they settle.
package settlement

import "fmt"

type Status string

const (
	Pending  Status = "pending"
	Paid     Status = "paid"
	Failed   Status = "failed"
	Refunded Status = "refunded"
)

const MethodBankTransfer = "bank_transfer"

var transitions = map[Status][]Status{
	Pending:  {Paid, Failed},
	Failed:   {Pending, Paid},
	Paid:     {Refunded},
	Refunded: {},
}

func Parse(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("invalid payment status: %q", s)
	}
	return st, nil
}

// CanTransition reports whether a payment may move from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsSettled reports whether a payment is a closed financial record.
func (s Status) IsSettled() bool {
	return s == Paid || s == Refunded
}
