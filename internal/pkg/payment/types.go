package payment

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Gateway transaction statuses.
const (
	StatusConfirmed = "confirmed"
	StatusWaiting   = "waiting"
	StatusDeclined  = "declined"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Transaction is the gateway's transaction object as posted in the
// "transaction" form field. Reference, amount and currency may sit on the
// transaction itself or on its invoice.
type Transaction struct {
	ID          json.Number `json:"id"`
	Status      string      `json:"status"`
	ReferenceID string      `json:"referenceId"`
	Amount      int64       `json:"amount"`
	Currency    string      `json:"currency"`
	Invoice     *struct {
		ReferenceID string `json:"referenceId"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
	} `json:"invoice,omitempty"`
}

// normalized fills the top-level fields from the invoice where missing.
func (t Transaction) normalized() Transaction {
	if inv := t.Invoice; inv != nil {
		if t.ReferenceID == "" {
			t.ReferenceID = inv.ReferenceID
		}
		if t.Amount == 0 {
			t.Amount = inv.Amount
		}
		if t.Currency == "" {
			t.Currency = inv.Currency
		}
	}
	t.Status = strings.ToLower(strings.TrimSpace(t.Status))
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	return t
}

// Outcome is the HTTP answer for the gateway.
type Outcome struct {
	Status int
	Body   map[string]any
}

func received() Outcome {
	return Outcome{Status: http.StatusOK, Body: map[string]any{"received": true}}
}

func alreadyProcessed() Outcome {
	return Outcome{Status: http.StatusOK, Body: map[string]any{"received": true, "already_processed": true}}
}

func rejected(status int, reason, message string) Outcome {
	return Outcome{Status: status, Body: map[string]any{"error": message, "reason": reason}}
}
