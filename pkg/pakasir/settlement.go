package pakasir

import (
	"encoding/json"
	"strings"
)

// Status is the normalized settlement state of a gateway transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusNotFound  Status = "not_found"
	StatusError     Status = "error"
)

// Settlement is the result of a transaction lookup. Reason is only set for
// StatusError; Raw holds the decoded body when one was received.
type Settlement struct {
	Status Status
	Reason string
	Raw    json.RawMessage
}

// Completed reports whether the gateway confirmed payment.
func (s Settlement) Completed() bool {
	return s.Status == StatusCompleted
}

func errorSettlement(reason string) Settlement {
	return Settlement{Status: StatusError, Reason: reason}
}

type detailRecord struct {
	Status string `json:"status"`
}

// parseDetail reads the status from the first of transaction, payment or
// data that is present. Anything other than "completed" stays pending.
func parseDetail(raw []byte) (Settlement, error) {
	var body struct {
		Transaction *detailRecord `json:"transaction"`
		Payment     *detailRecord `json:"payment"`
		Data        *detailRecord `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Settlement{}, err
	}

	var record *detailRecord
	switch {
	case body.Transaction != nil:
		record = body.Transaction
	case body.Payment != nil:
		record = body.Payment
	case body.Data != nil:
		record = body.Data
	}

	out := Settlement{Status: StatusPending, Raw: raw}
	if record != nil && strings.EqualFold(strings.TrimSpace(record.Status), "completed") {
		out.Status = StatusCompleted
	}
	return out, nil
}
