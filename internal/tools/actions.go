package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action backends produce deterministic reference ids: the id is derived
// from the action's identifying fields via UUIDv5, so replaying the same
// action yields the same reference instead of a duplicate.

func deterministicID(prefix, token string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(token)).String()
	return prefix + "-" + strings.ToUpper(strings.SplitN(id, "-", 2)[0])
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// createCompensation issues a compensation (voucher) for a case.
func createCompensation(caseID, compType string, value float64, currency string) map[string]any {
	token := fmt.Sprintf("%s:%s:%.2f:%s", caseID, compType, value, currency)
	return map[string]any{
		"compensation_id": deterministicID("CMP", token),
		"status":          "CREATED",
		"applied_value":   value,
		"currency":        currency,
		"created_at":      nowUTC(),
	}
}

// issueRefund refunds an order amount.
func issueRefund(orderID string, amount float64, currency string) map[string]any {
	token := fmt.Sprintf("%s:%.2f:%s", orderID, amount, currency)
	return map[string]any{
		"refund_id":    deterministicID("RFD", token),
		"status":       "ISSUED",
		"amount":       amount,
		"currency":     currency,
		"processed_at": nowUTC(),
	}
}

// createSupportTicket opens a ticket for human follow-up. HIGH and
// CRITICAL priorities route to the LEGAL queue.
func createSupportTicket(casePayload map[string]any, priority string) map[string]any {
	caseID := "UNKNOWN"
	if v, ok := casePayload["case_id"]; ok && v != nil {
		caseID = fmt.Sprintf("%v", v)
	}
	queue := "STANDARD"
	switch strings.ToUpper(priority) {
	case "HIGH", "CRITICAL":
		queue = "LEGAL"
	}
	return map[string]any{
		"ticket_id":  deterministicID("TCK", caseID+":"+priority),
		"status":     "OPEN",
		"queue":      queue,
		"created_at": nowUTC(),
	}
}
