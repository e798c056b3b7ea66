package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
)

// Embedded mock backends for the CRM, OMS, and case-history systems.
// A real deployment swaps these handlers for API-backed ones; the
// registry contract stays identical.

//go:embed data/mock_customers.json
var mockCustomersJSON []byte

//go:embed data/mock_orders.json
var mockOrdersJSON []byte

//go:embed data/mock_cases.json
var mockCasesJSON []byte

// ErrNotFound reports a lookup miss in a backend.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

type customerRecord struct {
	CustomerID            string  `json:"customer_id"`
	PreferredLanguage     string  `json:"preferred_language"`
	LoyaltyTier           string  `json:"loyalty_tier"`
	AccountAgeDays        int     `json:"account_age_days"`
	LifetimeOrders        int     `json:"lifetime_orders"`
	NinetyDayCompensation float64 `json:"ninety_day_compensation_total"`
	FraudWatch            bool    `json:"fraud_watch"`
}

type orderRecord struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Currency   string  `json:"currency"`
	OrderTotal float64 `json:"order_total"`
	ItemCount  int     `json:"item_count"`
	Status     string  `json:"status"`
}

type caseRecord struct {
	CaseID        string `json:"case_id"`
	CustomerID    string `json:"customer_id"`
	OrderID       string `json:"order_id"`
	ComplaintType string `json:"complaint_type"`
	Decision      string `json:"decision"`
	Status        string `json:"status"`
	OpenedAt      string `json:"opened_at"`
}

var (
	fixturesOnce  sync.Once
	fixturesErr   error
	mockCustomers []customerRecord
	mockOrders    []orderRecord
	mockCases     []caseRecord
)

func loadFixtures() error {
	fixturesOnce.Do(func() {
		if err := json.Unmarshal(mockCustomersJSON, &mockCustomers); err != nil {
			fixturesErr = fmt.Errorf("decoding embedded customers: %w", err)
			return
		}
		if err := json.Unmarshal(mockOrdersJSON, &mockOrders); err != nil {
			fixturesErr = fmt.Errorf("decoding embedded orders: %w", err)
			return
		}
		if err := json.Unmarshal(mockCasesJSON, &mockCases); err != nil {
			fixturesErr = fmt.Errorf("decoding embedded cases: %w", err)
		}
	})
	return fixturesErr
}

// getCustomerProfile returns the minimized CRM view for a customer.
func getCustomerProfile(customerID string) (map[string]any, error) {
	if err := loadFixtures(); err != nil {
		return nil, err
	}
	for _, c := range mockCustomers {
		if c.CustomerID == customerID {
			return map[string]any{
				"customer_id":                   c.CustomerID,
				"preferred_language":            c.PreferredLanguage,
				"loyalty_tier":                  c.LoyaltyTier,
				"account_age_days":              c.AccountAgeDays,
				"lifetime_orders":               c.LifetimeOrders,
				"ninety_day_compensation_total": c.NinetyDayCompensation,
				"fraud_watch":                   c.FraudWatch,
			}, nil
		}
	}
	return nil, &ErrNotFound{Kind: "customer", ID: customerID}
}

// getOrderDetails returns the minimized OMS view for an order.
func getOrderDetails(orderID string) (map[string]any, error) {
	if err := loadFixtures(); err != nil {
		return nil, err
	}
	for _, o := range mockOrders {
		if o.OrderID == orderID {
			return map[string]any{
				"order_id":    o.OrderID,
				"customer_id": o.CustomerID,
				"currency":    o.Currency,
				"order_total": o.OrderTotal,
				"item_count":  o.ItemCount,
				"status":      o.Status,
			}, nil
		}
	}
	return nil, &ErrNotFound{Kind: "order", ID: orderID}
}

// getCaseHistory aggregates prior cases for a customer. Customers with no
// history get an empty (not missing) aggregate.
func getCaseHistory(customerID string) (map[string]any, error) {
	if err := loadFixtures(); err != nil {
		return nil, err
	}
	var (
		cases             []map[string]any
		openCaseCount     int
		recentEscalations int
	)
	for _, row := range mockCases {
		if row.CustomerID != customerID {
			continue
		}
		switch row.Status {
		case "OPEN":
			openCaseCount++
		case "ESCALATED":
			recentEscalations++
		}
		cases = append(cases, map[string]any{
			"case_id":        row.CaseID,
			"order_id":       row.OrderID,
			"complaint_type": row.ComplaintType,
			"decision":       row.Decision,
			"status":         row.Status,
			"opened_at":      row.OpenedAt,
		})
	}
	return map[string]any{
		"customer_id":              customerID,
		"total_cases":              len(cases),
		"open_case_count":          openCaseCount,
		"recent_escalations_count": recentEscalations,
		"cases":                    cases,
	}, nil
}
