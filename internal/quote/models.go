package quote

import "time"

// Status is the approval-workflow state of a quote.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusSent            Status = "sent"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected, StatusSent:
		return true
	}
	return false
}

// Quote is a priced proposal to a client. Status only changes through
// Transition (and the explicit Reopen action); monetary fields only change
// on create and edit.
type Quote struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Number         int        `json:"number"`
	ClientID       string     `json:"client_id"`
	Status         Status     `json:"status"`
	Subtotal       float64    `json:"subtotal"`
	Discount       float64    `json:"discount"`
	Tax            float64    `json:"tax"`
	Total          float64    `json:"total_amount"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	Terms          string     `json:"terms"`
	Notes          string     `json:"notes"`
	CreatedBy      string     `json:"created_by"`
	ApprovedBy     *string    `json:"approved_by,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Items          []LineItem `json:"items,omitempty"`
}

// LineItem is one priced row of a quote.
type LineItem struct {
	ID          string  `json:"id"`
	QuoteID     string  `json:"quote_id"`
	Position    int     `json:"position"`
	ProductID   *string `json:"product_id,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

// LineItemInput is a line item as supplied by a caller.
type LineItemInput struct {
	ProductID   *string `json:"product_id,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// CreateQuoteInput holds the fields required to create a quote.
type CreateQuoteInput struct {
	ClientID   string          `json:"client_id"`
	Items      []LineItemInput `json:"items,omitempty"`
	Discount   float64         `json:"discount"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
	Terms      string          `json:"terms"`
	Notes      string          `json:"notes"`
}

// UpdateQuoteInput holds optional fields for a partial edit of a draft.
type UpdateQuoteInput struct {
	ClientID   *string          `json:"client_id,omitempty"`
	Items      *[]LineItemInput `json:"items,omitempty"`
	Discount   *float64         `json:"discount,omitempty"`
	ValidUntil *time.Time       `json:"valid_until,omitempty"`
	Terms      *string          `json:"terms,omitempty"`
	Notes      *string          `json:"notes,omitempty"`
}

// ListParams controls filtering and cursor-based pagination.
type ListParams struct {
	Status Status `json:"status,omitempty"`
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}
