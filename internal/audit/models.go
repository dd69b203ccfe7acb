package audit

import "time"

// Entry is one recorded state change inside an organization.
type Entry struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	ActorID        string            `json:"actor_id"`
	Action         string            `json:"action"`
	ResourceType   string            `json:"resource_type"`
	ResourceID     string            `json:"resource_id"`
	Detail         map[string]string `json:"detail,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Query defines filters and pagination for reading the audit log of one
// organization.
type Query struct {
	OrganizationID string    `json:"organization_id"`
	ResourceType   string    `json:"resource_type,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Cursor         string    `json:"cursor,omitempty"`
	Limit          int       `json:"limit"`
}
