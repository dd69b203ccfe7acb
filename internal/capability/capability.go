// Package capability maps a membership role onto the fixed set of actions it
// grants. The table in For is the only place that knows what a role may do;
// every other package asks a Set.
package capability

import (
	"database/sql/driver"
	"fmt"
)

// Role is a member's role within one organization. The zero value is
// RoleAgent, the least-privileged role.
type Role uint8

const (
	RoleAgent Role = iota
	RoleManager
	RoleAdmin
)

var roleNames = [...]string{
	RoleAgent:   "agent",
	RoleManager: "manager",
	RoleAdmin:   "admin",
}

// String returns the wire name of the role.
func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return roleNames[RoleAgent]
}

// AtLeast reports whether r is as privileged as other (admin > manager > agent).
func (r Role) AtLeast(other Role) bool {
	return r.normalize() >= other.normalize()
}

func (r Role) normalize() Role {
	if int(r) < len(roleNames) {
		return r
	}
	return RoleAgent
}

// ParseRole converts a wire name into a Role. ok is false for anything other
// than "admin", "manager" or "agent".
func ParseRole(s string) (role Role, ok bool) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), true
		}
	}
	return RoleAgent, false
}

// RoleFromString is ParseRole for data read from storage or the network:
// unknown values fail closed to RoleAgent.
func RoleFromString(s string) Role {
	r, _ := ParseRole(s)
	return r
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to
// RoleAgent rather than failing.
func (r *Role) UnmarshalText(b []byte) error {
	*r = RoleFromString(string(b))
	return nil
}

// Scan implements sql.Scanner for role columns stored as text.
func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*r = RoleFromString(v)
	case []byte:
		*r = RoleFromString(string(v))
	case nil:
		*r = RoleAgent
	default:
		return fmt.Errorf("capability: cannot scan %T into Role", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	return r.String(), nil
}

// Set is the read-only projection of a role into named permissions. It is
// recomputed from the role whenever the active membership changes and is
// never stored.
type Set struct {
	Role           Role `json:"role"`
	CreateQuotes   bool `json:"can_create_quotes"`
	ApproveQuotes  bool `json:"can_approve_quotes"`
	SendQuotes     bool `json:"can_send_quotes"`
	ManageProducts bool `json:"can_manage_products"`
	ManageClients  bool `json:"can_manage_clients"`
	ViewDashboard  bool `json:"can_view_dashboard"`
	ManageUsers    bool `json:"can_manage_users"`
	ViewAuditLog   bool `json:"can_view_audit_log"`
}

// For returns the capability set granted by role.
func For(role Role) Set {
	switch role {
	case RoleAdmin:
		return Set{
			Role:           RoleAdmin,
			CreateQuotes:   true,
			ApproveQuotes:  true,
			SendQuotes:     true,
			ManageProducts: true,
			ManageClients:  true,
			ViewDashboard:  true,
			ManageUsers:    true,
			ViewAuditLog:   true,
		}
	case RoleManager:
		return Set{
			Role:           RoleManager,
			CreateQuotes:   true,
			ApproveQuotes:  true,
			SendQuotes:     true,
			ManageProducts: true,
			ManageClients:  true,
			ViewDashboard:  true,
			ViewAuditLog:   true,
		}
	default:
		return Set{
			Role:          RoleAgent,
			CreateQuotes:  true,
			ViewDashboard: true,
		}
	}
}

// Restricted reports whether the set carries the agent-only restriction:
// agents may only act on quotes they created.
func (s Set) Restricted() bool {
	return s.Role.normalize() == RoleAgent
}

// Admin reports whether the set was derived from the admin role.
func (s Set) Admin() bool {
	return s.Role == RoleAdmin
}
