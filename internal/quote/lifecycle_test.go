package quote

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alecgard/quotedesk/internal/capability"
)

var (
	allStatuses = []Status{StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected, StatusSent}
	allRoles    = []capability.Role{capability.RoleAgent, capability.RoleManager, capability.RoleAdmin}
	allActions  = []Action{ActionCreate, ActionEdit, ActionSubmit, ActionApprove, ActionReject, ActionSend, ActionDelete, ActionReopen}
)

func actorFor(id string, role capability.Role) Actor {
	return Actor{ID: id, OrganizationID: "org-1", Capabilities: capability.For(role)}
}

func TestCanPerformApproveImpliesPendingAndCapability(t *testing.T) {
	for _, st := range allStatuses {
		for _, role := range allRoles {
			for _, actorID := range []string{"creator", "other"} {
				q := &Quote{Status: st, CreatedBy: "creator"}
				caps := capability.For(role)
				for _, action := range []Action{ActionApprove, ActionReject} {
					if CanPerform(action, q, caps, actorID) {
						if st != StatusPendingApproval || !caps.ApproveQuotes {
							t.Errorf("%s allowed for %s on %s quote", action, role, st)
						}
					}
				}
			}
		}
	}
}

func TestCanPerformMatrix(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		status  Status
		role    capability.Role
		creator bool
		want    bool
	}{
		{"agent creates", ActionCreate, "", capability.RoleAgent, false, true},
		{"agent edits own draft", ActionEdit, StatusDraft, capability.RoleAgent, true, true},
		{"agent edits other's draft", ActionEdit, StatusDraft, capability.RoleAgent, false, false},
		{"manager edits other's draft", ActionEdit, StatusDraft, capability.RoleManager, false, true},
		{"admin edits other's draft", ActionEdit, StatusDraft, capability.RoleAdmin, false, true},
		{"creator edits pending", ActionEdit, StatusPendingApproval, capability.RoleAgent, true, false},
		{"agent submits own draft", ActionSubmit, StatusDraft, capability.RoleAgent, true, true},
		{"agent submits other's draft", ActionSubmit, StatusDraft, capability.RoleAgent, false, false},
		{"manager submits other's draft", ActionSubmit, StatusDraft, capability.RoleManager, false, true},
		{"agent approves", ActionApprove, StatusPendingApproval, capability.RoleAgent, true, false},
		{"manager approves pending", ActionApprove, StatusPendingApproval, capability.RoleManager, false, true},
		{"manager approves draft", ActionApprove, StatusDraft, capability.RoleManager, false, false},
		{"manager rejects pending", ActionReject, StatusPendingApproval, capability.RoleManager, false, true},
		{"admin sends approved", ActionSend, StatusApproved, capability.RoleAdmin, false, true},
		{"agent sends approved", ActionSend, StatusApproved, capability.RoleAgent, true, false},
		{"manager sends pending", ActionSend, StatusPendingApproval, capability.RoleManager, false, false},
		{"creator deletes", ActionDelete, StatusSent, capability.RoleAgent, true, true},
		{"manager deletes other's", ActionDelete, StatusDraft, capability.RoleManager, false, false},
		{"admin deletes other's", ActionDelete, StatusApproved, capability.RoleAdmin, false, true},
		{"creator reopens rejected", ActionReopen, StatusRejected, capability.RoleAgent, true, true},
		{"admin reopens other's rejected", ActionReopen, StatusRejected, capability.RoleAdmin, false, false},
		{"creator reopens draft", ActionReopen, StatusDraft, capability.RoleAgent, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actorID := "other"
			if tt.creator {
				actorID = "creator"
			}
			var q *Quote
			if tt.action != ActionCreate {
				q = &Quote{Status: tt.status, CreatedBy: "creator"}
			}
			if got := CanPerform(tt.action, q, capability.For(tt.role), actorID); got != tt.want {
				t.Errorf("CanPerform(%s) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}

func TestCanPerformFailsClosed(t *testing.T) {
	caps := capability.For(capability.RoleAdmin)
	if CanPerform(ActionApprove, nil, caps, "u1") {
		t.Error("nil quote must not be approvable")
	}
	if CanPerform(Action("archive"), &Quote{Status: StatusDraft}, caps, "u1") {
		t.Error("unknown action must be denied")
	}
	if CanPerform(ActionEdit, &Quote{Status: StatusDraft}, capability.For(capability.RoleAgent), "") {
		t.Error("empty actor must not match empty creator")
	}
}

// Transition succeeds exactly when the action guarding it is allowed.
func TestTransitionConsultsAuthorizer(t *testing.T) {
	now := time.Now()
	for trigger := range transitions {
		action, _ := ActionFor(trigger)
		for _, st := range allStatuses {
			for _, role := range allRoles {
				for _, actorID := range []string{"creator", "other"} {
					q := &Quote{Status: st, CreatedBy: "creator"}
					actor := actorFor(actorID, role)
					_, err := Transition(q, trigger, actor, "why", now)
					allowed := CanPerform(action, q, actor.Capabilities, actorID)
					if allowed != (err == nil) {
						t.Errorf("%s from %s by %s/%s: allowed=%v err=%v", trigger, st, role, actorID, allowed, err)
					}
					if err != nil && !errors.Is(err, ErrIllegalTransition) {
						t.Errorf("expected ErrIllegalTransition, got %v", err)
					}
				}
			}
		}
	}
}

func TestTransitionDoesNotMutate(t *testing.T) {
	q := &Quote{Status: StatusPendingApproval, CreatedBy: "a1", Notes: "n", Total: 10}
	before := *q
	if _, err := Transition(q, TriggerReject, actorFor("m1", capability.RoleManager), "too high", time.Now()); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if q.Status != before.Status || q.Notes != before.Notes || q.ApprovedBy != nil {
		t.Errorf("quote was mutated: %+v", q)
	}
}

func TestTransitionSideEffects(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	c, err := Transition(&Quote{Status: StatusPendingApproval}, TriggerApprove, actorFor("m1", capability.RoleManager), "", now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if c.To != StatusApproved || c.ApprovedBy == nil || *c.ApprovedBy != "m1" {
		t.Errorf("approve change = %+v", c)
	}

	c, err = Transition(&Quote{Status: StatusApproved}, TriggerSend, actorFor("a1", capability.RoleAdmin), "", now)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.To != StatusSent || c.SentAt == nil || !c.SentAt.Equal(now) {
		t.Errorf("send change = %+v", c)
	}

	c, err = Transition(&Quote{Status: StatusPendingApproval}, TriggerReject, actorFor("m1", capability.RoleManager), "  ", now)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if c.Notes != nil {
		t.Errorf("blank reason should leave notes untouched, got %q", *c.Notes)
	}
}

func TestTransitionErrors(t *testing.T) {
	_, err := Transition(&Quote{Status: StatusDraft}, Trigger("archive"), actorFor("a", capability.RoleAdmin), "", time.Now())
	var te *TransitionError
	if !errors.As(err, &te) || te.Reason != "unknown trigger" {
		t.Errorf("expected unknown trigger error, got %v", err)
	}

	_, err = Transition(&Quote{Status: StatusSent}, TriggerSend, actorFor("a", capability.RoleAdmin), "", time.Now())
	if !errors.As(err, &te) || te.From != StatusSent {
		t.Errorf("expected status error, got %v", err)
	}
	if !strings.Contains(err.Error(), "send") {
		t.Errorf("error should name the trigger: %v", err)
	}
}

func TestParseTrigger(t *testing.T) {
	for _, name := range []string{"submit", "approve", "reject", "send"} {
		if _, ok := ParseTrigger(name); !ok {
			t.Errorf("ParseTrigger(%q) should succeed", name)
		}
	}
	for _, name := range []string{"reopen", "delete", ""} {
		if _, ok := ParseTrigger(name); ok {
			t.Errorf("ParseTrigger(%q) should fail", name)
		}
	}
}

func TestRejectionNotes(t *testing.T) {
	tests := []struct {
		name   string
		notes  string
		reason string
		want   string
	}{
		{"empty notes", "", "budget exceeded", "Rejected: budget exceeded"},
		{"existing notes", "Call before Friday", "budget exceeded", "Call before Friday\n\nRejected: budget exceeded"},
		{"trailing whitespace", "Call before Friday\n", "too long", "Call before Friday\n\nRejected: too long"},
		{"replaces earlier rejection", "Call before Friday\n\nRejected: budget exceeded", "wrong client", "Call before Friday\n\nRejected: wrong client"},
		{"replaces lone rejection", "Rejected: budget exceeded", "wrong client", "Rejected: wrong client"},
		{"keeps mid-text rejection", "Rejected: old\n\nNew terms agreed", "again", "Rejected: old\n\nNew terms agreed\n\nRejected: again"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RejectionNotes(tt.notes, tt.reason); got != tt.want {
				t.Errorf("RejectionNotes() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInitialStatus(t *testing.T) {
	if InitialStatus(capability.RoleAgent) != StatusDraft {
		t.Error("agents create drafts")
	}
	if InitialStatus(capability.RoleManager) != StatusApproved || InitialStatus(capability.RoleAdmin) != StatusApproved {
		t.Error("managers and admins create approved quotes")
	}
}

func TestAvailableActions(t *testing.T) {
	q := &Quote{Status: StatusPendingApproval, CreatedBy: "a1"}
	got := AvailableActions(q, capability.For(capability.RoleManager), "m1")
	want := []Action{ActionApprove, ActionReject}
	if len(got) != len(want) {
		t.Fatalf("AvailableActions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AvailableActions[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	for _, a := range AvailableActions(q, capability.For(capability.RoleAgent), "a1") {
		if a != ActionDelete {
			t.Errorf("creator agent should only be offered delete, got %s", a)
		}
	}
}

func TestActionsCovered(t *testing.T) {
	// Every action must be decidable without panicking for every status.
	for _, a := range allActions {
		for _, st := range allStatuses {
			CanPerform(a, &Quote{Status: st}, capability.For(capability.RoleAdmin), "x")
		}
	}
}
