package quote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/quotedesk/internal/capability"
)

// ErrIllegalTransition is returned when a trigger does not apply to the
// quote's current status or the actor fails its precondition.
var ErrIllegalTransition = errors.New("illegal transition")

// Trigger names a lifecycle transition.
type Trigger string

const (
	TriggerSubmit  Trigger = "submit"
	TriggerApprove Trigger = "approve"
	TriggerReject  Trigger = "reject"
	TriggerSend    Trigger = "send"
)

// rejectionPrefix starts the annotation appended to notes on rejection.
const rejectionPrefix = "Rejected: "

type rule struct {
	from   Status
	to     Status
	action Action
}

// transitions is the complete lifecycle table. The precondition of each row
// is CanPerform with its action.
var transitions = map[Trigger]rule{
	TriggerSubmit:  {from: StatusDraft, to: StatusPendingApproval, action: ActionSubmit},
	TriggerApprove: {from: StatusPendingApproval, to: StatusApproved, action: ActionApprove},
	TriggerReject:  {from: StatusPendingApproval, to: StatusRejected, action: ActionReject},
	TriggerSend:    {from: StatusApproved, to: StatusSent, action: ActionSend},
}

// ParseTrigger converts a wire name into a Trigger.
func ParseTrigger(s string) (Trigger, bool) {
	t := Trigger(s)
	_, ok := transitions[t]
	return t, ok
}

// ActionFor returns the authorizer action guarding trigger.
func ActionFor(trigger Trigger) (Action, bool) {
	r, ok := transitions[trigger]
	return r.action, ok
}

// Actor is the caller of a quote operation within one organization.
type Actor struct {
	ID             string
	OrganizationID string
	Capabilities   capability.Set
}

// Change is the complete write produced by a transition: the new status plus
// the side-effect fields it sets. Nil fields are left untouched.
type Change struct {
	From       Status
	To         Status
	ApprovedBy *string
	SentAt     *time.Time
	Notes      *string
}

// Apply returns a copy of q with the change applied.
func (c Change) Apply(q Quote) Quote {
	q.Status = c.To
	if c.ApprovedBy != nil {
		id := *c.ApprovedBy
		q.ApprovedBy = &id
	}
	if c.SentAt != nil {
		ts := *c.SentAt
		q.SentAt = &ts
	}
	if c.Notes != nil {
		q.Notes = *c.Notes
	}
	return q
}

// TransitionError describes a rejected transition. It unwraps to
// ErrIllegalTransition.
type TransitionError struct {
	Trigger Trigger
	From    Status
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a quote in status %s: %s", e.Trigger, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// Transition computes the change that trigger makes to q on behalf of actor.
// It does not modify q; on error nothing is to be written. reason is only
// used by TriggerReject.
func Transition(q *Quote, trigger Trigger, actor Actor, reason string, now time.Time) (Change, error) {
	r, ok := transitions[trigger]
	if !ok {
		return Change{}, &TransitionError{Trigger: trigger, From: q.Status, Reason: "unknown trigger"}
	}
	if q.Status != r.from {
		return Change{}, &TransitionError{Trigger: trigger, From: q.Status, Reason: "status must be " + string(r.from)}
	}
	if !CanPerform(r.action, q, actor.Capabilities, actor.ID) {
		return Change{}, &TransitionError{Trigger: trigger, From: q.Status, Reason: "not permitted for this actor"}
	}

	c := Change{From: r.from, To: r.to}
	switch trigger {
	case TriggerApprove:
		id := actor.ID
		c.ApprovedBy = &id
	case TriggerReject:
		if strings.TrimSpace(reason) != "" {
			notes := RejectionNotes(q.Notes, reason)
			c.Notes = &notes
		}
	case TriggerSend:
		ts := now
		c.SentAt = &ts
	}
	return c, nil
}

// RejectionNotes appends "Rejected: <reason>" to notes, separated by a blank
// line. A rejection annotation left at the end of notes by an earlier cycle
// is replaced so notes carry only the latest one.
func RejectionNotes(notes, reason string) string {
	reason = strings.TrimSpace(reason)
	base := stripRejection(notes)
	if base == "" {
		return rejectionPrefix + reason
	}
	return base + "\n\n" + rejectionPrefix + reason
}

func stripRejection(notes string) string {
	notes = strings.TrimRight(notes, " \t\n")
	if strings.HasPrefix(notes, rejectionPrefix) && !strings.Contains(notes, "\n\n") {
		return ""
	}
	if i := strings.LastIndex(notes, "\n\n"+rejectionPrefix); i >= 0 && !strings.Contains(notes[i+2:], "\n\n") {
		return notes[:i]
	}
	return notes
}

// InitialStatus is the status a new quote starts in. Agents create drafts;
// managers and admins create quotes that are already approved.
func InitialStatus(role capability.Role) Status {
	if role.AtLeast(capability.RoleManager) {
		return StatusApproved
	}
	return StatusDraft
}
