package quote

import "github.com/alecgard/quotedesk/internal/capability"

// Action is an operation a caller may attempt on a quote.
type Action string

const (
	ActionCreate  Action = "create"
	ActionEdit    Action = "edit"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionSend    Action = "send"
	ActionDelete  Action = "delete"
	ActionReopen  Action = "reopen"
)

// CanPerform decides whether the actor identified by actorID, holding caps,
// may perform action on q. It has no side effects. q may be nil for
// ActionCreate. Render-time checks, the API, the CLI and Transition all ask
// this function, so what is offered and what is enforced cannot drift.
func CanPerform(action Action, q *Quote, caps capability.Set, actorID string) bool {
	if action == ActionCreate {
		return caps.CreateQuotes
	}
	if q == nil {
		return false
	}

	switch action {
	case ActionEdit, ActionSubmit:
		// Managers and admins may edit and submit drafts they did not create.
		return q.Status == StatusDraft && (ownedBy(q, actorID) || !caps.Restricted())
	case ActionApprove, ActionReject:
		return caps.ApproveQuotes && q.Status == StatusPendingApproval
	case ActionSend:
		return caps.SendQuotes && q.Status == StatusApproved
	case ActionDelete:
		return ownedBy(q, actorID) || caps.Admin()
	case ActionReopen:
		return q.Status == StatusRejected && ownedBy(q, actorID)
	}
	return false
}

func ownedBy(q *Quote, actorID string) bool {
	return actorID != "" && q.CreatedBy == actorID
}

// offered lists the actions AvailableActions considers, in display order.
var offered = []Action{ActionEdit, ActionSubmit, ActionApprove, ActionReject, ActionSend, ActionReopen, ActionDelete}

// AvailableActions returns the actions the actor may take on q right now.
func AvailableActions(q *Quote, caps capability.Set, actorID string) []Action {
	var out []Action
	for _, a := range offered {
		if CanPerform(a, q, caps, actorID) {
			out = append(out, a)
		}
	}
	return out
}
