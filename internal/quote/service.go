package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/quotedesk/internal/audit"
	"github.com/alecgard/quotedesk/internal/org"
)

var (
	ErrForbidden      = errors.New("action not permitted for this member")
	ErrNotEditable    = errors.New("only draft quotes can be edited")
	ErrClientRequired = errors.New("client_id is required")
	ErrStatusInvalid  = errors.New("unknown quote status")
)

// Repository is the persistence surface the Service needs. *Store
// implements it.
type Repository interface {
	Create(ctx context.Context, q *Quote) (*Quote, error)
	Get(ctx context.Context, orgID, id string) (*Quote, error)
	List(ctx context.Context, orgID string, params ListParams) ([]*Quote, string, error)
	Update(ctx context.Context, q *Quote) (*Quote, error)
	Delete(ctx context.Context, orgID, id string) error
	WriteStatus(ctx context.Context, orgID, id string, change Change) (*Quote, error)
}

// Organizations resolves the organization a quote belongs to, for its
// pricing settings.
type Organizations interface {
	GetByID(ctx context.Context, id string) (*org.Organization, error)
}

// Recorder receives audit entries.
type Recorder interface {
	Record(e audit.Entry)
}

// TransitionObserver is told about every attempted status change.
type TransitionObserver func(trigger string, from, to Status, err error)

// Service runs quote operations on behalf of an Actor. Every operation is
// gated by CanPerform.
type Service struct {
	repo     Repository
	orgs     Organizations
	recorder Recorder
	observe  TransitionObserver
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sends audit entries for every state change to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithTransitionObserver registers fn for lifecycle metrics.
func WithTransitionObserver(fn TransitionObserver) Option {
	return func(s *Service) { s.observe = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over the given repository.
func NewService(repo Repository, orgs Organizations, opts ...Option) *Service {
	s := &Service{repo: repo, orgs: orgs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create prices and stores a new quote. Agents create drafts; managers and
// admins create quotes that start approved with themselves as approver.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateQuoteInput) (*Quote, error) {
	if !CanPerform(ActionCreate, nil, actor.Capabilities, actor.ID) {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(in.ClientID) == "" {
		return nil, ErrClientRequired
	}

	o, err := s.orgs.GetByID(ctx, actor.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("loading organization: %w", err)
	}

	totals, items, err := ComputeTotals(in.Items, in.Discount, o.Settings.TaxRate)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	q := &Quote{
		OrganizationID: actor.OrganizationID,
		ClientID:       strings.TrimSpace(in.ClientID),
		Status:         InitialStatus(actor.Capabilities.Role),
		Subtotal:       totals.Subtotal,
		Discount:       totals.Discount,
		Tax:            totals.Tax,
		Total:          totals.Total,
		ValidUntil:     in.ValidUntil,
		Terms:          in.Terms,
		Notes:          in.Notes,
		CreatedBy:      actor.ID,
		Items:          items,
	}
	if q.Status == StatusApproved {
		id := actor.ID
		q.ApprovedBy = &id
	}
	if q.ValidUntil == nil && o.Settings.ValidityDays > 0 {
		until := now.AddDate(0, 0, o.Settings.ValidityDays)
		q.ValidUntil = &until
	}
	if q.Terms == "" {
		q.Terms = o.Settings.PaymentTerms
	}

	created, err := s.repo.Create(ctx, q)
	if err != nil {
		return nil, err
	}
	s.record(actor, "quote.create", created, map[string]string{
		"status": string(created.Status),
		"number": fmt.Sprint(created.Number),
	})
	return created, nil
}

// Get returns a quote of the actor's organization.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*Quote, error) {
	return s.repo.Get(ctx, actor.OrganizationID, id)
}

// List returns a page of the actor's organization's quotes.
func (s *Service) List(ctx context.Context, actor Actor, params ListParams) ([]*Quote, string, error) {
	if params.Status != "" && !params.Status.Valid() {
		return nil, "", fmt.Errorf("%w: %s", ErrStatusInvalid, params.Status)
	}
	return s.repo.List(ctx, actor.OrganizationID, params)
}

// Update edits a draft. Totals are recomputed from the resulting items.
func (s *Service) Update(ctx context.Context, actor Actor, id string, in UpdateQuoteInput) (*Quote, error) {
	q, err := s.repo.Get(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(ActionEdit, q, actor.Capabilities, actor.ID) {
		if q.Status != StatusDraft {
			return nil, ErrNotEditable
		}
		return nil, ErrForbidden
	}

	if in.ClientID != nil {
		if strings.TrimSpace(*in.ClientID) == "" {
			return nil, ErrClientRequired
		}
		q.ClientID = strings.TrimSpace(*in.ClientID)
	}
	if in.ValidUntil != nil {
		q.ValidUntil = in.ValidUntil
	}
	if in.Terms != nil {
		q.Terms = *in.Terms
	}
	if in.Notes != nil {
		q.Notes = *in.Notes
	}

	items := inputsFrom(q.Items)
	if in.Items != nil {
		items = *in.Items
	}
	discount := q.Discount
	if in.Discount != nil {
		discount = *in.Discount
	}

	o, err := s.orgs.GetByID(ctx, actor.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("loading organization: %w", err)
	}
	totals, priced, err := ComputeTotals(items, discount, o.Settings.TaxRate)
	if err != nil {
		return nil, err
	}
	q.Subtotal, q.Discount, q.Tax, q.Total = totals.Subtotal, totals.Discount, totals.Tax, totals.Total
	q.Items = priced

	updated, err := s.repo.Update(ctx, q)
	if err != nil {
		return nil, err
	}
	s.record(actor, "quote.update", updated, nil)
	return updated, nil
}

// Delete removes a quote. Creators may delete their own quotes; admins may
// delete any.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) error {
	q, err := s.repo.Get(ctx, actor.OrganizationID, id)
	if err != nil {
		return err
	}
	if !CanPerform(ActionDelete, q, actor.Capabilities, actor.ID) {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, actor.OrganizationID, id); err != nil {
		return err
	}
	s.record(actor, "quote.delete", q, nil)
	return nil
}

// Transition applies trigger to the quote and persists the change. The write
// only lands if the quote is still in the status the change was computed
// from; otherwise ErrConflict is returned.
func (s *Service) Transition(ctx context.Context, actor Actor, id string, trigger Trigger, reason string) (*Quote, error) {
	q, err := s.repo.Get(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, err
	}

	change, err := Transition(q, trigger, actor, reason, s.now().UTC())
	if err != nil {
		s.notify(string(trigger), q.Status, q.Status, err)
		return nil, err
	}
	return s.write(ctx, actor, string(trigger), q, change)
}

// Reopen returns a rejected quote to draft so its creator can revise it.
func (s *Service) Reopen(ctx context.Context, actor Actor, id string) (*Quote, error) {
	q, err := s.repo.Get(ctx, actor.OrganizationID, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(ActionReopen, q, actor.Capabilities, actor.ID) {
		err := fmt.Errorf("%w: only the creator can reopen a rejected quote", ErrIllegalTransition)
		s.notify(string(ActionReopen), q.Status, q.Status, err)
		return nil, err
	}
	return s.write(ctx, actor, string(ActionReopen), q, Change{From: StatusRejected, To: StatusDraft})
}

func (s *Service) write(ctx context.Context, actor Actor, name string, q *Quote, change Change) (*Quote, error) {
	updated, err := s.repo.WriteStatus(ctx, actor.OrganizationID, q.ID, change)
	s.notify(name, change.From, change.To, err)
	if err != nil {
		return nil, err
	}

	detail := map[string]string{"from": string(change.From), "to": string(change.To)}
	if change.Notes != nil {
		detail["notes"] = *change.Notes
	}
	s.record(actor, "quote."+name, updated, detail)
	return updated, nil
}

func (s *Service) notify(name string, from, to Status, err error) {
	if s.observe != nil {
		s.observe(name, from, to, err)
	}
}

func (s *Service) record(actor Actor, action string, q *Quote, detail map[string]string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(audit.Entry{
		OrganizationID: actor.OrganizationID,
		ActorID:        actor.ID,
		Action:         action,
		ResourceType:   "quote",
		ResourceID:     q.ID,
		Detail:         detail,
	})
}

func inputsFrom(items []LineItem) []LineItemInput {
	out := make([]LineItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, LineItemInput{
			ProductID:   it.ProductID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return out
}
