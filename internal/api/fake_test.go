package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/quotedesk/internal/audit"
	"github.com/alecgard/quotedesk/internal/backend"
	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/metrics"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/ratelimit"
	"github.com/alecgard/quotedesk/internal/user"
	"github.com/google/uuid"
)

// --- identities ---

type fakeUsers struct {
	mu        sync.Mutex
	profiles  map[string]*user.Identity
	byEmail   map[string]string
	passwords map[string]string
	sessions  map[string]string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		profiles:  make(map[string]*user.Identity),
		byEmail:   make(map[string]string),
		passwords: make(map[string]string),
		sessions:  make(map[string]string),
	}
}

func (f *fakeUsers) Register(_ context.Context, in user.RegisterInput) (*user.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := strings.ToLower(in.Email)
	if _, ok := f.byEmail[email]; ok {
		return nil, user.ErrEmailTaken
	}
	u := &user.Identity{ID: uuid.NewString(), Email: email, Name: in.Name, Active: true, CreatedAt: time.Now()}
	f.profiles[u.ID] = u
	f.byEmail[email] = u.ID
	f.passwords[u.ID] = in.Password
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) Authenticate(_ context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[strings.ToLower(email)]
	if !ok || f.passwords[id] != password {
		return "", user.ErrInvalidCredentials
	}
	return id, nil
}

func (f *fakeUsers) CreateSession(_ context.Context, identityID string) (string, *user.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := "tok-" + uuid.NewString()
	f.sessions[tok] = identityID
	return tok, &user.Session{IdentityID: identityID}, nil
}

func (f *fakeUsers) SessionIdentity(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.sessions[token]
	if !ok {
		return "", user.ErrNotFound
	}
	return id, nil
}

func (f *fakeUsers) DeleteSession(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*user.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.profiles[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*user.Identity, error) {
	f.mu.Lock()
	id, ok := f.byEmail[strings.ToLower(strings.TrimSpace(email))]
	f.mu.Unlock()
	if !ok {
		return nil, user.ErrNotFound
	}
	return f.GetByID(context.Background(), id)
}

// dropProfile removes the profile row while keeping credentials and sessions.
func (f *fakeUsers) dropProfile(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, id)
}

func (f *fakeUsers) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// --- organizations ---

type fakeOrgRepo struct {
	mu          sync.Mutex
	orgs        map[string]*org.Organization
	memberships map[string]*org.Membership // key: userID|orgID
}

func newFakeOrgRepo() *fakeOrgRepo {
	return &fakeOrgRepo{
		orgs:        make(map[string]*org.Organization),
		memberships: make(map[string]*org.Membership),
	}
}

func mkey(userID, orgID string) string { return userID + "|" + orgID }

func (f *fakeOrgRepo) Create(_ context.Context, in org.CreateOrganizationInput, creatorID string) (*org.Organization, *org.Membership, error) {
	o := &org.Organization{ID: uuid.NewString(), Name: in.Name, Settings: in.Settings, CreatedAt: time.Now()}
	f.mu.Lock()
	f.orgs[o.ID] = o
	f.mu.Unlock()
	m, err := f.AddMember(context.Background(), o.ID, creatorID, capability.RoleAdmin, org.StatusActive)
	if err != nil {
		return nil, nil, err
	}
	cp := *o
	return &cp, m, nil
}

func (f *fakeOrgRepo) GetByID(_ context.Context, id string) (*org.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orgs[id]
	if !ok {
		return nil, org.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrgRepo) UpdateSettings(_ context.Context, id string, st org.Settings) (*org.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orgs[id]
	if !ok {
		return nil, org.ErrNotFound
	}
	o.Settings = st
	cp := *o
	return &cp, nil
}

func (f *fakeOrgRepo) ListMembershipsForUser(_ context.Context, userID string) ([]org.MembershipSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []org.MembershipSummary
	for _, m := range f.memberships {
		if m.UserID != userID {
			continue
		}
		out = append(out, org.MembershipSummary{
			OrganizationID:   m.OrganizationID,
			OrganizationName: f.orgs[m.OrganizationID].Name,
			Role:             m.Role,
			Status:           m.Status,
			JoinedAt:         m.JoinedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (f *fakeOrgRepo) GetMembership(_ context.Context, userID, orgID string) (*org.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[mkey(userID, orgID)]
	if !ok {
		return nil, org.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeOrgRepo) ListMembers(_ context.Context, orgID string) ([]org.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []org.Member
	for _, m := range f.memberships {
		if m.OrganizationID == orgID {
			out = append(out, org.Member{Membership: *m})
		}
	}
	return out, nil
}

func (f *fakeOrgRepo) AddMember(_ context.Context, orgID, userID string, role capability.Role, status org.Status) (*org.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memberships[mkey(userID, orgID)]; ok {
		return nil, org.ErrDuplicateMembership
	}
	m := &org.Membership{
		ID:             uuid.NewString(),
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		Status:         status,
		JoinedAt:       time.Now(),
	}
	f.memberships[mkey(userID, orgID)] = m
	cp := *m
	return &cp, nil
}

func (f *fakeOrgRepo) UpdateMember(_ context.Context, orgID, userID string, in org.UpdateMemberInput) (*org.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[mkey(userID, orgID)]
	if !ok {
		return nil, org.ErrNotFound
	}
	if in.Role != nil {
		m.Role = *in.Role
	}
	if in.Status != nil {
		m.Status = *in.Status
	}
	cp := *m
	return &cp, nil
}

func (f *fakeOrgRepo) RemoveMember(_ context.Context, orgID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memberships[mkey(userID, orgID)]; !ok {
		return org.ErrNotFound
	}
	delete(f.memberships, mkey(userID, orgID))
	return nil
}

func (f *fakeOrgRepo) CountActiveAdmins(_ context.Context, orgID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.memberships {
		if m.OrganizationID == orgID && m.Role == capability.RoleAdmin && m.Status == org.StatusActive {
			n++
		}
	}
	return n, nil
}

// --- quotes ---

type fakeQuoteRepo struct {
	mu     sync.Mutex
	quotes map[string]*quote.Quote
	seq    map[string]int
}

func newFakeQuoteRepo() *fakeQuoteRepo {
	return &fakeQuoteRepo{quotes: make(map[string]*quote.Quote), seq: make(map[string]int)}
}

func (f *fakeQuoteRepo) Create(_ context.Context, q *quote.Quote) (*quote.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq[q.OrganizationID]++
	cp := *q
	cp.ID = uuid.NewString()
	cp.Number = f.seq[q.OrganizationID]
	cp.CreatedAt = time.Now()
	f.quotes[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeQuoteRepo) Get(_ context.Context, orgID, id string) (*quote.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok || q.OrganizationID != orgID {
		return nil, quote.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeQuoteRepo) List(_ context.Context, orgID string, params quote.ListParams) ([]*quote.Quote, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*quote.Quote
	for _, q := range f.quotes {
		if q.OrganizationID == orgID && (params.Status == "" || q.Status == params.Status) {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, "", nil
}

func (f *fakeQuoteRepo) Update(_ context.Context, q *quote.Quote) (*quote.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.quotes[q.ID]
	if !ok {
		return nil, quote.ErrNotFound
	}
	if cur.Status != quote.StatusDraft {
		return nil, quote.ErrConflict
	}
	cp := *q
	f.quotes[q.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeQuoteRepo) Delete(_ context.Context, orgID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok || q.OrganizationID != orgID {
		return quote.ErrNotFound
	}
	delete(f.quotes, id)
	return nil
}

func (f *fakeQuoteRepo) WriteStatus(_ context.Context, orgID, id string, c quote.Change) (*quote.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.quotes[id]
	if !ok || cur.OrganizationID != orgID {
		return nil, quote.ErrNotFound
	}
	if cur.Status != c.From {
		return nil, quote.ErrConflict
	}
	next := c.Apply(*cur)
	f.quotes[id] = &next
	out := next
	return &out, nil
}

// --- audit ---

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeRecorder) Record(e audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func (f *fakeRecorder) actions(orgID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		if e.OrganizationID == orgID {
			out = append(out, e.Action)
		}
	}
	return out
}

type fakeAuditLog struct {
	entries []*audit.Entry
	last    audit.Query
	err     error
}

func (f *fakeAuditLog) List(_ context.Context, q audit.Query) ([]*audit.Entry, string, error) {
	f.last = q
	if f.err != nil {
		return nil, "", f.err
	}
	return f.entries, "next-page", nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

// --- test world ---

type world struct {
	t       *testing.T
	users   *fakeUsers
	orgRepo *fakeOrgRepo
	quotes  *fakeQuoteRepo
	rec     *fakeRecorder
	audit   *fakeAuditLog
	metrics *metrics.Metrics
	handler http.Handler
}

type worldOption func(*RouterDeps)

func newWorld(t *testing.T, opts ...worldOption) *world {
	t.Helper()
	w := &world{
		t:       t,
		users:   newFakeUsers(),
		orgRepo: newFakeOrgRepo(),
		quotes:  newFakeQuoteRepo(),
		rec:     &fakeRecorder{},
		audit:   &fakeAuditLog{},
		metrics: metrics.New(),
	}
	m := w.metrics
	deps := RouterDeps{
		Users:     w.users,
		Orgs:      org.NewService(w.orgRepo),
		Directory: backend.NewDirectory(w.orgRepo),
		Quotes: quote.NewService(w.quotes, w.orgRepo,
			quote.WithRecorder(w.rec),
			quote.WithTransitionObserver(func(trigger string, _, _ quote.Status, err error) {
				m.ObserveTransition(trigger, TransitionOutcome(err))
			}),
		),
		AuditLog:       w.audit,
		Recorder:       w.rec,
		Metrics:        m,
		AllowedOrigins: []string{"https://app.example.com"},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	w.handler = NewRouter(deps)
	return w
}

func withLoginLimit(n int) worldOption {
	return func(d *RouterDeps) { d.LoginLimiter = ratelimit.New(n, time.Minute) }
}

func withDB(p Pinger) worldOption {
	return func(d *RouterDeps) { d.DB = p }
}

func (w *world) do(method, path, token string, body any) *httptest.ResponseRecorder {
	w.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			w.t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	w.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorEnvelope](t, rec).Error.Code
}

type signupResponse struct {
	Token        string            `json:"token"`
	User         user.Identity     `json:"user"`
	Organization *org.Organization `json:"organization"`
	Membership   *org.Membership   `json:"membership"`
}

// signup registers an identity through the API. When orgName is non-empty
// the identity becomes the admin of a new organization.
func (w *world) signup(email, orgName string) signupResponse {
	w.t.Helper()
	rec := w.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"email":             email,
		"password":          "correct horse",
		"name":              strings.Split(email, "@")[0],
		"organization_name": orgName,
	})
	if rec.Code != http.StatusCreated {
		w.t.Fatalf("signup %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	return decode[signupResponse](w.t, rec)
}

// member signs up email and adds it to orgID with role and status directly.
func (w *world) member(email, orgID string, role capability.Role, status org.Status) signupResponse {
	w.t.Helper()
	s := w.signup(email, "")
	if _, err := w.orgRepo.AddMember(context.Background(), orgID, s.User.ID, role, status); err != nil {
		w.t.Fatalf("adding member: %v", err)
	}
	return s
}

var errBoom = errors.New("boom")
