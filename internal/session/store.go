package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alecgard/quotedesk/internal/capability"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/user"
)

// ActivationObserver is told the outcome of every organization activation:
// "ok", "unavailable" or "error".
type ActivationObserver func(outcome string)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for swallowed errors.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithActivationObserver registers fn for activation metrics.
func WithActivationObserver(fn ActivationObserver) Option {
	return func(s *Store) { s.observe = fn }
}

// Store holds the session of a single actor. Remote calls are made without
// the lock held; their results are installed in one critical section, so a
// State snapshot never mixes old and new fields.
type Store struct {
	backend Backend
	keys    KeyStore
	logger  *slog.Logger
	observe ActivationObserver

	mu           sync.RWMutex
	mode         Mode
	initializing bool
	initStarted  bool
	lastErr      error
	// epoch changes on every sign-in, sign-out and close. Operations that
	// started under an older epoch do not install their results.
	epoch       uint64
	identity    *user.Identity
	memberships []org.MembershipSummary
	active      *Activation
}

// New creates the Store. backend may be nil when no backend is configured;
// Init then moves to ModeNotConfigured.
func New(backend Backend, keys KeyStore, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		keys:         keys,
		logger:       slog.Default(),
		mode:         ModeInitializing,
		initializing: true,
	}
	if s.keys == nil {
		s.keys = NewMemoryKeyStore()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init restores a previous session, if any. It runs once; later calls
// return immediately. Failures are logged and reflected in State().Mode,
// never returned, and Initializing is cleared on every path.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	if s.initStarted {
		s.mu.Unlock()
		return
	}
	s.initStarted = true
	epoch := s.epoch
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session init panicked", "panic", r)
			s.setMode(ModeSetupRequired, fmt.Errorf("%w: init panicked: %v", ErrBackendUnavailable, r))
		}
		s.mu.Lock()
		s.initializing = false
		s.mu.Unlock()
	}()

	if s.backend == nil {
		s.setMode(ModeNotConfigured, ErrNotConfigured)
		return
	}

	identityID, err := s.backend.CurrentSession(ctx)
	if errors.Is(err, ErrNoSession) {
		s.setMode(ModeReady, nil)
		return
	}
	if err != nil {
		err = unavailable("restoring session", err)
		s.logger.Error("restoring session failed", "error", err)
		s.setMode(ModeSetupRequired, err)
		return
	}

	actErr, err := s.establish(ctx, identityID, epoch)
	if err != nil {
		if errors.Is(err, ErrCorruptedSession) {
			s.setMode(ModeReady, nil)
			return
		}
		s.logger.Error("loading session data failed", "identity_id", identityID, "error", err)
		s.setMode(ModeSetupRequired, err)
		return
	}
	if actErr != nil {
		s.logger.Warn("restoring organization failed, none selected", "identity_id", identityID, "error", actErr)
	}
	s.setMode(modeFor(actErr), actErr)
}

// Close drops all in-memory state. The persisted organization choice is
// kept so the next process can restore it.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.identity = nil
	s.memberships = nil
	s.active = nil
}

// SignIn authenticates and loads the identity's organizations. On
// ErrInvalidCredentials, or when the backend rejects the authentication
// call, the state is unchanged. Once the credentials are accepted the
// previous identity is gone: if its profile or memberships cannot be
// loaded, the store is signed out and the error returned. An identity
// without a profile is signed straight back out; SignIn then returns nil
// and the state shows no identity.
//
// When the identity is installed but no organization could be activated,
// SignIn returns that error and State().Err carries it until a switch
// succeeds.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	if s.backend == nil {
		return ErrNotConfigured
	}

	identityID, err := s.backend.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return ErrInvalidCredentials
		}
		return unavailable("authenticating", err)
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	actErr, err := s.establish(ctx, identityID, epoch)
	if err != nil {
		if errors.Is(err, ErrCorruptedSession) {
			return nil
		}
		if !errors.Is(err, ErrNotSignedIn) {
			s.logger.Warn("loading signed-in identity failed, signing out", "identity_id", identityID, "error", err)
			s.SignOut(ctx)
		}
		return err
	}
	s.setMode(modeFor(actErr), actErr)
	return actErr
}

// modeFor is the mode after an identity was installed. A backend outage
// during activation degrades to setup required.
func modeFor(actErr error) Mode {
	if errors.Is(actErr, ErrBackendUnavailable) {
		return ModeSetupRequired
	}
	return ModeReady
}

// establish loads profile, memberships and the selected organization for
// identityID and installs them together. A missing profile forces SignOut
// and returns ErrCorruptedSession. Activation failures do not prevent the
// install: they come back as actErr with no organization selected.
func (s *Store) establish(ctx context.Context, identityID string, epoch uint64) (actErr, err error) {
	profile, err := s.backend.FetchProfile(ctx, identityID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("identity has no profile, signing out", "identity_id", identityID)
			s.SignOut(ctx)
			return nil, ErrCorruptedSession
		}
		return nil, unavailable("loading profile", err)
	}

	memberships, err := LoadMemberships(ctx, s.backend, identityID)
	if err != nil {
		return nil, err
	}

	persisted, _, err := s.keys.Get(CurrentOrganizationKey)
	if err != nil {
		s.logger.Warn("reading persisted organization failed", "error", err)
		persisted = ""
	}

	var active *Activation
	if target, ok := SelectTarget(memberships, persisted); ok {
		active, actErr = s.activate(ctx, identityID, target)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil, ErrNotSignedIn
	}
	if active != nil {
		if perr := s.persistLocked(active); perr != nil {
			active, actErr = nil, perr
		}
	}
	s.identity = profile
	s.memberships = memberships
	s.active = active
	s.mu.Unlock()

	s.notifyInstalled(active, actErr)
	return actErr, nil
}

// activate loads orgID for identityID. Nothing is persisted or installed
// here; callers do that under the lock once the epoch is confirmed.
func (s *Store) activate(ctx context.Context, identityID, orgID string) (*Activation, error) {
	act, err := Activate(ctx, s.backend, identityID, orgID)
	if err != nil {
		if errors.Is(err, ErrOrganizationUnavailable) {
			s.notify("unavailable")
		} else {
			s.notify("error")
		}
		return nil, err
	}
	return act, nil
}

// persistLocked records act as the current organization. s.mu must be held
// and the epoch checked, so a sign-out that already ran is never undone.
func (s *Store) persistLocked(act *Activation) error {
	if err := s.keys.Set(CurrentOrganizationKey, act.Organization.ID); err != nil {
		return fmt.Errorf("persisting organization choice: %w", err)
	}
	return nil
}

// notifyInstalled reports the outcome of an activation that reached the
// install step.
func (s *Store) notifyInstalled(act *Activation, err error) {
	switch {
	case act != nil:
		s.notify("ok")
	case err != nil && !errors.Is(err, ErrOrganizationUnavailable) && !errors.Is(err, ErrBackendUnavailable):
		s.notify("error")
	}
}

// SignOut revokes the remote session on a best-effort basis, then clears
// all local state and the persisted organization choice. Calling it again
// is harmless.
func (s *Store) SignOut(ctx context.Context) {
	if s.backend != nil {
		if err := s.backend.RevokeSession(ctx); err != nil {
			s.logger.Warn("revoking remote session failed", "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	if err := s.keys.Delete(CurrentOrganizationKey); err != nil {
		s.logger.Warn("clearing persisted organization failed", "error", err)
	}
	s.identity = nil
	s.memberships = nil
	s.active = nil
}

// SwitchOrganization makes orgID the active organization. orgID must be one
// of the identity's active memberships. On failure the previously active
// organization stays selected.
func (s *Store) SwitchOrganization(ctx context.Context, orgID string) error {
	s.mu.RLock()
	identity, memberships, epoch := s.identity, s.memberships, s.epoch
	s.mu.RUnlock()

	if identity == nil {
		return ErrNotSignedIn
	}
	if !holds(memberships, orgID) {
		s.notify("unavailable")
		return fmt.Errorf("%w: not a member of %s", ErrOrganizationUnavailable, orgID)
	}

	act, err := s.activate(ctx, identity.ID, orgID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrNotSignedIn
	}
	if err := s.persistLocked(act); err != nil {
		s.mu.Unlock()
		s.notifyInstalled(nil, err)
		return err
	}
	s.active = act
	s.mode, s.lastErr = ModeReady, nil
	s.mu.Unlock()

	s.notifyInstalled(act, nil)
	return nil
}

// Refresh reloads the membership list and re-activates the current
// organization, picking up role or status changes. When the current
// organization is no longer available the error is returned and the
// previous activation is kept.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	identity, current, epoch := s.identity, s.active, s.epoch
	s.mu.RUnlock()

	if identity == nil {
		return ErrNotSignedIn
	}

	memberships, err := LoadMemberships(ctx, s.backend, identity.ID)
	if err != nil {
		return err
	}

	var act *Activation
	if current != nil {
		act, err = s.activate(ctx, identity.ID, current.Organization.ID)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return ErrNotSignedIn
	}
	s.memberships = memberships
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.active = act
	if act != nil {
		s.mode, s.lastErr = ModeReady, nil
	}
	s.mu.Unlock()

	if act != nil {
		s.notifyInstalled(act, nil)
	}
	return nil
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		Mode:         s.mode,
		Initializing: s.initializing,
		Err:          s.lastErr,
	}
	if s.identity != nil {
		id := *s.identity
		st.Identity = &id
	}
	if s.memberships != nil {
		st.Memberships = append([]org.MembershipSummary(nil), s.memberships...)
	}
	if s.active != nil {
		o := *s.active.Organization
		m := *s.active.Membership
		caps := s.active.Capabilities
		st.Organization, st.Membership, st.Capabilities = &o, &m, &caps
	}
	return st
}

// Actor returns the signed-in identity acting within the active
// organization.
func (s *Store) Actor() (quote.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == nil {
		return quote.Actor{}, ErrNotSignedIn
	}
	if s.active == nil {
		return quote.Actor{}, ErrNoActiveOrganization
	}
	return quote.Actor{
		ID:             s.identity.ID,
		OrganizationID: s.active.Organization.ID,
		Capabilities:   s.active.Capabilities,
	}, nil
}

// Capabilities returns the capability set of the active organization.
func (s *Store) Capabilities() (capability.Set, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return capability.Set{}, false
	}
	return s.active.Capabilities, true
}

func (s *Store) setMode(m Mode, err error) {
	s.mu.Lock()
	s.mode = m
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Store) notify(outcome string) {
	if s.observe != nil {
		s.observe(outcome)
	}
}

func holds(memberships []org.MembershipSummary, orgID string) bool {
	for _, m := range memberships {
		if m.OrganizationID == orgID {
			return true
		}
	}
	return false
}
