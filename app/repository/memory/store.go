// Package memory provides an in-process implementation of repository.Store
// for development mode and tests. Every operation runs under one mutex, and
// a transaction holds that mutex until it commits or rolls back, so
// transactions are serializable.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
)

type leadProvider struct{ lead, provider uint }

type ledgerKey struct {
	lead, recipient uint
	kind            string
}

type state struct {
	seq map[string]uint

	users         map[uint]models.User
	leads         map[uint]models.Lead
	providers     map[uint]models.ProviderProfile
	proposals     map[uint]models.Proposal
	conversations map[string]models.Conversation
	views         map[leadProvider]models.LeadView
	subs          map[uint]models.Subscription // by user id
	payments      map[string]models.PaymentRecord
	webhooks      map[uint]models.WebhookEvent
	tokens        map[uint]models.AccessToken
	notifications map[uint]models.Notification
	outbox        map[string]models.OutboxEvent
	ledger        map[ledgerKey]models.DispatchLedger
}

func newState() *state {
	return &state{
		seq:           map[string]uint{},
		users:         map[uint]models.User{},
		leads:         map[uint]models.Lead{},
		providers:     map[uint]models.ProviderProfile{},
		proposals:     map[uint]models.Proposal{},
		conversations: map[string]models.Conversation{},
		views:         map[leadProvider]models.LeadView{},
		subs:          map[uint]models.Subscription{},
		payments:      map[string]models.PaymentRecord{},
		webhooks:      map[uint]models.WebhookEvent{},
		tokens:        map[uint]models.AccessToken{},
		notifications: map[uint]models.Notification{},
		outbox:        map[string]models.OutboxEvent{},
		ledger:        map[ledgerKey]models.DispatchLedger{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		seq:           cloneMap(s.seq),
		users:         cloneMap(s.users),
		leads:         cloneMap(s.leads),
		providers:     cloneMap(s.providers),
		proposals:     cloneMap(s.proposals),
		conversations: cloneMap(s.conversations),
		views:         cloneMap(s.views),
		subs:          cloneMap(s.subs),
		payments:      cloneMap(s.payments),
		webhooks:      cloneMap(s.webhooks),
		tokens:        cloneMap(s.tokens),
		notifications: cloneMap(s.notifications),
		outbox:        cloneMap(s.outbox),
		ledger:        cloneMap(s.ledger),
	}
}

func (s *state) next(table string) uint {
	s.seq[table]++
	return s.seq[table]
}

// Store is the in-memory repository.Store.
type Store struct {
	mu   *sync.Mutex
	st   **state
	inTx bool
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	st := newState()
	s := &Store{mu: &sync.Mutex{}, st: &st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

// do runs fn against the current state, taking the lock unless the store
// view already runs inside a transaction.
func (s *Store) do(fn func(st *state) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(*s.st)
}

// Transaction runs fn with exclusive access. The state is restored from a
// snapshot when fn fails or panics.
func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := (*s.st).clone()
	committed := false
	defer func() {
		if !committed {
			*s.st = snapshot
		}
	}()

	if err := fn(&Store{mu: s.mu, st: s.st, inTx: true, now: s.now}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Users() repository.UserRepository                 { return userRepo{s} }
func (s *Store) Leads() repository.LeadRepository                 { return leadRepo{s} }
func (s *Store) Providers() repository.ProviderRepository         { return providerRepo{s} }
func (s *Store) Proposals() repository.ProposalRepository         { return proposalRepo{s} }
func (s *Store) Conversations() repository.ConversationRepository { return conversationRepo{s} }
func (s *Store) LeadViews() repository.LeadViewRepository         { return leadViewRepo{s} }
func (s *Store) Subscriptions() repository.SubscriptionRepository { return subscriptionRepo{s} }
func (s *Store) Payments() repository.PaymentRepository           { return paymentRepo{s} }
func (s *Store) WebhookEvents() repository.WebhookEventRepository { return webhookRepo{s} }
func (s *Store) Tokens() repository.AccessTokenRepository         { return tokenRepo{s} }
func (s *Store) Notifications() repository.NotificationRepository { return notificationRepo{s} }
func (s *Store) Outbox() repository.OutboxRepository              { return outboxRepo{s} }
func (s *Store) Ledger() repository.DispatchLedgerRepository      { return ledgerRepo{s} }

func validate(v models.Validatable, what string) error {
	if err := v.Validate(); err != nil {
		return apperror.Validation("invalid_"+what, err)
	}
	return nil
}

func notFound(what string, id any) error {
	return apperror.NotFound(what+"_not_found", fmt.Errorf("%s %v", what, id))
}

func conflict(what string) error {
	return apperror.Conflict(what+"_exists", nil)
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *models.User) error {
	if err := validate(user, "user"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		for _, u := range st.users {
			if u.Email == user.Email {
				return conflict("user")
			}
		}
		user.ID = st.next("users")
		user.CreatedAt, user.UpdatedAt = r.s.now(), r.s.now()
		st.users[user.ID] = *user
		return nil
	})
}

func (r userRepo) GetByID(_ context.Context, id uint) (*models.User, error) {
	var out models.User
	err := r.s.do(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return notFound("user", id)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type providerRepo struct{ s *Store }

func (r providerRepo) Create(_ context.Context, p *models.ProviderProfile) error {
	if err := validate(p, "provider"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		for _, existing := range st.providers {
			if existing.UserID == p.UserID {
				return conflict("provider")
			}
		}
		p.ID = st.next("providers")
		p.CreatedAt, p.UpdatedAt = r.s.now(), r.s.now()
		st.providers[p.ID] = *p
		return nil
	})
}

func (r providerRepo) GetByID(_ context.Context, id uint) (*models.ProviderProfile, error) {
	var out models.ProviderProfile
	err := r.s.do(func(st *state) error {
		p, ok := st.providers[id]
		if !ok {
			return notFound("provider", id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r providerRepo) GetByUserID(_ context.Context, userID uint) (*models.ProviderProfile, error) {
	var out *models.ProviderProfile
	err := r.s.do(func(st *state) error {
		for _, p := range st.providers {
			if p.UserID == userID {
				p := p
				out = &p
				return nil
			}
		}
		return notFound("provider", userID)
	})
	return out, err
}

func (r providerRepo) ListApproved(_ context.Context) ([]models.ProviderProfile, error) {
	var out []models.ProviderProfile
	err := r.s.do(func(st *state) error {
		for _, id := range sortedKeys(st.providers) {
			if p := st.providers[id]; p.IsApproved() {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}
