// Package accesstoken issues and validates the opaque, expiring,
// resource-scoped tokens carried in email deep links.
package accesstoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
)

const tokenBytes = 32

// Auth error reasons.
const (
	ReasonNotFound = "token_not_found"
	ReasonExpired  = "token_expired"
	ReasonConsumed = "token_consumed"
	ReasonScope    = "token_scope"
)

// ConsumeOnUse lists the resource types whose tokens are spent by their
// first successful validation. The other types stay valid until expiry.
var ConsumeOnUse = map[string]bool{
	models.TokenResourceLead:         false,
	models.TokenResourceProposal:     true,
	models.TokenResourceDashboard:    true,
	models.TokenResourceConversation: false,
	models.TokenResourceRating:       false,
}

var linkTemplates = map[string]string{
	models.TokenResourceLead:         "/leads/{id}",
	models.TokenResourceProposal:     "/proposals/{id}",
	models.TokenResourceDashboard:    "/dashboard",
	models.TokenResourceConversation: "/conversations/{id}",
	models.TokenResourceRating:       "/ratings/{id}",
}

// IssueRequest describes a token to create. TTLDays of zero selects the
// default for the resource type. LinkID replaces the resource id in the
// deep link when set.
type IssueRequest struct {
	UserID       uint
	ResourceType string
	ResourceID   *uint
	TTLDays      int
	Metadata     map[string]any
	LinkID       string
}

// Issued is a freshly created token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	DeepLink  string
}

// Claims is what a valid token grants.
type Claims struct {
	Valid        bool
	TokenID      uint
	UserID       uint
	ResourceType string
	ResourceID   *uint
	Metadata     map[string]any
}

// Grantor issues and validates access tokens.
type Grantor struct {
	store      repository.Store
	baseURL    string
	defaultTTL map[string]int
	consume    map[string]bool
	metrics    *metrics.Metrics
	random     io.Reader
	now        func() time.Time
}

type Option func(*Grantor)

func WithClock(now func() time.Time) Option {
	return func(g *Grantor) { g.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Grantor) { g.metrics = m }
}

// WithRandom replaces the entropy source.
func WithRandom(r io.Reader) Option {
	return func(g *Grantor) { g.random = r }
}

func NewGrantor(store repository.Store, baseURL string, ttl config.TokenConfig, opts ...Option) *Grantor {
	g := &Grantor{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		defaultTTL: map[string]int{
			models.TokenResourceLead:         ttl.LeadTTLDays,
			models.TokenResourceProposal:     ttl.ProposalTTLDays,
			models.TokenResourceDashboard:    ttl.ProposalTTLDays,
			models.TokenResourceConversation: ttl.ConversationTTLDays,
			models.TokenResourceRating:       ttl.ConversationTTLDays,
		},
		consume: ConsumeOnUse,
		random:  rand.Reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// In returns a grantor that writes through the given store, typically a
// transaction.
func (g *Grantor) In(store repository.Store) *Grantor {
	cp := *g
	cp.store = store
	return &cp
}

func (g *Grantor) generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(g.random, b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue persists a new token and returns it with its deep link.
func (g *Grantor) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	tmpl, ok := linkTemplates[req.ResourceType]
	if !ok {
		return nil, apperror.Validation("unknown_resource_type", fmt.Errorf("resource type %q", req.ResourceType))
	}
	days := req.TTLDays
	if days <= 0 {
		days = g.defaultTTL[req.ResourceType]
	}
	if days <= 0 {
		return nil, apperror.Validation("invalid_ttl", fmt.Errorf("ttl %d days", days))
	}

	token, err := g.generate()
	if err != nil {
		return nil, err
	}
	expires := g.now().Add(time.Duration(days) * 24 * time.Hour)
	record := &models.AccessToken{
		Token:        token,
		UserID:       req.UserID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		ExpiresAt:    expires,
		Metadata:     req.Metadata,
	}
	if err := g.store.Tokens().Create(ctx, record); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	linkID := req.LinkID
	if linkID == "" && req.ResourceID != nil {
		linkID = strconv.FormatUint(uint64(*req.ResourceID), 10)
	}
	path := strings.ReplaceAll(tmpl, "{id}", linkID)
	return &Issued{
		Token:     token,
		ExpiresAt: expires,
		DeepLink:  fmt.Sprintf("%s%s?token=%s", g.baseURL, path, token),
	}, nil
}

// lookup loads the token and rejects unknown and expired ones.
func (g *Grantor) lookup(ctx context.Context, token string) (*models.AccessToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperror.Auth(ReasonNotFound, nil)
	}
	record, err := g.store.Tokens().GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Auth(ReasonNotFound, nil)
		}
		return nil, err
	}
	if record.IsExpired(g.now()) {
		return nil, apperror.Auth(ReasonExpired, nil)
	}
	return record, nil
}

// spend marks single-use tokens as used. Of two concurrent validations
// only the one whose conditional update lands succeeds.
func (g *Grantor) spend(ctx context.Context, record *models.AccessToken) error {
	if !g.consume[record.ResourceType] {
		return nil
	}
	if record.UsedAt != nil {
		return apperror.Auth(ReasonConsumed, nil)
	}
	ok, err := g.store.Tokens().MarkUsed(ctx, record.ID, g.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Auth(ReasonConsumed, nil)
	}
	return nil
}

func claimsOf(record *models.AccessToken) *Claims {
	return &Claims{
		Valid:        true,
		TokenID:      record.ID,
		UserID:       record.UserID,
		ResourceType: record.ResourceType,
		ResourceID:   record.ResourceID,
		Metadata:     record.Metadata,
	}
}

// Validate checks the token and spends it if its type is single-use.
func (g *Grantor) Validate(ctx context.Context, token string) (*Claims, error) {
	record, err := g.lookup(ctx, token)
	if err == nil {
		err = g.spend(ctx, record)
	}
	if err != nil {
		g.metrics.TokenValidation(resultLabel(err))
		return nil, err
	}
	g.metrics.TokenValidation("valid")
	return claimsOf(record), nil
}

// Require validates a token for a route: its type must be one of types and
// a resource-bound token must point at resourceID. Scope checks run before
// the token is spent so a misdirected token stays usable.
func (g *Grantor) Require(ctx context.Context, token string, resourceID uint, types ...string) (*Claims, error) {
	record, err := g.lookup(ctx, token)
	if err == nil && !slices.Contains(types, record.ResourceType) {
		err = apperror.Auth(ReasonScope, fmt.Errorf("token type %s", record.ResourceType))
	}
	if err == nil && record.ResourceID != nil && resourceID != 0 && *record.ResourceID != resourceID {
		err = apperror.Auth(ReasonScope, fmt.Errorf("token bound to %d", *record.ResourceID))
	}
	if err == nil {
		err = g.spend(ctx, record)
	}
	if err != nil {
		g.metrics.TokenValidation(resultLabel(err))
		return nil, err
	}
	g.metrics.TokenValidation("valid")
	return claimsOf(record), nil
}

// PurgeExpired deletes tokens that expired more than olderThan ago.
func (g *Grantor) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	return g.store.Tokens().DeleteExpiredBefore(ctx, g.now().Add(-olderThan))
}

func resultLabel(err error) string {
	if r := apperror.ReasonOf(err); r != "" {
		return r
	}
	return "error"
}
