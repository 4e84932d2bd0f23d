package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository/memory"
	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/ManuelReschke/LeadHub/internal/pkg/alerts"
	"github.com/ManuelReschke/LeadHub/internal/pkg/cache"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/lifecycle"
	"github.com/ManuelReschke/LeadHub/internal/pkg/mail"
	"github.com/ManuelReschke/LeadHub/internal/pkg/matching"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
	"github.com/ManuelReschke/LeadHub/internal/pkg/notify"
	"github.com/ManuelReschke/LeadHub/internal/pkg/payment"
	"github.com/ManuelReschke/LeadHub/internal/pkg/scheduler"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const internalSecret = "s3cret"

var now = time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type testApp struct {
	app      *fiber.App
	store    *memory.Store
	grantor  *accesstoken.Grantor
	owner    *models.User
	provider *models.User
	lead     *models.Lead
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := config.Config{
		AppEnv:          "test",
		InternalSecret:  internalSecret,
		MetricsUser:     "ops",
		MetricsPassword: "pw",
		Payment:         config.PaymentConfig{WebhookSecret: "whsec", SignatureHeader: "X-Webhook-Signature", Currency: "CHF"},
		Scheduler:       config.SchedulerConfig{BatchSize: 50, LockTTL: time.Minute},
		Tokens:          config.TokenConfig{LeadTTLDays: 7, ProposalTTLDays: 14, ConversationTTLDays: 30, PurgeAfter: time.Hour},
		RateLimit:       config.RateLimitConfig{Max: 1000, Expiration: time.Minute},
	}

	store := memory.New(memory.WithClock(clock))
	m := metrics.New()
	pub := alerts.LogPublisher{}
	grantor := accesstoken.NewGrantor(store, "https://app.leadhub.ch", cfg.Tokens, accesstoken.WithClock(clock))
	dispatcher := notify.NewDispatcher(mail.LogMailer{}, notify.WithClock(clock))
	lc := lifecycle.NewService(store, grantor, dispatcher, lifecycle.WithClock(clock))
	matcher := matching.NewMatcher(store, grantor, dispatcher, pub, matching.WithClock(clock))
	svc := scheduler.NewService(scheduler.Deps{
		Store:      store,
		Lifecycle:  lc,
		Matcher:    matcher,
		Grantor:    grantor,
		Dispatcher: dispatcher,
		Outbox:     notify.NewOutboxWorker(store, dispatcher, pub, 10, 3),
		Alerts:     pub,
		Metrics:    m,
	}, cfg.Scheduler, cfg.Tokens, scheduler.WithClock(clock))

	app := fiber.New()
	InstallRouter(app, Deps{
		Config:    cfg,
		Grantor:   grantor,
		Lifecycle: lc,
		Matcher:   matcher,
		Payments:  payment.NewProcessor(store, dispatcher, pub, cfg.Payment, payment.WithClock(clock)),
		Scheduler: scheduler.NewManager(svc, cache.NewLocalLocker(), cfg.Scheduler),
		Metrics:   m,
	})

	ta := &testApp{app: app, store: store, grantor: grantor}
	ctx := context.Background()
	ta.owner = &models.User{Name: "Olivia", Email: "olivia@example.ch", Phone: "+41 44 123 45 67", Role: models.ROLE_OWNER}
	require.NoError(t, store.Users().Create(ctx, ta.owner))
	ta.provider = &models.User{Name: "Paul Maler", Email: "paul@example.ch", Phone: "+41 79 765 43 21", Role: models.ROLE_PROVIDER}
	require.NoError(t, store.Users().Create(ctx, ta.provider))
	require.NoError(t, store.Providers().Create(ctx, &models.ProviderProfile{
		UserID:             ta.provider.ID,
		Categories:         []string{"maler"},
		ServiceAreas:       []string{"ZH"},
		VerificationStatus: models.VerificationApproved,
	}))
	deadline := now.Add(7 * 24 * time.Hour)
	ta.lead = &models.Lead{OwnerID: ta.owner.ID, Category: "maler", Canton: "ZH", PostalCode: "8004", Status: models.LeadStatusDraft, ProposalDeadline: &deadline}
	require.NoError(t, store.Leads().Create(ctx, ta.lead))
	return ta
}

func (ta *testApp) token(t *testing.T, userID uint, resourceType string, resourceID *uint) string {
	t.Helper()
	issued, err := ta.grantor.Issue(context.Background(), accesstoken.IssueRequest{UserID: userID, ResourceType: resourceType, ResourceID: resourceID})
	require.NoError(t, err)
	return issued.Token
}

func (ta *testApp) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func internal() map[string]string {
	return map[string]string{"X-Internal-Secret": internalSecret}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func leadPath(id uint, suffix string) string {
	return "/api/v1/leads/" + strconv.FormatUint(uint64(id), 10) + suffix
}

func proposalPath(id uint, suffix string) string {
	return "/api/v1/proposals/" + strconv.FormatUint(uint64(id), 10) + suffix
}

func TestProposalFlow(t *testing.T) {
	ta := newTestApp(t)
	publish := "/internal/leads/" + strconv.FormatUint(uint64(ta.lead.ID), 10) + "/publish"

	status, _ := ta.do(t, http.MethodPost, publish, "", nil)
	require.Equal(t, http.StatusForbidden, status)

	status, body := ta.do(t, http.MethodPost, publish, "", internal())
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["notified"])

	leadToken := ta.token(t, ta.provider.ID, models.TokenResourceLead, &ta.lead.ID)
	status, _ = ta.do(t, http.MethodPost, leadPath(ta.lead.ID, "/views"), "", bearer(leadToken))
	assert.Equal(t, http.StatusNoContent, status)

	status, body = ta.do(t, http.MethodPost, leadPath(ta.lead.ID, "/proposals"), `{"price_min":150000,"price_max":180000,"message":"Gerne übernehmen wir den Auftrag."}`, bearer(leadToken))
	require.Equal(t, http.StatusCreated, status, body)
	proposalID := uint(body["proposal_id"].(float64))

	// Contacts stay hidden until the owner accepts.
	convToken := ta.token(t, ta.provider.ID, models.TokenResourceConversation, &proposalID)
	status, body = ta.do(t, http.MethodGet, proposalPath(proposalID, "/contacts"), "", bearer(convToken))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "contacts_not_found", body["reason"])

	proposalToken := ta.token(t, ta.owner.ID, models.TokenResourceProposal, &proposalID)
	status, body = ta.do(t, http.MethodPost, proposalPath(proposalID, "/accept"), "", bearer(proposalToken))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, models.ProposalStatusAccepted, body["status"])
	assert.NotEmpty(t, body["conversation_id"])

	status, body = ta.do(t, http.MethodPost, proposalPath(proposalID, "/accept"), "", bearer(proposalToken))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, accesstoken.ReasonConsumed, body["reason"])

	status, body = ta.do(t, http.MethodGet, proposalPath(proposalID, "/contacts"), "", bearer(convToken))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, ta.owner.Email, body["email"])
	assert.Equal(t, ta.owner.Phone, body["phone"])
}

func TestTokenScope(t *testing.T) {
	ta := newTestApp(t)
	other := uint(999)
	leadToken := ta.token(t, ta.provider.ID, models.TokenResourceLead, &other)

	status, body := ta.do(t, http.MethodPost, leadPath(ta.lead.ID, "/views"), "", bearer(leadToken))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, accesstoken.ReasonScope, body["reason"])

	status, body = ta.do(t, http.MethodPost, leadPath(ta.lead.ID, "/views"), "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, accesstoken.ReasonNotFound, body["reason"])

	dashboard := ta.token(t, ta.owner.ID, models.TokenResourceDashboard, nil)
	status, _ = ta.do(t, http.MethodPost, leadPath(ta.lead.ID, "/views"), "", map[string]string{"X-Access-Token": dashboard})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestValidateToken(t *testing.T) {
	ta := newTestApp(t)
	token := ta.token(t, ta.provider.ID, models.TokenResourceLead, &ta.lead.ID)

	status, body := ta.do(t, http.MethodPost, "/api/v1/tokens/validate", `{"token":"`+token+`"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, models.TokenResourceLead, body["resource_type"])
	assert.EqualValues(t, ta.provider.ID, body["user_id"])

	status, body = ta.do(t, http.MethodPost, "/api/v1/tokens/validate", `{"token":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, accesstoken.ReasonNotFound, body["reason"])
}

func TestBatchRequiresDashboardToken(t *testing.T) {
	ta := newTestApp(t)
	dashboard := ta.token(t, ta.owner.ID, models.TokenResourceDashboard, nil)

	status, body := ta.do(t, http.MethodPost, "/api/v1/proposals/batch", `{"action":"archive","ids":[1]}`, bearer(dashboard))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_action", body["reason"])

	dashboard = ta.token(t, ta.owner.ID, models.TokenResourceDashboard, nil)
	status, body = ta.do(t, http.MethodPost, "/api/v1/proposals/batch", `{"action":"reject","ids":[41,42]}`, bearer(dashboard))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["failed"])
	assert.Equal(t, map[string]any{"41": "proposal_not_found", "42": "proposal_not_found"}, body["errors"])

	leadToken := ta.token(t, ta.provider.ID, models.TokenResourceLead, &ta.lead.ID)
	status, _ = ta.do(t, http.MethodPost, "/api/v1/proposals/batch", `{"action":"reject","ids":[1]}`, bearer(leadToken))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestWebhookRoute(t *testing.T) {
	ta := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader("transaction=%7B%7D"))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "deadbeef")

	body := []byte("transaction=%7B%22id%22%3A1%7D")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	req.Header.Set("X-Webhook-Signature", payment.Sign(body, "whsec"))
	resp, err = ta.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobRoutes(t *testing.T) {
	ta := newTestApp(t)

	status, body := ta.do(t, http.MethodPost, "/internal/jobs/"+scheduler.JobPurgeTokens, "", internal())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, scheduler.JobPurgeTokens, body["job"])

	status, body = ta.do(t, http.MethodPost, "/internal/jobs/reindex", "", internal())
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_job", body["reason"])

	status, body = ta.do(t, http.MethodGet, "/internal/jobs", "", internal())
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["jobs"], len(scheduler.Jobs))
	assert.Equal(t, false, body["running"])
}

func TestCheckoutRoute(t *testing.T) {
	ta := newTestApp(t)
	path := "/internal/users/" + strconv.FormatUint(uint64(ta.provider.ID), 10) + "/checkout"

	status, body := ta.do(t, http.MethodPost, path, `{"plan":"annual"}`, internal())
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 96000, body["amount"])
	assert.True(t, strings.HasPrefix(body["reference_id"].(string), strconv.FormatUint(uint64(ta.provider.ID), 10)+"-annual-"))

	status, body = ta.do(t, http.MethodPost, path, `{"plan":"lifetime"}`, internal())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_plan", body["reason"])
}

func TestMetricsRequireBasicAuth(t *testing.T) {
	ta := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("ops", "pw")
	resp, err = ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
