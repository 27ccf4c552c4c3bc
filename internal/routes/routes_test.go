package routes

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/handlers"
	"github.com/gemxhub/backend/internal/middleware"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gemxhub/backend/internal/services/auth"
	"github.com/gemxhub/backend/internal/services/email"
	"github.com/gemxhub/backend/internal/services/idempotency"
	"github.com/gemxhub/backend/internal/services/referral"
	"github.com/gemxhub/backend/internal/services/user"
	"github.com/gemxhub/backend/internal/services/wallet"
	"github.com/gemxhub/backend/internal/testutil"
	"github.com/gemxhub/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(event string, data interface{}) {
	m.Called(event, data)
}

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	tokens   *utils.TokenManager
	notifier *mockNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.RegisterValidators()

	db := testutil.NewTestDB(t)
	rdb, _ := testutil.NewTestRedis(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tokens := utils.NewTokenManagerFromKey(key, "gemxhub", time.Hour)

	cfg := &config.Config{
		Wallet: config.WalletConfig{
			Currencies:         config.ParseCurrencies("points:0,usdt:6"),
			AllowCustom:        true,
			DailyLoginReward:   10,
			DailyLoginCurrency: "points",
		},
		Idempotency: config.IdempotencyConfig{LockTTL: 5 * time.Second, ResultTTL: time.Hour, RetryWait: 200 * time.Millisecond},
		Services: config.ParseServiceRegistry(
			"order-service:order-key:credit|debit|balance|transaction," +
				"report-service:report-key:balance," +
				"growth-service:growth-key:users|referral"),
		RateLimit:   config.RateLimitConfig{IPRequestsPerSecond: 1000, IPBurst: 1000, AuthRequestsPerMinute: 60000, AuthBurst: 1000},
		OTP:         config.OTPConfig{TTL: 5 * time.Minute, MaxAttempts: 5},
		SIWE:        config.SIWEConfig{Domain: "app.test", NonceTTL: 10 * time.Minute},
		FrontendURL: "http://app.test",
		Environment: "test",
	}

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return()

	wallets := wallet.NewService(db, cfg.Wallet, notifier)
	referrals := referral.NewService(db, notifier)
	users := user.NewService(db, wallets, cfg.Wallet, notifier)
	authService := auth.NewService(db, rdb, tokens, email.NewEmailService(cfg.SMTP), cfg)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	t.Cleanup(rateLimiter.Stop)

	router := NewRouter(Dependencies{
		Config:      cfg,
		Tokens:      tokens,
		Idempotency: idempotency.NewStore(rdb, cfg.Idempotency),
		RateLimiter: rateLimiter,
	}, Handlers{
		Auth:           handlers.NewAuthHandler(authService),
		User:           handlers.NewUserHandler(users),
		Wallet:         handlers.NewWalletHandler(wallets),
		InternalWallet: handlers.NewInternalWalletHandler(wallets),
		Referral:       handlers.NewReferralHandler(referrals, users),
		Health:         handlers.NewHealthHandler(db, rdb),
	})

	return &testEnv{router: router, db: db, tokens: tokens, notifier: notifier}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) bearer(t *testing.T, u models.User) map[string]string {
	pair, err := e.tokens.Generate(u.ID, u.Email)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + pair.AccessToken}
}

func (e *testEnv) createUser(t *testing.T, emailAddr string) models.User {
	u := models.User{Email: emailAddr}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func service(name, key, idemKey string) map[string]string {
	h := map[string]string{middleware.HeaderServiceName: name, middleware.HeaderAPIKey: key}
	if idemKey != "" {
		h[middleware.HeaderIdempotencyKey] = idemKey
	}
	return h
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestIdempotentCreditReplay(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "buyer@example.com")
	body := fmt.Sprintf(`{"userId":%d,"currency":"points","amount":100,"description":"bonus","referenceId":"order_1"}`, u.ID)

	first := env.do(http.MethodPost, "/api/internal/wallet/credit", body, service("order-service", "order-key", "key-1"))
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(middleware.HeaderReplayed))

	for i := 0; i < 2; i++ {
		again := env.do(http.MethodPost, "/api/internal/wallet/credit", body, service("order-service", "order-key", "key-1"))
		assert.Equal(t, http.StatusOK, again.Code)
		assert.Equal(t, first.Body.String(), again.Body.String())
		assert.Equal(t, "true", again.Header().Get(middleware.HeaderReplayed))
	}

	var count int64
	env.db.Model(&models.WalletTransaction{}).Count(&count)
	assert.Equal(t, int64(1), count)

	var tx wallet.AuditTransaction
	decode(t, first, &tx)
	assert.Equal(t, int64(100), tx.Amount)
	require.NotNil(t, tx.InternalNotes)
	assert.Equal(t, "via order-service", *tx.InternalNotes)
	require.NotNil(t, tx.ReferenceID)
	assert.Equal(t, "order-service:order_1", *tx.ReferenceID)

	env.notifier.AssertCalled(t, "Notify", wallet.EventWalletCredited, mock.Anything)
	env.notifier.AssertNumberOfCalls(t, "Notify", 1)

	reformatted := fmt.Sprintf("{\n  \"referenceId\": \"order_1\",\n  \"amount\": 100,\n  \"currency\": \"points\",\n  \"description\": \"bonus\",\n  \"userId\": %d\n}", u.ID)
	replay := env.do(http.MethodPost, "/api/internal/wallet/credit", reformatted, service("order-service", "order-key", "key-1"))
	assert.Equal(t, http.StatusOK, replay.Code, replay.Body.String())
	assert.Equal(t, "true", replay.Header().Get(middleware.HeaderReplayed))
	env.notifier.AssertNumberOfCalls(t, "Notify", 1)

	changed := strings.Replace(body, `"amount":100`, `"amount":101`, 1)
	w := env.do(http.MethodPost, "/api/internal/wallet/credit", changed, service("order-service", "order-key", "key-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDebitInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "buyer@example.com")

	credit := fmt.Sprintf(`{"userId":%d,"currency":"points","amount":100,"description":"bonus"}`, u.ID)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/internal/wallet/credit", credit, service("order-service", "order-key", "c-1")).Code)

	debit := fmt.Sprintf(`{"userId":%d,"currency":"points","amount":150,"description":"purchase"}`, u.ID)
	w := env.do(http.MethodPost, "/api/internal/wallet/debit", debit, service("order-service", "order-key", "d-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INSUFFICIENT_BALANCE"`)

	// failures are not cached, so the same key can be retried
	w = env.do(http.MethodPost, "/api/internal/wallet/debit", debit, service("order-service", "order-key", "d-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Header().Get(middleware.HeaderReplayed))

	w = env.do(http.MethodGet, fmt.Sprintf("/api/internal/wallet/balance/%d", u.ID), "", service("report-service", "report-key", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"points":100,"usdt":0}`, w.Body.String())

	zero := fmt.Sprintf(`{"userId":%d,"currency":"points","amount":0,"description":"nothing"}`, u.ID)
	w = env.do(http.MethodPost, "/api/internal/wallet/debit", zero, service("order-service", "order-key", "d-2"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_AMOUNT"`)
}

func TestServicePermissions(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "buyer@example.com")
	body := fmt.Sprintf(`{"userId":%d,"currency":"points","amount":5,"description":"x"}`, u.ID)

	w := env.do(http.MethodPost, "/api/internal/wallet/credit", body, service("report-service", "report-key", "k"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/internal/wallet/credit", body, service("order-service", "wrong", "k"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/internal/wallet/credit", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/internal/wallet/credit", body, service("order-service", "order-key", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code, "Idempotency-Key is required")
}

func TestTransactionLookup(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "buyer@example.com")
	body := fmt.Sprintf(`{"userId":%d,"currency":"usdt","amount":2500000,"description":"deposit","referenceId":"order_77"}`, u.ID)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/internal/wallet/credit", body, service("order-service", "order-key", "k-77")).Code)

	path := fmt.Sprintf("/api/internal/wallet/transaction?walletType=usdt&transactionType=credit&referenceId=order_77&userId=%d", u.ID)
	w := env.do(http.MethodGet, path, "", service("order-service", "order-key", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var tx wallet.AuditTransaction
	decode(t, w, &tx)
	assert.Equal(t, "2.500000", tx.AmountDisplay)
	assert.Equal(t, u.ID, tx.UserID)

	w = env.do(http.MethodGet, "/api/internal/wallet/transaction?walletType=usdt&transactionType=DEBIT&referenceId=order_77", "", service("order-service", "order-key", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", w.Body.String())

	w = env.do(http.MethodGet, "/api/internal/wallet/transaction?walletType=usdt&transactionType=REFUND&referenceId=x", "", service("order-service", "order-key", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserWalletRoutes(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "player@example.com")
	headers := env.bearer(t, u)

	w := env.do(http.MethodGet, "/api/v1/wallet/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/v1/users/daily-login", "", headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"claimed":true`)

	w = env.do(http.MethodGet, "/api/v1/wallet/balance", "", headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"points":10,"usdt":0}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/v1/wallet/transactions?currency=points&page=1&limit=10", "", headers)
	require.Equal(t, http.StatusOK, w.Code)
	var page wallet.TransactionPage
	decode(t, w, &page)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "points", page.Transactions[0].Wallet.Currency)
	assert.Equal(t, int64(1), page.Pagination.Total)
	assert.NotContains(t, w.Body.String(), "internalNotes")

	w = env.do(http.MethodGet, "/api/v1/wallet/transactions?limit=1000", "", headers)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPatch, "/api/v1/users/me", `{"display_name":"Player One"}`, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"display_name":"Player One"`)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestTransactionsPaginationDefaults(t *testing.T) {
	env := newTestEnv(t)
	u := env.createUser(t, "player@example.com")
	headers := env.bearer(t, u)

	w := env.do(http.MethodPost, "/api/v1/users/daily-login", "", headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, query := range []string{"", "?currency=points", "?page=1", "?limit=5"} {
		w = env.do(http.MethodGet, "/api/v1/wallet/transactions"+query, "", headers)
		require.Equal(t, http.StatusOK, w.Code, "query %q: %s", query, w.Body.String())

		var page wallet.TransactionPage
		decode(t, w, &page)
		assert.Len(t, page.Transactions, 1, query)
		assert.Equal(t, 1, page.Pagination.Page, query)
	}

	w = env.do(http.MethodGet, "/api/v1/wallet/transactions", "", headers)
	var page wallet.TransactionPage
	decode(t, w, &page)
	assert.Equal(t, wallet.DefaultPageSize, page.Pagination.Limit)

	w = env.do(http.MethodGet, "/api/v1/wallet/transactions?page=0", "", headers)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReferralRoutes(t *testing.T) {
	env := newTestEnv(t)
	referrer := env.createUser(t, "ref@example.com")
	invitee := env.createUser(t, "new@example.com")

	w := env.do(http.MethodGet, "/api/v1/referral/referral-code", "", env.bearer(t, referrer))
	require.Equal(t, http.StatusOK, w.Code)
	var code struct {
		ReferralCode string `json:"referral_code"`
	}
	decode(t, w, &code)

	w = env.do(http.MethodPost, "/api/v1/referral/referrer", fmt.Sprintf(`{"referralCode":%q}`, code.ReferralCode), env.bearer(t, invitee))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), fmt.Sprintf(`"referrer_id":%d`, referrer.ID))
	env.notifier.AssertCalled(t, "Notify", referral.EventReferralCreated, mock.Anything)

	w = env.do(http.MethodPost, "/api/v1/referral/referrer", fmt.Sprintf(`{"referralCode":%q}`, code.ReferralCode), env.bearer(t, invitee))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodGet, "/api/v1/referral/referrals-count", "", env.bearer(t, referrer))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":1,"active":0}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/v1/referral/referrals", "", env.bearer(t, referrer))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "new@example.com")
}

func TestReferralServiceBatches(t *testing.T) {
	env := newTestEnv(t)
	growth := service("growth-service", "growth-key", "")
	root := env.createUser(t, "root@example.com")

	body := fmt.Sprintf(`{"users":[{"email":"a@example.com","referrerId":%d},{"email":"root@example.com"}]}`, root.ID)
	w := env.do(http.MethodPost, "/api/internal/referral/", body, growth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created user.BatchCreateResult
	decode(t, w, &created)
	require.Len(t, created.Created, 1)
	require.Len(t, created.Failed, 1)

	child := created.Created[0]
	pairs := fmt.Sprintf(`{"pairs":[{"userId":%d,"referrerId":%d},{"userId":%d,"referrerId":%d}]}`,
		root.ID, child.ID, child.ID, root.ID)
	w = env.do(http.MethodPost, "/api/internal/referral/referrers", pairs, growth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result referral.BatchResult
	decode(t, w, &result)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "circular reference", result.Failed[0].Reason)
	assert.Len(t, result.Updated, 1)

	w = env.do(http.MethodPost, "/api/internal/referral/referrers", `{"pairs":[]}`, growth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/internal/referral/referrers", pairs, service("order-service", "order-key", ""))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/auth/register", `{"email":"me@example.com","password":"long enough"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/api/v1/auth/login", `{"email":"me@example.com","password":"long enough"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res auth.AuthResponse
	decode(t, w, &res)

	w = env.do(http.MethodGet, "/api/v1/users/me", "", map[string]string{"Authorization": "Bearer " + res.Token.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"email":"me@example.com"`)

	w = env.do(http.MethodPost, "/api/v1/auth/register", `{"email":"not-an-email","password":"long enough"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/v1/auth/siwe/nonce", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"nonce"`)

	w = env.do(http.MethodGet, "/api/v1/auth/oauth/myspace/url", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodDelete, "/api/v1/auth/social/google", "", map[string]string{"Authorization": "Bearer " + res.Token.AccessToken})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
