package api_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/transfer-core/internal/api"
	"github.com/ayo6706/transfer-core/internal/api/handler"
	"github.com/ayo6706/transfer-core/internal/api/middleware"
	"github.com/ayo6706/transfer-core/internal/api/problem"
	"github.com/ayo6706/transfer-core/internal/config"
	"github.com/ayo6706/transfer-core/internal/domain"
	"github.com/ayo6706/transfer-core/internal/gateway"
	"github.com/ayo6706/transfer-core/internal/idempotency"
	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/ayo6706/transfer-core/internal/observability"
	"github.com/ayo6706/transfer-core/internal/policy"
	"github.com/ayo6706/transfer-core/internal/repository/memstore"
	"github.com/ayo6706/transfer-core/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "transfer-core-test"
	testJWTAudience = "transfer-api-test"
	testHMACKey     = "callback-secret"
)

func TestMain(m *testing.M) {
	observability.Init()
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	store   *memstore.Store
	admin   uuid.UUID
	manager uuid.UUID
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	limits := policy.DefaultLimitPolicy()
	router := policy.NewApprovalRouter(limits)
	opts := []service.Option{service.WithLocation(time.FixedZone("America/Costa_Rica", -6*60*60))}

	validator := service.NewTransferValidator(store, limits, policy.NewFeeCalculator(limits), router, "BCR", opts...)
	executor := service.NewTransferExecutor(store, validator, opts...)
	approvals := service.NewApprovalWorkflow(store, executor, router, opts...)
	scheduler := service.NewSchedulingManager(store, validator, executor, time.Hour, opts...)
	settlements := service.NewSettlementService(store, &gateway.MockGateway{}, opts...)

	cfg := &config.Config{
		HTTPPort:             "0",
		JWTSecret:            testJWTSecret,
		JWTIssuer:            testJWTIssuer,
		JWTAudience:          testJWTAudience,
		WebhookHMACKey:       testHMACKey,
		PublicRateLimitRPS:   1000,
		AuthRateLimitRPS:     1000,
		CORSAllowedOrigins:   []string{"*"},
		IdempotencyTTL:       time.Hour,
		SettlementBatchSize:  5,
		SchedulerSpec:        "@every 1m",
		ScheduleCancelGrace:  time.Hour,
		HomeBankCode:         "BCR",
		StorageDriver:        config.StorageDriverMemory,
		WebhookSkipSignature: false,
	}
	services := api.Services{
		Transfers:     service.NewTransferService(store, validator, executor, approvals, scheduler),
		Approvals:     approvals,
		Scheduler:     scheduler,
		Accounts:      service.NewAccountService(store, limits),
		Beneficiaries: service.NewBeneficiaryService(store, limits),
		Settlements:   settlements,
		Callbacks:     service.NewSettlementCallbackService(settlements, testHMACKey, false),
	}
	idemStore := idempotency.NewStore(client, store, cfg.IdempotencyTTL)
	redisPinger := handler.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })

	return &testAPI{
		t:       t,
		handler: api.NewRouter(cfg, zap.NewNop(), services, idemStore, nil, redisPinger).Routes(),
		store:   store,
		admin:   uuid.New(),
		manager: uuid.New(),
	}
}

func generateTokenWithRole(userID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"sub":     userID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString(middleware.JWTSecret())
	return tokenString
}

func (a *testAPI) do(method, path string, userID uuid.UUID, role string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+generateTokenWithRole(userID.String(), role))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func (a *testAPI) openAccount(owner uuid.UUID, number, currency string, balance, dailyLimit int64) models.Account {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/accounts", a.admin, "admin", map[string]any{
		"customer_id": owner.String(),
		"number":      number,
		"holder_name": "Holder " + number,
		"currency":    currency,
		"balance":     balance,
		"daily_limit": dailyLimit,
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var acc models.Account
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &acc))
	return acc
}

func (a *testAPI) execute(userID uuid.UUID, key string, body map[string]any) *httptest.ResponseRecorder {
	a.t.Helper()
	return a.do(http.MethodPost, "/v1/transfers/execute", userID, "customer", body, "Idempotency-Key", key)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func requireProblem(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	p := decode[problem.Details](t, w)
	assert.Equal(t, code, p.Code)
	assert.Equal(t, status, p.Status)
}

func TestRFC7807ProblemDetails(t *testing.T) {
	a := setupAPI(t)

	w := a.do(http.MethodGet, "/v1/transfers/my-transfers", uuid.Nil, "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	p := decode[problem.Details](t, w)
	assert.Equal(t, problem.Type("auth/authorization-header-required"), p.Type)
	assert.Equal(t, "/v1/transfers/my-transfers", p.Instance)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestPreCheckThenExecute(t *testing.T) {
	a := setupAPI(t)
	alice := uuid.New()
	src := a.openAccount(alice, "CR-0001", "CRC", 10_000, 0)
	a.openAccount(uuid.New(), "CR-0002", "CRC", 0, 0)

	body := map[string]any{
		"source_account_id":          src.ID.String(),
		"destination_account_number": "CR-0002",
		"amount":                     2_000,
		"currency":                   "CRC",
	}

	w := a.do(http.MethodPost, "/v1/transfers/pre-check", alice, "customer", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	quote := decode[models.PreCheckResult](t, w)
	assert.True(t, quote.Valid)
	assert.Equal(t, int64(500), quote.Fee)
	assert.Equal(t, int64(2_500), quote.TotalDebit)
	assert.Equal(t, int64(7_500), quote.ResultingBalance)
	assert.Equal(t, "Holder CR-0002", quote.DestinationName)

	w = a.execute(alice, "exec-1", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rec := decode[models.TransferRecord](t, w)
	assert.Equal(t, domain.TransferStatusExecuted, rec.Status)
	require.NotNil(t, rec.SettlementRef)
	assert.Regexp(t, `^TRF-\d{8}-[0-9A-F]{8}$`, *rec.SettlementRef)

	replay := a.execute(alice, "exec-1", body)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.NotEmpty(t, replay.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, rec.ID, decode[models.TransferRecord](t, replay).ID)

	changed := map[string]any{}
	for k, v := range body {
		changed[k] = v
	}
	changed["amount"] = 2_100
	conflict := a.execute(alice, "exec-1", changed)
	require.Equal(t, http.StatusConflict, conflict.Code)

	w = a.do(http.MethodGet, "/v1/accounts/"+src.ID.String()+"/balance", alice, "customer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7_500), decode[models.Account](t, w).Balance)

	w = a.do(http.MethodGet, "/v1/transfers/"+rec.ID.String(), alice, "customer", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/v1/transfers/"+rec.ID.String(), uuid.New(), "customer", nil)
	requireProblem(t, w, http.StatusNotFound, "TransferNotFound")

	w = a.do(http.MethodGet, "/v1/transfers/my-transfers?limit=10", alice, "customer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []models.TransferRecord `json:"items"`
		Count int                     `json:"count"`
	}](t, w)
	assert.Equal(t, 1, list.Count)
}

func TestExecuteMapsDomainErrors(t *testing.T) {
	a := setupAPI(t)
	alice := uuid.New()
	src := a.openAccount(alice, "CR-0001", "CRC", 1_000, 0)
	a.openAccount(uuid.New(), "CR-0002", "CRC", 0, 0)

	cases := []struct {
		name   string
		user   uuid.UUID
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "insufficient_funds",
			user:   alice,
			body:   map[string]any{"source_account_id": src.ID.String(), "destination_account_number": "CR-0002", "amount": 900, "currency": "CRC"},
			status: http.StatusUnprocessableEntity,
			code:   "InsufficientFunds",
		},
		{
			name:   "same_account",
			user:   alice,
			body:   map[string]any{"source_account_id": src.ID.String(), "destination_account_number": "CR-0001", "amount": 200, "currency": "CRC"},
			status: http.StatusBadRequest,
			code:   "SameAccount",
		},
		{
			name:   "unknown_source",
			user:   alice,
			body:   map[string]any{"source_account_id": uuid.NewString(), "destination_account_number": "CR-0002", "amount": 200, "currency": "CRC"},
			status: http.StatusNotFound,
			code:   "AccountNotFound",
		},
		{
			name:   "not_owner",
			user:   uuid.New(),
			body:   map[string]any{"source_account_id": src.ID.String(), "destination_account_number": "CR-0002", "amount": 200, "currency": "CRC"},
			status: http.StatusForbidden,
			code:   "Unauthorized",
		},
		{
			name:   "malformed_source",
			user:   alice,
			body:   map[string]any{"source_account_id": "nope", "destination_account_number": "CR-0002", "amount": 200, "currency": "CRC"},
			status: http.StatusBadRequest,
			code:   "InvalidRequest",
		},
		{
			name:   "zero_amount",
			user:   alice,
			body:   map[string]any{"source_account_id": src.ID.String(), "destination_account_number": "CR-0002", "amount": 0, "currency": "CRC"},
			status: http.StatusBadRequest,
			code:   "InvalidAmount",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w := a.execute(tc.user, "err-"+tc.name, tc.body)
			requireProblem(t, w, tc.status, tc.code)
			p := decode[problem.Details](t, w)
			assert.True(t, strings.HasPrefix(p.Type, problem.Type("transfer/")), p.Type)

			pre := a.do(http.MethodPost, "/v1/transfers/pre-check", tc.user, "customer", tc.body)
			require.Equal(t, http.StatusOK, pre.Code)
			quote := decode[models.PreCheckResult](t, pre)
			assert.False(t, quote.Valid)
			assert.Equal(t, tc.code, quote.Code)
		})
	}

	w := a.do(http.MethodPost, "/v1/transfers/execute", alice, "customer", map[string]any{"source_account_id": src.ID.String()})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, problem.Type("idempotency/missing-key"), decode[problem.Details](t, w).Type)
}

func TestApprovalOverHTTP(t *testing.T) {
	a := setupAPI(t)
	alice := uuid.New()
	src := a.openAccount(alice, "CR-0001", "CRC", 20_000_000, 50_000_000)
	a.openAccount(uuid.New(), "CR-0002", "CRC", 0, 0)

	body := map[string]any{"source_account_id": src.ID.String(), "destination_account_number": "CR-0002", "amount": 1_500_000, "currency": "CRC"}
	w := a.execute(alice, "big-1", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	pending := decode[models.TransferRecord](t, w)
	assert.Equal(t, domain.TransferStatusPendingApproval, pending.Status)
	assert.Equal(t, string(domain.RoleManager), pending.RequiredApproverRole)

	approvePath := "/v1/transfers/" + pending.ID.String() + "/approve"
	w = a.do(http.MethodPut, approvePath, alice, "customer", map[string]string{"notes": "mine"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPut, "/v1/transfers/"+pending.ID.String()+"/reject", a.manager, "manager", map[string]string{"reason": "short"})
	requireProblem(t, w, http.StatusBadRequest, "ReasonTooShort")

	w = a.do(http.MethodGet, "/v1/high-value-operations/pending", a.manager, "manager", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = a.do(http.MethodPut, approvePath, a.manager, "manager", map[string]string{"notes": "verified by phone"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decode[models.TransferRecord](t, w)
	assert.Equal(t, domain.TransferStatusExecuted, approved.Status)
	require.NotNil(t, approved.ReviewNotes)
	assert.Equal(t, "verified by phone", *approved.ReviewNotes)

	w = a.do(http.MethodPut, approvePath, a.manager, "manager", nil)
	requireProblem(t, w, http.StatusConflict, "InvalidStateTransition")

	w = a.execute(alice, "big-2", map[string]any{"source_account_id": src.ID.String(), "destination_account_number": "CR-0002", "amount": 1_200_000, "currency": "CRC"})
	require.Equal(t, http.StatusAccepted, w.Code)
	second := decode[models.TransferRecord](t, w)

	w = a.do(http.MethodPut, "/v1/transfers/"+second.ID.String()+"/reject", a.manager, "gestor", map[string]string{"razon": "beneficiary could not be verified"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rejected := decode[models.TransferRecord](t, w)
	assert.Equal(t, domain.TransferStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
}

func TestHighValueOperations(t *testing.T) {
	a := setupAPI(t)
	alice := uuid.New()
	src := a.openAccount(alice, "CR-0001", "CRC", 20_000_000, 50_000_000)
	a.openAccount(uuid.New(), "CR-0002", "CRC", 0, 0)

	w := a.execute(alice, "hv-1", map[string]any{"source_account_id": src.ID.String(), "destination_account_number": "CR-0002", "amount": 6_000_000, "currency": "CRC"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	rec := decode[models.TransferRecord](t, w)
	assert.True(t, rec.HighValue)
	assert.Equal(t, string(domain.RoleAdmin), rec.RequiredApproverRole)

	w = a.do(http.MethodGet, "/v1/high-value-operations", alice, "customer", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodGet, "/v1/high-value-operations/high-risk", a.manager, "manager", nil)
	require.Equal(t, http.StatusOK, w.Code)
	risky := decode[struct {
		Items []models.TransferRecord `json:"items"`
	}](t, w)
	require.Len(t, risky.Items, 1)
	assert.Equal(t, rec.ID, risky.Items[0].ID)

	w = a.do(http.MethodPut, "/v1/high-value-operations/"+rec.ID.String()+"/approve", a.manager, "manager", nil)
	requireProblem(t, w, http.StatusUnprocessableEntity, "InsufficientApprovalAuthority")

	w = a.do(http.MethodPut, "/v1/high-value-operations/"+rec.ID.String()+"/notes", a.manager, "manager", map[string]string{"notes": "customer called branch"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, "/v1/high-value-operations/export/csv", a.manager, "manager", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	rows, err := csv.NewReader(bytes.NewReader(w.Body.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, rec.ID.String(), rows[1][0])

	blockPath := "/v1/high-value-operations/" + rec.ID.String() + "/block"
	w = a.do(http.MethodPut, blockPath, a.manager, "manager", map[string]string{"reason": "suspected account takeover"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPut, blockPath, a.admin, "admin", map[string]string{"reason": "suspected account takeover"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.TransferStatusRejected, decode[models.TransferRecord](t, w).Status)

	w = a.do(http.MethodGet, "/v1/accounts/"+src.ID.String()+"/balance", a.admin, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	acc := decode[models.Account](t, w)
	assert.Equal(t, domain.AccountStatusBlocked, acc.Status)
	assert.Zero(t, acc.Held)
}

func TestSchedulingEndpoints(t *testing.T) {
	a := setupAPI(t)
	alice := uuid.New()
	src := a.openAccount(alice, "CR-0001", "CRC", 10_000, 0)
	a.openAccount(uuid.New(), "CR-0002", "CRC", 0, 0)

	at := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	w := a.execute(alice, "sched-1", map[string]any{
		"source_account_id":          src.ID.String(),
		"destination_account_number": "CR-0002",
		"amount":                     1_000,
		"currency":                   "CRC",
		"scheduled_at":               at,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	rec := decode[models.TransferRecord](t, w)
	assert.Equal(t, domain.TransferStatusScheduled, rec.Status)

	w = a.execute(alice, "sched-today", map[string]any{
		"source_account_id":          src.ID.String(),
		"destination_account_number": "CR-0002",
		"amount":                     1_000,
		"currency":                   "CRC",
		"scheduled_at":               time.Now().Add(time.Minute).UTC(),
	})
	requireProblem(t, w, http.StatusBadRequest, "InvalidScheduleDate")

	w = a.do(http.MethodGet, "/v1/scheduling/my-schedules", alice, "customer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	schedules := decode[struct {
		Items []models.ScheduledTransfer `json:"items"`
	}](t, w)
	require.Len(t, schedules.Items, 1)
	assert.True(t, schedules.Items[0].Cancellable)
	assert.Equal(t, rec.ID, schedules.Items[0].Transfer.ID)

	w = a.do(http.MethodPut, "/v1/scheduling/"+rec.ID.String()+"/cancelar", uuid.New(), "customer", nil)
	requireProblem(t, w, http.StatusForbidden, "Unauthorized")

	w = a.do(http.MethodPut, "/v1/scheduling/"+rec.ID.String()+"/cancelar", alice, "customer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.TransferStatusCancelled, decode[models.TransferRecord](t, w).Status)

	w = a.do(http.MethodPut, "/v1/scheduling/not-a-uuid/cancelar", alice, "customer", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBeneficiaryEndpoints(t *testing.T) {
	a := setupAPI(t)
	alice := uuid.New()

	w := a.do(http.MethodPost, "/v1/beneficiaries", alice, "customer", map[string]string{
		"alias":          "landlord",
		"account_number": "US-9",
		"bank_code":      "bac",
		"currency":       "USD",
		"holder_name":    "Landlord",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b := decode[models.Beneficiary](t, w)
	assert.Equal(t, domain.BeneficiaryStatusPending, b.Status)
	assert.Equal(t, "BAC", b.BankCode)

	w = a.do(http.MethodPut, "/v1/beneficiaries/"+b.ID.String()+"/confirm", alice, "customer", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPut, "/v1/beneficiaries/"+b.ID.String()+"/confirm", a.admin, "administrador", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.BeneficiaryStatusConfirmed, decode[models.Beneficiary](t, w).Status)

	w = a.do(http.MethodPut, "/v1/beneficiaries/"+uuid.NewString()+"/reject", a.admin, "admin", nil)
	requireProblem(t, w, http.StatusNotFound, "BeneficiaryNotFound")

	w = a.do(http.MethodGet, "/v1/beneficiaries", alice, "customer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)
}

func TestAccountEndpoints(t *testing.T) {
	a := setupAPI(t)
	alice := uuid.New()
	acc := a.openAccount(alice, "CR-0001", "CRC", 1_000, 0)

	w := a.do(http.MethodPost, "/v1/accounts", alice, "customer", map[string]any{"customer_id": alice.String(), "number": "CR-9", "currency": "CRC"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPost, "/v1/accounts", a.admin, "admin", map[string]any{"customer_id": alice.String(), "number": "CR-0001", "currency": "CRC"})
	requireProblem(t, w, http.StatusBadRequest, "InvalidRequest")

	w = a.do(http.MethodGet, "/v1/accounts/"+acc.ID.String()+"/balance", uuid.New(), "customer", nil)
	requireProblem(t, w, http.StatusNotFound, "AccountNotFound")

	w = a.do(http.MethodGet, "/v1/accounts", alice, "customer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)
}

func TestSettlementEndpoints(t *testing.T) {
	a := setupAPI(t)
	alice := uuid.New()
	src := a.openAccount(alice, "US-0001", "USD", 10_000, 0)

	w := a.do(http.MethodPost, "/v1/beneficiaries", alice, "customer", map[string]string{
		"alias": "landlord", "account_number": "US-9", "bank_code": "BAC", "currency": "USD", "holder_name": "Landlord",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	b := decode[models.Beneficiary](t, w)
	w = a.do(http.MethodPut, "/v1/beneficiaries/"+b.ID.String()+"/confirm", a.admin, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.execute(alice, "ext-1", map[string]any{"source_account_id": src.ID.String(), "beneficiary_id": b.ID.String(), "amount": 1_000, "currency": "USD"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, domain.TransferKindExternal, decode[models.TransferRecord](t, w).Kind)

	pending, err := a.store.Queries().GetPendingSettlements(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	settlementID := pending[0].ID

	failed, err := json.Marshal(map[string]string{"settlement_id": settlementID.String(), "status": "failed", "reason": "beneficiary bank rejected"})
	require.NoError(t, err)

	w = a.do(http.MethodPost, "/v1/webhooks/settlements", uuid.Nil, "", failed, "X-Signature", "sha256=00")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodPost, "/v1/webhooks/settlements", uuid.Nil, "", failed, "X-Signature", service.SignSettlementCallback(testHMACKey, failed))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.SettlementStatusManualReview, decode[service.SettlementCallbackResponse](t, w).Status)

	w = a.do(http.MethodGet, "/v1/settlements/manual-review", a.manager, "manager", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodGet, "/v1/settlements/manual-review", a.admin, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	queue := decode[struct {
		Items      []models.Settlement `json:"items"`
		TotalCount int64               `json:"total_count"`
	}](t, w)
	require.Len(t, queue.Items, 1)
	assert.Equal(t, int64(1), queue.TotalCount)

	resolvePath := "/v1/settlements/" + settlementID.String() + "/resolve"
	w = a.do(http.MethodPost, resolvePath, a.admin, "admin", map[string]string{"decision": "refund", "reason": "operator"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPost, resolvePath, a.admin, "admin", map[string]string{"decision": "confirm_sent", "reason": "confirmed with BAC", "gateway_ref": "BAC-778"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	settled := decode[models.Settlement](t, w)
	assert.Equal(t, domain.SettlementStatusCompleted, settled.Status)
	require.NotNil(t, settled.GatewayRef)
	assert.Equal(t, "BAC-778", *settled.GatewayRef)

	w = a.do(http.MethodPost, resolvePath, a.admin, "admin", map[string]string{"decision": "requeue", "reason": "again"})
	require.Equal(t, http.StatusConflict, w.Code)

	completed, err := json.Marshal(map[string]string{"settlement_id": settlementID.String(), "status": "completed", "gateway_ref": "OTHER-1"})
	require.NoError(t, err)
	w = a.do(http.MethodPost, "/v1/webhooks/settlements", uuid.Nil, "", completed, "X-Signature", service.SignSettlementCallback(testHMACKey, completed))
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthAndDocs(t *testing.T) {
	a := setupAPI(t)

	cases := []struct {
		path     string
		contains string
	}{
		{path: "/health/live", contains: "ok"},
		{path: "/health/ready", contains: "ready"},
		{path: "/metrics", contains: "http_request_duration_seconds"},
		{path: "/openapi.yaml", contains: "openapi: 3"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(strings.TrimPrefix(tc.path, "/"), func(t *testing.T) {
			w := a.do(http.MethodGet, tc.path, uuid.Nil, "", nil)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tc.contains)
		})
	}
}
