package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/config"
	"github.com/sells-group/dmrv/internal/metrics"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/protocol"
	"github.com/sells-group/dmrv/internal/testutil"
)

const secret = "test-secret"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type client struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *Tokens
}

func newClient(t *testing.T) *client {
	t.Helper()
	cfg := &config.Config{
		Addresses: config.AddressConfig{Orchestrator: testutil.Orchestrator, Council: testutil.Council, MethodologyRegistry: "0xmethodology"},
		Roles: map[string][]string{
			"admin":      {testutil.Admin},
			"governance": {testutil.Governance},
			"verifier":   {testutil.Verifier},
		},
		Pool:        config.PoolConfig{MinStake: 100, InitialReputation: 10},
		Arbitration: config.ArbitrationConfig{JurySize: 3},
		Reputation:  config.ReputationConfig{Address: "0xreputation", Assignees: 3, QuorumBps: 6600},
		Oracle:      config.OracleConfig{Address: "0xoracle"},
		Ledger:      config.LedgerConfig{ReversalPolicy: "holder_balance"},
	}
	reg := prometheus.NewRegistry()
	p := protocol.New(cfg, testutil.NewStore(t), protocol.Options{Metrics: metrics.New(reg)})
	require.NoError(t, p.Bootstrap(context.Background()))

	tokens := NewTokens(secret, time.Hour)
	srv := httptest.NewServer(NewHandler(p, Options{Tokens: tokens, Gatherer: reg}))
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv, tokens: tokens}
}

func (c *client) do(method, path, as string, body any) (*http.Response, map[string]any) {
	c.t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rdr)
	require.NoError(c.t, err)
	if as != "" {
		tok, err := c.tokens.Issue(as)
		require.NoError(c.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(c.t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	c := newClient(t)
	resp, body := c.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	c := newClient(t)
	resp, body := c.do(http.MethodGet, "/v1/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthenticated", body["code"])

	req, err := http.NewRequest(http.MethodGet, c.srv.URL+"/v1/projects", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, raw.StatusCode)
}

func TestProjectLifecycleAndErrorMapping(t *testing.T) {
	c := newClient(t)

	resp, body := c.do(http.MethodPost, "/v1/projects", testutil.Owner, map[string]string{"id": "P1", "metadata_uri": "ipfs://p1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, testutil.Owner, body["owner"])
	assert.Equal(t, string(model.ProjectPending), body["status"])

	resp, body = c.do(http.MethodPost, "/v1/projects", testutil.Owner, map[string]string{"id": "P1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "duplicate_id", body["code"])
	assert.Equal(t, "state", body["kind"])

	resp, body = c.do(http.MethodPost, "/v1/projects/P1/status", testutil.Owner, map[string]string{"status": "active"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])
	assert.Equal(t, false, body["retryable"])

	resp, body = c.do(http.MethodPost, "/v1/projects/P1/status", testutil.Verifier, map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])

	resp, body = c.do(http.MethodGet, "/v1/projects/P9", testutil.Owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])

	resp, body = c.do(http.MethodPost, "/v1/projects/P1/owner", testutil.Owner, map[string]string{"new_owner": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "zero_owner", body["code"])
}

func TestMalformedBody(t *testing.T) {
	c := newClient(t)
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+"/v1/projects", strings.NewReader(`{"id": 7`))
	require.NoError(t, err)
	tok, err := c.tokens.Issue(testutil.Owner)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_input", body["code"])
}

func TestEconomicErrorsAreRetryable(t *testing.T) {
	c := newClient(t)
	resp, _ := c.do(http.MethodPost, "/v1/verifiers/stake", "0xv1", map[string]int64{"amount": 50})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodPost, "/v1/verifiers/unstake", "0xv1", map[string]int64{"amount": 80})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_stake", body["code"])
	assert.Equal(t, true, body["retryable"])

	resp, body = c.do(http.MethodGet, "/v1/verifiers/0xv1", "0xv1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["is_active"])
}

func TestMethodologyRoutes(t *testing.T) {
	c := newClient(t)
	m := model.Methodology{ID: "M1", ModuleAddress: "0xreputation", IsApproved: true}

	resp, _ := c.do(http.MethodPost, "/v1/methodologies", testutil.Owner, m)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := c.do(http.MethodPost, "/v1/methodologies", testutil.Governance, m)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "M1", body["id"])

	resp, body = c.do(http.MethodPost, "/v1/methodologies/M1/deprecate", testutil.Governance, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_deprecated"])

	resp, body = c.do(http.MethodPost, "/v1/methodologies/M1/deprecate", testutil.Governance, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_deprecated", body["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	c := newClient(t)
	c.do(http.MethodPost, "/v1/projects", testutil.Owner, map[string]string{"id": "P1"})

	resp, err := http.Get(c.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `dmrv_events_total{type="project.registered"} 1`)
	assert.Contains(t, string(raw), "dmrv_operation_duration_seconds")
}

func TestTokens(t *testing.T) {
	tokens := NewTokens(secret, time.Minute)
	tok, err := tokens.Issue("0xabc")
	require.NoError(t, err)

	sub, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", sub)

	_, err = NewTokens("other", time.Minute).Verify(tok)
	assert.Error(t, err, "wrong secret")

	later := NewTokens(secret, time.Minute)
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = later.Verify(tok)
	assert.Error(t, err, "expired")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "0xabc",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Verify(unsigned)
	assert.Error(t, err, "alg none")

	_, err = tokens.Issue("")
	assert.Error(t, err)
	_, err = NewTokens("", 0).Issue("0xabc")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = bearerToken("")
	assert.False(t, ok)
}
