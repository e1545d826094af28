package app

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eth2ValidatorNode/contracts"
	"eth2ValidatorNode/db"
	"eth2ValidatorNode/validators"
	"eth2ValidatorNode/wallet"
	"eth2ValidatorNode/wallet/wallettest"
)

type testResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
}

type noopBackfill struct{}

func (noopBackfill) RequestBackfill() {}

type testEnv struct {
	server  *httptest.Server
	store   *db.Store
	tool    *wallettest.Tool
	metrics *db.Collection[validators.Metrics]
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})

	tool, err := wallettest.New(wallettest.TestMnemonic)
	require.NoError(t, err)
	depositContract, err := contracts.NewDepositContract(common.HexToAddress("0x00000000219ab540356cBB839Cbe05303d7705Fa"))
	require.NoError(t, err)

	manager := wallet.NewManager(tool, depositContract, slog.Default())
	source := validators.NewStoreSource(store)
	reconciler := validators.NewReconciler(manager, source, source, noopBackfill{}, slog.Default())

	server := httptest.NewServer(NewApp(slog.Default(), manager, reconciler).Routes())
	t.Cleanup(server.Close)
	return &testEnv{
		server:  server,
		store:   store,
		tool:    tool,
		metrics: db.NewCollection[validators.Metrics](store, db.CurrentMetricsNamespace),
	}
}

func (e *testEnv) do(t *testing.T, method string, path string, body any) (int, testResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var response testResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	return resp.StatusCode, response
}

func TestEmptyNode(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/wallets", "/withdrawal-accounts", "/validators"} {
		code, response := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, code, path)
		assert.True(t, response.Success, path)
		assert.JSONEq(t, `[]`, string(response.Result), path)
	}
}

func TestCreateWithdrawalAccount(t *testing.T) {
	env := newTestEnv(t)

	code, response := env.do(t, http.MethodPost, "/withdrawal-accounts", CreateWithdrawalAccountRequest{Name: "primary", Passphrase: "secret"})
	require.Equal(t, http.StatusOK, code, response.Message)
	assert.JSONEq(t, `{"name":"primary","id":"withdrawal/primary"}`, string(response.Result))

	code, response = env.do(t, http.MethodGet, "/withdrawal-accounts", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"name":"primary","id":"withdrawal/primary"}]`, string(response.Result))

	code, response = env.do(t, http.MethodGet, "/wallets", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"name":"withdrawal","accounts":["primary"]}]`, string(response.Result))
}

func TestCreateWithdrawalAccount_Invalid(t *testing.T) {
	env := newTestEnv(t)

	code, response := env.do(t, http.MethodPost, "/withdrawal-accounts", CreateWithdrawalAccountRequest{Name: "a/b", Passphrase: "secret"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, response.Success)

	code, _ = env.do(t, http.MethodPost, "/withdrawal-accounts", CreateWithdrawalAccountRequest{Name: "primary"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/withdrawal-accounts", map[string]string{"unknown": "field"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCreateValidator(t *testing.T) {
	env := newTestEnv(t)
	code, response := env.do(t, http.MethodPost, "/withdrawal-accounts", CreateWithdrawalAccountRequest{Name: "primary", Passphrase: "secret"})
	require.Equal(t, http.StatusOK, code, response.Message)

	code, response = env.do(t, http.MethodPost, "/validators", CreateValidatorRequest{WithdrawalAccount: "primary"})
	require.Equal(t, http.StatusOK, code, response.Message)
	var result CreateValidatorResult
	require.NoError(t, json.Unmarshal(response.Result, &result))
	assert.Equal(t, "validator/1", result.Account)
	assert.Len(t, result.Passphrase, 64)
	assert.Len(t, result.DepositData, wallet.DepositDataLength)
	assert.Len(t, result.PublicKey, 2+2*contracts.PubkeyLength)

	// provisioned without activity
	code, response = env.do(t, http.MethodGet, "/validators", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(response.Result))

	require.NoError(t, env.metrics.Set(result.PublicKey, validators.Metrics{Balance: "32000000000", Status: "ACTIVE"}))
	code, response = env.do(t, http.MethodGet, "/validators", nil)
	require.Equal(t, http.StatusOK, code)
	var stats []validators.ValidatorStats
	require.NoError(t, json.Unmarshal(response.Result, &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Index)
	assert.Equal(t, result.PublicKey, stats[0].PublicKey)
	assert.Equal(t, "ACTIVE", stats[0].Status)
	require.NotNil(t, stats[0].Balance.Eth)
	assert.InDelta(t, 32.0, *stats[0].Balance.Eth, 1e-9)
}

func TestCreateValidator_MissingWithdrawalAccount(t *testing.T) {
	env := newTestEnv(t)

	code, response := env.do(t, http.MethodPost, "/validators", CreateValidatorRequest{WithdrawalAccount: "withdrawal/missing"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, response.Success)
	assert.NotEmpty(t, response.Message)

	code, _ = env.do(t, http.MethodPost, "/validators", CreateValidatorRequest{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCreateValidator_MalformedDepositData(t *testing.T) {
	env := newTestEnv(t)
	env.tool.DepositDataOverride = "0x1234"

	code, response := env.do(t, http.MethodPost, "/validators", CreateValidatorRequest{WithdrawalAccount: "primary"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.False(t, response.Success)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
