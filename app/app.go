package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eth2ValidatorNode/ethdo"
	"eth2ValidatorNode/validators"
	"eth2ValidatorNode/wallet"
)

const maxRequestBodySize = 1 << 16

type httpError struct {
	code    int
	message string
}

func (e *httpError) Error() string {
	return e.message
}

func badRequest(format string, args ...any) error {
	return &httpError{code: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

type App struct {
	logger     *slog.Logger
	wallets    *wallet.Manager
	reconciler *validators.Reconciler
}

func NewApp(logger *slog.Logger, wallets *wallet.Manager, reconciler *validators.Reconciler) *App {
	return &App{
		logger:     logger.With("module", "app"),
		wallets:    wallets,
		reconciler: reconciler,
	}
}

func (a *App) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /validators", a.wrapRoute("ListValidators", a.ListValidators))
	mux.Handle("POST /validators", a.wrapRoute("CreateValidator", a.CreateValidator))
	mux.Handle("GET /withdrawal-accounts", a.wrapRoute("ListWithdrawalAccounts", a.ListWithdrawalAccounts))
	mux.Handle("POST /withdrawal-accounts", a.wrapRoute("CreateWithdrawalAccount", a.CreateWithdrawalAccount))
	mux.Handle("GET /wallets", a.wrapRoute("ListWallets", a.ListWallets))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (a *App) ListValidators(r *http.Request) (any, error) {
	return a.reconciler.ListAll(r.Context())
}

// CreateValidator creates the next validator account and its deposit data.
// The passphrase is only ever returned here.
func (a *App) CreateValidator(r *http.Request) (any, error) {
	var req CreateValidatorRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	withdrawalAccount := strings.TrimSpace(req.WithdrawalAccount)
	if withdrawalAccount == "" {
		return nil, badRequest("withdrawalAccount is required")
	}
	if !strings.Contains(withdrawalAccount, "/") {
		withdrawalAccount = wallet.WithdrawalWallet + "/" + withdrawalAccount
	}

	validator, err := a.wallets.NewRandomValidatorAccount(r.Context())
	if err != nil {
		return nil, err
	}
	depositData, err := a.wallets.GetDepositData(r.Context(), validator, withdrawalAccount)
	if err != nil {
		return nil, err
	}
	call, err := a.wallets.DecodeDepositData(depositData)
	if err != nil {
		return nil, err
	}

	a.logger.Info("created validator",
		slog.String("account", validator.Account.ID()),
		slog.String("withdrawalAccount", withdrawalAccount),
	)
	return CreateValidatorResult{
		Account:     validator.Account.ID(),
		Passphrase:  validator.Passphrase,
		PublicKey:   hexutil.Encode(call.Pubkey),
		DepositData: depositData,
	}, nil
}

func (a *App) ListWithdrawalAccounts(r *http.Request) (any, error) {
	return a.wallets.ListWithdrawalAccounts(r.Context())
}

func (a *App) CreateWithdrawalAccount(r *http.Request) (any, error) {
	var req CreateWithdrawalAccountRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.Name == "" || strings.Contains(req.Name, "/") {
		return nil, badRequest("invalid account name %q", req.Name)
	}
	if req.Passphrase == "" {
		return nil, badRequest("passphrase is required")
	}

	account, err := a.wallets.CreateWithdrawalAccount(r.Context(), req.Name, req.Passphrase)
	if err != nil {
		return nil, err
	}
	return wallet.WithdrawalAccount{Name: account.Name, ID: account.ID()}, nil
}

func (a *App) ListWallets(r *http.Request) (any, error) {
	return a.wallets.ListAll(r.Context())
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return badRequest("invalid request body: %s", err.Error())
	}
	return nil
}

// wrapRoute writes the result or error of handler as a JSON Response
func (a *App) wrapRoute(name string, handler func(r *http.Request) (any, error)) http.Handler {
	logger := a.logger.With("function", name)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		result, err := handler(r)
		if err != nil {
			code := statusCode(err)
			if code >= http.StatusInternalServerError {
				logger.Error("request failed", slog.String("error", err.Error()))
			} else {
				logger.Debug("request rejected", slog.String("error", err.Error()))
			}
			writeJSON(w, logger, code, Response{Success: false, Message: err.Error()})
			return
		}

		logger.Debug("request handled", slog.Duration("timeElapsed", time.Since(startTime)))
		writeJSON(w, logger, http.StatusOK, Response{Success: true, Result: result})
	})
}

func statusCode(err error) int {
	var httpErr *httpError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.code
	case errors.Is(err, ethdo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrMalformedDepositData), errors.Is(err, validators.ErrMalformedAmount):
		return http.StatusBadGateway
	case errors.Is(err, ethdo.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, code int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("error writing response", slog.String("error", err.Error()))
	}
}
