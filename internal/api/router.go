package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/bank-ledger/internal/auth"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/security"
	"github.com/example/bank-ledger/pkg/audit"
)

// Ledger is the slice of the engine the HTTP layer consumes.
type Ledger interface {
	CreateAccount(ctx context.Context, accountID string) (*ledger.Account, error)
	Deposit(ctx context.Context, accountID string, amount int64) (*ledger.Transaction, error)
	Withdraw(ctx context.Context, accountID string, amount int64) (*ledger.Transaction, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, accountID string) ([]ledger.Transaction, error)
}

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

type Dependencies struct {
	Logger    *slog.Logger
	Auth      *auth.Service
	Validator *auth.Validator
	Ledger    Ledger

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	registerV, err := security.NewJSONSchemaValidator(registerSchema)
	if err != nil {
		return nil, err
	}
	loginV, err := security.NewJSONSchemaValidator(loginSchema)
	if err != nil {
		return nil, err
	}
	amountV, err := security.NewJSONSchemaValidator(amountSchema)
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(registerV.Middleware).Post("/register", handleRegister(deps))
		r.With(loginV.Middleware).Post("/login", handleLogin(deps))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.Validator, onAuthError))

		r.Get("/balance", handleBalance(deps))
		r.Get("/transactions", handleTransactions(deps))
		r.With(amountV.Middleware).Post("/deposit", handleMutation(deps, ledger.KindDeposit))
		r.With(amountV.Middleware).Post("/withdraw", handleMutation(deps, ledger.KindWithdraw))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
