package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/bank-ledger/internal/auth"
	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/security"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	CorrelationID string `json:"correlation_id"`
	Username      string `json:"username"`
	Balance       string `json:"balance"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	CorrelationID string `json:"correlation_id"`
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int64  `json:"expires_in"`
	Username      string `json:"username"`
	Email         string `json:"email"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type transactionResponse struct {
	CorrelationID    string `json:"correlation_id"`
	TransactionID    string `json:"transaction_id"`
	Sequence         uint64 `json:"sequence"`
	Kind             string `json:"kind"`
	Amount           string `json:"amount"`
	ResultingBalance string `json:"resulting_balance"`
	Timestamp        string `json:"timestamp"`
}

type balanceResponse struct {
	CorrelationID string `json:"correlation_id"`
	AccountID     string `json:"account_id"`
	Balance       string `json:"balance"`
}

type historyEntry struct {
	TransactionID    string `json:"transaction_id"`
	Sequence         uint64 `json:"sequence"`
	Kind             string `json:"kind"`
	Amount           string `json:"amount"`
	ResultingBalance string `json:"resulting_balance"`
	Timestamp        string `json:"timestamp"`
}

type historyResponse struct {
	CorrelationID string         `json:"correlation_id"`
	AccountID     string         `json:"account_id"`
	Transactions  []historyEntry `json:"transactions"`
}

// parseAmount converts a decimal money string into minor units. More than
// two fraction digits is invalid, not rounded.
func parseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ledger.ErrInvalidAmount
	}
	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, ledger.ErrInvalidAmount
	}
	v := minor.IntPart()
	if v <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	return v, nil
}

func formatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func handleRegister(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		cred, err := deps.Auth.Register(r.Context(), req.Username, req.Email, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		// The ledger account shares the credential's identity. If the
		// account cannot be created the credential is rolled back, so a
		// failed registration leaves nothing behind and can be retried.
		if _, err := deps.Ledger.CreateAccount(r.Context(), cred.Username); err != nil {
			if rbErr := deps.Auth.Unregister(r.Context(), cred.Username); rbErr != nil {
				deps.Logger.Error("credential rollback failed after account creation failure",
					"username", cred.Username,
					"create_error", err,
					"rollback_error", rbErr,
				)
			}
			writeError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, registerResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Username:      cred.Username,
			Balance:       formatAmount(0),
		})
	}
}

func handleLogin(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		token, cred, err := deps.Auth.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, loginResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccessToken:   token,
			TokenType:     "bearer",
			ExpiresIn:     int64(deps.Auth.TTL().Seconds()),
			Username:      cred.Username,
			Email:         cred.Email,
		})
	}
}

func handleMutation(deps Dependencies, kind ledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := auth.SubjectFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req amountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var tx *ledger.Transaction
		switch kind {
		case ledger.KindDeposit:
			tx, err = deps.Ledger.Deposit(r.Context(), subject, amount)
		case ledger.KindWithdraw:
			tx, err = deps.Ledger.Withdraw(r.Context(), subject, amount)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, transactionResponse{
			CorrelationID:    security.CorrelationIDFromContext(r.Context()),
			TransactionID:    tx.ID,
			Sequence:         tx.Sequence,
			Kind:             string(tx.Kind),
			Amount:           formatAmount(tx.Amount),
			ResultingBalance: formatAmount(tx.ResultingBalance),
			Timestamp:        tx.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
}

func handleBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := auth.SubjectFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		balance, err := deps.Ledger.Balance(r.Context(), subject)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     subject,
			Balance:       formatAmount(balance),
		})
	}
}

func handleTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := auth.SubjectFromContext(r.Context())
		if !ok {
			security.WriteJSONError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		txs, err := deps.Ledger.History(r.Context(), subject)
		if err != nil {
			writeError(w, r, err)
			return
		}

		entries := make([]historyEntry, 0, len(txs))
		for _, tx := range txs {
			entries = append(entries, historyEntry{
				TransactionID:    tx.ID,
				Sequence:         tx.Sequence,
				Kind:             string(tx.Kind),
				Amount:           formatAmount(tx.Amount),
				ResultingBalance: formatAmount(tx.ResultingBalance),
				Timestamp:        tx.Timestamp.UTC().Format(time.RFC3339Nano),
			})
		}

		writeJSON(w, r, http.StatusOK, historyResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     subject,
			Transactions:  entries,
		})
	}
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognized
// is a 500 with no detail leaked.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, auth.ErrInvalidCredentials):
		security.WriteJSONError(w, r, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, ledger.ErrNotFound):
		security.WriteJSONError(w, r, http.StatusNotFound, "account_not_found")
	case errors.Is(err, ledger.ErrAlreadyExists), errors.Is(err, auth.ErrUserExists):
		security.WriteJSONError(w, r, http.StatusConflict, "already_exists")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		security.WriteJSONError(w, r, http.StatusUnprocessableEntity, "insufficient_funds")
	case errors.Is(err, ledger.ErrTransient):
		security.WriteJSONError(w, r, http.StatusServiceUnavailable, "try_again")
	default:
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
