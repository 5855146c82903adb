package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"funds-ledger/internal/domain"
	"funds-ledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the slice of *ledger.Engine the handlers call.
type Ledger interface {
	OpenAccount(ctx context.Context, name, email string, opening decimal.Decimal) (ledger.Account, error)
	Balance(ctx context.Context, accountID uuid.UUID) (ledger.Account, error)
	Transfer(ctx context.Context, callerID, receiverID uuid.UUID, amount decimal.Decimal) (ledger.Result, error)
	Reverse(ctx context.Context, callerID, recordID uuid.UUID) (ledger.Result, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID) ([]ledger.Record, error)
}

type Handlers struct {
	led     Ledger
	log     *zap.Logger
	timeout time.Duration
	signup  decimal.Decimal
}

// NewHandlers credits signup to every account opened through CreateAccount.
func NewHandlers(led Ledger, log *zap.Logger, timeout time.Duration, signup decimal.Decimal) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handlers{led: led, log: log, timeout: timeout, signup: signup}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// decodeJSON rejects unknown fields and anything after the first value.
func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, domain.ErrorBody{Error: domain.ErrorDetail{Code: errCode, Message: msg}})
}

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	// Context / timeouts
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	code := ledger.CodeOf(err)
	if code == ledger.CodeNotAuthorized {
		return http.StatusForbidden
	}
	switch code.Kind() {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindPolicy:
		return http.StatusUnprocessableEntity
	case ledger.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// writeLedgerErr renders an engine error. 5xx responses never carry the
// underlying cause; it goes to the log instead.
func (h *Handlers) writeLedgerErr(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusForErr(err)
	body := domain.ErrorBody{Error: domain.ErrorDetail{
		Code:    string(ledger.CodeOf(err)),
		Message: ledger.MessageOf(err),
	}}

	var ife *ledger.InsufficientFundsError
	if errors.As(err, &ife) {
		body.Error.Balance = ife.Balance.StringFixed(ledger.MinorUnitExp)
		body.Error.Required = ife.Required.StringFixed(ledger.MinorUnitExp)
		body.Error.Shortfall = ife.Shortfall.StringFixed(ledger.MinorUnitExp)
	}
	if code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout {
		body.Error.Code = "TIMEOUT"
		body.Error.Message = "request timed out"
	}
	if code >= 500 {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, body)
}

func (h *Handlers) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)

	// Prefer the header, else generate.
	corr := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
	if corr == "" {
		corr = uuid.New().String()
	}
	return ledger.WithCorrelationID(ctx, corr), cancel
}

func (h *Handlers) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := callerID(r.Context())
	if !ok {
		writeErr(w, http.StatusUnauthorized, "UNAUTHENTICATED", "bearer token required")
	}
	return id, ok
}

// POST /v1/accounts
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	acc, err := h.led.OpenAccount(ctx, *req.Name, *req.Email, h.signup)
	if err != nil {
		h.writeLedgerErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.NewAccountResponse(acc))
}

// GET /v1/accounts/{id}/balance, own account only.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	accID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid account id")
		return
	}
	if accID != caller {
		h.writeLedgerErr(w, r, ledger.ErrNotAuthorized)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	acc, err := h.led.Balance(ctx, accID)
	if err != nil {
		h.writeLedgerErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.BalanceResponse{
		AccountID: acc.ID,
		Balance:   acc.Balance.StringFixed(ledger.MinorUnitExp),
	})
}

// POST /v1/transactions/transfer
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req domain.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	res, err := h.led.Transfer(ctx, caller, *req.ReceiverID, *req.Amount)
	if err != nil {
		h.writeLedgerErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.NewTransactionResponse(res))
}

// POST /v1/transactions/reverse
func (h *Handlers) Reverse(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req domain.ReverseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	res, err := h.led.Reverse(ctx, caller, *req.TransactionID)
	if err != nil {
		h.writeLedgerErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewTransactionResponse(res))
}

// GET /v1/transactions/history
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	recs, err := h.led.ListTransactions(ctx, caller)
	if err != nil {
		h.writeLedgerErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewHistoryResponse(recs))
}
