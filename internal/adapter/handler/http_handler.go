package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/core/service"
	"github.com/rl1809/chain-custody/internal/core/validator"
	"github.com/rl1809/chain-custody/internal/port"
)

type HTTPHandler struct {
	registration *service.RegistrationService
	transfers    *service.TransferService
	verification *service.VerificationService
	journal      port.SubmissionJournal
	ledger       port.LedgerClient
	metrics      *Metrics
	log          zerolog.Logger
}

// Deps are the services the transports expose. Journal and Metrics may be nil.
type Deps struct {
	Registration *service.RegistrationService
	Transfers    *service.TransferService
	Verification *service.VerificationService
	Journal      port.SubmissionJournal
	Ledger       port.LedgerClient
	Metrics      *Metrics
	Logger       zerolog.Logger
}

func NewHTTPHandler(deps Deps) *HTTPHandler {
	return &HTTPHandler{
		registration: deps.Registration,
		transfers:    deps.Transfers,
		verification: deps.Verification,
		journal:      deps.Journal,
		ledger:       deps.Ledger,
		metrics:      deps.Metrics,
		log:          deps.Logger.With().Str("component", "http").Logger(),
	}
}

func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(h.log))
	r.Use(loggingMiddleware(h.log, h.metrics))

	r.Get("/health", h.HealthCheck)
	r.Post("/product/register", h.Register)
	r.Post("/product/transfer", h.Transfer)
	r.Get("/product/verify/{product_id}/{serial_number}", h.Verify)
	r.Get("/submission/{tx_hash}", h.Submission)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
	return r
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("Request must contain JSON data")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.NewValidationError("request body must contain a single JSON value")
	}
	return nil
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	status, err := h.ledger.Status(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("ledger status failed")
	} else {
		resp.BlockchainConnected = status.Connected
		resp.CurrentBlock = status.CurrentBlock
		resp.ContractAddress = status.ContractAddress.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload validator.RegisterPayload
	if err := decodeBody(r, &payload); err != nil {
		h.fail(w, err)
		return
	}
	req, err := validator.ValidateRegister(payload)
	if err != nil {
		h.fail(w, err)
		return
	}

	receipt, err := h.registration.Register(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMutationResponse(receipt))
}

func (h *HTTPHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var payload validator.TransferPayload
	if err := decodeBody(r, &payload); err != nil {
		h.fail(w, err)
		return
	}
	req, err := validator.ValidateTransfer(payload)
	if err != nil {
		h.fail(w, err)
		return
	}

	receipt, err := h.transfers.Transfer(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMutationResponse(receipt))
}

func (h *HTTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	key, err := validator.ValidateKey(chi.URLParam(r, "product_id"), chi.URLParam(r, "serial_number"))
	if err != nil {
		h.fail(w, err)
		return
	}

	view, err := h.verification.Verify(r.Context(), key)
	if err != nil {
		// Every lookup failure is a 400; the code tells them apart.
		_, code, message := mapDomainError(err)
		writeError(w, http.StatusBadRequest, code, message)
		return
	}
	writeJSON(w, http.StatusOK, newVerifyResponse(view))
}

func (h *HTTPHandler) Submission(w http.ResponseWriter, r *http.Request) {
	txHash := strings.ToLower(chi.URLParam(r, "tx_hash"))
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "NotFound", "submission journal disabled")
		return
	}

	sub, err := h.journal.Get(r.Context(), txHash)
	if err != nil {
		h.fail(w, err)
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "NotFound", "submission not found")
		return
	}
	writeJSON(w, http.StatusOK, SubmissionResponse{Status: statusSuccess, Submission: newSubmissionInfo(*sub)})
}

func (h *HTTPHandler) fail(w http.ResponseWriter, err error) {
	status, code, message := mapDomainError(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("unexpected error")
	}
	writeError(w, status, code, message)
}
