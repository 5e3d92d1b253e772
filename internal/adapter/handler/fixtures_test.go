package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/chain-custody/internal/adapter/ledger"
	"github.com/rl1809/chain-custody/internal/adapter/storage"
	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/core/service"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type account struct {
	cred domain.Credential
	hex  string
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return account{cred: domain.NewCredential(key), hex: hexutil.Encode(crypto.FromECDSA(key))}
}

func (a account) address() string {
	return a.cred.Address().Hex()
}

type testEnv struct {
	ledger    *ledger.MemoryLedger
	journal   *storage.MemoryJournal
	claims    *storage.MemoryClaimStore
	metrics   *Metrics
	registrar account
	deps      Deps
	router    http.Handler
}

func newTestEnv(t *testing.T, timeout time.Duration) *testEnv {
	t.Helper()

	env := &testEnv{
		ledger:    ledger.NewMemoryLedger(testContract),
		journal:   storage.NewMemoryJournal(),
		claims:    storage.NewMemoryClaimStore(),
		metrics:   NewMetrics(),
		registrar: newAccount(t),
	}
	opts := service.Options{
		ConfirmationTimeout: timeout,
		Journal:             env.journal,
		Observer:            env.metrics,
		Logger:              zerolog.Nop(),
	}
	sequencer := service.NewSequencer(env.ledger, nil, time.Minute)
	env.deps = Deps{
		Registration: service.NewRegistrationService(env.ledger, sequencer, env.claims, env.registrar.cred, opts),
		Transfers:    service.NewTransferService(env.ledger, sequencer, opts),
		Verification: service.NewVerificationService(env.ledger, zerolog.Nop()),
		Journal:      env.journal,
		Ledger:       env.ledger,
		Metrics:      env.metrics,
		Logger:       zerolog.Nop(),
	}
	env.router = NewHTTPHandler(env.deps).Router()
	return env
}

func examplePayload() map[string]string {
	return map[string]string{
		"product_id":       "ANT101",
		"serial_number":    "SER001",
		"manufacturer":     "PharmaCorp",
		"batch_number":     "BATCH5000",
		"manufacture_date": "2024-01-01",
		"expiry_date":      "2026-01-01",
		"gtin":             "0590123",
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) transferPayload(from account, to string) map[string]string {
	return map[string]string{
		"product_id":     "ANT101",
		"serial_number":  "SER001",
		"new_owner":      to,
		"transfer_type":  "Manufacturer-to-Distributor",
		"sender_address": from.address(),
		"private_key":    from.hex,
	}
}
