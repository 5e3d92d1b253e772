package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MutationResponse struct {
	Status          string `json:"status"`
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
}

type ProductInfo struct {
	ProductID       string `json:"product_id"`
	Manufacturer    string `json:"manufacturer"`
	BatchNumber     string `json:"batch_number"`
	ManufactureDate string `json:"manufacture_date"`
	ExpiryDate      string `json:"expiry_date"`
	CurrentOwner    string `json:"current_owner"`
	GTIN            string `json:"gtin"`
	SerialNumber    string `json:"serial_number"`
}

type Transfer struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Timestamp    string `json:"timestamp"`
	TransferType string `json:"transfer_type"`
}

type VerifyResponse struct {
	Status          string      `json:"status"`
	ProductInfo     ProductInfo `json:"product_info"`
	TransferHistory []Transfer  `json:"transfer_history"`
	Consistent      bool        `json:"consistent"`
	Anomalies       []string    `json:"anomalies,omitempty"`
}

type HealthResponse struct {
	Status              string `json:"status"`
	BlockchainConnected bool   `json:"blockchain_connected"`
	CurrentBlock        uint64 `json:"current_block"`
	ContractAddress     string `json:"contract_address"`
}

type SubmissionInfo struct {
	ID              string `json:"id"`
	TransactionHash string `json:"transaction_hash"`
	Account         string `json:"account"`
	Sequence        uint64 `json:"sequence"`
	Kind            string `json:"kind"`
	ProductID       string `json:"product_id"`
	SerialNumber    string `json:"serial_number"`
	Status          string `json:"status"`
	BlockNumber     uint64 `json:"block_number,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type SubmissionResponse struct {
	Status     string         `json:"status"`
	Submission SubmissionInfo `json:"submission"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func newMutationResponse(r domain.Receipt) MutationResponse {
	return MutationResponse{
		Status:          statusSuccess,
		TransactionHash: r.TxHash.Hex(),
		BlockNumber:     r.BlockNumber,
	}
}

func newVerifyResponse(view domain.ProductView) VerifyResponse {
	p := view.Product
	history := make([]Transfer, 0, len(view.History))
	for _, rec := range view.History {
		history = append(history, Transfer{
			From:         rec.From.Hex(),
			To:           rec.To.Hex(),
			Timestamp:    formatTime(rec.Timestamp),
			TransferType: rec.TransferType,
		})
	}
	return VerifyResponse{
		Status: statusSuccess,
		ProductInfo: ProductInfo{
			ProductID:       p.Key.ProductID,
			Manufacturer:    p.Manufacturer,
			BatchNumber:     p.BatchNumber,
			ManufactureDate: formatTime(p.ManufactureDate),
			ExpiryDate:      formatTime(p.ExpiryDate),
			CurrentOwner:    p.CurrentOwner.Hex(),
			GTIN:            p.GTIN,
			SerialNumber:    p.Key.SerialNumber,
		},
		TransferHistory: history,
		Consistent:      view.Consistent,
		Anomalies:       view.Anomalies,
	}
}

func newSubmissionInfo(s domain.Submission) SubmissionInfo {
	return SubmissionInfo{
		ID:              s.ID,
		TransactionHash: s.TxHash,
		Account:         s.Account,
		Sequence:        s.Sequence,
		Kind:            string(s.Kind),
		ProductID:       s.ProductID,
		SerialNumber:    s.SerialNumber,
		Status:          string(s.Status),
		BlockNumber:     s.BlockNumber,
		CreatedAt:       formatTime(s.CreatedAt),
		UpdatedAt:       formatTime(s.UpdatedAt),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Status: statusError, Code: code, Message: message})
}

// mapDomainError returns the HTTP status, taxonomy code and client message
// for a protocol error.
func mapDomainError(err error) (int, string, string) {
	code := domain.ErrorCode(err)
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest, code, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, code, err.Error()
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden, code, "Sender is not the current owner of the product"
	case errors.Is(err, domain.ErrAlreadyRegistered),
		errors.Is(err, domain.ErrRegistrationInProgress),
		errors.Is(err, domain.ErrSequenceConflict),
		errors.Is(err, domain.ErrRejected),
		errors.Is(err, domain.ErrFailed):
		return http.StatusBadRequest, code, err.Error()
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, code, err.Error()
	case errors.Is(err, domain.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout, code, err.Error()
	default:
		return http.StatusInternalServerError, code, "internal server error"
	}
}
