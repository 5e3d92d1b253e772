// Package validator turns raw request payloads into typed requests. It never
// talks to the ledger.
package validator

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

const DateLayout = "2006-01-02"

type RegisterPayload struct {
	ProductID       string `json:"product_id"`
	Manufacturer    string `json:"manufacturer"`
	BatchNumber     string `json:"batch_number"`
	ManufactureDate string `json:"manufacture_date"`
	ExpiryDate      string `json:"expiry_date"`
	GTIN            string `json:"gtin"`
	SerialNumber    string `json:"serial_number"`
}

type TransferPayload struct {
	ProductID     string `json:"product_id"`
	SerialNumber  string `json:"serial_number"`
	NewOwner      string `json:"new_owner"`
	TransferType  string `json:"transfer_type"`
	SenderAddress string `json:"sender_address"`
	PrivateKey    string `json:"private_key"`
}

type field struct {
	name  string
	value string
}

func missing(fields ...field) []string {
	var names []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			names = append(names, f.name)
		}
	}
	return names
}

func ValidateRegister(p RegisterPayload) (domain.RegisterRequest, error) {
	if names := missing(
		field{"product_id", p.ProductID},
		field{"manufacturer", p.Manufacturer},
		field{"batch_number", p.BatchNumber},
		field{"manufacture_date", p.ManufactureDate},
		field{"expiry_date", p.ExpiryDate},
		field{"gtin", p.GTIN},
		field{"serial_number", p.SerialNumber},
	); len(names) > 0 {
		return domain.RegisterRequest{}, domain.NewValidationError("missing required fields", names...)
	}

	manufactured, err := ParseDate("manufacture_date", p.ManufactureDate)
	if err != nil {
		return domain.RegisterRequest{}, err
	}
	expires, err := ParseDate("expiry_date", p.ExpiryDate)
	if err != nil {
		return domain.RegisterRequest{}, err
	}
	if expires.Before(manufactured) {
		return domain.RegisterRequest{}, domain.NewValidationError(
			"expiry_date must not precede manufacture_date", "manufacture_date", "expiry_date")
	}

	return domain.RegisterRequest{
		Product: domain.Product{
			Key: domain.ProductKey{
				ProductID:    strings.TrimSpace(p.ProductID),
				SerialNumber: strings.TrimSpace(p.SerialNumber),
			},
			Manufacturer:    strings.TrimSpace(p.Manufacturer),
			BatchNumber:     strings.TrimSpace(p.BatchNumber),
			ManufactureDate: manufactured,
			ExpiryDate:      expires,
			GTIN:            strings.TrimSpace(p.GTIN),
		},
	}, nil
}

func ValidateTransfer(p TransferPayload) (domain.TransferRequest, error) {
	if names := missing(
		field{"product_id", p.ProductID},
		field{"serial_number", p.SerialNumber},
		field{"new_owner", p.NewOwner},
		field{"transfer_type", p.TransferType},
		field{"sender_address", p.SenderAddress},
		field{"private_key", p.PrivateKey},
	); len(names) > 0 {
		return domain.TransferRequest{}, domain.NewValidationError("missing required fields", names...)
	}

	sender, err := ParseAddress("sender_address", p.SenderAddress)
	if err != nil {
		return domain.TransferRequest{}, err
	}
	newOwner, err := ParseAddress("new_owner", p.NewOwner)
	if err != nil {
		return domain.TransferRequest{}, err
	}
	cred, err := domain.ParseCredential(p.PrivateKey)
	if err != nil {
		return domain.TransferRequest{}, domain.NewValidationError("invalid private key format", "private_key")
	}

	return domain.TransferRequest{
		Key: domain.ProductKey{
			ProductID:    strings.TrimSpace(p.ProductID),
			SerialNumber: strings.TrimSpace(p.SerialNumber),
		},
		NewOwner:     newOwner,
		TransferType: strings.TrimSpace(p.TransferType),
		Sender:       sender,
		Credential:   cred,
	}, nil
}

func ValidateKey(productID, serialNumber string) (domain.ProductKey, error) {
	if names := missing(
		field{"product_id", productID},
		field{"serial_number", serialNumber},
	); len(names) > 0 {
		return domain.ProductKey{}, domain.NewValidationError("missing required fields", names...)
	}
	return domain.ProductKey{
		ProductID:    strings.TrimSpace(productID),
		SerialNumber: strings.TrimSpace(serialNumber),
	}, nil
}

// ParseAddress accepts 0x-prefixed 20-byte hex in any letter case.
func ParseAddress(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	hasPrefix := strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X")
	if !hasPrefix || !common.IsHexAddress(raw) {
		return common.Address{}, domain.NewValidationError("invalid "+strings.ReplaceAll(name, "_", " ")+" format", name)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, domain.NewValidationError(name+" must not be the zero address", name)
	}
	return addr, nil
}

// ParseDate reads YYYY-MM-DD as midnight UTC.
func ParseDate(name, raw string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, domain.NewValidationError("invalid date, expected YYYY-MM-DD", name)
	}
	return t, nil
}
