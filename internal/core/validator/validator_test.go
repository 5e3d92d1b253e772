package validator

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

func validRegister() RegisterPayload {
	return RegisterPayload{
		ProductID:       "ANT101",
		Manufacturer:    "PharmaCorp",
		BatchNumber:     "BATCH5000",
		ManufactureDate: "2024-01-01",
		ExpiryDate:      "2026-01-01",
		GTIN:            "0590123",
		SerialNumber:    "SER001",
	}
}

func validTransfer(t *testing.T) TransferPayload {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	return TransferPayload{
		ProductID:     "ANT101",
		SerialNumber:  "SER001",
		NewOwner:      crypto.PubkeyToAddress(other.PublicKey).Hex(),
		TransferType:  "Manufacturer-to-Distributor",
		SenderAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey:    hex.EncodeToString(crypto.FromECDSA(key)),
	}
}

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Fields
}

func TestValidateRegister_Success(t *testing.T) {
	req, err := ValidateRegister(validRegister())
	require.NoError(t, err)

	require.Equal(t, domain.ProductKey{ProductID: "ANT101", SerialNumber: "SER001"}, req.Product.Key)
	require.Equal(t, "PharmaCorp", req.Product.Manufacturer)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), req.Product.ManufactureDate)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), req.Product.ExpiryDate)
}

func TestValidateRegister_MissingFieldsReportedTogether(t *testing.T) {
	p := validRegister()
	p.Manufacturer = ""
	p.GTIN = "   "

	_, err := ValidateRegister(p)
	require.Equal(t, []string{"manufacturer", "gtin"}, validationFields(t, err))
}

func TestValidateRegister_Dates(t *testing.T) {
	p := validRegister()
	p.ManufactureDate = "2024-13-01"
	_, err := ValidateRegister(p)
	require.Equal(t, []string{"manufacture_date"}, validationFields(t, err))

	p = validRegister()
	p.ExpiryDate = "2023-12-31"
	_, err = ValidateRegister(p)
	require.Equal(t, []string{"manufacture_date", "expiry_date"}, validationFields(t, err))

	p = validRegister()
	p.ExpiryDate = p.ManufactureDate
	_, err = ValidateRegister(p)
	require.NoError(t, err)
}

func TestValidateTransfer_Success(t *testing.T) {
	p := validTransfer(t)
	p.PrivateKey = "0x" + p.PrivateKey

	req, err := ValidateTransfer(p)
	require.NoError(t, err)
	require.Equal(t, p.SenderAddress, req.Sender.Hex())
	require.Equal(t, req.Sender, req.Credential.Address())
	require.Equal(t, "Manufacturer-to-Distributor", req.TransferType)
}

func TestValidateTransfer_MissingFields(t *testing.T) {
	_, err := ValidateTransfer(TransferPayload{ProductID: "ANT101"})
	require.Equal(t,
		[]string{"serial_number", "new_owner", "transfer_type", "sender_address", "private_key"},
		validationFields(t, err))
}

func TestValidateTransfer_InvalidAddress(t *testing.T) {
	p := validTransfer(t)
	p.SenderAddress = "0x1234"
	_, err := ValidateTransfer(p)
	require.Equal(t, []string{"sender_address"}, validationFields(t, err))
	require.Contains(t, err.Error(), "invalid sender address format")

	p = validTransfer(t)
	p.NewOwner = p.NewOwner[2:]
	_, err = ValidateTransfer(p)
	require.Equal(t, []string{"new_owner"}, validationFields(t, err))

	p = validTransfer(t)
	p.NewOwner = "0x0000000000000000000000000000000000000000"
	_, err = ValidateTransfer(p)
	require.Equal(t, []string{"new_owner"}, validationFields(t, err))
}

func TestValidateTransfer_LowercaseAddressAccepted(t *testing.T) {
	p := validTransfer(t)
	want := p.SenderAddress
	p.SenderAddress = "0x" + hex.EncodeToString(addressBytes(t, want))

	req, err := ValidateTransfer(p)
	require.NoError(t, err)
	require.Equal(t, want, req.Sender.Hex())
}

func TestValidateTransfer_MalformedKey(t *testing.T) {
	for _, key := range []string{"0xzz", "abcd", "0x" + strings.Repeat("0", 64)} {
		p := validTransfer(t)
		p.PrivateKey = key
		_, err := ValidateTransfer(p)
		require.Equal(t, []string{"private_key"}, validationFields(t, err), key)
	}
}

func TestValidateKey(t *testing.T) {
	key, err := ValidateKey(" ANT101 ", "SER001")
	require.NoError(t, err)
	require.Equal(t, "ANT101/SER001", key.String())

	_, err = ValidateKey("ANT101", "")
	require.Equal(t, []string{"serial_number"}, validationFields(t, err))
}

func addressBytes(t *testing.T, addr string) []byte {
	t.Helper()
	b, err := hex.DecodeString(addr[2:])
	require.NoError(t, err)
	return b
}
