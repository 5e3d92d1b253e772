package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProductKey identifies one physical unit on the ledger.
type ProductKey struct {
	ProductID    string
	SerialNumber string
}

func (k ProductKey) String() string {
	return k.ProductID + "/" + k.SerialNumber
}

type Product struct {
	Key             ProductKey
	Manufacturer    string
	BatchNumber     string
	ManufactureDate time.Time
	ExpiryDate      time.Time
	GTIN            string
	CurrentOwner    common.Address
}

// TransferRecord is one confirmed change of custody. Timestamp is assigned by
// the ledger when the transfer is included.
type TransferRecord struct {
	From         common.Address
	To           common.Address
	Timestamp    time.Time
	TransferType string
}

type RegisterRequest struct {
	Product Product
}

type TransferRequest struct {
	Key          ProductKey
	NewOwner     common.Address
	TransferType string
	Sender       common.Address
	Credential   Credential
}
