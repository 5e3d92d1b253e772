package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

// supplyChainABI covers the PharmaSupplyChain functions the custody service calls.
const supplyChainABI = `[
  {"type":"function","name":"registerProduct","stateMutability":"nonpayable","inputs":[
    {"name":"productId","type":"string"},
    {"name":"manufacturer","type":"string"},
    {"name":"batchNumber","type":"string"},
    {"name":"manufactureDate","type":"uint256"},
    {"name":"expiryDate","type":"uint256"},
    {"name":"gtin","type":"string"},
    {"name":"serialNumber","type":"string"}],"outputs":[]},
  {"type":"function","name":"transferProduct","stateMutability":"nonpayable","inputs":[
    {"name":"productId","type":"string"},
    {"name":"serialNumber","type":"string"},
    {"name":"newOwner","type":"address"},
    {"name":"transferType","type":"string"}],"outputs":[]},
  {"type":"function","name":"getProductInfo","stateMutability":"view","inputs":[
    {"name":"productId","type":"string"},
    {"name":"serialNumber","type":"string"}],"outputs":[
    {"name":"","type":"string"},
    {"name":"","type":"string"},
    {"name":"","type":"string"},
    {"name":"","type":"uint256"},
    {"name":"","type":"uint256"},
    {"name":"","type":"address"},
    {"name":"","type":"string"},
    {"name":"","type":"string"}]},
  {"type":"function","name":"getTransferHistory","stateMutability":"view","inputs":[
    {"name":"productId","type":"string"},
    {"name":"serialNumber","type":"string"}],"outputs":[
    {"name":"","type":"tuple[]","components":[
      {"name":"from","type":"address"},
      {"name":"to","type":"address"},
      {"name":"timestamp","type":"uint256"},
      {"name":"transferType","type":"string"}]}]}
]`

const (
	methodRegister = "registerProduct"
	methodTransfer = "transferProduct"
	methodProduct  = "getProductInfo"
	methodHistory  = "getTransferHistory"
)

type contractTransfer struct {
	From         common.Address
	To           common.Address
	Timestamp    *big.Int
	TransferType string
}

func parseSupplyChainABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(supplyChainABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse contract abi: %w", err)
	}
	return parsed, nil
}

func packMutation(contract abi.ABI, m domain.Mutation) ([]byte, error) {
	switch m.Kind {
	case domain.MutationRegister:
		p := m.Product
		return contract.Pack(methodRegister,
			m.Key.ProductID,
			p.Manufacturer,
			p.BatchNumber,
			big.NewInt(p.ManufactureDate.Unix()),
			big.NewInt(p.ExpiryDate.Unix()),
			p.GTIN,
			m.Key.SerialNumber,
		)
	case domain.MutationTransfer:
		return contract.Pack(methodTransfer, m.Key.ProductID, m.Key.SerialNumber, m.NewOwner, m.TransferType)
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

func unpackProduct(contract abi.ABI, key domain.ProductKey, out []byte) (domain.Product, error) {
	values, err := contract.Unpack(methodProduct, out)
	if err != nil {
		return domain.Product{}, fmt.Errorf("unpack %s: %w", methodProduct, err)
	}
	if len(values) != 8 {
		return domain.Product{}, fmt.Errorf("unpack %s: got %d values", methodProduct, len(values))
	}

	manufactured := *abi.ConvertType(values[3], new(*big.Int)).(**big.Int)
	expires := *abi.ConvertType(values[4], new(*big.Int)).(**big.Int)
	owner := *abi.ConvertType(values[5], new(common.Address)).(*common.Address)

	// Unregistered keys come back zeroed from contracts that do not revert.
	if owner == (common.Address{}) {
		return domain.Product{}, domain.ErrNotFound
	}

	return domain.Product{
		Key:             key,
		Manufacturer:    *abi.ConvertType(values[1], new(string)).(*string),
		BatchNumber:     *abi.ConvertType(values[2], new(string)).(*string),
		ManufactureDate: time.Unix(manufactured.Int64(), 0).UTC(),
		ExpiryDate:      time.Unix(expires.Int64(), 0).UTC(),
		GTIN:            *abi.ConvertType(values[6], new(string)).(*string),
		CurrentOwner:    owner,
	}, nil
}

func unpackHistory(contract abi.ABI, out []byte) ([]domain.TransferRecord, error) {
	values, err := contract.Unpack(methodHistory, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", methodHistory, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: got %d values", methodHistory, len(values))
	}

	transfers := *abi.ConvertType(values[0], new([]contractTransfer)).(*[]contractTransfer)
	records := make([]domain.TransferRecord, 0, len(transfers))
	for _, t := range transfers {
		records = append(records, domain.TransferRecord{
			From:         t.From,
			To:           t.To,
			Timestamp:    time.Unix(t.Timestamp.Int64(), 0).UTC(),
			TransferType: t.TransferType,
		})
	}
	return records, nil
}
