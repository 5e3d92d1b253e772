package ledger

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

func TestPackMutation(t *testing.T) {
	parsed, err := parseSupplyChainABI()
	require.NoError(t, err)

	owner := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44f")
	data, err := packMutation(parsed, transferMutation(common.Address{}, owner, 0))
	require.NoError(t, err)
	require.Equal(t, parsed.Methods[methodTransfer].ID, data[:4])

	args, err := parsed.Methods[methodTransfer].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, "ANT101", args[0])
	require.Equal(t, owner, args[2])

	data, err = packMutation(parsed, registerMutation(common.Address{}, 0))
	require.NoError(t, err)
	args, err = parsed.Methods[methodRegister].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), args[3].(*big.Int).Int64())
	require.Equal(t, "SER001", args[6])

	_, err = packMutation(parsed, domain.Mutation{Kind: "burn"})
	require.Error(t, err)
}

func TestUnpackProduct(t *testing.T) {
	parsed, err := parseSupplyChainABI()
	require.NoError(t, err)

	owner := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
	out, err := parsed.Methods[methodProduct].Outputs.Pack(
		"ANT101", "PharmaCorp", "BATCH5000",
		big.NewInt(1704067200), big.NewInt(1767225600),
		owner, "0590123", "SER001",
	)
	require.NoError(t, err)

	p, err := unpackProduct(parsed, testKey, out)
	require.NoError(t, err)
	require.Equal(t, owner, p.CurrentOwner)
	require.Equal(t, "BATCH5000", p.BatchNumber)
	require.Equal(t, "0590123", p.GTIN)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), p.ManufactureDate)

	out, err = parsed.Methods[methodProduct].Outputs.Pack(
		"", "", "", big.NewInt(0), big.NewInt(0), common.Address{}, "", "",
	)
	require.NoError(t, err)
	_, err = unpackProduct(parsed, testKey, out)
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestUnpackHistory(t *testing.T) {
	parsed, err := parseSupplyChainABI()
	require.NoError(t, err)

	a := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")
	b := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc454e4438f44f")
	out, err := parsed.Methods[methodHistory].Outputs.Pack([]contractTransfer{
		{From: a, To: b, Timestamp: big.NewInt(1704067200), TransferType: "Manufacturer-to-Distributor"},
	})
	require.NoError(t, err)

	records, err := unpackHistory(parsed, out)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, a, records[0].From)
	require.Equal(t, b, records[0].To)
	require.Equal(t, "Manufacturer-to-Distributor", records[0].TransferType)
	require.Equal(t, int64(1704067200), records[0].Timestamp.Unix())
}

func TestClassifySubmitError(t *testing.T) {
	cases := map[string]error{
		"nonce too low: next nonce 4, tx nonce 3":     domain.ErrSequenceConflict,
		"replacement transaction underpriced":         domain.ErrSequenceConflict,
		"dial tcp 127.0.0.1:7545: connection refused": domain.ErrLedgerUnavailable,
		"insufficient funds for gas * price + value":  domain.ErrFailed,
	}
	for msg, want := range cases {
		got := classifySubmitError(errors.New(msg))
		require.True(t, errors.Is(got, want), "%s: got %v", msg, got)
	}
}
