package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

const defaultGasLimit = 2_000_000

type EthereumConfig struct {
	URL          string
	Contract     common.Address
	ChainID      int64 // 0 asks the node
	GasLimit     uint64
	PollInterval time.Duration
}

// backend is the part of ethclient.Client the ledger uses.
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

var _ backend = (*ethclient.Client)(nil)

// EthereumLedger talks to the PharmaSupplyChain contract over JSON-RPC.
type EthereumLedger struct {
	client       backend
	contract     common.Address
	abi          abi.ABI
	chainID      *big.Int
	gasLimit     uint64
	pollInterval time.Duration
}

func DialEthereum(ctx context.Context, cfg EthereumConfig) (*EthereumLedger, error) {
	client, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrLedgerUnavailable, cfg.URL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: chain id: %v", domain.ErrLedgerUnavailable, err)
		}
	}

	ledger, err := newEthereumLedger(client, cfg, chainID)
	if err != nil {
		client.Close()
		return nil, err
	}
	return ledger, nil
}

func newEthereumLedger(client backend, cfg EthereumConfig, chainID *big.Int) (*EthereumLedger, error) {
	parsed, err := parseSupplyChainABI()
	if err != nil {
		return nil, err
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	return &EthereumLedger{
		client:       client,
		contract:     cfg.Contract,
		abi:          parsed,
		chainID:      chainID,
		gasLimit:     gasLimit,
		pollInterval: poll,
	}, nil
}

func (e *EthereumLedger) Close() {
	e.client.Close()
}

func (e *EthereumLedger) ProductInfo(ctx context.Context, key domain.ProductKey) (domain.Product, error) {
	out, err := e.call(ctx, methodProduct, key.ProductID, key.SerialNumber)
	if err != nil {
		return domain.Product{}, err
	}
	return unpackProduct(e.abi, key, out)
}

func (e *EthereumLedger) TransferHistory(ctx context.Context, key domain.ProductKey) ([]domain.TransferRecord, error) {
	out, err := e.call(ctx, methodHistory, key.ProductID, key.SerialNumber)
	if err != nil {
		return nil, err
	}
	return unpackHistory(e.abi, out)
}

func (e *EthereumLedger) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: data}, nil)
	if err != nil {
		// The contract reverts lookups of unregistered keys.
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: call %s: %v", domain.ErrLedgerUnavailable, method, err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

func (e *EthereumLedger) AccountSequence(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := e.client.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: nonce for %s: %v", domain.ErrLedgerUnavailable, account.Hex(), err)
	}
	return nonce, nil
}

// PendingSequence includes transactions still in the node's pool.
func (e *EthereumLedger) PendingSequence(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := e.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("%w: pending nonce for %s: %v", domain.ErrLedgerUnavailable, account.Hex(), err)
	}
	return nonce, nil
}

func (e *EthereumLedger) SignMutation(ctx context.Context, m domain.Mutation, cred domain.Credential) (domain.SignedMutation, error) {
	if cred.IsZero() {
		return domain.SignedMutation{}, fmt.Errorf("%w: no credential", domain.ErrFailed)
	}
	if cred.Address() != m.Sender {
		return domain.SignedMutation{}, domain.NewValidationError("private key does not match sender address", "private_key")
	}

	data, err := packMutation(e.abi, m)
	if err != nil {
		return domain.SignedMutation{}, fmt.Errorf("%w: %v", domain.ErrFailed, err)
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return domain.SignedMutation{}, fmt.Errorf("%w: gas price: %v", domain.ErrLedgerUnavailable, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    m.Sequence,
		To:       &e.contract,
		Gas:      e.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), cred.PrivateKey())
	if err != nil {
		return domain.SignedMutation{}, fmt.Errorf("%w: sign: %v", domain.ErrFailed, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return domain.SignedMutation{}, fmt.Errorf("%w: encode: %v", domain.ErrFailed, err)
	}

	return domain.SignedMutation{
		Hash:     signed.Hash(),
		Kind:     m.Kind,
		Key:      m.Key,
		Sender:   m.Sender,
		Sequence: m.Sequence,
		Raw:      raw,
	}, nil
}

func (e *EthereumLedger) Submit(ctx context.Context, signed domain.SignedMutation) (domain.TxHandle, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed.Raw); err != nil {
		return domain.TxHandle{}, fmt.Errorf("%w: decode: %v", domain.ErrFailed, err)
	}
	if err := e.client.SendTransaction(ctx, tx); err != nil {
		return domain.TxHandle{}, classifySubmitError(err)
	}
	return signed.Handle(), nil
}

func (e *EthereumLedger) AwaitConfirmation(ctx context.Context, h domain.TxHandle, timeout time.Duration) (domain.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		r, found, err := e.LookupReceipt(waitCtx, h)
		if err == nil && found {
			if !r.Success {
				return r, fmt.Errorf("%w: transaction %s reverted in block %d", domain.ErrRejected, h.Hash.Hex(), r.BlockNumber)
			}
			return r, nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			return domain.Receipt{}, fmt.Errorf("%w: transaction %s: %v", domain.ErrConfirmationTimeout, h.Hash.Hex(), waitCtx.Err())
		}
	}
}

func (e *EthereumLedger) LookupReceipt(ctx context.Context, h domain.TxHandle) (domain.Receipt, bool, error) {
	receipt, err := e.client.TransactionReceipt(ctx, h.Hash)
	if errors.Is(err, ethereum.NotFound) {
		return domain.Receipt{}, false, nil
	}
	if err != nil {
		return domain.Receipt{}, false, fmt.Errorf("%w: receipt %s: %v", domain.ErrLedgerUnavailable, h.Hash.Hex(), err)
	}

	return domain.Receipt{
		TxHash:      h.Hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Sequence:    h.Sequence,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
	}, true, nil
}

func (e *EthereumLedger) Status(ctx context.Context) (domain.LedgerStatus, error) {
	status := domain.LedgerStatus{ContractAddress: e.contract}
	block, err := e.client.BlockNumber(ctx)
	if err != nil {
		return status, nil
	}
	status.Connected = true
	status.CurrentBlock = block
	return status, nil
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// classifySubmitError maps node-side txpool errors. Nodes report them as
// plain JSON-RPC messages, so matching is by text.
func classifySubmitError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return fmt.Errorf("%w: %v", domain.ErrSequenceConflict, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrFailed, err)
	}
}
