package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type MutationKind string

const (
	MutationRegister MutationKind = "register"
	MutationTransfer MutationKind = "transfer"
)

// Mutation is an unsigned state change addressed to the ledger. Sequence is
// the sender's account sequence reserved for this submission.
type Mutation struct {
	Kind         MutationKind   `json:"kind"`
	Sender       common.Address `json:"sender"`
	Sequence     uint64         `json:"sequence"`
	Key          ProductKey     `json:"key"`
	Product      Product        `json:"product"`
	NewOwner     common.Address `json:"new_owner,omitempty"`
	TransferType string         `json:"transfer_type,omitempty"`
}

// SignedMutation is ready for submission. Raw is ledger specific.
type SignedMutation struct {
	Hash     common.Hash
	Kind     MutationKind
	Key      ProductKey
	Sender   common.Address
	Sequence uint64
	Raw      []byte
}

func (s SignedMutation) Handle() TxHandle {
	return TxHandle{Hash: s.Hash, Sender: s.Sender, Sequence: s.Sequence}
}

// TxHandle refers to a submitted mutation that may not be confirmed yet.
type TxHandle struct {
	Hash     common.Hash
	Sender   common.Address
	Sequence uint64
}

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Sequence    uint64
	Success     bool
}

type LedgerStatus struct {
	Connected       bool
	CurrentBlock    uint64
	ContractAddress common.Address
}

// TransferState names the stages a transfer moves through.
type TransferState string

const (
	StateValidated        TransferState = "validated"
	StateOwnershipChecked TransferState = "ownership_checked"
	StateSubmitted        TransferState = "submitted"
	StateConfirmed        TransferState = "confirmed"
	StateRejected         TransferState = "rejected"
	StateFailed           TransferState = "failed"
	StateUnknown          TransferState = "unknown"
)

type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionConfirmed SubmissionStatus = "confirmed"
	SubmissionRejected  SubmissionStatus = "rejected"
	SubmissionUnknown   SubmissionStatus = "unknown"
	// SubmissionDropped means the ledger confirmed another mutation at the
	// same sequence, so this one can never be included.
	SubmissionDropped SubmissionStatus = "dropped"
)

// Submission is the journal entry kept for every mutation handed to the ledger.
type Submission struct {
	ID           string
	TxHash       string
	Account      string
	Sequence     uint64
	Kind         MutationKind
	ProductID    string
	SerialNumber string
	Status       SubmissionStatus
	BlockNumber  uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s Submission) Resolved() bool {
	return s.Status == SubmissionConfirmed || s.Status == SubmissionRejected || s.Status == SubmissionDropped
}
