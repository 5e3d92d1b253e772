package domain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Credential is an account's signing key. It lives only as long as the request
// (or, for the registrar, the process) that supplied it.
type Credential struct {
	key *ecdsa.PrivateKey
}

// ParseCredential decodes a hex secp256k1 private key, with or without 0x prefix.
func ParseCredential(raw string) (Credential, error) {
	hexKey := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return Credential{}, fmt.Errorf("parse private key: %w", err)
	}
	return Credential{key: key}, nil
}

func NewCredential(key *ecdsa.PrivateKey) Credential {
	return Credential{key: key}
}

func (c Credential) IsZero() bool {
	return c.key == nil
}

func (c Credential) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

func (c Credential) PrivateKey() *ecdsa.PrivateKey {
	return c.key
}

// String never exposes key material.
func (c Credential) String() string {
	if c.key == nil {
		return "credential(none)"
	}
	return "credential(" + c.Address().Hex() + ")"
}

func (c Credential) GoString() string {
	return c.String()
}
