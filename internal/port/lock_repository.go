package port

import (
	"context"
	"time"
)

type AccountLocker interface {
	// Lock blocks until the account lock is held or ctx is done. The returned
	// func releases it
	Lock(ctx context.Context, account string, ttl time.Duration) (func(context.Context) error, error)
}

type ClaimStore interface {
	// Claim sets key if absent, returns false if it is already held
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops a claim
	Release(ctx context.Context, key string) error
}
