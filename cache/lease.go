package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const leaseRetry = 10 * time.Millisecond

// Lease is a cluster-wide writer lock held under a unique token.
type Lease struct {
	c     Cache
	key   string
	token string
}

// AcquireLease takes key for ttl, polling until wait elapses. It returns
// (nil, nil) when another holder kept the key for the whole wait.
func AcquireLease(ctx context.Context, c Cache, key string, ttl, wait time.Duration) (*Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := c.SetNX(ctx, key, token, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lease{c: c, key: key, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		t := time.NewTimer(leaseRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// Release drops the lease unless it expired and was taken by someone else.
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.c.DelIfValue(context.WithoutCancel(ctx), l.key, l.token)
	return err
}
