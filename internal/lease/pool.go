// Package lease admission-controls access to the shared accelerator.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrAdmissionTimeout means no accelerator slot freed up within the wait
// budget. Callers should retry later.
var ErrAdmissionTimeout = errors.New("timed out waiting for accelerator")

// Pool hands out a fixed number of concurrent accelerator leases. It is
// created once per process and shared by every session.
type Pool struct {
	sem     *semaphore.Weighted
	ceiling int64
	wait    time.Duration

	inUse atomic.Int64
	peak  atomic.Int64
	total atomic.Int64
}

// NewPool returns a pool with ceiling slots. A positive wait bounds how long
// Acquire blocks; zero waits as long as the caller's context allows.
func NewPool(ceiling int, wait time.Duration) (*Pool, error) {
	if ceiling < 1 {
		return nil, fmt.Errorf("accelerator ceiling must be >= 1, got %d", ceiling)
	}
	if wait < 0 {
		return nil, fmt.Errorf("admission wait must be >= 0, got %s", wait)
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(ceiling)),
		ceiling: int64(ceiling),
		wait:    wait,
	}, nil
}

// Acquire blocks until a slot is free. It returns ErrAdmissionTimeout when the
// pool's wait budget runs out and ctx.Err() when the caller gives up first.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	waitCtx := ctx
	if p.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.wait)
		defer cancel()
	}

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s (%d/%d in use)", ErrAdmissionTimeout, p.wait, p.inUse.Load(), p.ceiling)
	}

	n := p.inUse.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.total.Add(1)
	return &Lease{pool: p, acquired: time.Now()}, nil
}

// Ceiling returns the configured number of slots.
func (p *Pool) Ceiling() int { return int(p.ceiling) }

// InUse returns the number of leases currently held.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Peak returns the highest number of leases ever held at once.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Granted returns the number of leases handed out since start.
func (p *Pool) Granted() int64 { return p.total.Load() }

// Lease is one held accelerator slot.
type Lease struct {
	pool     *Pool
	acquired time.Time
	once     sync.Once
}

// Release returns the slot to the pool. Only the first call has an effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.inUse.Add(-1)
		l.pool.sem.Release(1)
	})
}

// Held returns how long the lease has been held.
func (l *Lease) Held() time.Duration { return time.Since(l.acquired) }
