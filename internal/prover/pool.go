// pool.go - A load-balancing pool of proving workers.
//
// Requests rotate round-robin across workers. A worker failure moves the
// request to the next worker; only once every worker has failed does the
// caller see the terminal ErrProvingFailed. Workers can be added and
// removed while requests are in flight: dispatch operates on a snapshot,
// so replacement never aborts running work.

package prover

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"notechain/internal/crypto"
)

// Pool fans proving requests out over a replaceable set of workers.
type Pool struct {
	mu      sync.RWMutex
	workers []Service
	next    int
}

// NewPool builds a pool over the given workers.
func NewPool(workers ...Service) *Pool {
	return &Pool{workers: append([]Service(nil), workers...)}
}

// AddWorker makes a worker eligible for subsequent requests.
func (p *Pool) AddWorker(svc Service) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = append(p.workers, svc)
}

// RemoveWorker retires a worker. In-flight requests already dispatched
// to it run to completion.
func (p *Pool) RemoveWorker(svc Service) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.workers {
		if w == svc {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			return
		}
	}
}

// Size returns the current number of workers.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// snapshot returns the worker set and the starting offset for this
// request's rotation.
func (p *Pool) snapshot() ([]Service, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	workers := append([]Service(nil), p.workers...)
	start := 0
	if len(workers) > 0 {
		start = p.next % len(workers)
		p.next++
	}
	return workers, start
}

// ProveTransition implements Service. A malformed witness is not
// retried; any other failure rotates to the next worker.
func (p *Pool) ProveTransition(ctx context.Context, w Witness) (Proof, error) {
	workers, start := p.snapshot()
	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: no workers", ErrProvingFailed)
	}

	var lastErr error
	for i := range workers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		svc := workers[(start+i)%len(workers)]
		proof, err := svc.ProveTransition(ctx, w)
		if err == nil {
			return proof, nil
		}
		if errors.Is(err, ErrMalformedWitness) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: all %d workers failed, last: %v", ErrProvingFailed, len(workers), lastErr)
}

// Verify implements Service. Verification is deterministic, so the
// first worker able to answer decides.
func (p *Pool) Verify(proof Proof, initial, digest crypto.Word) error {
	workers, start := p.snapshot()
	if len(workers) == 0 {
		return fmt.Errorf("%w: no workers", ErrProvingFailed)
	}

	var lastErr error
	for i := range workers {
		svc := workers[(start+i)%len(workers)]
		err := svc.Verify(proof, initial, digest)
		if err == nil || errors.Is(err, ErrInvalidProof) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: all %d workers failed, last: %v", ErrProvingFailed, len(workers), lastErr)
}

// Health implements Service: the pool is healthy while at least one
// worker is.
func (p *Pool) Health(ctx context.Context) error {
	workers, _ := p.snapshot()
	if len(workers) == 0 {
		return fmt.Errorf("%w: no workers", ErrProvingFailed)
	}
	var lastErr error
	for _, svc := range workers {
		if err := svc.Health(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("%w: no healthy worker, last: %v", ErrProvingFailed, lastErr)
}

// EvictUnhealthy drops every worker whose health check fails and
// returns how many were removed.
func (p *Pool) EvictUnhealthy(ctx context.Context) int {
	workers, _ := p.snapshot()
	evicted := 0
	for _, svc := range workers {
		if err := svc.Health(ctx); err != nil {
			p.RemoveWorker(svc)
			evicted++
		}
	}
	return evicted
}
