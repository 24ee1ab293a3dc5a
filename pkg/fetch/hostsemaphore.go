package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxPerHost is used when a pool is created with a non-positive limit.
const DefaultMaxPerHost = 2

type hostSlot struct {
	sem       *semaphore.Weighted
	inFlight  int64     // held plus waiting permits
	idleSince time.Time // zero until the first release
}

// HostSemaphorePool bounds concurrent requests per host across every site run
// that shares it. Runs of different sites pointing at the same host (e.g. a
// batch run with -parallel) stay within the host's limit together.
type HostSemaphorePool struct {
	mu    sync.Mutex
	slots map[string]*hostSlot
	limit int64
	log   *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent requests per host.
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	if maxPerHost <= 0 {
		log.Warnf("per-host concurrency %d invalid, defaulting to %d", maxPerHost, DefaultMaxPerHost)
		maxPerHost = DefaultMaxPerHost
	}
	return &HostSemaphorePool{
		slots: make(map[string]*hostSlot),
		limit: int64(maxPerHost),
		log:   log,
	}
}

// Limit returns the per-host concurrency limit.
func (p *HostSemaphorePool) Limit() int { return int(p.limit) }

// Acquire takes one permit for host, blocking until one is free or ctx ends.
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) error {
	p.mu.Lock()
	slot, ok := p.slots[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(p.limit)}
		p.slots[host] = slot
		p.log.WithFields(logrus.Fields{"host": host, "limit": p.limit}).Debug("Tracking new host")
	}
	slot.inFlight++
	p.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		p.mu.Lock()
		slot.inFlight--
		p.mu.Unlock()
		return err
	}
	return nil
}

// Release returns one permit for host.
func (p *HostSemaphorePool) Release(host string) {
	p.mu.Lock()
	slot, ok := p.slots[host]
	if !ok {
		p.mu.Unlock()
		p.log.Errorf("Release called for untracked host: %s", host)
		return
	}
	slot.inFlight--
	slot.idleSince = time.Now()
	p.mu.Unlock()

	slot.sem.Release(1)
}

// RunEviction drops hosts idle for longer than interval until ctx ends.
// Intended for long-lived processes such as watch mode or the MCP server.
func (p *HostSemaphorePool) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle(interval)
		case <-ctx.Done():
			p.log.Debugf("Stopping host eviction: %v", ctx.Err())
			return
		}
	}
}

func (p *HostSemaphorePool) evictIdle(maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for host, slot := range p.slots {
		if slot.inFlight == 0 && !slot.idleSince.IsZero() && time.Since(slot.idleSince) >= maxIdle {
			delete(p.slots, host)
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Debugf("Evicted %d idle hosts, %d remain", evicted, len(p.slots))
	}
}

// Len returns the number of tracked hosts.
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
