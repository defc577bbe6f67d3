// Package pool multiplexes render requests onto a bounded set of rendering
// engine processes, each hosting a bounded number of leased pages.
//
// The pool is an in-process structure. It gives no cross-process exclusion;
// job claiming is guarded by the job store.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pdfforge/internal/domain"
	"pdfforge/internal/engine"
)

var (
	// ErrLaunchFailed wraps failures to start a new engine instance.
	ErrLaunchFailed = errors.New("pool: engine launch failed")
	// ErrClosed is returned once Destroy has been called.
	ErrClosed = errors.New("pool: closed")
)

// Config bounds the pool. Zero values fall back to defaults.
type Config struct {
	Size                int
	LeasesPerInstance   int
	AcquireTimeout      time.Duration
	PollInterval        time.Duration
	PageIdleTimeout     time.Duration
	InstanceIdleTimeout time.Duration
	ReapInterval        time.Duration
	Page                engine.PageOptions
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = 2
	}
	if c.LeasesPerInstance <= 0 {
		c.LeasesPerInstance = 4
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.PageIdleTimeout <= 0 {
		c.PageIdleTimeout = 2 * time.Minute
	}
	if c.InstanceIdleTimeout <= 0 {
		c.InstanceIdleTimeout = 5 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.Page == (engine.PageOptions{}) {
		c.Page = engine.DefaultPageOptions()
	}
	return c
}

// Lease is a page borrowed from one instance for exactly one render.
type Lease struct {
	ID         string
	InstanceID string
	AcquiredAt time.Time
	Page       engine.Page
}

type instance struct {
	id         string
	engine     engine.Engine
	leaseCount int
	lastUsedAt time.Time
	createdAt  time.Time
	healthy    bool
}

// Pool owns engine instances and their leases. All mutation goes through its
// methods under mu.
type Pool struct {
	cfg      Config
	launcher engine.Launcher
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	instances map[string]*instance
	order     []string
	leases    map[string]*Lease
	launching int
	closed    bool

	stopReap chan struct{}
	startOne sync.Once
	stopOne  sync.Once
}

// New builds an empty pool. Instances are launched lazily on demand.
func New(launcher engine.Launcher, cfg Config, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:       cfg.withDefaults(),
		launcher:  launcher,
		logger:    logger.With().Str("component", "pool").Str("launcher", launcher.Name()).Logger(),
		now:       time.Now,
		instances: make(map[string]*instance),
		leases:    make(map[string]*Lease),
		stopReap:  make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// AcquireLease reserves a slot on an instance and opens a fresh page on it.
func (p *Pool) AcquireLease(ctx context.Context) (*Lease, error) {
	inst, err := p.acquireInstance(ctx)
	if err != nil {
		return nil, err
	}

	pg, err := inst.engine.OpenPage(ctx, p.cfg.Page)
	if err != nil {
		healthy := inst.engine.Ping(ctx) == nil
		p.mu.Lock()
		inst.leaseCount--
		if !healthy {
			inst.healthy = false
		}
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: open page on %s: %w", inst.id, err)
	}

	lease := &Lease{
		ID:         uuid.NewString(),
		InstanceID: inst.id,
		AcquiredAt: p.now(),
		Page:       pg,
	}

	p.mu.Lock()
	if p.closed {
		inst.leaseCount--
		p.mu.Unlock()
		_ = pg.Close()
		return nil, ErrClosed
	}
	p.leases[lease.ID] = lease
	p.mu.Unlock()
	return lease, nil
}

// acquireInstance returns an instance with one lease slot already reserved.
// It reuses the first healthy instance below the lease cap, launches a new
// instance when the pool has spare capacity, and otherwise polls at a fixed
// interval until AcquireTimeout. Waiters are not served in arrival order.
func (p *Pool) acquireInstance(ctx context.Context) (*instance, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if inst := p.firstAvailableLocked(); inst != nil {
			inst.leaseCount++
			inst.lastUsedAt = p.now()
			p.mu.Unlock()
			return inst, nil
		}
		dead := p.dropUnhealthyIdleLocked()
		if len(dead) > 0 {
			p.mu.Unlock()
			p.closeInstances(dead)
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				return nil, ErrClosed
			}
		}
		if len(p.instances)+p.launching < p.cfg.Size {
			p.launching++
			p.mu.Unlock()
			return p.launch(ctx)
		}
		p.mu.Unlock()

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: no page slot within %s", domain.ErrResourceExhausted, p.cfg.AcquireTimeout)
		}
		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Pool) firstAvailableLocked() *instance {
	for _, id := range p.order {
		inst := p.instances[id]
		if inst.healthy && inst.leaseCount < p.cfg.LeasesPerInstance {
			return inst
		}
	}
	return nil
}

// dropUnhealthyIdleLocked unregisters unhealthy instances that hold no
// leases so their slots can be relaunched without waiting for the reaper.
func (p *Pool) dropUnhealthyIdleLocked() []*instance {
	var dead []*instance
	for _, id := range append([]string(nil), p.order...) {
		inst := p.instances[id]
		if !inst.healthy && inst.leaseCount == 0 {
			dead = append(dead, inst)
			p.removeInstanceLocked(id)
		}
	}
	return dead
}

func (p *Pool) closeInstances(dead []*instance) {
	for _, inst := range dead {
		if err := inst.engine.Close(); err != nil {
			p.logger.Warn().Err(err).Str("instance_id", inst.id).Msg("pool: close instance failed")
		}
		p.logger.Info().Str("instance_id", inst.id).Msg("pool: unhealthy instance removed")
	}
}

// launch starts an engine for a slot already counted in p.launching and
// registers it with one reserved lease.
func (p *Pool) launch(ctx context.Context) (*instance, error) {
	eng, err := p.launcher.Launch(ctx)

	p.mu.Lock()
	p.launching--
	if err != nil {
		p.mu.Unlock()
		p.logger.Error().Err(err).Msg("pool: launch instance failed")
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	if p.closed {
		p.mu.Unlock()
		_ = eng.Close()
		return nil, ErrClosed
	}
	now := p.now()
	inst := &instance{
		id:         uuid.NewString(),
		engine:     eng,
		leaseCount: 1,
		lastUsedAt: now,
		createdAt:  now,
		healthy:    true,
	}
	p.instances[inst.id] = inst
	p.order = append(p.order, inst.id)
	total := len(p.instances)
	p.mu.Unlock()

	p.logger.Info().Str("instance_id", inst.id).Int("instances", total).Msg("pool: instance launched")
	return inst, nil
}

// ReleaseLease closes the lease's page and frees its slot. It is safe to call
// more than once and after the reaper has force-closed the lease. Close errors
// are logged, never returned.
func (p *Pool) ReleaseLease(lease *Lease) {
	if lease == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.leases[lease.ID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leases, lease.ID)
	if inst, ok := p.instances[lease.InstanceID]; ok {
		inst.leaseCount--
		inst.lastUsedAt = p.now()
	}
	p.mu.Unlock()

	if err := lease.Page.Close(); err != nil {
		p.logger.Warn().Err(err).Str("lease_id", lease.ID).Str("instance_id", lease.InstanceID).Msg("pool: close page failed")
	}
}

// MarkUnhealthy stops new leases from landing on the instance. The reaper
// tears it down once its outstanding leases are released.
func (p *Pool) MarkUnhealthy(instanceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst, ok := p.instances[instanceID]; ok && inst.healthy {
		inst.healthy = false
		p.logger.Warn().Str("instance_id", instanceID).Msg("pool: instance marked unhealthy")
	}
}

// CheckInstance pings the engine behind instanceID and marks it unhealthy
// when the ping fails. Unknown instances report no error.
func (p *Pool) CheckInstance(ctx context.Context, instanceID string) error {
	p.mu.Lock()
	inst, ok := p.instances[instanceID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := inst.engine.Ping(ctx); err != nil {
		p.MarkUnhealthy(instanceID)
		return fmt.Errorf("pool: instance %s: %w", instanceID, err)
	}
	return nil
}

// Start runs the idle reaper until ctx is done or Destroy is called.
func (p *Pool) Start(ctx context.Context) {
	p.startOne.Do(func() {
		go p.reapLoop(ctx)
	})
}

func (p *Pool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopReap:
			return
		case <-ticker.C:
			p.Reap()
		}
	}
}

// ReapResult reports what one cleanup pass closed.
type ReapResult struct {
	LeasesClosed    int
	InstancesClosed int
}

// Reap force-closes leases open longer than PageIdleTimeout and tears down
// instances that have no leases and were idle longer than
// InstanceIdleTimeout, or that were marked unhealthy.
func (p *Pool) Reap() ReapResult {
	now := p.now()
	var (
		staleLeases []*Lease
		idle        []*instance
	)

	p.mu.Lock()
	for id, lease := range p.leases {
		if now.Sub(lease.AcquiredAt) > p.cfg.PageIdleTimeout {
			staleLeases = append(staleLeases, lease)
			delete(p.leases, id)
			if inst, ok := p.instances[lease.InstanceID]; ok {
				inst.leaseCount--
				inst.lastUsedAt = now
			}
		}
	}
	for _, id := range p.order {
		inst := p.instances[id]
		if inst.leaseCount > 0 {
			continue
		}
		if !inst.healthy || now.Sub(inst.lastUsedAt) > p.cfg.InstanceIdleTimeout {
			idle = append(idle, inst)
		}
	}
	for _, inst := range idle {
		p.removeInstanceLocked(inst.id)
	}
	p.mu.Unlock()

	for _, lease := range staleLeases {
		if err := lease.Page.Close(); err != nil {
			p.logger.Warn().Err(err).Str("lease_id", lease.ID).Msg("pool: force-close stale page failed")
		}
		p.logger.Warn().Str("lease_id", lease.ID).Str("instance_id", lease.InstanceID).
			Dur("held", now.Sub(lease.AcquiredAt)).Msg("pool: stale lease force-closed")
	}
	for _, inst := range idle {
		if err := inst.engine.Close(); err != nil {
			p.logger.Warn().Err(err).Str("instance_id", inst.id).Msg("pool: close instance failed")
		}
		p.logger.Info().Str("instance_id", inst.id).Bool("healthy", inst.healthy).Msg("pool: idle instance torn down")
	}
	return ReapResult{LeasesClosed: len(staleLeases), InstancesClosed: len(idle)}
}

func (p *Pool) removeInstanceLocked(id string) {
	delete(p.instances, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Destroy stops the reaper and closes every lease and instance. Further
// acquisitions fail with ErrClosed.
func (p *Pool) Destroy() error {
	p.stopOne.Do(func() { close(p.stopReap) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	leases := make([]*Lease, 0, len(p.leases))
	for _, lease := range p.leases {
		leases = append(leases, lease)
	}
	instances := make([]*instance, 0, len(p.order))
	for _, id := range p.order {
		instances = append(instances, p.instances[id])
	}
	p.leases = make(map[string]*Lease)
	p.instances = make(map[string]*instance)
	p.order = nil
	p.mu.Unlock()

	var errs []error
	for _, lease := range leases {
		if err := lease.Page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lease %s: %w", lease.ID, err))
		}
	}
	for _, inst := range instances {
		if err := inst.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close instance %s: %w", inst.id, err))
		}
	}
	p.logger.Info().Int("leases", len(leases)).Int("instances", len(instances)).Msg("pool: destroyed")
	return errors.Join(errs...)
}
