package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pdfforge/internal/domain"
	"pdfforge/internal/engine"
)

type fakePage struct {
	closed   atomic.Bool
	closeErr error
}

func (p *fakePage) SetContent(ctx context.Context, html string) error { return nil }

func (p *fakePage) PrintPDF(ctx context.Context, opts engine.PrintOptions) ([]byte, error) {
	return []byte("%PDF-1.7"), nil
}

func (p *fakePage) Close() error {
	p.closed.Store(true)
	return p.closeErr
}

type fakeEngine struct {
	mu      sync.Mutex
	pages   []*fakePage
	openErr error
	pingErr error
	closed  atomic.Bool
}

func (e *fakeEngine) OpenPage(ctx context.Context, opts engine.PageOptions) (engine.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	pg := &fakePage{}
	e.pages = append(e.pages, pg)
	return pg, nil
}

func (e *fakeEngine) Ping(ctx context.Context) error { return e.pingErr }

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	engines  []*fakeEngine
	err      error
	launches atomic.Int32
	delay    time.Duration
}

func (l *fakeLauncher) Name() string { return "fake" }

func (l *fakeLauncher) Launch(ctx context.Context) (engine.Engine, error) {
	l.launches.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	e := &fakeEngine{}
	l.mu.Lock()
	l.engines = append(l.engines, e)
	l.mu.Unlock()
	return e, nil
}

func newTestPool(l *fakeLauncher, cfg Config) *Pool {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return New(l, cfg, zerolog.Nop())
}

func TestAcquireLeaseLaunchesLazilyAndReuses(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(l, Config{Size: 2, LeasesPerInstance: 2})
	ctx := context.Background()

	a, err := p.AcquireLease(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	b, err := p.AcquireLease(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if a.InstanceID != b.InstanceID {
		t.Fatal("second lease should reuse the first instance while under its cap")
	}
	c, err := p.AcquireLease(ctx)
	if err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if c.InstanceID == a.InstanceID {
		t.Fatal("third lease should land on a new instance")
	}
	if got := l.launches.Load(); got != 2 {
		t.Fatalf("expected 2 launches, got %d", got)
	}

	st := p.Stats()
	if st.Instances != 2 || st.Leases != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
	p.ReleaseLease(a)
	p.ReleaseLease(b)
	p.ReleaseLease(c)
	if st := p.Stats(); st.Leases != 0 {
		t.Fatalf("expected no leases after release, got %d", st.Leases)
	}
	if !a.Page.(*fakePage).closed.Load() {
		t.Fatal("released page must be closed")
	}
}

func TestPoolBoundsUnderConcurrency(t *testing.T) {
	l := &fakeLauncher{delay: 2 * time.Millisecond}
	cfg := Config{Size: 3, LeasesPerInstance: 2, AcquireTimeout: 2 * time.Second}
	p := newTestPool(l, cfg)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		maxInst  int
		maxLease int
		failures atomic.Int32
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := p.AcquireLease(ctx)
			if err != nil {
				failures.Add(1)
				return
			}
			st := p.Stats()
			mu.Lock()
			if st.Instances+st.Launching > maxInst {
				maxInst = st.Instances + st.Launching
			}
			for _, inst := range st.PerInstance {
				if inst.LeaseCount > maxLease {
					maxLease = inst.LeaseCount
				}
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			p.ReleaseLease(lease)
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("unexpected acquire failures: %d", failures.Load())
	}
	if maxInst > cfg.Size {
		t.Fatalf("instances exceeded pool size: %d > %d", maxInst, cfg.Size)
	}
	if maxLease > cfg.LeasesPerInstance {
		t.Fatalf("lease count exceeded cap: %d > %d", maxLease, cfg.LeasesPerInstance)
	}
	if got := int(l.launches.Load()); got > cfg.Size {
		t.Fatalf("launched %d instances, pool size %d", got, cfg.Size)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, Config{Size: 1, LeasesPerInstance: 1, AcquireTimeout: 2 * time.Second})
	ctx := context.Background()

	first, err := p.AcquireLease(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	got := make(chan *Lease, 1)
	go func() {
		lease, err := p.AcquireLease(ctx)
		if err != nil {
			t.Errorf("second acquire: %v", err)
		}
		got <- lease
	}()

	select {
	case <-got:
		t.Fatal("second acquire must block while the only slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	p.ReleaseLease(first)
	select {
	case second := <-got:
		if second == nil || second.InstanceID != first.InstanceID {
			t.Fatalf("expected second lease on the same instance, got %+v", second)
		}
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestAcquireTimesOutWithResourceExhausted(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, Config{Size: 1, LeasesPerInstance: 1, AcquireTimeout: 40 * time.Millisecond})
	ctx := context.Background()

	if _, err := p.AcquireLease(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	start := time.Now()
	_, err := p.AcquireLease(ctx)
	if !errors.Is(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if waited := time.Since(start); waited < 40*time.Millisecond {
		t.Fatalf("gave up too early after %s", waited)
	}
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, Config{Size: 1, LeasesPerInstance: 1, AcquireTimeout: time.Minute})
	if _, err := p.AcquireLease(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.AcquireLease(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestLaunchFailureIsWrapped(t *testing.T) {
	p := newTestPool(&fakeLauncher{err: errors.New("no chrome")}, Config{Size: 1})
	_, err := p.AcquireLease(context.Background())
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("expected ErrLaunchFailed, got %v", err)
	}
	if st := p.Stats(); st.Instances != 0 || st.Launching != 0 {
		t.Fatalf("failed launch must not hold capacity: %+v", st)
	}
}

func TestOpenPageFailureFreesSlotAndMarksUnhealthy(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(l, Config{Size: 1, LeasesPerInstance: 1})
	lease, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.ReleaseLease(lease)

	eng := l.engines[0]
	eng.openErr = errors.New("target crashed")
	eng.pingErr = errors.New("disconnected")
	if _, err := p.AcquireLease(context.Background()); err == nil {
		t.Fatal("expected open page failure")
	}
	st := p.Stats()
	if st.PerInstance[0].LeaseCount != 0 {
		t.Fatalf("slot not freed: %+v", st.PerInstance[0])
	}
	if st.PerInstance[0].Healthy {
		t.Fatal("instance should be marked unhealthy after a failed ping")
	}
	if res := p.Reap(); res.InstancesClosed != 1 {
		t.Fatalf("unhealthy idle instance should be torn down, got %+v", res)
	}
	if !eng.closed.Load() {
		t.Fatal("engine not closed")
	}
}

func TestReleaseLeaseIsIdempotent(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, Config{Size: 1, LeasesPerInstance: 2})
	lease, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	other, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.ReleaseLease(lease)
	p.ReleaseLease(lease)
	p.ReleaseLease(nil)
	if st := p.Stats(); st.PerInstance[0].LeaseCount != 1 {
		t.Fatalf("double release must not double-decrement: %+v", st.PerInstance[0])
	}
	p.ReleaseLease(other)
}

func TestReleaseToleratesCloseError(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, Config{Size: 1, LeasesPerInstance: 1})
	lease, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease.Page.(*fakePage).closeErr = errors.New("already gone")
	p.ReleaseLease(lease)
	if st := p.Stats(); st.Leases != 0 || st.PerInstance[0].LeaseCount != 0 {
		t.Fatalf("close error must still free the slot: %+v", st)
	}
}

func TestReapClosesStaleLeasesAndIdleInstances(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := &fakeLauncher{}
	p := newTestPool(l, Config{
		Size:                2,
		LeasesPerInstance:   1,
		PageIdleTimeout:     time.Minute,
		InstanceIdleTimeout: 5 * time.Minute,
	})
	p.now = func() time.Time { return now }

	stale, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(30 * time.Second)
	if res := p.Reap(); res.LeasesClosed != 0 || res.InstancesClosed != 0 {
		t.Fatalf("nothing should be reaped yet: %+v", res)
	}

	now = now.Add(31 * time.Second)
	res := p.Reap()
	if res.LeasesClosed != 1 {
		t.Fatalf("expected stale lease closed, got %+v", res)
	}
	if !stale.Page.(*fakePage).closed.Load() {
		t.Fatal("stale page not closed")
	}
	if st := p.Stats(); st.Leases != 0 || st.Instances != 1 || st.PerInstance[0].LeaseCount != 0 {
		t.Fatalf("unexpected stats after lease reap: %+v", st)
	}

	// A late release of the force-closed lease must be a no-op.
	p.ReleaseLease(stale)
	if st := p.Stats(); st.PerInstance[0].LeaseCount != 0 {
		t.Fatalf("late release corrupted lease count: %+v", st.PerInstance[0])
	}

	now = now.Add(4 * time.Minute)
	if res := p.Reap(); res.InstancesClosed != 0 {
		t.Fatalf("instance torn down before its idle timeout: %+v", res)
	}
	now = now.Add(2 * time.Minute)
	if res := p.Reap(); res.InstancesClosed != 1 {
		t.Fatalf("expected idle instance teardown, got %+v", res)
	}
	if !l.engines[0].closed.Load() {
		t.Fatal("engine not closed on teardown")
	}
	if st := p.Stats(); st.Instances != 0 {
		t.Fatalf("expected empty pool, got %+v", st)
	}
}

func TestReapKeepsBusyInstances(t *testing.T) {
	now := time.Now()
	p := newTestPool(&fakeLauncher{}, Config{Size: 1, LeasesPerInstance: 1, PageIdleTimeout: time.Hour, InstanceIdleTimeout: time.Second})
	p.now = func() time.Time { return now }
	lease, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(time.Minute)
	if res := p.Reap(); res.InstancesClosed != 0 {
		t.Fatalf("instance with an open lease must survive: %+v", res)
	}
	p.ReleaseLease(lease)
}

func TestStartRunsReaperOnTick(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(l, Config{
		Size:                1,
		LeasesPerInstance:   1,
		InstanceIdleTimeout: time.Millisecond,
		ReapInterval:        5 * time.Millisecond,
	})
	lease, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.ReleaseLease(lease)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for p.Live() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("reaper did not tear down idle instance")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = p.Destroy()
}

func TestDestroyClosesEverything(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(l, Config{Size: 2, LeasesPerInstance: 1})
	a, _ := p.AcquireLease(context.Background())
	b, _ := p.AcquireLease(context.Background())

	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	for _, lease := range []*Lease{a, b} {
		if !lease.Page.(*fakePage).closed.Load() {
			t.Fatal("lease page left open")
		}
	}
	for _, e := range l.engines {
		if !e.closed.Load() {
			t.Fatal("engine left running")
		}
	}
	if _, err := p.AcquireLease(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after destroy, got %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	p.ReleaseLease(a)
}

func TestCheckInstanceMarksCrashedEngineUnhealthy(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(l, Config{Size: 1, LeasesPerInstance: 2})
	lease, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := p.CheckInstance(context.Background(), lease.InstanceID); err != nil {
		t.Fatalf("healthy engine reported %v", err)
	}

	l.engines[0].pingErr = errors.New("target crashed")
	if err := p.CheckInstance(context.Background(), lease.InstanceID); err == nil {
		t.Fatal("expected ping failure")
	}
	if st := p.Stats(); st.PerInstance[0].Healthy {
		t.Fatal("instance should be unhealthy after a failed check")
	}
	if err := p.CheckInstance(context.Background(), "unknown"); err != nil {
		t.Fatalf("unknown instance: %v", err)
	}
}

func TestAcquireReplacesUnhealthyIdleInstanceBeforeReap(t *testing.T) {
	l := &fakeLauncher{}
	p := newTestPool(l, Config{Size: 1, LeasesPerInstance: 1, AcquireTimeout: 50 * time.Millisecond, ReapInterval: time.Hour})
	first, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.MarkUnhealthy(first.InstanceID)
	p.ReleaseLease(first)

	second, err := p.AcquireLease(context.Background())
	if err != nil {
		t.Fatalf("acquire after crash should relaunch, got %v", err)
	}
	if second.InstanceID == first.InstanceID {
		t.Fatal("lease landed on the unhealthy instance")
	}
	if !l.engines[0].closed.Load() {
		t.Fatal("unhealthy engine not closed")
	}
	if st := p.Stats(); st.Instances != 1 || !st.PerInstance[0].Healthy {
		t.Fatalf("unexpected stats %+v", st)
	}
}
