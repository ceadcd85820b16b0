package license

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// fakeAuthority answers with whatever attempt is currently scripted
type fakeAuthority struct {
	mu      sync.Mutex
	attempt Attempt
	delay   time.Duration
	calls   atomic.Int32
	last    domain.VerifyRequest
	// answer overrides attempt when set; it may block
	answer func(req domain.VerifyRequest) Attempt
}

func (f *fakeAuthority) set(a Attempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempt = a
}

func (f *fakeAuthority) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.last = req
	a, answer := f.attempt, f.answer
	f.mu.Unlock()
	if answer != nil {
		a = answer(req)
	}
	return a.Response, a.Err
}

type fakeCounter struct{ n atomic.Int32 }

func (c *fakeCounter) Count(context.Context) (int, error) { return int(c.n.Load()), nil }

type recordingPublisher struct {
	mu    sync.Mutex
	views []domain.LicenseStatusView
}

func (p *recordingPublisher) PublishStatus(v domain.LicenseStatusView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, v)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.views)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type managerFixture struct {
	manager   *Manager
	authority *fakeAuthority
	counter   *fakeCounter
	clock     *clock
	settings  *Settings
	publisher *recordingPublisher
}

func newManagerFixture(t *testing.T, kv KV, key string) *managerFixture {
	t.Helper()
	cfg := config.Default().License
	cfg.Key = key

	f := &managerFixture{
		authority: &fakeAuthority{attempt: ok(domain.ActualStatusActive, 3)},
		counter:   &fakeCounter{},
		clock:     &clock{now: baseTime},
		settings:  NewSettings(kv),
		publisher: &recordingPublisher{},
	}
	f.manager = NewManager(f.settings, f.authority, f.counter, cfg, nil, infrastructure.NewLogger(&bytes.Buffer{}, "error"))
	f.manager.now = f.clock.Now
	f.manager.SetPublisher(f.publisher)
	require.NoError(t, f.manager.Start(context.Background()))
	return f
}

func TestManager_StartSeedsKeyAndInstallation(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), " CONFIG-KEY ")
	ctx := context.Background()

	key, err := f.settings.LicenseKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CONFIG-KEY", key)
	assert.NotEmpty(t, f.manager.InstallationID())

	f.manager.Verdict(ctx)
	assert.Equal(t, "CONFIG-KEY", f.authority.last.LicenseKey)
	assert.Equal(t, f.manager.InstallationID(), f.authority.last.InstallationID)
	assert.Equal(t, f.manager.InstallationID(), f.authority.last.CallerID)
}

func TestManager_CachesWithinRefreshInterval(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	ctx := context.Background()

	v := f.manager.Verdict(ctx)
	assert.Equal(t, domain.StatusActive, v.StatusCode)
	assert.Equal(t, int32(1), f.authority.calls.Load())

	f.clock.Advance(59 * time.Minute)
	f.manager.Verdict(ctx)
	assert.Equal(t, int32(1), f.authority.calls.Load())

	f.clock.Advance(time.Minute)
	f.manager.Verdict(ctx)
	assert.Equal(t, int32(2), f.authority.calls.Load())
}

func TestManager_ConcurrentStaleReadsShareOneCheck(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	f.authority.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, domain.StatusActive, f.manager.Verdict(context.Background()).StatusCode)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.authority.calls.Load())
}

func TestManager_GraceBridgesOutage(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	ctx := context.Background()

	require.Equal(t, domain.StatusActive, f.manager.ForceRecheck(ctx).StatusCode)

	f.authority.set(unreachable())
	f.clock.Advance(2 * 24 * time.Hour)
	v := f.manager.ForceRecheck(ctx)
	assert.Equal(t, domain.StatusGracePeriod, v.StatusCode)
	assert.Equal(t, 3, v.MaxDevices)
	require.NotNil(t, v.GracePeriodEnd)
	assert.True(t, baseTime.Add(grace).Equal(*v.GracePeriodEnd))

	f.clock.Advance(5 * 24 * time.Hour)
	assert.Equal(t, domain.StatusDisabled, f.manager.ForceRecheck(ctx).StatusCode)

	f.authority.set(ok(domain.ActualStatusActive, 3))
	assert.Equal(t, domain.StatusActive, f.manager.ForceRecheck(ctx).StatusCode)
}

func TestManager_RejectionEndsGrace(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	ctx := context.Background()

	f.manager.ForceRecheck(ctx)
	f.authority.set(rejected(domain.ActualStatusRevoked, "License has been revoked."))
	assert.Equal(t, domain.StatusRevoked, f.manager.ForceRecheck(ctx).StatusCode)

	// the revoked license left no snapshot to fall back on
	f.authority.set(unreachable())
	assert.Equal(t, domain.StatusError, f.manager.ForceRecheck(ctx).StatusCode)
}

func TestManager_StatePersistsAcrossRestart(t *testing.T) {
	kv := openSQLiteKV(t)
	ctx := context.Background()

	first := newManagerFixture(t, kv, "KEY")
	first.manager.ForceRecheck(ctx)
	id := first.manager.InstallationID()

	second := newManagerFixture(t, kv, "")
	assert.Equal(t, id, second.manager.InstallationID())

	// fresh persisted verdict is served without a live call
	assert.Equal(t, domain.StatusActive, second.manager.Verdict(ctx).StatusCode)
	assert.Equal(t, int32(0), second.authority.calls.Load())

	// the restored snapshot still anchors the grace window
	second.authority.set(unreachable())
	second.clock.Advance(24 * time.Hour)
	assert.Equal(t, domain.StatusGracePeriod, second.manager.ForceRecheck(ctx).StatusCode)
}

func TestManager_ForceRecheckClearsMarker(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	ctx := context.Background()

	f.manager.Verdict(ctx)
	f.manager.ForceRecheck(ctx)
	assert.Equal(t, int32(2), f.authority.calls.Load())

	checked, err := f.settings.LastCheckedAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, checked)
	assert.True(t, baseTime.Equal(*checked))
}

func TestManager_NoKeyConfigured(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "")
	v := f.manager.Verdict(context.Background())

	assert.Equal(t, domain.StatusError, v.StatusCode)
	assert.Equal(t, MsgNoKey, v.Message)
	assert.Equal(t, int32(0), f.authority.calls.Load())
}

func TestManager_UpdateKey(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "OLD")
	ctx := context.Background()
	f.manager.ForceRecheck(ctx)
	f.counter.n.Store(2)

	f.authority.set(unreachable())
	view, err := f.manager.UpdateKey(ctx, " NEW ")
	require.NoError(t, err)

	// the old key's snapshot must not grant a grace period to the new key
	assert.Equal(t, "NEW", view.AppLicenseKey)
	assert.Equal(t, domain.StatusError, view.LicenseStatusCode)
	assert.False(t, view.CanAddDevice)
	assert.Equal(t, 2, view.DeviceCount)

	_, err = f.manager.UpdateKey(ctx, "  ")
	assert.ErrorIs(t, err, ErrNoLicenseKey)
}

func TestManager_StatusView(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	f.counter.n.Store(2)

	view, err := f.manager.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, view.CanAddDevice)
	assert.Equal(t, 3, view.MaxDevices)
	assert.Equal(t, domain.StatusActive, view.LicenseStatusCode)
	assert.NotNil(t, view.LastCheckedAt)
	assert.Nil(t, view.LicenseGracePeriodEnd)

	f.counter.n.Store(3)
	view, err = f.manager.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, view.CanAddDevice)
}

func TestManager_PublishesOnChangeOnly(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	ctx := context.Background()

	f.manager.ForceRecheck(ctx)
	f.manager.ForceRecheck(ctx)
	assert.Equal(t, 1, f.publisher.count())

	f.authority.set(rejected(domain.ActualStatusExpired, "License has expired."))
	f.manager.ForceRecheck(ctx)
	assert.Equal(t, 2, f.publisher.count())
}

func TestManager_TriggerRecheck(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	f.manager.TriggerRecheck()
	f.manager.Wait()
	assert.Equal(t, int32(1), f.authority.calls.Load())
}

// blockFirstCall makes the first authority call wait for release and
// returns a channel closed once that call has started
func blockFirstCall(f *fakeAuthority, first Attempt, release <-chan struct{}, rest func(domain.VerifyRequest) Attempt) <-chan struct{} {
	entered := make(chan struct{})
	var n atomic.Int32
	f.answer = func(req domain.VerifyRequest) Attempt {
		if n.Add(1) == 1 {
			close(entered)
			<-release
			return first
		}
		return rest(req)
	}
	return entered
}

func TestManager_UpdateKeyDuringInFlightCheck(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "OLD")
	ctx := context.Background()

	release := make(chan struct{})
	entered := blockFirstCall(f.authority, ok(domain.ActualStatusActive, 5), release,
		func(domain.VerifyRequest) Attempt {
			return rejected(domain.ActualStatusNotFound, "License key not found.")
		})

	inflight := make(chan domain.Verdict, 1)
	go func() { inflight <- f.manager.Verdict(ctx) }()
	<-entered

	view, err := f.manager.UpdateKey(ctx, "NEW-UNKNOWN")
	require.NoError(t, err)
	assert.Equal(t, "NEW-UNKNOWN", view.AppLicenseKey)
	assert.Equal(t, domain.StatusNotFound, view.LicenseStatusCode)
	assert.False(t, view.CanAddDevice)
	assert.Equal(t, "NEW-UNKNOWN", f.authority.last.LicenseKey)

	close(release)
	v := <-inflight

	// the old key's late answer is dropped rather than overwriting the new key
	assert.Equal(t, domain.StatusNotFound, v.StatusCode)
	assert.Equal(t, domain.StatusNotFound, f.manager.Cached().StatusCode)
	assert.Equal(t, int32(2), f.authority.calls.Load())

	lastGood, err := f.settings.LastGood(ctx)
	require.NoError(t, err)
	assert.Nil(t, lastGood)

	stored, err := f.settings.Verdict(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusNotFound, stored.StatusCode)
}

func TestManager_ForceRecheckReportsCountWrittenDuringCheck(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	ctx := context.Background()

	var mu sync.Mutex
	var reported []int
	release := make(chan struct{})
	entered := blockFirstCall(f.authority, ok(domain.ActualStatusActive, 3), release,
		func(req domain.VerifyRequest) Attempt {
			mu.Lock()
			reported = append(reported, req.CurrentDeviceCount)
			mu.Unlock()
			return ok(domain.ActualStatusActive, 3)
		})

	inflight := make(chan domain.Verdict, 1)
	go func() { inflight <- f.manager.Verdict(ctx) }()
	<-entered

	f.counter.n.Store(1)
	v := f.manager.ForceRecheck(ctx)
	assert.Equal(t, domain.StatusActive, v.StatusCode)

	close(release)
	<-inflight

	assert.Equal(t, int32(2), f.authority.calls.Load())
	mu.Lock()
	assert.Equal(t, []int{1}, reported)
	mu.Unlock()
}

func TestManager_CachedNeverCallsAuthority(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")

	v := f.manager.Cached()
	assert.Equal(t, domain.StatusError, v.StatusCode)
	assert.Equal(t, int32(0), f.authority.calls.Load())

	f.manager.Verdict(context.Background())
	f.clock.Advance(3 * time.Hour)
	assert.Equal(t, domain.StatusActive, f.manager.Cached().StatusCode)
	assert.Equal(t, int32(1), f.authority.calls.Load())
}

func TestRefresher_ChecksImmediatelyAndStops(t *testing.T) {
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	r := NewRefresher(f.manager, time.Hour, infrastructure.NewLogger(&bytes.Buffer{}, "error"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool { return f.authority.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatusActive, f.manager.Cached().StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestRefresher_ChecksOnEveryTick(t *testing.T) {
	// the fixture clock never moves, so the verdict always looks fresh;
	// ticks must still reach the authority
	f := newManagerFixture(t, openSQLiteKV(t), "KEY")
	r := NewRefresher(f.manager, 20*time.Millisecond, infrastructure.NewLogger(&bytes.Buffer{}, "error"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool { return f.authority.calls.Load() >= 6 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
