package license

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// AuthorityClient verifies a license against the authority
type AuthorityClient interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResponse, error)
}

// DeviceCounter reports how many devices the instance manages
type DeviceCounter interface {
	Count(ctx context.Context) (int, error)
}

// StatusPublisher receives the status payload whenever the verdict changes
type StatusPublisher interface {
	PublishStatus(view domain.LicenseStatusView)
}

// Manager owns the instance license cache. Reads are served from memory
// while the verdict is younger than the refresh interval; stale reads
// trigger one live check shared by all concurrent callers of the same
// cache generation. Forced rechecks and key changes start a new generation,
// so they never join a check that began before them.
type Manager struct {
	settings *Settings
	client   AuthorityClient
	counter  DeviceCounter
	cfg      config.LicenseConfig
	cache    *verdictCache
	group    singleflight.Group
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	pubMu     sync.RWMutex
	publisher StatusPublisher

	idMu           sync.RWMutex
	installationID string

	// commitMu orders check commits against key resets and invalidations
	commitMu sync.Mutex

	background sync.WaitGroup
}

type checkResult struct {
	verdict   domain.Verdict
	committed bool
}

// NewManager creates a manager. Call Start before serving requests.
func NewManager(settings *Settings, client AuthorityClient, counter DeviceCounter, cfg config.LicenseConfig, metrics *Metrics, logger *slog.Logger) *Manager {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = config.DefaultRefreshInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = config.DefaultGracePeriod
	}
	return &Manager{
		settings: settings,
		client:   client,
		counter:  counter,
		cfg:      cfg,
		cache:    newVerdictCache(),
		metrics:  metrics,
		tracer:   otel.Tracer(TracerName),
		logger:   infrastructure.WithComponent(logger, "license_manager"),
		now:      time.Now,
	}
}

// SetPublisher registers the status feed
func (m *Manager) SetPublisher(p StatusPublisher) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.publisher = p
}

// Start loads persisted state, seeding the license key from configuration
// when none is stored, and ensures the installation id exists.
func (m *Manager) Start(ctx context.Context) error {
	id, err := EnsureInstallationID(ctx, m.settings)
	if err != nil {
		return fmt.Errorf("installation id: %w", err)
	}
	m.idMu.Lock()
	m.installationID = id
	m.idMu.Unlock()

	key, err := m.settings.LicenseKey(ctx)
	if err != nil {
		return err
	}
	if key == "" && m.cfg.Key != "" {
		key = strings.TrimSpace(m.cfg.Key)
		if err := m.settings.SetLicenseKey(ctx, key); err != nil {
			return err
		}
	}

	verdict, err := m.settings.Verdict(ctx)
	if err != nil {
		return err
	}
	lastGood, err := m.settings.LastGood(ctx)
	if err != nil {
		return err
	}
	checkedAt, err := m.settings.LastCheckedAt(ctx)
	if err != nil {
		return err
	}
	m.cache.restore(verdict, lastGood, checkedAt)

	m.logger.InfoContext(ctx, "license manager started",
		slog.String("installation_id", id),
		slog.String("license_key", infrastructure.MaskLicenseKey(key)),
		slog.Bool("has_last_good", lastGood != nil),
		slog.Duration("refresh_interval", m.cfg.RefreshInterval),
		slog.Duration("grace_period", m.cfg.GracePeriod))
	return nil
}

// InstallationID returns the instance's installation id
func (m *Manager) InstallationID() string {
	m.idMu.RLock()
	defer m.idMu.RUnlock()
	return m.installationID
}

// Verdict returns the cached verdict, performing a live check first when
// the cache is stale
func (m *Manager) Verdict(ctx context.Context) domain.Verdict {
	if v, ok := m.cache.fresh(m.now(), m.cfg.RefreshInterval); ok {
		m.metrics.recordCache(ctx, true)
		return v
	}
	m.metrics.recordCache(ctx, false)
	return m.refresh(ctx, false)
}

// Cached returns the in-memory verdict without checking its age. Request
// paths read this; the refresher keeps it current.
func (m *Manager) Cached() domain.Verdict {
	return m.cache.current()
}

// Refresh performs a live check regardless of the verdict's age
func (m *Manager) Refresh(ctx context.Context) domain.Verdict {
	return m.refresh(ctx, true)
}

// ForceRecheck clears the last-checked marker and performs a live check
// that reads the current key and device count
func (m *Manager) ForceRecheck(ctx context.Context) domain.Verdict {
	m.commitMu.Lock()
	m.cache.invalidate()
	err := m.settings.ClearLastCheckedAt(ctx)
	m.commitMu.Unlock()
	if err != nil {
		m.logger.WarnContext(ctx, "failed to clear last checked marker",
			slog.String("error", err.Error()))
	}
	return m.refresh(ctx, true)
}

// TriggerRecheck forces a recheck in the background
func (m *Manager) TriggerRecheck() {
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		m.ForceRecheck(context.Background())
	}()
}

// Wait blocks until background rechecks have finished
func (m *Manager) Wait() {
	m.background.Wait()
}

// UpdateKey stores a new license key and rechecks immediately. A changed
// key discards the previous key's last-good snapshot.
func (m *Manager) UpdateKey(ctx context.Context, key string) (domain.LicenseStatusView, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.LicenseStatusView{}, ErrNoLicenseKey
	}

	current, err := m.settings.LicenseKey(ctx)
	if err != nil {
		return domain.LicenseStatusView{}, err
	}
	if err := m.settings.SetLicenseKey(ctx, key); err != nil {
		return domain.LicenseStatusView{}, err
	}
	if current != key {
		m.commitMu.Lock()
		m.cache.resetLastGood()
		err := m.settings.SetLastGood(ctx, nil)
		m.commitMu.Unlock()
		if err != nil {
			return domain.LicenseStatusView{}, err
		}
		m.logger.InfoContext(ctx, "license key updated",
			slog.String("license_key", infrastructure.MaskLicenseKey(key)))
	}

	m.ForceRecheck(ctx)
	return m.Status(ctx)
}

// Status returns the status payload for the UI
func (m *Manager) Status(ctx context.Context) (domain.LicenseStatusView, error) {
	v := m.Verdict(ctx)
	key, err := m.settings.LicenseKey(ctx)
	if err != nil {
		return domain.LicenseStatusView{}, err
	}
	count, err := m.counter.Count(ctx)
	if err != nil {
		return domain.LicenseStatusView{}, fmt.Errorf("count devices: %w", err)
	}
	return m.view(v, key, count), nil
}

func (m *Manager) view(v domain.Verdict, key string, count int) domain.LicenseStatusView {
	var checked *time.Time
	if !v.LastCheckedAt.IsZero() {
		t := v.LastCheckedAt
		checked = &t
	}
	return domain.LicenseStatusView{
		AppLicenseKey:         key,
		CanAddDevice:          v.CanAddDevice(count),
		MaxDevices:            v.MaxDevices,
		DeviceCount:           count,
		LicenseMessage:        v.Message,
		LicenseStatusCode:     v.StatusCode,
		LicenseGracePeriodEnd: v.GracePeriodEnd,
		LastCheckedAt:         checked,
		InstallationID:        m.InstallationID(),
	}
}

func (m *Manager) refresh(ctx context.Context, force bool) domain.Verdict {
	// detached so one caller giving up does not fail the shared check
	shared := context.WithoutCancel(ctx)
	for {
		gen := m.cache.currentGeneration()
		res, _, _ := m.group.Do(fmt.Sprintf("license-check-%d-%t", gen, force), func() (interface{}, error) {
			// a check that finished while this caller was queued is good enough
			if !force {
				if v, ok := m.cache.fresh(m.now(), m.cfg.RefreshInterval); ok {
					return checkResult{verdict: v, committed: true}, nil
				}
			}
			v, committed := m.check(shared)
			return checkResult{verdict: v, committed: committed}, nil
		})
		if r := res.(checkResult); r.committed {
			return r.verdict
		}
	}
}

// check performs one live call. The result is discarded when a forced
// recheck or key change superseded it while the call was running.
func (m *Manager) check(ctx context.Context) (domain.Verdict, bool) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "license.check")
	defer span.End()

	gen, previous, lastGood := m.cache.snapshot()

	key, err := m.settings.LicenseKey(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to read license key", slog.String("error", err.Error()))
	}

	count, err := m.counter.Count(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to count devices, reporting zero",
			slog.String("error", err.Error()))
		count = 0
	}

	var attempt Attempt
	if key == "" {
		attempt.Err = ErrNoLicenseKey
	} else {
		attempt.Response, attempt.Err = m.client.Verify(ctx, domain.VerifyRequest{
			LicenseKey:         key,
			CallerID:           m.callerID(),
			InstallationID:     m.InstallationID(),
			CurrentDeviceCount: count,
		})
	}

	now := m.now()
	eval := Evaluate(EvaluationInput{
		LastGood:    lastGood,
		Attempt:     attempt,
		Now:         now,
		GraceWindow: m.cfg.GracePeriod,
	})

	m.commitMu.Lock()
	committed := m.cache.store(gen, eval.Verdict, eval.LastGood, now)
	if committed {
		m.persist(ctx, eval, now)
	}
	m.commitMu.Unlock()

	span.SetAttributes(
		attribute.String("license.status_code", string(eval.Verdict.StatusCode)),
		attribute.Bool("license.superseded", !committed))
	m.metrics.recordCheck(ctx, eval.Verdict.StatusCode, time.Since(start).Seconds())

	if !committed {
		m.logger.DebugContext(ctx, "license check superseded, result discarded",
			slog.String("license_key", infrastructure.MaskLicenseKey(key)),
			slog.Int("device_count", count))
		return eval.Verdict, false
	}

	logAttrs := []any{
		slog.String("license_key", infrastructure.MaskLicenseKey(key)),
		slog.String("status_code", string(eval.Verdict.StatusCode)),
		slog.Int("max_devices", eval.Verdict.MaxDevices),
		slog.Int("device_count", count),
		slog.Duration("duration", time.Since(start)),
	}
	if attempt.Err != nil {
		logAttrs = append(logAttrs, slog.String("error", attempt.Err.Error()))
	}
	m.logger.InfoContext(ctx, "license checked", logAttrs...)

	if previous.StatusCode != eval.Verdict.StatusCode || previous.Message != eval.Verdict.Message {
		if previous.StatusCode != eval.Verdict.StatusCode {
			m.metrics.recordTransition(ctx, previous.StatusCode, eval.Verdict.StatusCode)
			m.logger.WarnContext(ctx, "license status changed",
				slog.String("from", string(previous.StatusCode)),
				slog.String("to", string(eval.Verdict.StatusCode)))
		}
		m.publish(m.view(eval.Verdict, key, count))
	}
	return eval.Verdict, true
}

func (m *Manager) persist(ctx context.Context, eval Evaluation, checkedAt time.Time) {
	if err := m.settings.SetLastGood(ctx, eval.LastGood); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist last good check", slog.String("error", err.Error()))
	}
	if err := m.settings.SetVerdict(ctx, eval.Verdict); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist verdict", slog.String("error", err.Error()))
	}
	if err := m.settings.SetLastCheckedAt(ctx, checkedAt); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist last checked marker", slog.String("error", err.Error()))
	}
}

func (m *Manager) publish(view domain.LicenseStatusView) {
	m.pubMu.RLock()
	p := m.publisher
	m.pubMu.RUnlock()
	if p != nil {
		p.PublishStatus(view)
	}
}

// callerID identifies the account the instance reports under; installations
// without a configured user report their installation id
func (m *Manager) callerID() string {
	if m.cfg.UserID != "" {
		return m.cfg.UserID
	}
	return m.InstallationID()
}
