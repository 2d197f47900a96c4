package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/config"
	"github.com/quantfall/goxfeed/internal/telemetry"
)

// SupervisorState names the failover state machine's positions.
type SupervisorState int

const (
	// PrimaryHealthy: the primary delivers frames, the backup is idle.
	PrimaryHealthy SupervisorState = iota
	// PrimarySilent: the primary is running but frame-silent beyond the
	// threshold; a restart has been issued.
	PrimarySilent
	// BackupActive: the backup transport carries the feed while the
	// primary recovers.
	BackupActive
	// BothDown: neither transport is running.
	BothDown
)

// String returns a log-friendly state name.
func (s SupervisorState) String() string {
	switch s {
	case PrimarySilent:
		return "primary_silent"
	case BackupActive:
		return "backup_active"
	case BothDown:
		return "both_down"
	default:
		return "primary_healthy"
	}
}

// liveness is one observation of both transports and the book snapshot.
type liveness struct {
	primaryRunning bool
	primarySilence time.Duration
	primaryConnAge time.Duration
	backupRunning  bool
	backupState    ConnState
	snapshotAge    time.Duration
}

// actions is the side-effect set produced by one transition.
type actions struct {
	restartPrimary bool
	startBackup    bool
	stopBackup     bool
	refreshDepth   bool
}

// transition is the single pure decision function of the failover state
// machine. The feed silently loses messages at times, so a frame-silent
// primary is restarted and backed up; once the primary speaks again the
// backup is stopped because only one transport needs to run.
func transition(obs liveness, th config.Thresholds) (SupervisorState, actions) {
	var act actions

	if !obs.primaryRunning && !obs.backupRunning {
		return BothDown, act
	}

	if obs.primarySilence <= th.PrimarySilence {
		act.stopBackup = obs.backupRunning
		return PrimaryHealthy, act
	}

	// Connections younger than the silence threshold have not had a fair
	// chance to produce a frame yet.
	if obs.primaryConnAge > th.PrimarySilence {
		act.restartPrimary = true
		act.startBackup = !obs.backupRunning
	}
	if obs.snapshotAge > th.BackupDepthRefresh && obs.backupState != StateConnected {
		act.refreshDepth = true
	}

	if obs.backupRunning || act.startBackup {
		return BackupActive, act
	}
	return PrimarySilent, act
}

// Supervisor is the periodic watchdog driving the failover machine.
type Supervisor struct {
	primary Transport
	backup  Transport
	book    BookInfo
	rest    *RESTClient

	thresholds config.Thresholds
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	clock      func() time.Time

	mu    sync.Mutex
	state SupervisorState
}

// NewSupervisor constructs the watchdog over the two transports.
func NewSupervisor(primary, backup Transport, book BookInfo, rest *RESTClient,
	cfg config.Settings, metrics *telemetry.Metrics, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		primary:    primary,
		backup:     backup,
		book:       book,
		rest:       rest,
		thresholds: cfg.Thresholds,
		logger:     logger.Named("supervisor"),
		metrics:    metrics,
		clock:      time.Now,
		state:      PrimaryHealthy,
	}
}

// State returns the machine's current position.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run evaluates the machine on a fixed period until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.thresholds.SupervisorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	now := s.clock()
	obs := s.observe(now)
	next, act := transition(obs, s.thresholds)

	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if next != prev {
		s.logger.Info("failover state changed",
			zap.Stringer("from", prev), zap.Stringer("to", next),
			zap.Duration("primary_silence", obs.primarySilence),
			zap.Duration("snapshot_age", obs.snapshotAge))
	}

	if act.restartPrimary {
		s.logger.Warn("primary frame-silent, restarting",
			zap.Duration("silence", obs.primarySilence))
		s.metrics.Failover()
		s.primary.Stop()
		s.primary.Start()
	}
	if act.startBackup {
		s.logger.Info("starting backup transport")
		s.backup.Start()
	}
	if act.stopBackup {
		s.logger.Info("primary healthy, stopping backup transport")
		s.backup.Stop()
	}
	if act.refreshDepth {
		go s.rest.PartialDepth(ctx)
		go s.rest.FastTicker(ctx)
	}
}

func (s *Supervisor) observe(now time.Time) liveness {
	obs := liveness{
		primaryRunning: s.primary.Running(),
		backupRunning:  s.backup.Running(),
		backupState:    s.backup.State(),
		snapshotAge:    s.book.SnapshotAge(now),
	}
	if last := s.primary.LastFrame(); !last.IsZero() {
		obs.primarySilence = now.Sub(last)
	} else if since := s.primary.ConnectedSince(); !since.IsZero() {
		obs.primarySilence = now.Sub(since)
	} else if obs.primaryRunning {
		// Started but never connected; treat as silent forever.
		obs.primarySilence = s.thresholds.PrimarySilence + time.Second
	}
	if since := s.primary.ConnectedSince(); !since.IsZero() {
		obs.primaryConnAge = now.Sub(since)
	} else if obs.primaryRunning {
		obs.primaryConnAge = s.thresholds.PrimarySilence + time.Second
	}
	return obs
}
