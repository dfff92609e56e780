package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/schuttebj/linc-print-backend/internal/core"
	"github.com/schuttebj/linc-print-backend/internal/platform/logger"
)

// Sweeper periodically repairs the gap between job records and the card
// store: it finishes interrupted post-completion cleanups, spawns reprints
// that a crash swallowed, and reports directories no record accounts for.
type Sweeper struct {
	engine   *core.Engine
	log      *logger.Logger
	interval time.Duration
	stopCh   chan struct{}
	mu       sync.Mutex
}

// SweepReport summarizes one pass for the maintenance endpoint.
type SweepReport struct {
	CleanupsReconciled int           `json:"cleanups_reconciled"`
	ReprintsSpawned    int           `json:"reprints_spawned"`
	Orphans            []core.Orphan `json:"orphans"`
	Duration           string        `json:"duration"`
}

func NewSweeper(engine *core.Engine, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		engine:   engine,
		log:      log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.RunSweep(context.Background()); err != nil {
				s.log.Error("maintenance sweep failed", "error", err)
			}
		}
	}
}

// RunSweep executes one full pass. Only one pass runs at a time; a manual
// trigger while the timer pass is running waits for it.
func (s *Sweeper) RunSweep(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	report := &SweepReport{}

	cleaned, err := s.engine.ReconcileCleanups(ctx)
	if err != nil {
		return nil, err
	}
	report.CleanupsReconciled = cleaned

	spawned, err := s.engine.RepairMissingReprints(ctx)
	if err != nil {
		return nil, err
	}
	report.ReprintsSpawned = spawned

	orphans, err := s.engine.ScanOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report.Orphans = orphans

	report.Duration = time.Since(start).String()

	if cleaned > 0 || spawned > 0 || len(orphans) > 0 {
		s.log.Info("maintenance sweep finished",
			"cleanups_reconciled", cleaned,
			"reprints_spawned", spawned,
			"orphans", len(orphans),
			"duration", report.Duration)
	}
	return report, nil
}
