package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/svarade/payoutcore/internal/audit/domain"
	"github.com/svarade/payoutcore/internal/auditcontext"
	"github.com/svarade/payoutcore/internal/clock"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/ratelimit"
	recondomain "github.com/svarade/payoutcore/internal/reconciliation/domain"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	PayoutSvc  payoutdomain.Service
	PayoutRepo payoutdomain.Repository
	ReconSvc   recondomain.Service
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

// Scheduler drives the background loops of the payout pipeline: the retry
// pump, the unknown-outcome sweep, and the stuck-processing sweep.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	payoutSvc  payoutdomain.Service
	payoutRepo payoutdomain.Repository
	reconSvc   recondomain.Service
	locker     *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.PayoutSvc == nil || p.PayoutRepo == nil || p.ReconSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		payoutSvc:  p.PayoutSvc,
		payoutRepo: p.PayoutRepo,
		reconSvc:   p.ReconSvc,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "retry_pump", 30*time.Second, s.RetryPumpJob))
	err = errors.Join(err, s.runJob(parent, "unknown_sweep", 30*time.Second, s.UnknownSweepJob))
	err = errors.Join(err, s.runJob(parent, "stuck_processing", 30*time.Second, s.StuckProcessingJob))
	return err
}

// runJob scopes one job run: a timeout, a system actor for audit entries,
// and a distributed lock so concurrent instances do not double-run it.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")

	if s.locker != nil {
		key := "scheduler:lock:" + name
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			// Another instance holds the job.
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				s.log.Warn("failed to release job lock", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	start := s.clock.Now()
	err := fn(ctx)
	s.log.Debug("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", s.clock.Now().Sub(start)),
		zap.Error(err))
	return err
}

// RetryPumpJob claims due retry tasks and runs them. Claiming is a CAS on
// the task row, so instances racing on the same batch cannot double-run one.
func (s *Scheduler) RetryPumpJob(ctx context.Context) error {
	tasks, err := s.payoutRepo.ClaimDueRetries(ctx, s.db, s.clock.Now().UTC(), s.cfg.RetryBatchSize)
	if err != nil {
		return err
	}

	var errs error
	for _, task := range tasks {
		if err := s.payoutSvc.RunRetry(ctx, *task); err != nil {
			s.log.Warn("retry task failed",
				zap.String("task_id", task.ID.String()),
				zap.String("transfer_id", task.TransferID.String()),
				zap.Error(err))
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// UnknownSweepJob asks providers about transfers parked in unknown.
func (s *Scheduler) UnknownSweepJob(ctx context.Context) error {
	resolved, err := s.reconSvc.ResolveUnknownTransfers(ctx, s.cfg.UnknownSweepAge, s.cfg.UnknownBatch)
	if err != nil {
		return err
	}
	if resolved > 0 {
		s.log.Info("resolved unknown transfers", zap.Int("count", resolved))
	}
	return nil
}

// StuckProcessingJob parks transfers that have sat in processing with no
// provider news. Moving them to unknown hands them to the sweep above and
// to reconciliation; nothing here guesses an outcome.
func (s *Scheduler) StuckProcessingJob(ctx context.Context) error {
	cutoff := s.clock.Now().UTC().Add(-s.cfg.StuckProcessingAge)
	transfers, err := s.payoutRepo.ListTransfersByStatus(ctx, s.db, payoutdomain.TransferStatusProcessing, cutoff, s.cfg.StuckBatch)
	if err != nil {
		return err
	}

	var errs error
	for _, transfer := range transfers {
		moved, err := s.payoutRepo.TransitionTransfer(ctx, s.db, transfer.ID,
			payoutdomain.TransferStatusProcessing, payoutdomain.TransferStatusUnknown,
			map[string]any{"updated_at": s.clock.Now().UTC()})
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if moved {
			s.log.Warn("transfer parked as unknown after processing timeout",
				zap.String("transfer_id", transfer.ID.String()),
				zap.String("rail", string(transfer.Rail)))
		}
	}
	return errs
}
