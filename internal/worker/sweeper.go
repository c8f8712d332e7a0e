package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	sweeperLockKey = "payment-sweeper"
	sweeperLockTTL = 30 * time.Minute
)

// SweepProcessor charges every second installment that has come due
type SweepProcessor interface {
	ProcessDueSecondPayments(ctx context.Context) (*service.SweepResult, error)
}

// Locker guards a sweep so only one replica runs it at a time
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// PaymentSweeper runs the second-payment sweep on a cron schedule
type PaymentSweeper struct {
	processor SweepProcessor
	locker    Locker
	cron      *cron.Cron
	schedule  string
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPaymentSweeper validates the schedule and builds a sweeper. locker may
// be nil for single-instance deployments.
func NewPaymentSweeper(processor SweepProcessor, locker Locker, schedule, timezone string) (*PaymentSweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep timezone %q: %w", timezone, err)
		}
		loc = l
	}

	logger := util.GetLogger().With(zap.String("component", "payment-sweeper"))
	cronLogger := zapCronLogger{logger: logger}

	return &PaymentSweeper{
		processor: processor,
		locker:    locker,
		schedule:  schedule,
		logger:    logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}, nil
}

// Start registers the job and starts the scheduler. Runs in flight observe
// cancellation of ctx.
func (s *PaymentSweeper) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(runCtx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Payment sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish
func (s *PaymentSweeper) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Payment sweeper stopped")
}

// RunOnce performs a single sweep. It returns nil result when another
// instance holds the lock.
func (s *PaymentSweeper) RunOnce(ctx context.Context) *service.SweepResult {
	ctx, span := util.StartSpan(ctx, "PaymentSweeper.RunOnce")
	defer span.End()

	if s.locker != nil {
		token, err := s.locker.AcquireLock(ctx, sweeperLockKey, sweeperLockTTL)
		if err != nil {
			// charges carry idempotency keys, so an unlocked run is tolerated
			s.logger.Warn("Failed to acquire sweep lock, running unlocked", zap.Error(err))
		} else if token == "" {
			util.SweeperRunsTotal.WithLabelValues("skipped").Inc()
			s.logger.Info("Sweep already running elsewhere, skipping")
			return nil
		} else {
			defer func() {
				if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), sweeperLockKey, token); err != nil {
					s.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	result, err := s.processor.ProcessDueSecondPayments(ctx)
	if err != nil {
		util.RecordError(span, err)
		util.SweeperRunsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Second payment sweep failed", zap.Error(err))
		return nil
	}

	util.SweeperRunsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Second payment sweep finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int64("marked_overdue", result.MarkedOverdue),
		zap.Duration("took", time.Since(start)))
	return result
}

// zapCronLogger adapts zap to cron.Logger
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
