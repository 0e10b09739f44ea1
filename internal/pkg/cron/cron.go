package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/qs3c/promo_credit_server/config"
	"github.com/qs3c/promo_credit_server/internal/pkg/logger"
)

// Sweeper 推广生命周期迁移
type Sweeper interface {
	ActivateDue(ctx context.Context, now time.Time) (int64, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	sweeper Sweeper
	cfg     config.SchedulerConfig
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewService(sweeper Sweeper, cfg config.SchedulerConfig, log *zap.Logger) *Service {
	return &Service{
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger.OrNop(log),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start 按配置的表达式注册任务并启动，表达式含秒字段
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.ActivateSpec, func() { s.runActivate(context.Background()) }); err != nil {
		return fmt.Errorf("invalid activate spec %q: %w", s.cfg.ActivateSpec, err)
	}
	if _, err := c.AddFunc(s.cfg.ExpireSpec, func() { s.runExpire(context.Background()) }); err != nil {
		return fmt.Errorf("invalid expire spec %q: %w", s.cfg.ExpireSpec, err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("lifecycle sweeper started",
		zap.String("activate_spec", s.cfg.ActivateSpec),
		zap.String("expire_spec", s.cfg.ExpireSpec))
	return nil
}

// Stop 停止调度并等待进行中的任务结束
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("lifecycle sweeper stopped")
}

// RunNow 立即执行一轮激活和过期
func (s *Service) RunNow(ctx context.Context) error {
	_, errActivate := s.runActivate(ctx)
	_, errExpire := s.runExpire(ctx)
	return errors.Join(errActivate, errExpire)
}

func (s *Service) runActivate(ctx context.Context) (int64, error) {
	n, err := s.sweeper.ActivateDue(ctx, s.now().UTC())
	s.report("activate", n, err)
	return n, err
}

func (s *Service) runExpire(ctx context.Context) (int64, error) {
	n, err := s.sweeper.ExpireDue(ctx, s.now().UTC())
	s.report("expire", n, err)
	return n, err
}

func (s *Service) report(transition string, n int64, err error) {
	if err != nil {
		s.logger.Error("lifecycle sweep failed", zap.String("transition", transition), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("lifecycle sweep", zap.String("transition", transition), zap.Int64("promotions", n))
	}
}
