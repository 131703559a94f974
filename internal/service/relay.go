package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/feedsync/internal/realtime"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/logger"
)

// ChangePublisher 实时通道的发布端
type ChangePublisher interface {
	Publish(ctx context.Context, c realtime.Change) error
}

// OutboxRelay 从 outbox 认领变更并推送到实时通道
type OutboxRelay struct {
	outbox       repository.OutboxRepository
	pub          ChangePublisher
	limiter      *rate.Limiter
	claimLimit   int
	pollInterval time.Duration
	workers      int
	metricsCh    chan time.Duration // outbox->published latency
}

// NewOutboxRelay ratePerSecond <= 0 表示不限速
func NewOutboxRelay(outbox repository.OutboxRepository, pub ChangePublisher, workers, claimLimit int, pollInterval time.Duration, ratePerSecond float64) *OutboxRelay {
	if workers <= 0 {
		workers = 2
	}
	if claimLimit <= 0 {
		claimLimit = 128
	}
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), claimLimit)
	}
	return &OutboxRelay{
		outbox:       outbox,
		pub:          pub,
		limiter:      limiter,
		claimLimit:   claimLimit,
		pollInterval: pollInterval,
		workers:      workers,
		metricsCh:    make(chan time.Duration, 65536),
	}
}

func (w *OutboxRelay) Metrics() <-chan time.Duration { return w.metricsCh }

// Start 启动若干 worker 轮询处理 outbox；返回停止函数，停止时等待在途批次完成。
func (w *OutboxRelay) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}

func (w *OutboxRelay) loop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("outbox relay batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 认领一批 pending 记录并逐条发布，返回发布成功的条数。
// 发布失败的记录放回 pending，下一轮重试。
func (w *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := w.outbox.Claim(ctx, w.claimLimit)
	if err != nil || len(batch) == 0 {
		return 0, err
	}

	done := make([]string, 0, len(batch))
	var failed []string
	for _, b := range batch {
		if err := w.limiter.Wait(ctx); err != nil {
			failed = append(failed, b.ID)
			continue
		}
		c := realtime.Change{Table: b.Table, Op: b.Op, RowID: b.RowID, Scope: b.Scope, At: b.CreatedAt}
		if err := w.pub.Publish(ctx, c); err != nil {
			logger.Warn("publish change failed", zap.String("table", b.Table), zap.String("row", b.RowID), zap.Error(err))
			relayFailures.Inc()
			failed = append(failed, b.ID)
			continue
		}
		done = append(done, b.ID)
		relayPublished.WithLabelValues(b.Table).Inc()
		if !b.CreatedAt.IsZero() {
			relayLanding.Observe(time.Since(b.CreatedAt).Seconds())
			select {
			case w.metricsCh <- time.Since(b.CreatedAt):
			default:
			}
		}
	}

	// 用独立 context 落状态，避免停机时留下 processing 的孤儿记录
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.outbox.MarkDone(bg, done); err != nil {
		return 0, err
	}
	if err := w.outbox.Release(bg, failed); err != nil {
		return len(done), err
	}
	return len(done), nil
}
