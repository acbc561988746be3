package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/moovie-reviews/internal/metrics"
	"github.com/user/moovie-reviews/internal/model"
)

const reconcileBatchSize = 200

// ErrReconcileRunning 已有一次对账在执行
var ErrReconcileRunning = &Error{Kind: ErrConflict, Msg: "评分对账正在进行中"}

// ReconcileService 定期重算全部电影的评分缓存，修正附带操作失败留下的偏差
type ReconcileService struct {
	movies   MovieStore
	rating   *RatingAggregator
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	interval time.Duration

	runMu sync.Mutex

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewReconcileService 创建对账服务，interval 为 0 时不启动定时任务
func NewReconcileService(movies MovieStore, rating *RatingAggregator, m *metrics.Metrics, logger zerolog.Logger, interval time.Duration) *ReconcileService {
	return &ReconcileService{
		movies:   movies,
		rating:   rating,
		metrics:  m,
		logger:   logger.With().Str("service", "reconcile").Logger(),
		interval: interval,
	}
}

// Start 启动定时对账，Stop 之后可以再次 Start
func (s *ReconcileService) Start() {
	if s.interval <= 0 {
		s.logger.Info().Msg("评分对账已关闭")
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	stop, done := s.stopChan, s.doneChan
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("启动评分对账")
	go s.runLoop(stop, done)
}

// Stop 停止定时对账并等待当前一轮结束
func (s *ReconcileService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stopChan, s.doneChan
	s.mu.Unlock()

	close(stop)
	<-done
	s.logger.Info().Msg("评分对账已停止")
}

func (s *ReconcileService) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("评分对账未执行")
			}
			cancel()
		case <-stop:
			return
		}
	}
}

// ReconcileResult 一轮对账的结果
type ReconcileResult struct {
	Scanned   int           `json:"scanned"`
	Corrected int           `json:"corrected"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// Trigger 管理员手动触发一轮对账
func (s *ReconcileService) Trigger(ctx context.Context, actor model.Viewer) (*ReconcileResult, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	return s.RunOnce(ctx)
}

// RunOnce 按主键分页遍历全部电影并重算评分，同一时间只允许一轮
func (s *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, error) {
	if !s.runMu.TryLock() {
		return nil, ErrReconcileRunning
	}
	defer s.runMu.Unlock()

	start := time.Now()
	result := &ReconcileResult{}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, err := s.movies.IDsAfter(ctx, after, reconcileBatchSize)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			result.Scanned++
			corrected, err := s.reconcileMovie(ctx, id)
			if err != nil {
				result.Failed++
				s.logger.Warn().Err(err).Str("movie_id", id).Msg("重算评分失败")
				continue
			}
			if corrected {
				result.Corrected++
			}
		}
		after = ids[len(ids)-1]
	}

	result.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.ReconcileLastRun.SetToCurrentTime()
		s.metrics.ReconcileCorrected.Add(float64(result.Corrected))
	}
	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("corrected", result.Corrected).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("评分对账完成")
	return result, nil
}

// reconcileMovie 重算一部电影，返回缓存值是否与实际不一致
func (s *ReconcileService) reconcileMovie(ctx context.Context, id string) (bool, error) {
	movie, err := s.movies.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if movie == nil {
		// 遍历期间被删除
		return false, nil
	}
	summary, err := s.rating.Recompute(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMovieNotFound) {
			return false, nil
		}
		return false, err
	}
	return summary.Average != movie.AverageRating || summary.Count != movie.TotalReviews, nil
}
