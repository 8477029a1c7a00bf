// Package failover 组合主存储与备用存储：健康检查判定主存储可达时所有调用
// 都由主存储处理，否则由备用存储处理。调用方只看到一个 repository.Store。
package failover

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"collab-codespace/internal/repository"
)

// Options 配置健康检查。
type Options struct {
	Interval    time.Duration // 健康检查间隔
	Timeout     time.Duration // 单次 Ping 超时
	MaxFailures int           // 连续失败多少次后切换到备用存储
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 3
	}
}

// Store 在主存储和备用存储之间路由请求。
type Store struct {
	primary  repository.Store
	fallback repository.Store
	opts     Options
	log      *logrus.Entry

	healthy  atomic.Bool
	failures int // 仅由健康检查 goroutine 访问
	checkMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ repository.Store       = (*Store)(nil)
	_ repository.IndexPruner = (*Store)(nil)
)

// NewStore 创建故障转移存储。在第一次健康检查之前认为主存储可用。
func NewStore(primary, fallback repository.Store, opts Options) *Store {
	if primary == nil || fallback == nil {
		panic("primary and fallback stores cannot be nil for failover.Store")
	}
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		primary:  primary,
		fallback: fallback,
		opts:     opts,
		log:      logrus.WithField("component", "persistence_gateway"),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.healthy.Store(true)
	return s
}

// Start 周期性检查主存储连通性，阻塞直到 ctx 取消或调用 Stop。
// 启动时立即检查一次，失败则直接切换到备用存储。
func (s *Store) Start(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	if ctx == nil {
		ctx = s.ctx
	}
	if err := s.ping(ctx); err != nil {
		s.checkMu.Lock()
		s.failures = s.opts.MaxFailures
		s.checkMu.Unlock()
		s.setHealthy(false, err)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	s.log.Infof("Primary store health check started (interval %v)", s.opts.Interval)

	for {
		select {
		case <-ticker.C:
			s.Check(ctx)
		case <-ctx.Done():
			s.log.Info("Health check stopping due to context cancellation")
			return
		case <-s.ctx.Done():
			s.log.Info("Health check stopping")
			return
		}
	}
}

// Stop 停止健康检查并等待其退出。
func (s *Store) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Check 执行一次健康检查并更新路由状态。
func (s *Store) Check(ctx context.Context) {
	err := s.ping(ctx)

	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	if err == nil {
		s.failures = 0
		s.setHealthy(true, nil)
		return
	}
	s.failures++
	s.log.WithError(err).Debugf("Primary store ping failed (%d/%d)", s.failures, s.opts.MaxFailures)
	if s.failures >= s.opts.MaxFailures {
		s.setHealthy(false, err)
	}
}

func (s *Store) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.primary.Ping(pingCtx)
}

func (s *Store) setHealthy(healthy bool, cause error) {
	if s.healthy.Swap(healthy) == healthy {
		return
	}
	if healthy {
		s.log.Info("Primary store reachable again, routing persistence to primary")
	} else {
		s.log.WithError(cause).Warn("Primary store unreachable, routing persistence to in-process fallback")
	}
}

// Healthy 报告主存储当前是否被认为可用。
func (s *Store) Healthy() bool { return s.healthy.Load() }

// Backend 返回当前服务请求的后端名称，用于日志和健康检查接口。
func (s *Store) Backend() string {
	if s.Healthy() {
		return "primary"
	}
	return "fallback"
}

func (s *Store) current() repository.Store {
	if s.healthy.Load() {
		return s.primary
	}
	return s.fallback
}

func (s *Store) Save(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.current().Save(ctx, key, value, ttl)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return s.current().Get(ctx, key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.current().Delete(ctx, key)
}

func (s *Store) AddToSet(ctx context.Context, key, member string) error {
	return s.current().AddToSet(ctx, key, member)
}

func (s *Store) RemoveFromSet(ctx context.Context, key, member string) error {
	return s.current().RemoveFromSet(ctx, key, member)
}

func (s *Store) MembersOfSet(ctx context.Context, key string) ([]string, error) {
	return s.current().MembersOfSet(ctx, key)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.current().Expire(ctx, key, ttl)
}

// Ping 检查当前后端的连通性。
func (s *Store) Ping(ctx context.Context) error {
	return s.current().Ping(ctx)
}

// PruneUserIndexes 仅在主存储可用且支持扫描时执行；备用存储的索引随 TTL 自行过期。
func (s *Store) PruneUserIndexes(ctx context.Context) (int, error) {
	if !s.Healthy() {
		return 0, repository.ErrUnavailable
	}
	pruner, ok := s.primary.(repository.IndexPruner)
	if !ok {
		return 0, nil
	}
	return pruner.PruneUserIndexes(ctx)
}
