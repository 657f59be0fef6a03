// Package updates binds freshly registered backends to their remote
// channels. A backend cannot place chunks until the relay reports which
// channel the credential was added to, so the listener polls the update
// feed of every unbound backend and persists the binding.
package updates

import (
	"context"
	"strconv"
	"sync"
	"time"

	pkgredis "github.com/lk2023060901/relaydrive-backend/internal/pkg/redis"
	"github.com/lk2023060901/relaydrive-backend/internal/relay"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
	"go.uber.org/zap"
)

const offsetKeyPrefix = "relay:updates:offset:"

// UpdateSource 更新事件源（由中继客户端实现）
type UpdateSource interface {
	GetUpdates(ctx context.Context, credential string, offset int64) ([]relay.Update, error)
}

// backendDirectory 监听器需要的后端仓储子集
type backendDirectory interface {
	ListUnbound(ctx context.Context) ([]*biz.Backend, error)
	BindChannel(ctx context.Context, id, channelID string) error
}

// offsetStore 轮询游标的持久化子集
type offsetStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Listener 频道自动绑定监听器
type Listener struct {
	source   UpdateSource
	backends backendDirectory
	offsets  offsetStore
	interval time.Duration
	logger   *zap.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
	mu     sync.Mutex
	running bool
}

// NewListener 创建监听器
func NewListener(
	source UpdateSource,
	backends backendDirectory,
	offsets offsetStore,
	interval time.Duration,
	logger *zap.Logger,
) *Listener {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Listener{
		source:   source,
		backends: backends,
		offsets:  offsets,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动轮询
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true

	l.wg.Add(1)
	go l.pollLoop(ctx)
	l.logger.Info("channel bind listener started", zap.Duration("interval", l.interval))
}

// Stop 停止轮询
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	close(l.stopCh)
	l.wg.Wait()
	l.running = false
	l.logger.Info("channel bind listener stopped")
}

func (l *Listener) pollLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

// Sweep 扫描一轮所有未绑定后端的更新流
func (l *Listener) Sweep(ctx context.Context) {
	unbound, err := l.backends.ListUnbound(ctx)
	if err != nil {
		l.logger.Error("failed to list unbound backends", zap.Error(err))
		return
	}

	for _, backend := range unbound {
		l.sweepBackend(ctx, backend)
	}
}

func (l *Listener) sweepBackend(ctx context.Context, backend *biz.Backend) {
	offset := l.loadOffset(ctx, backend.ID)

	items, err := l.source.GetUpdates(ctx, backend.Credential, offset)
	if err != nil {
		// 被限流或中继抖动时下一轮再试
		l.logger.Warn("update poll failed",
			zap.String("backend_id", backend.ID),
			zap.Error(err),
		)
		return
	}

	for _, item := range items {
		if item.UpdateID >= offset {
			offset = item.UpdateID + 1
		}

		if item.Type != relay.UpdateTypeChannelAdd || item.ChannelID == "" {
			continue
		}

		if err := l.backends.BindChannel(ctx, backend.ID, item.ChannelID); err != nil {
			l.logger.Error("failed to bind channel",
				zap.String("backend_id", backend.ID),
				zap.String("channel_id", item.ChannelID),
				zap.Error(err),
			)
			continue
		}

		l.logger.Info("backend bound to channel",
			zap.String("backend_id", backend.ID),
			zap.String("channel_id", item.ChannelID),
		)
	}

	l.storeOffset(ctx, backend.ID, offset)
}

func (l *Listener) loadOffset(ctx context.Context, backendID string) int64 {
	raw, err := l.offsets.Get(ctx, offsetKeyPrefix+backendID)
	if err != nil || raw == "" {
		return 0
	}
	offset, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return offset
}

func (l *Listener) storeOffset(ctx context.Context, backendID string, offset int64) {
	if err := l.offsets.Set(ctx, offsetKeyPrefix+backendID, offset, 0); err != nil {
		l.logger.Warn("failed to persist update offset",
			zap.String("backend_id", backendID),
			zap.Error(err),
		)
	}
}

var _ UpdateSource = (*relay.Client)(nil)
var _ backendDirectory = (biz.BackendRepo)(nil)
var _ offsetStore = (*pkgredis.Client)(nil)
