package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pkgredis "github.com/lk2023060901/relaydrive-backend/internal/pkg/redis"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
	"go.uber.org/zap"
)

const (
	// ForkQueue fork 任务队列
	ForkQueue = "queue:file:fork"

	// maxRetries 失败任务的最大重试次数
	maxRetries = 3
)

// ForkTask fork 搬运任务
type ForkTask struct {
	SourceFileID string `json:"source_file_id"`
	RequesterID  string `json:"requester_id"`
	RetryCount   int    `json:"retry_count"`
}

// Worker fork 任务处理 Worker：逐块搬运在后台完成，
// 上传请求不被长时间占住
type Worker struct {
	redis       *pkgredis.Client
	fileUseCase *biz.FileUseCase
	logger      *zap.Logger
	workerCount int
	wg          sync.WaitGroup
	stopCh      chan struct{}
	mu          sync.Mutex
	running     bool
}

// NewWorker 创建 Worker
func NewWorker(
	redis *pkgredis.Client,
	fileUseCase *biz.FileUseCase,
	logger *zap.Logger,
	workerCount int,
) *Worker {
	if workerCount <= 0 {
		workerCount = 2
	}
	return &Worker{
		redis:       redis,
		fileUseCase: fileUseCase,
		logger:      logger,
		workerCount: workerCount,
		stopCh:      make(chan struct{}),
	}
}

// Start 启动 Worker
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("fork worker already running")
	}

	w.running = true
	w.logger.Info("starting fork workers", zap.Int("worker_count", w.workerCount))

	for i := 0; i < w.workerCount; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, i)
	}

	return nil
}

// Stop 停止 Worker，等待在途任务收尾
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.logger.Info("stopping fork workers")
	close(w.stopCh)
	w.wg.Wait()
	w.running = false
	w.logger.Info("all fork workers stopped")
}

// EnqueueFork 将 fork 任务加入队列
func (w *Worker) EnqueueFork(ctx context.Context, sourceFileID, requesterID string) error {
	task := &ForkTask{
		SourceFileID: sourceFileID,
		RequesterID:  requesterID,
	}

	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal fork task: %w", err)
	}

	if _, err := w.redis.LPush(ctx, ForkQueue, string(taskJSON)); err != nil {
		return fmt.Errorf("failed to enqueue fork task: %w", err)
	}

	w.logger.Info("fork enqueued",
		zap.String("source_file_id", sourceFileID),
		zap.String("requester_id", requesterID),
	)
	return nil
}

// QueueDepth 当前排队任务数
func (w *Worker) QueueDepth(ctx context.Context) (int64, error) {
	return w.redis.LLen(ctx, ForkQueue)
}

// processLoop 处理循环
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With(zap.Int("worker_id", workerID))
	logger.Info("fork worker started")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			logger.Info("fork worker stopping")
			return
		case <-ctx.Done():
			logger.Info("context cancelled, fork worker stopping")
			return
		case <-ticker.C:
			taskJSON, err := w.redis.RPop(ctx, ForkQueue)
			if err != nil || taskJSON == "" {
				continue
			}

			var task ForkTask
			if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
				logger.Error("failed to unmarshal fork task", zap.Error(err))
				continue
			}

			w.processTask(ctx, &task, logger)
		}
	}
}

// processTask 处理单个 fork 任务
func (w *Worker) processTask(ctx context.Context, task *ForkTask, logger *zap.Logger) {
	logger = logger.With(
		zap.String("source_file_id", task.SourceFileID),
		zap.String("requester_id", task.RequesterID),
	)
	logger.Info("processing fork task", zap.Int("retry_count", task.RetryCount))

	target, err := w.fileUseCase.Fork(ctx, task.RequesterID, task.SourceFileID)
	if err != nil {
		logger.Error("fork task failed", zap.Error(err))
		w.retryTask(ctx, task, logger)
		return
	}

	logger.Info("fork task completed", zap.String("target_file_id", target.ID))
}

// retryTask 失败任务重新入队，超过上限后丢弃
func (w *Worker) retryTask(ctx context.Context, task *ForkTask, logger *zap.Logger) {
	task.RetryCount++
	if task.RetryCount > maxRetries {
		logger.Error("fork task dropped after max retries", zap.Int("retry_count", task.RetryCount))
		return
	}

	taskJSON, err := json.Marshal(task)
	if err != nil {
		logger.Error("failed to marshal retry task", zap.Error(err))
		return
	}

	if _, err := w.redis.LPush(ctx, ForkQueue, string(taskJSON)); err != nil {
		logger.Error("failed to re-enqueue fork task", zap.Error(err))
	}
}
