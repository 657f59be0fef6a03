package biz

import (
	"context"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/relaydrive-backend/internal/pkg/errors"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/logger"
	"github.com/lk2023060901/relaydrive-backend/internal/relay"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/models"
	"go.uber.org/zap"
)

// Backend 存储后端领域模型
type Backend struct {
	ID              string
	OwnerID         string
	Credential      string
	RemoteChannelID string
	IsActive        bool
	HealthStatus    string
	LastHealthCheck time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsPlaceable 是否可参与新分块放置
func (b *Backend) IsPlaceable() bool {
	return b.IsActive && b.HealthStatus == models.HealthStatusHealthy && b.RemoteChannelID != ""
}

// BackendRepo 后端仓储接口
type BackendRepo interface {
	Create(ctx context.Context, backend *Backend) error
	GetByID(ctx context.Context, id string) (*Backend, error)
	List(ctx context.Context, ownerID string) ([]*Backend, error)
	// ListPlaceable 返回 owner 的 active 且 healthy 且已绑频道的后端，
	// 按 last_health_check 降序
	ListPlaceable(ctx context.Context, ownerID string) ([]*Backend, error)
	// ListUnbound 返回所有 active 但尚未绑定频道的后端（自动绑定轮询用）
	ListUnbound(ctx context.Context) ([]*Backend, error)
	UpdateHealth(ctx context.Context, id, status string, checkedAt time.Time) error
	BindChannel(ctx context.Context, id, channelID string) error
	Deactivate(ctx context.Context, id string) error
}

// BlobStore 分块字节的远端存取接口（由中继客户端适配实现）
type BlobStore interface {
	Put(ctx context.Context, credential, channelID string, data []byte, name string) (messageRef, blobRef string, err error)
	Fetch(ctx context.Context, credential, blobRef string) ([]byte, error)
	ResolveFromMessage(ctx context.Context, credential, channelID, messageRef string) (string, error)
	CheckIdentity(ctx context.Context, credential string) error
}

// BackendUseCase 后端池管理用例
type BackendUseCase struct {
	repo   BackendRepo
	blobs  BlobStore
	logger *logger.Logger
}

// NewBackendUseCase 创建后端池管理用例
func NewBackendUseCase(repo BackendRepo, blobs BlobStore, log *logger.Logger) *BackendUseCase {
	return &BackendUseCase{
		repo:   repo,
		blobs:  blobs,
		logger: log,
	}
}

// Register 注册一个新的存储凭证并立即做一次健康探测
func (uc *BackendUseCase) Register(ctx context.Context, ownerID, credential string) (*Backend, error) {
	if credential == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "credential is required")
	}

	backend := &Backend{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Credential:   credential,
		IsActive:     true,
		HealthStatus: models.HealthStatusUnknown,
	}

	if err := uc.repo.Create(ctx, backend); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to register backend")
	}

	status, err := uc.CheckHealth(ctx, backend.ID)
	if err != nil {
		// 探测失败不阻断注册，后端以 unknown 状态落库
		uc.logger.Warn("initial health probe failed",
			zap.String("backend_id", backend.ID),
			zap.Error(err),
		)
		return backend, nil
	}
	backend.HealthStatus = status

	return backend, nil
}

// List 列出 owner 的全部后端
func (uc *BackendUseCase) List(ctx context.Context, ownerID string) ([]*Backend, error) {
	backends, err := uc.repo.List(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to list backends")
	}
	return backends, nil
}

// Deactivate 软停用后端：不再参与放置，已有分块记录保持可读
// （只要该后端仍可解析）
func (uc *BackendUseCase) Deactivate(ctx context.Context, ownerID, backendID string) error {
	backend, err := uc.repo.GetByID(ctx, backendID)
	if err != nil {
		return translateNotFound(err, apperrors.ErrBackendNotFound, backendID)
	}
	if backend.OwnerID != ownerID {
		return apperrors.New(apperrors.ErrForbidden)
	}

	if err := uc.repo.Deactivate(ctx, backendID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to deactivate backend")
	}

	uc.logger.Info("backend deactivated", zap.String("backend_id", backendID))
	return nil
}

// PlaceablePool 返回放置候选池；为空时返回 NoBackendAvailable
func (uc *BackendUseCase) PlaceablePool(ctx context.Context, ownerID string) ([]*Backend, error) {
	pool, err := uc.repo.ListPlaceable(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to query backend pool")
	}
	if len(pool) == 0 {
		return nil, apperrors.New(apperrors.ErrNoBackendAvailable)
	}
	return pool, nil
}

// SelectBackend 按块序号在候选池上轮转选取后端。
// 池不变时对同一序号的选取是确定的。
func (uc *BackendUseCase) SelectBackend(ctx context.Context, chunkIndex int, ownerID string) (*Backend, error) {
	if chunkIndex < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidChunkIndex)
	}

	pool, err := uc.PlaceablePool(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	return pool[chunkIndex%len(pool)], nil
}

// CheckHealth 对后端做一次身份探测并落库健康状态
func (uc *BackendUseCase) CheckHealth(ctx context.Context, backendID string) (string, error) {
	backend, err := uc.repo.GetByID(ctx, backendID)
	if err != nil {
		return "", translateNotFound(err, apperrors.ErrBackendNotFound, backendID)
	}

	status := classifyHealth(uc.blobs.CheckIdentity(ctx, backend.Credential))

	if err := uc.repo.UpdateHealth(ctx, backendID, status, time.Now().UTC()); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to persist health status")
	}

	uc.logger.Info("backend health probed",
		zap.String("backend_id", backendID),
		zap.String("status", status),
	)

	return status, nil
}

// classifyHealth 将身份探测结果翻译为健康状态
func classifyHealth(err error) string {
	switch {
	case err == nil:
		return models.HealthStatusHealthy
	case relay.IsRateLimited(err):
		return models.HealthStatusRateLimited
	case relay.IsInvalidCredential(err):
		return models.HealthStatusBanned
	default:
		return models.HealthStatusUnknown
	}
}
