package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lk2023060901/relaydrive-backend/internal/pkg/database"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/models"
)

// BackendRepo 后端仓储实现
type BackendRepo struct {
	db *database.DB
}

// NewBackendRepo 创建后端仓储
func NewBackendRepo(db *database.DB) *BackendRepo {
	return &BackendRepo{db: db}
}

// Create 创建后端
func (r *BackendRepo) Create(ctx context.Context, backend *biz.Backend) error {
	po, err := backendToPO(backend)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(po).Error; err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}

	return nil
}

// GetByID 根据 ID 获取后端
func (r *BackendRepo) GetByID(ctx context.Context, id string) (*biz.Backend, error) {
	uid, err := parseUUID(id)
	if err != nil {
		return nil, biz.ErrNotFound
	}

	var po models.Backend
	err = r.db.WithContext(ctx).Where("id = ?", uid).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, biz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get backend: %w", err)
	}

	return backendToDomain(&po), nil
}

// List 列出 owner 的全部后端
func (r *BackendRepo) List(ctx context.Context, ownerID string) ([]*biz.Backend, error) {
	uid, err := parseUUID(ownerID)
	if err != nil {
		return nil, biz.ErrNotFound
	}

	var pos []models.Backend
	err = r.db.WithContext(ctx).
		Where("owner_id = ?", uid).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list backends: %w", err)
	}

	return backendsToDomain(pos), nil
}

// ListPlaceable 返回可参与放置的后端，按 last_health_check 降序
func (r *BackendRepo) ListPlaceable(ctx context.Context, ownerID string) ([]*biz.Backend, error) {
	uid, err := parseUUID(ownerID)
	if err != nil {
		return nil, biz.ErrNotFound
	}

	var pos []models.Backend
	err = r.db.WithContext(ctx).
		Where("owner_id = ? AND is_active = ? AND health_status = ? AND remote_channel_id <> ''",
			uid, true, models.HealthStatusHealthy).
		Order("last_health_check DESC, id ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list placeable backends: %w", err)
	}

	return backendsToDomain(pos), nil
}

// ListUnbound 返回所有尚未绑定频道的活跃后端
func (r *BackendRepo) ListUnbound(ctx context.Context) ([]*biz.Backend, error) {
	var pos []models.Backend
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND remote_channel_id = ''", true).
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unbound backends: %w", err)
	}

	return backendsToDomain(pos), nil
}

// UpdateHealth 更新健康状态
func (r *BackendRepo) UpdateHealth(ctx context.Context, id, status string, checkedAt time.Time) error {
	uid, err := parseUUID(id)
	if err != nil {
		return biz.ErrNotFound
	}

	result := r.db.WithContext(ctx).Model(&models.Backend{}).
		Where("id = ?", uid).
		Updates(map[string]interface{}{
			"health_status":     status,
			"last_health_check": checkedAt,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update backend health: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrNotFound
	}

	return nil
}

// BindChannel 绑定远端频道
func (r *BackendRepo) BindChannel(ctx context.Context, id, channelID string) error {
	uid, err := parseUUID(id)
	if err != nil {
		return biz.ErrNotFound
	}

	result := r.db.WithContext(ctx).Model(&models.Backend{}).
		Where("id = ?", uid).
		Updates(map[string]interface{}{
			"remote_channel_id": channelID,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to bind channel: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrNotFound
	}

	return nil
}

// Deactivate 软停用后端
func (r *BackendRepo) Deactivate(ctx context.Context, id string) error {
	uid, err := parseUUID(id)
	if err != nil {
		return biz.ErrNotFound
	}

	result := r.db.WithContext(ctx).Model(&models.Backend{}).
		Where("id = ?", uid).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate backend: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrNotFound
	}

	return nil
}

// backendToPO 转换为数据库模型
func backendToPO(b *biz.Backend) (*models.Backend, error) {
	id, err := parseUUID(b.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid backend id: %w", err)
	}
	ownerID, err := parseUUID(b.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("invalid owner id: %w", err)
	}

	return &models.Backend{
		ID:              id,
		OwnerID:         ownerID,
		Credential:      b.Credential,
		RemoteChannelID: b.RemoteChannelID,
		IsActive:        b.IsActive,
		HealthStatus:    b.HealthStatus,
		LastHealthCheck: b.LastHealthCheck,
	}, nil
}

// backendToDomain 转换为领域模型
func backendToDomain(po *models.Backend) *biz.Backend {
	return &biz.Backend{
		ID:              po.ID.String(),
		OwnerID:         po.OwnerID.String(),
		Credential:      po.Credential,
		RemoteChannelID: po.RemoteChannelID,
		IsActive:        po.IsActive,
		HealthStatus:    po.HealthStatus,
		LastHealthCheck: po.LastHealthCheck,
		CreatedAt:       po.CreatedAt,
		UpdatedAt:       po.UpdatedAt,
	}
}

func backendsToDomain(pos []models.Backend) []*biz.Backend {
	out := make([]*biz.Backend, len(pos))
	for i := range pos {
		out[i] = backendToDomain(&pos[i])
	}
	return out
}

// parseUUID 解析字符串 ID；格式非法的 ID 不可能对应任何记录
func parseUUID(id string) (uuid.UUID, error) {
	return uuid.Parse(id)
}
