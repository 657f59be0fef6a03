package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lk2023060901/relaydrive-backend/internal/pkg/database"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/models"
)

// FileRepo 文件仓储实现
type FileRepo struct {
	db *database.DB
}

// NewFileRepo 创建文件仓储
func NewFileRepo(db *database.DB) *FileRepo {
	return &FileRepo{db: db}
}

// Create 创建文件。依赖 (owner_id, content_hash) 部分唯一索引做并发去重，
// 重复键经 TranslateError 翻译后映射为 biz.ErrDuplicateFile。
func (r *FileRepo) Create(ctx context.Context, file *biz.File) error {
	po, err := fileToPO(file)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(po).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return biz.ErrDuplicateFile
		}
		return fmt.Errorf("failed to create file: %w", err)
	}

	return nil
}

// GetByID 根据 ID 获取文件
func (r *FileRepo) GetByID(ctx context.Context, id string) (*biz.File, error) {
	uid, err := parseUUID(id)
	if err != nil {
		return nil, biz.ErrNotFound
	}

	var po models.File
	err = r.db.WithContext(ctx).Where("id = ?", uid).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, biz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	return fileToDomain(&po)
}

// GetByOwnerAndHash 在未删除文件中按内容哈希查找
func (r *FileRepo) GetByOwnerAndHash(ctx context.Context, ownerID, contentHash string) (*biz.File, error) {
	uid, err := parseUUID(ownerID)
	if err != nil {
		return nil, biz.ErrNotFound
	}

	var po models.File
	err = r.db.WithContext(ctx).
		Where("owner_id = ? AND content_hash = ? AND is_deleted = ?", uid, contentHash, false).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, biz.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up file by hash: %w", err)
	}

	return fileToDomain(&po)
}

// List 列出 owner 的未删除文件，可按虚拟路径前缀过滤
func (r *FileRepo) List(ctx context.Context, ownerID, virtualPath string) ([]*biz.File, error) {
	uid, err := parseUUID(ownerID)
	if err != nil {
		return nil, biz.ErrNotFound
	}

	query := r.db.WithContext(ctx).
		Where("owner_id = ? AND is_deleted = ?", uid, false)
	if virtualPath != "" {
		query = query.Where("virtual_path LIKE ?", virtualPath+"%")
	}

	var pos []models.File
	if err := query.Order("created_at DESC").Find(&pos).Error; err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	files := make([]*biz.File, len(pos))
	for i := range pos {
		files[i], err = fileToDomain(&pos[i])
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Update 更新可变元数据。大小、哈希与放置计划列不在更新范围内。
func (r *FileRepo) Update(ctx context.Context, file *biz.File) error {
	uid, err := parseUUID(file.ID)
	if err != nil {
		return biz.ErrNotFound
	}

	result := r.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ?", uid).
		Updates(map[string]interface{}{
			"name":         file.Name,
			"virtual_path": file.VirtualPath,
			"is_public":    file.IsPublic,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrNotFound
	}

	return nil
}

// SoftDelete 软删除：行保留，去重索引与列表查询不再覆盖该行
func (r *FileRepo) SoftDelete(ctx context.Context, id string) error {
	uid, err := parseUUID(id)
	if err != nil {
		return biz.ErrNotFound
	}

	result := r.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ?", uid).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to soft-delete file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrNotFound
	}

	return nil
}

// IncrementForkCount fork 计数 +1
func (r *FileRepo) IncrementForkCount(ctx context.Context, id string) error {
	uid, err := parseUUID(id)
	if err != nil {
		return biz.ErrNotFound
	}

	result := r.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ?", uid).
		Update("fork_count", gorm.Expr("fork_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment fork count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrNotFound
	}

	return nil
}

// fileToPO 转换为数据库模型
func fileToPO(f *biz.File) (*models.File, error) {
	id, err := parseUUID(f.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid file id: %w", err)
	}
	ownerID, err := parseUUID(f.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("invalid owner id: %w", err)
	}

	placement := f.Placement
	if placement == nil {
		placement = []string{}
	}
	placementJSON, err := json.Marshal(placement)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal placement plan: %w", err)
	}

	po := &models.File{
		ID:          id,
		OwnerID:     ownerID,
		Name:        f.Name,
		VirtualPath: f.VirtualPath,
		SizeBytes:   f.SizeBytes,
		MimeType:    f.MimeType,
		ContentHash: f.ContentHash,
		ChunkCount:  f.ChunkCount,
		Placement:   string(placementJSON),
		IsDeleted:   f.IsDeleted,
		IsPublic:    f.IsPublic,
		ForkCount:   f.ForkCount,
	}

	if f.ForkedFromFile != "" {
		sourceID, err := parseUUID(f.ForkedFromFile)
		if err != nil {
			return nil, fmt.Errorf("invalid fork source id: %w", err)
		}
		po.ForkedFromFile = &sourceID
	}

	return po, nil
}

// fileToDomain 转换为领域模型
func fileToDomain(po *models.File) (*biz.File, error) {
	var placement []string
	if po.Placement != "" {
		if err := json.Unmarshal([]byte(po.Placement), &placement); err != nil {
			return nil, fmt.Errorf("failed to unmarshal placement plan: %w", err)
		}
	}

	f := &biz.File{
		ID:          po.ID.String(),
		OwnerID:     po.OwnerID.String(),
		Name:        po.Name,
		VirtualPath: po.VirtualPath,
		SizeBytes:   po.SizeBytes,
		MimeType:    po.MimeType,
		ContentHash: po.ContentHash,
		ChunkCount:  po.ChunkCount,
		Placement:   placement,
		IsDeleted:   po.IsDeleted,
		IsPublic:    po.IsPublic,
		ForkCount:   po.ForkCount,
		CreatedAt:   po.CreatedAt,
		UpdatedAt:   po.UpdatedAt,
	}

	if po.ForkedFromFile != nil {
		f.ForkedFromFile = po.ForkedFromFile.String()
	}

	return f, nil
}
