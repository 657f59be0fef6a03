package data

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/lk2023060901/relaydrive-backend/internal/pkg/database"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/models"
)

// ChunkRepo 分块仓储实现
type ChunkRepo struct {
	db *database.DB
}

// NewChunkRepo 创建分块仓储
func NewChunkRepo(db *database.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// Upsert 写入分块记录。以 (file_id, chunk_index) 唯一索引做冲突检测，
// 重试同一序号时覆盖既有记录，保证分块上传幂等。
func (r *ChunkRepo) Upsert(ctx context.Context, chunk *biz.Chunk) error {
	po, err := chunkToPO(chunk)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "file_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"byte_size", "content_hash", "backend_id",
			"remote_message_ref", "remote_blob_ref",
		}),
	}).Create(po).Error
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	return nil
}

// CountByFileID 统计文件已落库的分块数
func (r *ChunkRepo) CountByFileID(ctx context.Context, fileID string) (int64, error) {
	uid, err := parseUUID(fileID)
	if err != nil {
		return 0, biz.ErrNotFound
	}

	var count int64
	err = r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("file_id = ?", uid).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}

	return count, nil
}

// ListByFileID 按 chunk_index 升序返回文件的全部分块记录
func (r *ChunkRepo) ListByFileID(ctx context.Context, fileID string) ([]*biz.Chunk, error) {
	uid, err := parseUUID(fileID)
	if err != nil {
		return nil, biz.ErrNotFound
	}

	var pos []models.Chunk
	err = r.db.WithContext(ctx).
		Where("file_id = ?", uid).
		Order("chunk_index ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	chunks := make([]*biz.Chunk, len(pos))
	for i := range pos {
		chunks[i] = chunkToDomain(&pos[i])
	}
	return chunks, nil
}

// UpdateBlobRef 原地更新 blob 引用（修复路径专用）
func (r *ChunkRepo) UpdateBlobRef(ctx context.Context, id, blobRef string) error {
	uid, err := parseUUID(id)
	if err != nil {
		return biz.ErrNotFound
	}

	result := r.db.WithContext(ctx).Model(&models.Chunk{}).
		Where("id = ?", uid).
		Update("remote_blob_ref", blobRef)
	if result.Error != nil {
		return fmt.Errorf("failed to update blob ref: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrNotFound
	}

	return nil
}

// chunkToPO 转换为数据库模型
func chunkToPO(c *biz.Chunk) (*models.Chunk, error) {
	id, err := parseUUID(c.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid chunk id: %w", err)
	}
	fileID, err := parseUUID(c.FileID)
	if err != nil {
		return nil, fmt.Errorf("invalid file id: %w", err)
	}
	backendID, err := parseUUID(c.BackendID)
	if err != nil {
		return nil, fmt.Errorf("invalid backend id: %w", err)
	}

	return &models.Chunk{
		ID:               id,
		FileID:           fileID,
		ChunkIndex:       c.ChunkIndex,
		ByteSize:         c.ByteSize,
		ContentHash:      c.ContentHash,
		BackendID:        backendID,
		RemoteMessageRef: c.RemoteMessageRef,
		RemoteBlobRef:    c.RemoteBlobRef,
	}, nil
}

// chunkToDomain 转换为领域模型
func chunkToDomain(po *models.Chunk) *biz.Chunk {
	return &biz.Chunk{
		ID:               po.ID.String(),
		FileID:           po.FileID.String(),
		ChunkIndex:       po.ChunkIndex,
		ByteSize:         po.ByteSize,
		ContentHash:      po.ContentHash,
		BackendID:        po.BackendID.String(),
		RemoteMessageRef: po.RemoteMessageRef,
		RemoteBlobRef:    po.RemoteBlobRef,
		CreatedAt:        po.CreatedAt,
	}
}
