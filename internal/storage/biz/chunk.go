package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/relaydrive-backend/internal/pkg/errors"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/logger"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/metrics"
	"github.com/lk2023060901/relaydrive-backend/internal/relay"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/chunker"
	"go.uber.org/zap"
)

// Chunk 分块放置记录领域模型
type Chunk struct {
	ID               string
	FileID           string
	ChunkIndex       int
	ByteSize         int64
	ContentHash      string
	BackendID        string
	RemoteMessageRef string
	RemoteBlobRef    string
	CreatedAt        time.Time
}

// ChunkRepo 分块仓储接口
type ChunkRepo interface {
	// Upsert 以 (file_id, chunk_index) 为键写入：重试同一序号会覆盖
	// 既有记录，使分块上传天然幂等
	Upsert(ctx context.Context, chunk *Chunk) error
	CountByFileID(ctx context.Context, fileID string) (int64, error)
	// ListByFileID 按 chunk_index 升序返回
	ListByFileID(ctx context.Context, fileID string) ([]*Chunk, error)
	UpdateBlobRef(ctx context.Context, id, blobRef string) error
}

// ChunkUseCase 分块存取用例：切分上传与区间重组
type ChunkUseCase struct {
	chunkRepo   ChunkRepo
	fileRepo    FileRepo
	backendRepo BackendRepo
	blobs       BlobStore
	chunkSize   int64
	metrics     *metrics.Metrics
	logger      *logger.Logger
}

// NewChunkUseCase 创建分块用例
func NewChunkUseCase(
	chunkRepo ChunkRepo,
	fileRepo FileRepo,
	backendRepo BackendRepo,
	blobs BlobStore,
	chunkSize int64,
	m *metrics.Metrics,
	log *logger.Logger,
) *ChunkUseCase {
	return &ChunkUseCase{
		chunkRepo:   chunkRepo,
		fileRepo:    fileRepo,
		backendRepo: backendRepo,
		blobs:       blobs,
		chunkSize:   chunkSize,
		metrics:     m,
		logger:      log,
	}
}

// ChunkSize 返回分块大小
func (uc *ChunkUseCase) ChunkSize() int64 {
	return uc.chunkSize
}

// PutChunk 上传一个分块：按落库的放置计划取后端，经中继上传后
// 持久化分块记录。对同一 (file_id, chunk_index) 可安全重试。
func (uc *ChunkUseCase) PutChunk(ctx context.Context, ownerID, fileID string, index int, data []byte, contentHash string) (*Chunk, error) {
	file, err := uc.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		return nil, translateNotFound(err, apperrors.ErrFileNotFound, fileID)
	}
	if file.OwnerID != ownerID {
		return nil, apperrors.New(apperrors.ErrForbidden)
	}
	if file.IsDeleted {
		return nil, apperrors.New(apperrors.ErrFileNotFound, fileID)
	}

	if index < 0 || index >= file.ChunkCount {
		return nil, apperrors.Newf(apperrors.ErrInvalidChunkIndex, "index %d, planned chunk count %d", index, file.ChunkCount)
	}

	expected := chunker.SizeAt(file.SizeBytes, uc.chunkSize, index)
	if int64(len(data)) != expected {
		return nil, apperrors.Newf(apperrors.ErrChunkSizeMismatch, "got %d bytes, plan expects %d", len(data), expected)
	}

	if sum := hashBytes(data); contentHash == "" {
		contentHash = sum
	} else if contentHash != sum {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "chunk content hash mismatch")
	}

	backend, err := uc.planBackend(ctx, file, index)
	if err != nil {
		return nil, err
	}

	return uc.PutChunkOn(ctx, file, index, data, contentHash, backend)
}

// PutChunkOn 在指定后端上放置一个分块。fork 重物化也走这条路径。
func (uc *ChunkUseCase) PutChunkOn(ctx context.Context, file *File, index int, data []byte, contentHash string, backend *Backend) (*Chunk, error) {
	if backend.RemoteChannelID == "" {
		return nil, apperrors.New(apperrors.ErrChannelNotBound, backend.ID)
	}

	name := fmt.Sprintf("%s.part%05d", file.ID, index)
	messageRef, blobRef, err := uc.blobs.Put(ctx, backend.Credential, backend.RemoteChannelID, data, name)
	if err != nil {
		return nil, translateRelayError(err)
	}

	chunk := &Chunk{
		ID:               uuid.NewString(),
		FileID:           file.ID,
		ChunkIndex:       index,
		ByteSize:         int64(len(data)),
		ContentHash:      contentHash,
		BackendID:        backend.ID,
		RemoteMessageRef: messageRef,
		RemoteBlobRef:    blobRef,
	}

	if err := uc.chunkRepo.Upsert(ctx, chunk); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to persist chunk record")
	}

	uc.logger.Info("chunk stored",
		zap.String("file_id", file.ID),
		zap.Int("chunk_index", index),
		zap.String("backend_id", backend.ID),
		zap.Int("byte_size", len(data)),
	)

	return chunk, nil
}

// GetRange 读取文件的全局闭区间 [start, end]。
// 整块下载、本地切片、按序拼接；任一所需分块的后端不可用则整次读取失败。
func (uc *ChunkUseCase) GetRange(ctx context.Context, file *File, start, end int64) ([]byte, error) {
	sizes := chunker.Sizes(file.SizeBytes, uc.chunkSize)

	slices, err := chunker.ResolveRange(sizes, start, end)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidRange, "bytes %d-%d of %d", start, end, file.SizeBytes)
	}

	records, err := uc.chunkRepo.ListByFileID(ctx, file.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to load chunk records")
	}
	byIndex := make(map[int]*Chunk, len(records))
	for _, rec := range records {
		byIndex[rec.ChunkIndex] = rec
	}

	// 先整体校验所需分块及其后端，避免读到一半才发现缺块
	needed := make([]*Chunk, len(slices))
	backends := make(map[string]*Backend)
	for i, s := range slices {
		rec, ok := byIndex[s.Index]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrChunksUnavailable, "chunk %d has no record", s.Index)
		}
		needed[i] = rec

		backend, ok := backends[rec.BackendID]
		if !ok {
			backend, err = uc.backendRepo.GetByID(ctx, rec.BackendID)
			if err != nil {
				return nil, translateNotFound(err, apperrors.ErrChunksUnavailable, rec.BackendID)
			}
			backends[rec.BackendID] = backend
		}
		if !backend.IsActive {
			return nil, apperrors.Newf(apperrors.ErrChunksUnavailable, "backend for chunk %d is deactivated", s.Index)
		}
	}

	result := make([]byte, 0, end-start+1)
	for i, s := range slices {
		rec := needed[i]
		data, err := uc.FetchChunk(ctx, rec, backends[rec.BackendID])
		if err != nil {
			return nil, err
		}
		if s.LocalEnd >= int64(len(data)) {
			return nil, apperrors.Newf(apperrors.ErrChunkFetchFailed, "chunk %d: got %d bytes, record says %d", rec.ChunkIndex, len(data), rec.ByteSize)
		}
		result = append(result, data[s.LocalStart:s.LocalEnd+1]...)
	}

	return result, nil
}

// ReadAll 读取整个文件
func (uc *ChunkUseCase) ReadAll(ctx context.Context, file *File) ([]byte, error) {
	if file.SizeBytes == 0 {
		return []byte{}, nil
	}
	return uc.GetRange(ctx, file, 0, file.SizeBytes-1)
}

// FetchChunk 整块取回一个分块的字节。blob 引用失效时走一次修复：
// 用 message 引用重新推导新 blob 引用、原地落库、再取一次。
func (uc *ChunkUseCase) FetchChunk(ctx context.Context, rec *Chunk, backend *Backend) ([]byte, error) {
	data, err := uc.blobs.Fetch(ctx, backend.Credential, rec.RemoteBlobRef)
	if err == nil {
		return uc.verifyChunk(rec, data)
	}

	if !relay.IsBlobNotFound(err) {
		return nil, apperrors.Wrapf(err, apperrors.ErrChunkFetchFailed, "chunk %d", rec.ChunkIndex)
	}

	freshRef, err := uc.repair(ctx, rec, backend)
	if err != nil {
		return nil, err
	}

	data, err = uc.blobs.Fetch(ctx, backend.Credential, freshRef)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrChunkFetchFailed, "chunk %d after repair", rec.ChunkIndex)
	}

	return uc.verifyChunk(rec, data)
}

// repair 用 message 引用换取新的 blob 引用并原地更新分块记录。
// 这是分块记录创建后唯一会变更引用字段的路径。
func (uc *ChunkUseCase) repair(ctx context.Context, rec *Chunk, backend *Backend) (string, error) {
	freshRef, err := uc.blobs.ResolveFromMessage(ctx, backend.Credential, backend.RemoteChannelID, rec.RemoteMessageRef)
	if err != nil || freshRef == "" {
		uc.observeRepair("failed")
		uc.logger.Warn("blob reference repair failed",
			zap.String("file_id", rec.FileID),
			zap.Int("chunk_index", rec.ChunkIndex),
			zap.Error(err),
		)
		return "", apperrors.Wrapf(err, apperrors.ErrRepairFailed, "chunk %d", rec.ChunkIndex)
	}

	if err := uc.chunkRepo.UpdateBlobRef(ctx, rec.ID, freshRef); err != nil {
		uc.observeRepair("failed")
		return "", apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to persist repaired blob ref")
	}
	rec.RemoteBlobRef = freshRef

	uc.observeRepair("repaired")
	uc.logger.Info("blob reference repaired",
		zap.String("file_id", rec.FileID),
		zap.Int("chunk_index", rec.ChunkIndex),
	)

	return freshRef, nil
}

// verifyChunk 校验取回字节与落库记录一致
func (uc *ChunkUseCase) verifyChunk(rec *Chunk, data []byte) ([]byte, error) {
	if int64(len(data)) != rec.ByteSize {
		return nil, apperrors.Newf(apperrors.ErrChunkFetchFailed, "chunk %d: size mismatch, got %d want %d", rec.ChunkIndex, len(data), rec.ByteSize)
	}
	if rec.ContentHash != "" && hashBytes(data) != rec.ContentHash {
		return nil, apperrors.Newf(apperrors.ErrChunkFetchFailed, "chunk %d: content hash mismatch", rec.ChunkIndex)
	}
	return data, nil
}

// planBackend 从文件落库的放置计划取出该序号的后端
func (uc *ChunkUseCase) planBackend(ctx context.Context, file *File, index int) (*Backend, error) {
	if index >= len(file.Placement) {
		return nil, apperrors.Newf(apperrors.ErrInvalidChunkIndex, "index %d beyond placement plan", index)
	}

	backend, err := uc.backendRepo.GetByID(ctx, file.Placement[index])
	if err != nil {
		return nil, translateNotFound(err, apperrors.ErrBackendNotFound, file.Placement[index])
	}

	return backend, nil
}

func (uc *ChunkUseCase) observeRepair(outcome string) {
	if uc.metrics != nil {
		uc.metrics.RepairAttempts.WithLabelValues(outcome).Inc()
	}
}

// translateRelayError 将中继错误翻译为业务错误码
func translateRelayError(err error) error {
	switch {
	case relay.IsRateLimited(err):
		return apperrors.Wrap(err, apperrors.ErrRelayRateLimited)
	case relay.IsInvalidCredential(err):
		return apperrors.Wrap(err, apperrors.ErrRelayInvalidCredential)
	case relay.IsBlobNotFound(err):
		return apperrors.Wrap(err, apperrors.ErrRelayBlobNotFound)
	default:
		return apperrors.Wrap(err, apperrors.ErrRelayUnavailable)
	}
}

// hashBytes 计算 SHA256 十六进制摘要
func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
