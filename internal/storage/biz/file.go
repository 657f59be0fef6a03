package biz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lk2023060901/relaydrive-backend/internal/pkg/errors"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/logger"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/chunker"
	"go.uber.org/zap"
)

// File 逻辑文件领域模型
type File struct {
	ID          string
	OwnerID     string
	Name        string
	VirtualPath string
	SizeBytes   int64
	MimeType    string
	ContentHash string
	ChunkCount  int
	// Placement 不可变放置计划：下标即 chunk_index，值为 backend id
	Placement      []string
	IsDeleted      bool
	IsPublic       bool
	ForkedFromFile string
	ForkCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FileRepo 文件仓储接口
type FileRepo interface {
	// Create 落库新文件。命中 (owner_id, content_hash) 部分唯一索引时
	// 返回 ErrDuplicateFile
	Create(ctx context.Context, file *File) error
	GetByID(ctx context.Context, id string) (*File, error)
	// GetByOwnerAndHash 只在未删除文件中查找
	GetByOwnerAndHash(ctx context.Context, ownerID, contentHash string) (*File, error)
	// List 按 virtual_path 前缀过滤；path 为空则返回 owner 的全部未删除文件
	List(ctx context.Context, ownerID, virtualPath string) ([]*File, error)
	Update(ctx context.Context, file *File) error
	SoftDelete(ctx context.Context, id string) error
	IncrementForkCount(ctx context.Context, id string) error
}

// InitUploadResult InitUpload 的返回：去重命中时 Duplicate 为 true，
// File 指向既有文件，不产生新的上传会话
type InitUploadResult struct {
	File      *File
	Duplicate bool
}

// InitUploadParams 上传会话参数
type InitUploadParams struct {
	OwnerID     string
	Name        string
	VirtualPath string
	SizeBytes   int64
	MimeType    string
	ContentHash string
	IsPublic    bool
}

// UpdateFileParams 可变元数据更新；nil 字段保持不变
type UpdateFileParams struct {
	Name        *string
	VirtualPath *string
	IsPublic    *bool
}

// FileUseCase 文件目录用例：上传会话、去重、fork、生命周期管理
type FileUseCase struct {
	fileRepo  FileRepo
	chunkRepo ChunkRepo
	backends  *BackendUseCase
	chunks    *ChunkUseCase
	logger    *logger.Logger
}

// NewFileUseCase 创建文件目录用例
func NewFileUseCase(
	fileRepo FileRepo,
	chunkRepo ChunkRepo,
	backends *BackendUseCase,
	chunks *ChunkUseCase,
	log *logger.Logger,
) *FileUseCase {
	return &FileUseCase{
		fileRepo:  fileRepo,
		chunkRepo: chunkRepo,
		backends:  backends,
		chunks:    chunks,
		logger:    log,
	}
}

// InitUpload 开启一次上传会话：按内容哈希去重，未命中时生成不可变
// 放置计划并落库文件行。并发发起同一内容的上传时，唯一索引保证
// 只有一行胜出，落败方取回胜出行。
func (uc *FileUseCase) InitUpload(ctx context.Context, params InitUploadParams) (*InitUploadResult, error) {
	if params.Name == "" || params.ContentHash == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "name and content_hash are required")
	}
	if params.SizeBytes < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "size_bytes must be non-negative")
	}

	// 去重快路径
	if existing, err := uc.fileRepo.GetByOwnerAndHash(ctx, params.OwnerID, params.ContentHash); err == nil {
		return &InitUploadResult{File: existing, Duplicate: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "dedup lookup failed")
	}

	plan, err := uc.buildPlacement(ctx, params.OwnerID, params.SizeBytes)
	if err != nil {
		return nil, err
	}

	file := &File{
		ID:          uuid.NewString(),
		OwnerID:     params.OwnerID,
		Name:        params.Name,
		VirtualPath: normalizePath(params.VirtualPath),
		SizeBytes:   params.SizeBytes,
		MimeType:    params.MimeType,
		ContentHash: params.ContentHash,
		ChunkCount:  len(plan),
		Placement:   plan,
		IsPublic:    params.IsPublic,
	}

	if err := uc.fileRepo.Create(ctx, file); err != nil {
		if errors.Is(err, ErrDuplicateFile) {
			// 并发去重：唯一索引落败，取回胜出行
			existing, lookupErr := uc.fileRepo.GetByOwnerAndHash(ctx, params.OwnerID, params.ContentHash)
			if lookupErr != nil {
				return nil, apperrors.Wrap(lookupErr, apperrors.ErrInternalServer, "dedup winner lookup failed")
			}
			return &InitUploadResult{File: existing, Duplicate: true}, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to create file record")
	}

	uc.logger.Info("upload session opened",
		zap.String("file_id", file.ID),
		zap.Int64("size_bytes", file.SizeBytes),
		zap.Int("chunk_count", file.ChunkCount),
	)

	return &InitUploadResult{File: file}, nil
}

// CompleteUpload 校验所有计划分块均已落库
func (uc *FileUseCase) CompleteUpload(ctx context.Context, ownerID, fileID string) (*File, error) {
	file, err := uc.getOwned(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	have, err := uc.chunkRepo.CountByFileID(ctx, fileID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to count chunks")
	}
	if have != int64(file.ChunkCount) {
		return nil, apperrors.Newf(apperrors.ErrIncompleteUpload, "have %d of %d chunks", have, file.ChunkCount)
	}

	return file, nil
}

// Get 读取文件元数据。非 owner 只能读公开文件。
func (uc *FileUseCase) Get(ctx context.Context, requesterID, fileID string) (*File, error) {
	file, err := uc.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		return nil, translateNotFound(err, apperrors.ErrFileNotFound, fileID)
	}
	if file.IsDeleted {
		return nil, apperrors.New(apperrors.ErrFileNotFound, fileID)
	}
	if file.OwnerID != requesterID && !file.IsPublic {
		return nil, apperrors.New(apperrors.ErrForbidden)
	}
	return file, nil
}

// List 列出 owner 在某虚拟路径下的文件
func (uc *FileUseCase) List(ctx context.Context, ownerID, virtualPath string) ([]*File, error) {
	files, err := uc.fileRepo.List(ctx, ownerID, virtualPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to list files")
	}
	return files, nil
}

// Update 更新可变元数据（重命名、移动、公开状态）。
// 内容、大小与放置计划不可变。
func (uc *FileUseCase) Update(ctx context.Context, ownerID, fileID string, params UpdateFileParams) (*File, error) {
	file, err := uc.getOwned(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	if params.Name != nil {
		if *params.Name == "" {
			return nil, apperrors.New(apperrors.ErrInvalidParams, "name cannot be empty")
		}
		file.Name = *params.Name
	}
	if params.VirtualPath != nil {
		file.VirtualPath = normalizePath(*params.VirtualPath)
	}
	if params.IsPublic != nil {
		file.IsPublic = *params.IsPublic
	}

	if err := uc.fileRepo.Update(ctx, file); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to update file")
	}

	return file, nil
}

// Delete 软删除：文件行保留但对读取不可见，远端字节不回收。
// 删除后同一内容可被重新上传（去重索引只覆盖未删除行）。
func (uc *FileUseCase) Delete(ctx context.Context, ownerID, fileID string) error {
	if _, err := uc.getOwned(ctx, ownerID, fileID); err != nil {
		return err
	}

	if err := uc.fileRepo.SoftDelete(ctx, fileID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to delete file")
	}

	uc.logger.Info("file soft-deleted", zap.String("file_id", fileID))
	return nil
}

// Fork 将一个公开文件重物化到请求者自己的后端池：逐块取回源字节、
// 按请求者的放置计划重新上传。源文件的分块记录不被改动。
// 中途失败时软删除目标文件行。
func (uc *FileUseCase) Fork(ctx context.Context, requesterID, sourceFileID string) (*File, error) {
	source, err := uc.fileRepo.GetByID(ctx, sourceFileID)
	if err != nil {
		return nil, translateNotFound(err, apperrors.ErrFileNotFound, sourceFileID)
	}
	if source.IsDeleted {
		return nil, apperrors.New(apperrors.ErrFileNotFound, sourceFileID)
	}
	if !source.IsPublic && source.OwnerID != requesterID {
		return nil, apperrors.New(apperrors.ErrFileNotForkable, sourceFileID)
	}

	// 请求者已持有同一内容则直接返回，不做远端搬运
	if existing, err := uc.fileRepo.GetByOwnerAndHash(ctx, requesterID, source.ContentHash); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "fork dedup lookup failed")
	}

	plan, err := uc.buildPlacement(ctx, requesterID, source.SizeBytes)
	if err != nil {
		return nil, err
	}

	target := &File{
		ID:             uuid.NewString(),
		OwnerID:        requesterID,
		Name:           source.Name,
		VirtualPath:    source.VirtualPath,
		SizeBytes:      source.SizeBytes,
		MimeType:       source.MimeType,
		ContentHash:    source.ContentHash,
		ChunkCount:     len(plan),
		Placement:      plan,
		ForkedFromFile: source.ID,
	}

	if err := uc.fileRepo.Create(ctx, target); err != nil {
		if errors.Is(err, ErrDuplicateFile) {
			existing, lookupErr := uc.fileRepo.GetByOwnerAndHash(ctx, requesterID, source.ContentHash)
			if lookupErr != nil {
				return nil, apperrors.Wrap(lookupErr, apperrors.ErrInternalServer, "fork dedup winner lookup failed")
			}
			return existing, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to create fork target")
	}

	if err := uc.materializeFork(ctx, source, target); err != nil {
		if delErr := uc.fileRepo.SoftDelete(ctx, target.ID); delErr != nil {
			uc.logger.Error("failed to clean up aborted fork",
				zap.String("file_id", target.ID),
				zap.Error(delErr),
			)
		}
		return nil, err
	}

	if err := uc.fileRepo.IncrementForkCount(ctx, source.ID); err != nil {
		// 谱系计数是装饰性的，不回滚已完成的 fork
		uc.logger.Warn("failed to bump fork count",
			zap.String("file_id", source.ID),
			zap.Error(err),
		)
	}

	uc.logger.Info("file forked",
		zap.String("source_file_id", source.ID),
		zap.String("target_file_id", target.ID),
		zap.Int("chunk_count", target.ChunkCount),
	)

	return target, nil
}

// materializeFork 逐块搬运：源侧整块取回，目标侧按自己的计划重新上传
func (uc *FileUseCase) materializeFork(ctx context.Context, source, target *File) error {
	records, err := uc.chunkRepo.ListByFileID(ctx, source.ID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternalServer, "failed to load source chunks")
	}
	if len(records) != source.ChunkCount {
		return apperrors.Newf(apperrors.ErrIncompleteUpload, "source has %d of %d chunks", len(records), source.ChunkCount)
	}

	for _, rec := range records {
		srcBackend, err := uc.backends.repo.GetByID(ctx, rec.BackendID)
		if err != nil {
			return translateNotFound(err, apperrors.ErrChunksUnavailable, rec.BackendID)
		}
		if !srcBackend.IsActive {
			return apperrors.Newf(apperrors.ErrChunksUnavailable, "source backend for chunk %d is deactivated", rec.ChunkIndex)
		}

		data, err := uc.chunks.FetchChunk(ctx, rec, srcBackend)
		if err != nil {
			return err
		}

		dstBackend, err := uc.backends.repo.GetByID(ctx, target.Placement[rec.ChunkIndex])
		if err != nil {
			return translateNotFound(err, apperrors.ErrBackendNotFound, target.Placement[rec.ChunkIndex])
		}

		if _, err := uc.chunks.PutChunkOn(ctx, target, rec.ChunkIndex, data, rec.ContentHash, dstBackend); err != nil {
			return err
		}
	}

	return nil
}

// buildPlacement 在当前候选池上生成放置计划：plan[i] = pool[i % len(pool)]。
// 计划一经落库不再随池变化。
func (uc *FileUseCase) buildPlacement(ctx context.Context, ownerID string, sizeBytes int64) ([]string, error) {
	count := chunker.Count(sizeBytes, uc.chunks.ChunkSize())
	if count == 0 {
		return []string{}, nil
	}

	pool, err := uc.backends.PlaceablePool(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	plan := make([]string, count)
	for i := 0; i < count; i++ {
		plan[i] = pool[i%len(pool)].ID
	}
	return plan, nil
}

func (uc *FileUseCase) getOwned(ctx context.Context, ownerID, fileID string) (*File, error) {
	file, err := uc.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		return nil, translateNotFound(err, apperrors.ErrFileNotFound, fileID)
	}
	if file.IsDeleted {
		return nil, apperrors.New(apperrors.ErrFileNotFound, fileID)
	}
	if file.OwnerID != ownerID {
		return nil, apperrors.New(apperrors.ErrForbidden)
	}
	return file, nil
}

// normalizePath 虚拟路径始终以 / 开头
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		return "/" + p
	}
	return p
}
