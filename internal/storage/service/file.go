package service

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/relaydrive-backend/internal/pkg/errors"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/response"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/queue"
)

// maxChunkBody 单次分块上传请求体上限，留出超出分块大小的余量用于
// 明确报出大小不匹配而不是截断
const maxChunkBody = 64 << 20

// FileService 文件网关 HTTP 服务
type FileService struct {
	fileUseCase  *biz.FileUseCase
	chunkUseCase *biz.ChunkUseCase
	forkWorker   *queue.Worker
	logger       *zap.Logger
}

// NewFileService 创建文件服务
func NewFileService(
	fileUseCase *biz.FileUseCase,
	chunkUseCase *biz.ChunkUseCase,
	forkWorker *queue.Worker,
	logger *zap.Logger,
) *FileService {
	return &FileService{
		fileUseCase:  fileUseCase,
		chunkUseCase: chunkUseCase,
		forkWorker:   forkWorker,
		logger:       logger,
	}
}

// InitUpload 开启上传会话
func (s *FileService) InitUpload(c *gin.Context) {
	userID := c.GetString("user_id")

	var req InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	result, err := s.fileUseCase.InitUpload(c.Request.Context(), biz.InitUploadParams{
		OwnerID:     userID,
		Name:        req.Name,
		VirtualPath: req.VirtualPath,
		SizeBytes:   req.SizeBytes,
		MimeType:    req.MimeType,
		ContentHash: req.ContentHash,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}

	payload := gin.H{
		"file":      toFileResponse(result.File),
		"duplicate": result.Duplicate,
	}
	if result.Duplicate {
		// 去重命中：既有文件已完整，无需再传分块
		response.Success(c, payload)
		return
	}
	response.Created(c, payload)
}

// UploadChunk 上传一个分块，请求体为原始分块字节
func (s *FileService) UploadChunk(c *gin.Context) {
	userID := c.GetString("user_id")
	fileID := c.Param("id")

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.BadRequest(c, "invalid chunk index")
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChunkBody))
	if err != nil {
		response.BadRequest(c, "failed to read chunk body")
		return
	}

	chunk, err := s.chunkUseCase.PutChunk(c.Request.Context(), userID, fileID, index, data, c.GetHeader("X-Chunk-Hash"))
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Created(c, toChunkResponse(chunk))
}

// CompleteUpload 校验并关闭上传会话
func (s *FileService) CompleteUpload(c *gin.Context) {
	userID := c.GetString("user_id")
	fileID := c.Param("id")

	file, err := s.fileUseCase.CompleteUpload(c.Request.Context(), userID, fileID)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, toFileResponse(file))
}

// GetFile 读取文件元数据
func (s *FileService) GetFile(c *gin.Context) {
	userID := c.GetString("user_id")

	file, err := s.fileUseCase.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, toFileResponse(file))
}

// ListFiles 列出文件，可按虚拟路径前缀过滤
func (s *FileService) ListFiles(c *gin.Context) {
	userID := c.GetString("user_id")

	files, err := s.fileUseCase.List(c.Request.Context(), userID, c.Query("path"))
	if err != nil {
		response.HandleError(c, err)
		return
	}

	items := make([]*FileResponse, len(files))
	for i, f := range files {
		items[i] = toFileResponse(f)
	}
	response.Success(c, gin.H{"files": items, "total": len(items)})
}

// UpdateFile 更新文件元数据
func (s *FileService) UpdateFile(c *gin.Context) {
	userID := c.GetString("user_id")

	var req UpdateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	file, err := s.fileUseCase.Update(c.Request.Context(), userID, c.Param("id"), biz.UpdateFileParams{
		Name:        req.Name,
		VirtualPath: req.VirtualPath,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, toFileResponse(file))
}

// DeleteFile 软删除文件
func (s *FileService) DeleteFile(c *gin.Context) {
	userID := c.GetString("user_id")

	if err := s.fileUseCase.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "file deleted"})
}

// DownloadFile 整文件下载
func (s *FileService) DownloadFile(c *gin.Context) {
	userID := c.GetString("user_id")

	file, err := s.fileUseCase.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}

	data, err := s.chunkUseCase.ReadAll(c.Request.Context(), file)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Header("Content-Length", strconv.FormatInt(file.SizeBytes, 10))
	c.Data(http.StatusOK, contentType(file), data)
}

// StreamFile 区间读取。带 Range 头时回 206，不带时回整文件。
// 不满足的区间与多段区间一律回 416。
func (s *FileService) StreamFile(c *gin.Context) {
	userID := c.GetString("user_id")

	file, err := s.fileUseCase.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}

	c.Header("Accept-Ranges", "bytes")

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		data, err := s.chunkUseCase.ReadAll(c.Request.Context(), file)
		if err != nil {
			response.HandleError(c, err)
			return
		}
		c.Data(http.StatusOK, contentType(file), data)
		return
	}

	start, end, err := parseRangeHeader(rangeHeader, file.SizeBytes)
	if err != nil {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", file.SizeBytes))
		response.Error(c, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable")
		return
	}

	data, err := s.chunkUseCase.GetRange(c.Request.Context(), file, start, end)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvalidRange) {
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", file.SizeBytes))
		}
		response.HandleError(c, err)
		return
	}

	c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, file.SizeBytes))
	c.Data(http.StatusPartialContent, contentType(file), data)
}

// ForkFile 发起 fork：任务入队后台搬运，立即返回受理
func (s *FileService) ForkFile(c *gin.Context) {
	userID := c.GetString("user_id")
	sourceID := c.Param("id")

	// 入队前先做一次可见性校验，公开性问题当场报出
	source, err := s.fileUseCase.Get(c.Request.Context(), userID, sourceID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	if !source.IsPublic && source.OwnerID != userID {
		response.HandleError(c, apperrors.New(apperrors.ErrFileNotForkable, sourceID))
		return
	}

	if err := s.forkWorker.EnqueueFork(c.Request.Context(), sourceID, userID); err != nil {
		s.logger.Error("failed to enqueue fork",
			zap.String("source_file_id", sourceID),
			zap.Error(err),
		)
		response.InternalError(c, "failed to enqueue fork")
		return
	}

	c.JSON(http.StatusAccepted, response.Response{
		Code: apperrors.Success,
		Data: gin.H{
			"source_file_id": sourceID,
			"status":         "queued",
		},
	})
}

// RegisterRoutes 注册文件路由。chunkUploadMiddleware 只挂在分块上传
// 端点上，其余端点走分组级限流。
func (s *FileService) RegisterRoutes(r *gin.RouterGroup, chunkUploadMiddleware ...gin.HandlerFunc) {
	files := r.Group("/files")
	{
		files.POST("", s.InitUpload)
		files.GET("", s.ListFiles)
		files.GET("/:id", s.GetFile)
		files.PATCH("/:id", s.UpdateFile)
		files.DELETE("/:id", s.DeleteFile)
		files.PUT("/:id/chunks/:index", append(chunkUploadMiddleware, s.UploadChunk)...)
		files.POST("/:id/complete", s.CompleteUpload)
		files.GET("/:id/download", s.DownloadFile)
		files.GET("/:id/stream", s.StreamFile)
		files.POST("/:id/fork", s.ForkFile)
	}
}

func contentType(f *biz.File) string {
	if f.MimeType != "" {
		return f.MimeType
	}
	return "application/octet-stream"
}
