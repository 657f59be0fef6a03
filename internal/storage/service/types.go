package service

import (
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
)

// InitUploadRequest 开启上传会话
type InitUploadRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	VirtualPath string `json:"virtual_path" binding:"max=1000"`
	SizeBytes   int64  `json:"size_bytes" binding:"min=0"`
	MimeType    string `json:"mime_type" binding:"max=100"`
	ContentHash string `json:"content_hash" binding:"required,len=64"`
	IsPublic    bool   `json:"is_public"`
}

// UpdateFileRequest 更新文件元数据；省略的字段不变
type UpdateFileRequest struct {
	Name        *string `json:"name"`
	VirtualPath *string `json:"virtual_path"`
	IsPublic    *bool   `json:"is_public"`
}

// RegisterBackendRequest 注册存储后端
type RegisterBackendRequest struct {
	Credential string `json:"credential" binding:"required,max=255"`
}

// FileResponse 文件响应
type FileResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	VirtualPath    string   `json:"virtual_path"`
	SizeBytes      int64    `json:"size_bytes"`
	MimeType       string   `json:"mime_type,omitempty"`
	ContentHash    string   `json:"content_hash"`
	ChunkCount     int      `json:"chunk_count"`
	Placement      []string `json:"placement"`
	IsPublic       bool     `json:"is_public"`
	ForkedFromFile string   `json:"forked_from_file,omitempty"`
	ForkCount      int      `json:"fork_count"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// ChunkResponse 分块响应
type ChunkResponse struct {
	FileID     string `json:"file_id"`
	ChunkIndex int    `json:"chunk_index"`
	ByteSize   int64  `json:"byte_size"`
	BackendID  string `json:"backend_id"`
}

// BackendResponse 后端响应。凭证不回显。
type BackendResponse struct {
	ID              string `json:"id"`
	RemoteChannelID string `json:"remote_channel_id,omitempty"`
	IsActive        bool   `json:"is_active"`
	HealthStatus    string `json:"health_status"`
	LastHealthCheck string `json:"last_health_check,omitempty"`
	CreatedAt       string `json:"created_at"`
}

const timeLayout = "2006-01-02 15:04:05"

func toFileResponse(f *biz.File) *FileResponse {
	placement := f.Placement
	if placement == nil {
		placement = []string{}
	}
	return &FileResponse{
		ID:             f.ID,
		Name:           f.Name,
		VirtualPath:    f.VirtualPath,
		SizeBytes:      f.SizeBytes,
		MimeType:       f.MimeType,
		ContentHash:    f.ContentHash,
		ChunkCount:     f.ChunkCount,
		Placement:      placement,
		IsPublic:       f.IsPublic,
		ForkedFromFile: f.ForkedFromFile,
		ForkCount:      f.ForkCount,
		CreatedAt:      f.CreatedAt.Format(timeLayout),
		UpdatedAt:      f.UpdatedAt.Format(timeLayout),
	}
}

func toChunkResponse(c *biz.Chunk) *ChunkResponse {
	return &ChunkResponse{
		FileID:     c.FileID,
		ChunkIndex: c.ChunkIndex,
		ByteSize:   c.ByteSize,
		BackendID:  c.BackendID,
	}
}

func toBackendResponse(b *biz.Backend) *BackendResponse {
	resp := &BackendResponse{
		ID:              b.ID,
		RemoteChannelID: b.RemoteChannelID,
		IsActive:        b.IsActive,
		HealthStatus:    b.HealthStatus,
		CreatedAt:       b.CreatedAt.Format(timeLayout),
	}
	if !b.LastHealthCheck.IsZero() {
		resp.LastHealthCheck = b.LastHealthCheck.Format(timeLayout)
	}
	return resp
}
