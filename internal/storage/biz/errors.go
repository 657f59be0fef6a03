package biz

import (
	"errors"

	apperrors "github.com/lk2023060901/relaydrive-backend/internal/pkg/errors"
)

// 仓储层与用例层之间的哨兵错误
var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("storage: record not found")

	// ErrDuplicateFile 命中 (owner_id, content_hash) 唯一索引，
	// 即并发 InitUpload 的去重信号
	ErrDuplicateFile = errors.New("storage: duplicate file")
)

// translateNotFound 将仓储的 ErrNotFound 翻译为带业务码的应用错误
func translateNotFound(err error, notFoundCode int, detail string) error {
	if errors.Is(err, ErrNotFound) {
		return apperrors.New(notFoundCode, detail)
	}
	return apperrors.Wrap(err, apperrors.ErrInternalServer)
}
