package models

import (
	"time"

	"github.com/google/uuid"
)

// 后端健康状态
const (
	HealthStatusHealthy     = "healthy"
	HealthStatusRateLimited = "rate_limited"
	HealthStatusBanned      = "banned"
	HealthStatusUnknown     = "unknown"
)

// Backend 存储后端模型（一个中继凭证 + 绑定的频道）
type Backend struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index:idx_backend_owner"`

	// 凭证与频道
	Credential      string `gorm:"type:varchar(255);not null"`
	RemoteChannelID string `gorm:"type:varchar(100)"` // 绑定前为空，绑定后方可参与分块放置

	// 状态
	IsActive        bool      `gorm:"not null;default:true"` // 软停用：false 后不再参与放置，已有分块仍可读
	HealthStatus    string    `gorm:"type:varchar(20);not null;default:'unknown'"`
	LastHealthCheck time.Time `gorm:"column:last_health_check"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (Backend) TableName() string {
	return "backends"
}

// IsPlaceable 是否可参与新分块放置
func (b *Backend) IsPlaceable() bool {
	return b.IsActive && b.HealthStatus == HealthStatusHealthy && b.RemoteChannelID != ""
}
