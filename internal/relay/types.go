package relay

import "time"

// BlobHandle is the pair of references the relay returns for an upload.
// BlobRef is the primary fetch handle; MessageRef points at the relay's
// own log entry for the upload and outlives blob reference rotation.
type BlobHandle struct {
	MessageRef string
	BlobRef    string
}

// Identity 凭证身份信息（健康探测用）
type Identity struct {
	ID       string
	Username string
}

// Update 入站事件
type Update struct {
	UpdateID  int64
	Type      string // channel_add, channel_remove, ...
	ChannelID string
}

// UpdateTypeChannelAdd 凭证被加入频道的事件类型
const UpdateTypeChannelAdd = "channel_add"

// Config 中继客户端配置
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}
