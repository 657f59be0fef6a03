package data

import (
	"context"

	"github.com/lk2023060901/relaydrive-backend/internal/relay"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
)

// RelayBlobStore 将中继客户端适配为 biz.BlobStore
type RelayBlobStore struct {
	client *relay.Client
}

// NewRelayBlobStore 创建中继 blob 存储适配器
func NewRelayBlobStore(client *relay.Client) *RelayBlobStore {
	return &RelayBlobStore{client: client}
}

var _ biz.BlobStore = (*RelayBlobStore)(nil)

// Put 上传分块字节到凭证绑定的频道
func (s *RelayBlobStore) Put(ctx context.Context, credential, channelID string, data []byte, name string) (string, string, error) {
	handle, err := s.client.PutBlob(ctx, credential, channelID, data, name)
	if err != nil {
		return "", "", err
	}
	return handle.MessageRef, handle.BlobRef, nil
}

// Fetch 按 blob 引用整块取回
func (s *RelayBlobStore) Fetch(ctx context.Context, credential, blobRef string) ([]byte, error) {
	return s.client.GetBlobBytes(ctx, credential, blobRef)
}

// ResolveFromMessage 从消息日志重新推导 blob 引用
func (s *RelayBlobStore) ResolveFromMessage(ctx context.Context, credential, channelID, messageRef string) (string, error) {
	return s.client.ResolveBlobFromMessage(ctx, credential, channelID, messageRef)
}

// CheckIdentity 身份探测（健康检查用）
func (s *RelayBlobStore) CheckIdentity(ctx context.Context, credential string) error {
	_, err := s.client.CheckIdentity(ctx, credential)
	return err
}
