package biz

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lk2023060901/relaydrive-backend/internal/pkg/errors"
)

func TestInitUploadBuildsImmutablePlan(t *testing.T) {
	env := newTestEnv()
	env.addBackend("b1", "owner-1")
	env.addBackend("b2", "owner-1")
	ctx := context.Background()

	result, err := env.files.InitUpload(ctx, InitUploadParams{
		OwnerID:     "owner-1",
		Name:        "plan.bin",
		SizeBytes:   250,
		ContentHash: "hash-plan",
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	assert.Equal(t, 3, result.File.ChunkCount)
	assert.Equal(t, []string{"b1", "b2", "b1"}, result.File.Placement)

	// 池变化不影响已落库的计划
	env.addBackend("b3", "owner-1")
	stored, err := env.fileRepo.GetByID(ctx, result.File.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2", "b1"}, stored.Placement)
}

func TestInitUploadDeduplicates(t *testing.T) {
	env := newTestEnv()
	env.addBackend("b1", "owner-1")
	ctx := context.Background()

	payload := make([]byte, 150)
	rand.New(rand.NewSource(10)).Read(payload)
	original := uploadFile(t, env, "owner-1", "original.bin", payload)

	// 同 owner 同内容：命中去重，返回既有文件
	result, err := env.files.InitUpload(ctx, InitUploadParams{
		OwnerID:     "owner-1",
		Name:        "another-name.bin",
		SizeBytes:   150,
		ContentHash: hashBytes(payload),
	})
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, original.ID, result.File.ID)

	// 不同 owner 同内容：去重边界是 owner，各自成行
	env.addBackend("b2", "owner-2")
	other, err := env.files.InitUpload(ctx, InitUploadParams{
		OwnerID:     "owner-2",
		Name:        "copy.bin",
		SizeBytes:   150,
		ContentHash: hashBytes(payload),
	})
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
	assert.NotEqual(t, original.ID, other.File.ID)
}

func TestInitUploadDedupAfterDelete(t *testing.T) {
	env := newTestEnv()
	env.addBackend("b1", "owner-1")
	ctx := context.Background()

	payload := make([]byte, 120)
	file := uploadFile(t, env, "owner-1", "f", payload)

	require.NoError(t, env.files.Delete(ctx, "owner-1", file.ID))

	// 软删除行不参与去重，同一内容可重新上传
	result, err := env.files.InitUpload(ctx, InitUploadParams{
		OwnerID:     "owner-1",
		Name:        "f",
		SizeBytes:   120,
		ContentHash: hashBytes(payload),
	})
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.NotEqual(t, file.ID, result.File.ID)
}

func TestInitUploadValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.files.InitUpload(ctx, InitUploadParams{OwnerID: "o", Name: "", ContentHash: "h"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))

	_, err = env.files.InitUpload(ctx, InitUploadParams{OwnerID: "o", Name: "f", ContentHash: ""})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))

	_, err = env.files.InitUpload(ctx, InitUploadParams{OwnerID: "o", Name: "f", ContentHash: "h", SizeBytes: -1})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))

	// 无可用后端时拒绝开启会话
	_, err = env.files.InitUpload(ctx, InitUploadParams{OwnerID: "o", Name: "f", ContentHash: "h", SizeBytes: 10})
	assert.True(t, apperrors.Is(err, apperrors.ErrNoBackendAvailable))
}

func TestCompleteUploadRequiresAllChunks(t *testing.T) {
	env := newTestEnv()
	env.addBackend("b1", "owner-1")
	ctx := context.Background()

	payload := make([]byte, 250)
	rand.New(rand.NewSource(11)).Read(payload)

	result, err := env.files.InitUpload(ctx, InitUploadParams{
		OwnerID:     "owner-1",
		Name:        "partial.bin",
		SizeBytes:   250,
		ContentHash: hashBytes(payload),
	})
	require.NoError(t, err)
	file := result.File

	_, err = env.chunks.PutChunk(ctx, "owner-1", file.ID, 0, payload[:100], "")
	require.NoError(t, err)

	_, err = env.files.CompleteUpload(ctx, "owner-1", file.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrIncompleteUpload))

	_, err = env.chunks.PutChunk(ctx, "owner-1", file.ID, 1, payload[100:200], "")
	require.NoError(t, err)
	_, err = env.chunks.PutChunk(ctx, "owner-1", file.ID, 2, payload[200:], "")
	require.NoError(t, err)

	_, err = env.files.CompleteUpload(ctx, "owner-1", file.ID)
	require.NoError(t, err)
}

func TestGetVisibility(t *testing.T) {
	env := newTestEnv()
	env.addBackend("b1", "owner-1")
	ctx := context.Background()

	private := uploadFile(t, env, "owner-1", "private.bin", []byte("secret data here"))
	_, err := env.files.Update(ctx, "owner-1", private.ID, UpdateFileParams{IsPublic: boolPtr(false)})
	require.NoError(t, err)

	// owner 可读
	_, err = env.files.Get(ctx, "owner-1", private.ID)
	require.NoError(t, err)

	// 非 owner 读私有文件被拒
	_, err = env.files.Get(ctx, "stranger", private.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	// 公开后可读
	_, err = env.files.Update(ctx, "owner-1", private.ID, UpdateFileParams{IsPublic: boolPtr(true)})
	require.NoError(t, err)
	_, err = env.files.Get(ctx, "stranger", private.ID)
	require.NoError(t, err)
}

func TestUpdateRenameAndMove(t *testing.T) {
	env := newTestEnv()
	env.addBackend("b1", "owner-1")
	ctx := context.Background()

	file := uploadFile(t, env, "owner-1", "old-name.bin", []byte("content"))

	updated, err := env.files.Update(ctx, "owner-1", file.ID, UpdateFileParams{
		Name:        strPtr("new-name.bin"),
		VirtualPath: strPtr("docs/reports"),
	})
	require.NoError(t, err)
	assert.Equal(t, "new-name.bin", updated.Name)
	assert.Equal(t, "/docs/reports", updated.VirtualPath)

	// 内容属性不可变
	assert.Equal(t, file.SizeBytes, updated.SizeBytes)
	assert.Equal(t, file.ContentHash, updated.ContentHash)
	assert.Equal(t, file.Placement, updated.Placement)

	_, err = env.files.Update(ctx, "owner-1", file.ID, UpdateFileParams{Name: strPtr("")})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))
}

func TestDeleteHidesFile(t *testing.T) {
	env := newTestEnv()
	env.addBackend("b1", "owner-1")
	ctx := context.Background()

	file := uploadFile(t, env, "owner-1", "doomed.bin", []byte("bytes"))

	require.NoError(t, env.files.Delete(ctx, "owner-1", file.ID))

	_, err := env.files.Get(ctx, "owner-1", file.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileNotFound))

	files, err := env.files.List(ctx, "owner-1", "")
	require.NoError(t, err)
	assert.Empty(t, files)

	// 重复删除报不存在
	err = env.files.Delete(ctx, "owner-1", file.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileNotFound))
}

func TestForkRematerializesOnRequesterPool(t *testing.T) {
	env := newTestEnv()
	env.addBackend("a1", "alice")
	env.addBackend("a2", "alice")
	env.addBackend("c1", "carol")
	env.addBackend("c2", "carol")
	ctx := context.Background()

	payload := make([]byte, 250)
	rand.New(rand.NewSource(20)).Read(payload)
	source := uploadFile(t, env, "alice", "shared.bin", payload)

	putsBefore := env.blobs.putCalls
	sourceChunksBefore, err := env.chunkRepo.ListByFileID(ctx, source.ID)
	require.NoError(t, err)

	target, err := env.files.Fork(ctx, "carol", source.ID)
	require.NoError(t, err)

	assert.Equal(t, "carol", target.OwnerID)
	assert.Equal(t, source.ContentHash, target.ContentHash)
	assert.Equal(t, source.ID, target.ForkedFromFile)
	// 目标计划在请求者自己的池上轮转
	assert.Equal(t, []string{"c1", "c2", "c1"}, target.Placement)
	// 每个分块都重新上传了一次
	assert.Equal(t, putsBefore+3, env.blobs.putCalls)

	// 源文件分块记录未被改动
	sourceChunksAfter, err := env.chunkRepo.ListByFileID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, sourceChunksBefore, sourceChunksAfter)

	// fork 计数上涨
	stored, err := env.fileRepo.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ForkCount)

	// 目标可独立读取
	got, err := env.chunks.ReadAll(ctx, target)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

func TestForkSurvivesSourceDeletion(t *testing.T) {
	env := newTestEnv()
	env.addBackend("a1", "alice")
	env.addBackend("c1", "carol")
	ctx := context.Background()

	payload := make([]byte, 150)
	rand.New(rand.NewSource(21)).Read(payload)
	source := uploadFile(t, env, "alice", "shared.bin", payload)

	target, err := env.files.Fork(ctx, "carol", source.ID)
	require.NoError(t, err)

	require.NoError(t, env.files.Delete(ctx, "alice", source.ID))

	got, err := env.chunks.ReadAll(ctx, target)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

func TestForkPrivateFileRejected(t *testing.T) {
	env := newTestEnv()
	env.addBackend("a1", "alice")
	ctx := context.Background()

	file := uploadFile(t, env, "alice", "private.bin", []byte("mine"))
	_, err := env.files.Update(ctx, "alice", file.ID, UpdateFileParams{IsPublic: boolPtr(false)})
	require.NoError(t, err)

	_, err = env.files.Fork(ctx, "carol", file.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileNotForkable))
}

func TestForkDeduplicates(t *testing.T) {
	env := newTestEnv()
	env.addBackend("a1", "alice")
	env.addBackend("c1", "carol")
	ctx := context.Background()

	payload := make([]byte, 150)
	rand.New(rand.NewSource(22)).Read(payload)
	source := uploadFile(t, env, "alice", "shared.bin", payload)

	first, err := env.files.Fork(ctx, "carol", source.ID)
	require.NoError(t, err)

	putsBefore := env.blobs.putCalls

	// 再次 fork 同一内容：直接返回既有文件，不做远端搬运
	second, err := env.files.Fork(ctx, "carol", source.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, putsBefore, env.blobs.putCalls)
}

func TestForkFailureCleansUpTarget(t *testing.T) {
	env := newTestEnv()
	env.addBackend("a1", "alice")
	env.addBackend("c1", "carol")
	ctx := context.Background()

	payload := make([]byte, 150)
	rand.New(rand.NewSource(23)).Read(payload)
	source := uploadFile(t, env, "alice", "shared.bin", payload)

	// 源分块的 blob 与 message 引用都失效，搬运注定失败
	records, err := env.chunkRepo.ListByFileID(ctx, source.ID)
	require.NoError(t, err)
	env.blobs.revokeBlob(records[0].RemoteBlobRef)
	env.blobs.dropMessage(records[0].RemoteMessageRef)

	_, err = env.files.Fork(ctx, "carol", source.ID)
	require.Error(t, err)

	// 半成品目标行已被软删除，carol 名下不可见
	files, err := env.files.List(ctx, "carol", "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
