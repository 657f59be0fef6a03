package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lk2023060901/relaydrive-backend/internal/pkg/logger"
	"github.com/lk2023060901/relaydrive-backend/internal/relay"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/models"
)

// ---- in-memory仓储与远端桩 ----

type fakeBackendRepo struct {
	mu       sync.Mutex
	backends map[string]*Backend
}

func newFakeBackendRepo() *fakeBackendRepo {
	return &fakeBackendRepo{backends: make(map[string]*Backend)}
}

func (r *fakeBackendRepo) Create(_ context.Context, backend *Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *backend
	cp.CreatedAt = time.Now()
	r.backends[backend.ID] = &cp
	return nil
}

func (r *fakeBackendRepo) GetByID(_ context.Context, id string) (*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBackendRepo) List(_ context.Context, ownerID string) ([]*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Backend
	for _, b := range r.backends {
		if b.OwnerID == ownerID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sortBackends(out)
	return out, nil
}

func (r *fakeBackendRepo) ListPlaceable(_ context.Context, ownerID string) ([]*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Backend
	for _, b := range r.backends {
		if b.OwnerID == ownerID && b.IsPlaceable() {
			cp := *b
			out = append(out, &cp)
		}
	}
	sortBackends(out)
	return out, nil
}

func (r *fakeBackendRepo) ListUnbound(_ context.Context) ([]*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Backend
	for _, b := range r.backends {
		if b.IsActive && b.RemoteChannelID == "" {
			cp := *b
			out = append(out, &cp)
		}
	}
	sortBackends(out)
	return out, nil
}

func (r *fakeBackendRepo) UpdateHealth(_ context.Context, id, status string, checkedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[id]
	if !ok {
		return ErrNotFound
	}
	b.HealthStatus = status
	b.LastHealthCheck = checkedAt
	return nil
}

func (r *fakeBackendRepo) BindChannel(_ context.Context, id, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[id]
	if !ok {
		return ErrNotFound
	}
	b.RemoteChannelID = channelID
	return nil
}

func (r *fakeBackendRepo) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[id]
	if !ok {
		return ErrNotFound
	}
	b.IsActive = false
	return nil
}

// sortBackends 用 ID 保证测试下枚举顺序稳定
func sortBackends(bs []*Backend) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].ID < bs[j].ID })
}

type fakeFileRepo struct {
	mu    sync.Mutex
	files map[string]*File
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: make(map[string]*File)}
}

func (r *fakeFileRepo) Create(_ context.Context, file *File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if !f.IsDeleted && f.OwnerID == file.OwnerID && f.ContentHash == file.ContentHash {
			return ErrDuplicateFile
		}
	}
	cp := cloneFile(file)
	cp.CreatedAt = time.Now()
	r.files[file.ID] = cp
	return nil
}

func (r *fakeFileRepo) GetByID(_ context.Context, id string) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFile(f), nil
}

func (r *fakeFileRepo) GetByOwnerAndHash(_ context.Context, ownerID, contentHash string) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if !f.IsDeleted && f.OwnerID == ownerID && f.ContentHash == contentHash {
			return cloneFile(f), nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeFileRepo) List(_ context.Context, ownerID, virtualPath string) ([]*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*File
	for _, f := range r.files {
		if f.IsDeleted || f.OwnerID != ownerID {
			continue
		}
		if virtualPath != "" && !strings.HasPrefix(f.VirtualPath, virtualPath) {
			continue
		}
		out = append(out, cloneFile(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeFileRepo) Update(_ context.Context, file *File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[file.ID]; !ok {
		return ErrNotFound
	}
	r.files[file.ID] = cloneFile(file)
	return nil
}

func (r *fakeFileRepo) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return ErrNotFound
	}
	f.IsDeleted = true
	return nil
}

func (r *fakeFileRepo) IncrementForkCount(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return ErrNotFound
	}
	f.ForkCount++
	return nil
}

func cloneFile(f *File) *File {
	cp := *f
	cp.Placement = append([]string(nil), f.Placement...)
	return &cp
}

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks map[string]*Chunk // key: fileID/index
}

func newFakeChunkRepo() *fakeChunkRepo {
	return &fakeChunkRepo{chunks: make(map[string]*Chunk)}
}

func chunkKey(fileID string, index int) string {
	return fmt.Sprintf("%s/%d", fileID, index)
}

func (r *fakeChunkRepo) Upsert(_ context.Context, chunk *Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *chunk
	cp.CreatedAt = time.Now()
	r.chunks[chunkKey(chunk.FileID, chunk.ChunkIndex)] = &cp
	return nil
}

func (r *fakeChunkRepo) CountByFileID(_ context.Context, fileID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, c := range r.chunks {
		if c.FileID == fileID {
			n++
		}
	}
	return n, nil
}

func (r *fakeChunkRepo) ListByFileID(_ context.Context, fileID string) ([]*Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Chunk
	for _, c := range r.chunks {
		if c.FileID == fileID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *fakeChunkRepo) UpdateBlobRef(_ context.Context, id, blobRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chunks {
		if c.ID == id {
			c.RemoteBlobRef = blobRef
			return nil
		}
	}
	return ErrNotFound
}

// fakeBlobStore 模拟中继远端：blob 引用可被吊销，message 引用始终可换新
type fakeBlobStore struct {
	mu          sync.Mutex
	seq         int
	blobs       map[string][]byte // blobRef -> bytes
	messages    map[string][]byte // messageRef -> bytes
	identityErr map[string]error  // credential -> probe result
	putErr      error
	putCalls    int
	fetchCalls  int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		blobs:       make(map[string][]byte),
		messages:    make(map[string][]byte),
		identityErr: make(map[string]error),
	}
}

func (s *fakeBlobStore) Put(_ context.Context, credential, channelID string, data []byte, _ string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.putErr != nil {
		return "", "", s.putErr
	}
	s.seq++
	messageRef := fmt.Sprintf("msg-%d", s.seq)
	blobRef := fmt.Sprintf("blob-%d", s.seq)
	cp := append([]byte(nil), data...)
	s.blobs[blobRef] = cp
	s.messages[messageRef] = cp
	return messageRef, blobRef, nil
}

func (s *fakeBlobStore) Fetch(_ context.Context, _, blobRef string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	data, ok := s.blobs[blobRef]
	if !ok {
		return nil, &relay.Error{Op: "getBlob", Err: relay.ErrBlobNotFound}
	}
	return append([]byte(nil), data...), nil
}

func (s *fakeBlobStore) ResolveFromMessage(_ context.Context, _, _, messageRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.messages[messageRef]
	if !ok {
		return "", nil
	}
	s.seq++
	blobRef := fmt.Sprintf("blob-%d", s.seq)
	s.blobs[blobRef] = data
	return blobRef, nil
}

func (s *fakeBlobStore) CheckIdentity(_ context.Context, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identityErr[credential]
}

// revokeBlob 吊销一个 blob 引用，模拟远端引用过期
func (s *fakeBlobStore) revokeBlob(blobRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, blobRef)
}

// dropMessage 连 message 引用一起丢失，模拟远端消息被删
func (s *fakeBlobStore) dropMessage(messageRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageRef)
}

// ---- 测试夹具 ----

type testEnv struct {
	backendRepo *fakeBackendRepo
	fileRepo    *fakeFileRepo
	chunkRepo   *fakeChunkRepo
	blobs       *fakeBlobStore
	backends    *BackendUseCase
	chunks      *ChunkUseCase
	files       *FileUseCase
}

const testChunkSize = 100

func newTestEnv() *testEnv {
	backendRepo := newFakeBackendRepo()
	fileRepo := newFakeFileRepo()
	chunkRepo := newFakeChunkRepo()
	blobs := newFakeBlobStore()
	log := logger.NewNop()

	backends := NewBackendUseCase(backendRepo, blobs, log)
	chunks := NewChunkUseCase(chunkRepo, fileRepo, backendRepo, blobs, testChunkSize, nil, log)
	files := NewFileUseCase(fileRepo, chunkRepo, backends, chunks, log)

	return &testEnv{
		backendRepo: backendRepo,
		fileRepo:    fileRepo,
		chunkRepo:   chunkRepo,
		blobs:       blobs,
		backends:    backends,
		chunks:      chunks,
		files:       files,
	}
}

// addBackend 直接落库一个已绑频道的健康后端
func (e *testEnv) addBackend(id, ownerID string) *Backend {
	b := &Backend{
		ID:              id,
		OwnerID:         ownerID,
		Credential:      "cred-" + id,
		RemoteChannelID: "chan-" + id,
		IsActive:        true,
		HealthStatus:    models.HealthStatusHealthy,
	}
	_ = e.backendRepo.Create(context.Background(), b)
	return b
}
