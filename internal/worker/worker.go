package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
)

// ManifestRecordKey 是 manifest 分区中持久化清单的固定键。
const ManifestRecordKey = "manifest"

// Partitions 命名 worker 使用的三个缓存分区。
type Partitions struct {
	Temp     string
	Content  string
	Manifest string
}

// Options 汇总构造 Worker 所需的依赖，均需显式注入。
type Options struct {
	Build       manifest.Build
	Store       cache.Store
	Fetcher     Fetcher
	Logger      *logrus.Logger
	Partitions  Partitions
	Scope       string
	Concurrency int
}

// Worker 是绑定到单个构建版本的缓存协调器。
type Worker struct {
	id          string
	build       manifest.Build
	digest      digest.Digest
	store       cache.Store
	fetcher     Fetcher
	logger      *logrus.Logger
	names       Partitions
	scope       string
	concurrency int

	mu          sync.RWMutex
	state       State
	skipWaiting bool
	claimed     bool
}

// New 校验依赖并返回处于 parsed 状态的 Worker。
func New(opts Options) (*Worker, error) {
	if opts.Store == nil {
		return nil, cache.ErrStoreUnavailable
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if err := opts.Build.Validate(); err != nil {
		return nil, fmt.Errorf("invalid build: %w", err)
	}
	names := opts.Partitions
	if names.Temp == "" || names.Content == "" || names.Manifest == "" {
		return nil, errors.New("all three partition names are required")
	}
	if names.Temp == names.Content || names.Temp == names.Manifest || names.Content == names.Manifest {
		return nil, errors.New("partition names must be distinct")
	}
	scope := strings.TrimSuffix(strings.TrimSpace(opts.Scope), "/")
	if scope == "" {
		return nil, errors.New("scope origin is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		id:          uuid.NewString(),
		build:       opts.Build,
		digest:      opts.Build.Digest(),
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		logger:      logger,
		names:       names,
		scope:       scope,
		concurrency: concurrency,
		state:       StateParsed,
	}, nil
}

// ID 返回本实例的唯一标识。
func (w *Worker) ID() string { return w.id }

// Version 返回构建版本标签。
func (w *Worker) Version() string { return w.build.VersionLabel() }

// Digest 返回资源清单摘要。
func (w *Worker) Digest() digest.Digest { return w.digest }

// Scope 返回作用域 origin。
func (w *Worker) Scope() string { return w.scope }

// Manifest 返回当前资源清单。
func (w *Worker) Manifest() manifest.Manifest { return w.build.Resources }

// Core 返回安装时预取的 shell 键列表副本。
func (w *Worker) Core() []string { return append([]string(nil), w.build.Core...) }

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SkipWaitingRequested 报告是否已请求跳过 waiting 阶段。
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// Claimed 报告激活后是否已接管客户端。
func (w *Worker) Claimed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.claimed
}

// SkipWaiting 标记该 worker 无需等待旧版本退出即可激活。
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: want %s, have %s", ErrInvalidState, from, w.state)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) claim() {
	w.mu.Lock()
	w.claimed = true
	w.mu.Unlock()
}

// markRedundant 将被新版本替换或安装失败的 worker 置为 redundant。
func (w *Worker) markRedundant() {
	w.setState(StateRedundant)
}

func (w *Worker) keyRequest(key string, reload bool) *Request {
	return &Request{
		Method: http.MethodGet,
		URL:    w.scope + manifest.KeyPath(key),
		Key:    key,
		Reload: reload,
	}
}

func (w *Worker) lifecycleLog(phase string) *logrus.Entry {
	return w.logger.WithFields(logging.LifecycleFields(phase, w.id, w.Version()))
}

// Inventory 是分区内容的快照，供诊断接口展示。
type Inventory struct {
	ContentKeys       int      `json:"content_keys"`
	TempPresent       bool     `json:"temp_present"`
	ManifestPersisted bool     `json:"manifest_persisted"`
	Missing           []string `json:"missing"`
}

// Inventory 统计 content 分区覆盖率与暂存/清单分区是否存在。只读，不创建分区。
func (w *Worker) Inventory(ctx context.Context) (Inventory, error) {
	var inv Inventory

	keys, err := w.store.Keys(ctx, w.names.Content)
	if err != nil {
		return inv, err
	}
	present := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		present[key] = struct{}{}
	}
	inv.ContentKeys = len(keys)
	inv.Missing = w.build.Resources.Missing(present)

	if inv.TempPresent, err = w.store.Exists(ctx, w.names.Temp); err != nil {
		return inv, err
	}

	result, err := w.store.Get(ctx, cache.Locator{Partition: w.names.Manifest, Key: ManifestRecordKey})
	switch {
	case err == nil:
		result.Reader.Close()
		inv.ManifestPersisted = true
	case errors.Is(err, cache.ErrNotFound):
	default:
		return inv, err
	}
	return inv, nil
}
