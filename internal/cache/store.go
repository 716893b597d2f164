package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理磁盘缓存分区的读写。磁盘布局遵循：
//
//	<StoragePath>/<Partition>/body/<key>         # 响应正文
//	<StoragePath>/<Partition>/meta/<key>.json    # 状态码与响应头
//
// 文档根哨兵键 "/" 落盘为 body/.root。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 写入响应正文与元数据，通过临时文件 + rename 保证原子性；分区不存在时自动创建。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除单个条目，条目不存在时不报错。
	Remove(ctx context.Context, locator Locator) error

	// Keys 列出分区内全部逻辑键（已排序），分区不存在时返回空列表。
	Keys(ctx context.Context, partition string) ([]string, error)

	// Open 确保分区存在。
	Open(ctx context.Context, partition string) error

	// Exists 报告分区是否存在。
	Exists(ctx context.Context, partition string) (bool, error)

	// Drop 删除整个分区，返回删除前分区是否存在。
	Drop(ctx context.Context, partition string) (bool, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	Status  int
	Header  http.Header
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（分区 + 逻辑键）。
type Locator struct {
	Partition string
	Key       string
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及响应元数据。
type Entry struct {
	Locator   Locator     `json:"locator"`
	FilePath  string      `json:"file_path"`
	SizeBytes int64       `json:"size_bytes"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header,omitempty"`
	ModTime   time.Time   `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrStoreUnavailable 表示未注入缓存存储实例。
	ErrStoreUnavailable = errors.New("cache store unavailable")
	// ErrInvalidPartition 表示分区名为空或包含路径分隔符。
	ErrInvalidPartition = errors.New("invalid partition name")
)
