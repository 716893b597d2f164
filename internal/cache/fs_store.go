package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	bodyDir      = "body"
	metaDir      = "meta"
	metaSuffix   = ".json"
	rootFileName = ".root"
	tempPrefix   = ".cache-"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type entryMeta struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	meta, err := readMeta(metaPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		Status:    meta.Status,
		Header:    meta.Header,
		ModTime:   info.ModTime(),
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return nil, err
	}

	written, err := writeAtomic(filePath, func(w io.Writer) (int64, error) {
		return copyWithContext(ctx, w, body)
	})
	if err != nil {
		return nil, err
	}

	status := opts.Status
	if status == 0 {
		status = http.StatusOK
	}
	meta := entryMeta{Status: status, Header: opts.Header.Clone()}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if _, err := writeAtomic(metaPath, func(w io.Writer) (int64, error) {
		n, err := w.Write(encoded)
		return int64(n), err
	}); err != nil {
		os.Remove(filePath)
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	if err := os.Chtimes(filePath, modTime, modTime); err != nil {
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: written,
		Status:    status,
		Header:    meta.Header,
		ModTime:   modTime,
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, locator Locator) error {
	unlock := s.lockEntry(locator)
	defer unlock()

	filePath, metaPath, err := s.entryPaths(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Keys(ctx context.Context, partition string) ([]string, error) {
	dir, err := s.partitionDir(partition)
	if err != nil {
		return nil, err
	}
	root := filepath.Join(dir, bodyDir)

	var keys []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		keys = append(keys, keyFromRel(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fileStore) Open(ctx context.Context, partition string) error {
	dir, err := s.partitionDir(partition)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(dir, bodyDir), 0o755)
}

func (s *fileStore) Exists(ctx context.Context, partition string) (bool, error) {
	dir, err := s.partitionDir(partition)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStore) Drop(ctx context.Context, partition string) (bool, error) {
	existed, err := s.Exists(ctx, partition)
	if err != nil || !existed {
		return false, err
	}
	dir, _ := s.partitionDir(partition)
	if err := os.RemoveAll(dir); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fileStore) lockEntry(locator Locator) func() {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) partitionDir(partition string) (string, error) {
	name := strings.TrimSpace(partition)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidPartition
	}
	return filepath.Join(s.basePath, name), nil
}

// entryPaths 返回正文与元数据文件路径，并拒绝逃逸出分区目录的键。
func (s *fileStore) entryPaths(locator Locator) (string, string, error) {
	dir, err := s.partitionDir(locator.Partition)
	if err != nil {
		return "", "", err
	}

	rel := relFromKey(locator.Key)
	if rel == "" {
		return "", "", errors.New("invalid cache key")
	}

	bodyRoot := filepath.Join(dir, bodyDir)
	filePath := filepath.Join(bodyRoot, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, bodyRoot+string(filepath.Separator)) {
		return "", "", errors.New("invalid cache path")
	}
	metaPath := filepath.Join(dir, metaDir, filepath.FromSlash(rel)+metaSuffix)
	return filePath, metaPath, nil
}

// entryPath 仅返回正文路径，便于测试构造冲突场景。
func (s *fileStore) entryPath(locator Locator) (string, error) {
	filePath, _, err := s.entryPaths(locator)
	return filePath, err
}

func relFromKey(key string) string {
	if key == "" || key == "/" {
		return rootFileName
	}
	rel := strings.TrimPrefix(path.Clean("/"+key), "/")
	if rel == "" || rel == "." {
		return rootFileName
	}
	// 以 "/" 结尾的目录型键落盘为 <dir>/.root，Keys 可原样还原。
	if strings.HasSuffix(key, "/") {
		return rel + "/" + rootFileName
	}
	return rel
}

func keyFromRel(rel string) string {
	if rel == rootFileName {
		return "/"
	}
	if strings.HasSuffix(rel, "/"+rootFileName) {
		return strings.TrimSuffix(rel, rootFileName)
	}
	return rel
}

func readMeta(metaPath string) (entryMeta, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entryMeta{Status: http.StatusOK}, nil
		}
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("decode cache metadata: %w", err)
	}
	if meta.Status == 0 {
		meta.Status = http.StatusOK
	}
	return meta, nil
}

func writeAtomic(target string, fill func(io.Writer) (int64, error)) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(target), tempPrefix+"*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := fill(tempFile)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func locatorKey(locator Locator) string {
	return locator.Partition + "::" + locator.Key
}
