package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/manifest"
)

const testScope = "http://app.local:5000"

var testPartitions = Partitions{
	Temp:     "app-temp-cache",
	Content:  "app-cache",
	Manifest: "app-manifest",
}

var errOffline = errors.New("network unreachable")

// fakeNetwork 按逻辑键返回预设响应，并记录每个键的请求次数。
type fakeNetwork struct {
	mu      sync.Mutex
	bodies  map[string]string
	status  map[string]int
	offline bool
	failing map[string]bool
	calls   map[string]int
	reloads map[string]int
}

func newFakeNetwork(bodies map[string]string) *fakeNetwork {
	return &fakeNetwork{
		bodies:  bodies,
		status:  map[string]int{},
		failing: map[string]bool{},
		calls:   map[string]int{},
		reloads: map[string]int{},
	}
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls[req.Key]++
	if req.Reload {
		n.reloads[req.Key]++
	}
	if n.offline || n.failing[req.Key] {
		return nil, errOffline
	}
	status := http.StatusOK
	if s, ok := n.status[req.Key]; ok {
		status = s
	}
	body, ok := n.bodies[req.Key]
	if !ok {
		status = http.StatusNotFound
	}
	return &cache.Response{
		Status: status,
		Header: http.Header{"X-Upstream-Key": []string{req.Key}},
		Body:   []byte(body),
	}, nil
}

func (n *fakeNetwork) setBody(key, body string) {
	n.mu.Lock()
	n.bodies[key] = body
	n.mu.Unlock()
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

func (n *fakeNetwork) callsFor(key string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[key]
}

func (n *fakeNetwork) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

func (n *fakeNetwork) resetCalls() {
	n.mu.Lock()
	n.calls = map[string]int{}
	n.reloads = map[string]int{}
	n.mu.Unlock()
}

// countingStore 统计对底层 Store 的所有访问。
type countingStore struct {
	cache.Store
	ops atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, l cache.Locator) (*cache.ReadResult, error) {
	s.ops.Add(1)
	return s.Store.Get(ctx, l)
}

func (s *countingStore) Put(ctx context.Context, l cache.Locator, body io.Reader, opts cache.PutOptions) (*cache.Entry, error) {
	s.ops.Add(1)
	return s.Store.Put(ctx, l, body, opts)
}

func (s *countingStore) Remove(ctx context.Context, l cache.Locator) error {
	s.ops.Add(1)
	return s.Store.Remove(ctx, l)
}

func (s *countingStore) Keys(ctx context.Context, partition string) ([]string, error) {
	s.ops.Add(1)
	return s.Store.Keys(ctx, partition)
}

func (s *countingStore) Open(ctx context.Context, partition string) error {
	s.ops.Add(1)
	return s.Store.Open(ctx, partition)
}

func (s *countingStore) Exists(ctx context.Context, partition string) (bool, error) {
	s.ops.Add(1)
	return s.Store.Exists(ctx, partition)
}

func (s *countingStore) Drop(ctx context.Context, partition string) (bool, error) {
	s.ops.Add(1)
	return s.Store.Drop(ctx, partition)
}

// failingStore 在写入指定分区时注入失败。
type failingStore struct {
	cache.Store
	failPartition string
}

var errInjected = errors.New("injected disk failure")

func (s *failingStore) Put(ctx context.Context, l cache.Locator, body io.Reader, opts cache.PutOptions) (*cache.Entry, error) {
	if l.Partition == s.failPartition {
		return nil, errInjected
	}
	return s.Store.Put(ctx, l, body, opts)
}

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newTestWorker(t *testing.T, store cache.Store, network Fetcher, build manifest.Build) *Worker {
	t.Helper()
	w, err := New(Options{
		Build:       build,
		Store:       store,
		Fetcher:     network,
		Partitions:  testPartitions,
		Scope:       testScope,
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("failed to create worker: %v", err)
	}
	return w
}

// activateWorker 依次执行 install + activate，任何错误都直接失败。
func activateWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx := context.Background()
	if err := w.Install(ctx); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if err := w.Activate(ctx); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
}

func partitionKeys(t *testing.T, store cache.Store, name string) []string {
	t.Helper()
	keys, err := store.Keys(context.Background(), name)
	if err != nil {
		t.Fatalf("keys %s: %v", name, err)
	}
	return keys
}

func partitionExists(t *testing.T, store cache.Store, name string) bool {
	t.Helper()
	exists, err := store.Exists(context.Background(), name)
	if err != nil {
		t.Fatalf("exists %s: %v", name, err)
	}
	return exists
}

func persistedManifest(t *testing.T, store cache.Store) manifest.Manifest {
	t.Helper()
	p, err := cache.OpenPartition(context.Background(), store, testPartitions.Manifest)
	if err != nil {
		t.Fatalf("open manifest partition: %v", err)
	}
	resp, err := p.Match(context.Background(), ManifestRecordKey)
	if err != nil {
		t.Fatalf("read manifest record: %v", err)
	}
	m, err := manifest.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode manifest record: %v", err)
	}
	return m
}

func putContent(t *testing.T, store cache.Store, key, body string) {
	t.Helper()
	if err := contentPartition(t, store).Put(context.Background(), key, &cache.Response{Status: http.StatusOK, Body: []byte(body)}); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func contentBody(t *testing.T, store cache.Store, key string) string {
	t.Helper()
	resp, err := contentPartition(t, store).Match(context.Background(), key)
	if err != nil {
		t.Fatalf("match %s: %v", key, err)
	}
	return string(resp.Body)
}

func getRequest(path string) *Request {
	return &Request{Method: http.MethodGet, URL: testScope + path}
}

func contentPartition(t *testing.T, store cache.Store) cache.Partition {
	t.Helper()
	p, err := cache.OpenPartition(context.Background(), store, testPartitions.Content)
	if err != nil {
		t.Fatalf("open content partition: %v", err)
	}
	return p
}
