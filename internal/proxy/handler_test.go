package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
	"github.com/any-hub/shellcache/internal/worker"
)

const testScope = "http://app.local"

var testPartitions = worker.Partitions{
	Temp:     "app-temp-cache",
	Content:  "app-cache",
	Manifest: "app-manifest",
}

// originStub 模拟静态站点源站并统计每个路径的访问次数。
type originStub struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newOriginStub(t *testing.T) *originStub {
	t.Helper()
	stub := &originStub{hits: map[string]int{}}
	files := map[string]string{
		"/":          "<html>shell</html>",
		"/main.js":   "console.log('main')",
		"/logo.png":  "png-bytes",
		"/extra.txt": "not part of the build",
	}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.hits[r.URL.Path]++
		stub.mu.Unlock()

		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("echo:" + string(body)))
			return
		}
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *originStub) hitsFor(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

type handlerFixture struct {
	app    *fiber.App
	origin *originStub
	store  cache.Store
	reg    *worker.Registration
}

func newHandlerFixture(t *testing.T, activate bool) *handlerFixture {
	t.Helper()

	origin := newOriginStub(t)
	upstream, err := NewUpstream(origin.Client(), origin.URL)
	if err != nil {
		t.Fatalf("NewUpstream failed: %v", err)
	}
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	reg := worker.NewRegistration(func(build manifest.Build) (*worker.Worker, error) {
		return worker.New(worker.Options{
			Build:      build,
			Store:      store,
			Fetcher:    upstream,
			Partitions: testPartitions,
			Scope:      testScope,
		})
	}, nil)
	if activate {
		build := manifest.Build{
			Resources: manifest.Manifest{"/": "r1", "main.js": "m1", "logo.png": "l1"},
			Core:      []string{"/", "main.js"},
		}
		if err := reg.Update(context.Background(), build); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	handler := NewHandler(reg, upstream, logging.Discard(), "app")
	app := fiber.New()
	app.All("/*", handler.Handle)
	return &handlerFixture{app: app, origin: origin, store: store, reg: reg}
}

func (f *handlerFixture) do(t *testing.T, method, target string, body io.Reader) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(data)
}

func TestHandlerServesShellFromCache(t *testing.T) {
	f := newHandlerFixture(t, true)

	resp, body := f.do(t, http.MethodGet, "http://app.local/main.js?v=42", nil)
	if resp.StatusCode != http.StatusOK || body != "console.log('main')" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(headerPolicy) != string(worker.PolicyCacheFirst) || resp.Header.Get(headerCacheHit) != "true" {
		t.Fatalf("expected cache-first hit, got %v", resp.Header)
	}
	if resp.Header.Get(headerKey) != "main.js" {
		t.Fatalf("unexpected key header %q", resp.Header.Get(headerKey))
	}
	if f.origin.hitsFor("/main.js") != 1 {
		t.Fatalf("cache hit must not reach the origin, hits=%d", f.origin.hitsFor("/main.js"))
	}
}

func TestHandlerCachesManifestMissOnce(t *testing.T) {
	f := newHandlerFixture(t, true)

	for i := 0; i < 2; i++ {
		resp, body := f.do(t, http.MethodGet, "http://app.local/logo.png", nil)
		if resp.StatusCode != http.StatusOK || body != "png-bytes" {
			t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
		}
	}
	if f.origin.hitsFor("/logo.png") != 1 {
		t.Fatalf("expected a single origin fetch, got %d", f.origin.hitsFor("/logo.png"))
	}
}

func TestHandlerPassesThroughUnknownPaths(t *testing.T) {
	f := newHandlerFixture(t, true)
	before, err := f.store.Keys(context.Background(), testPartitions.Content)
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}

	resp, body := f.do(t, http.MethodGet, "http://app.local/extra.txt", nil)
	if resp.StatusCode != http.StatusOK || body != "not part of the build" {
		t.Fatalf("unexpected pass-through response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(headerKey) != "" {
		t.Fatalf("pass-through must not carry interception headers")
	}
	if !strings.HasSuffix(resp.Header.Get(headerUpstream), "/extra.txt") {
		t.Fatalf("expected upstream header, got %q", resp.Header.Get(headerUpstream))
	}

	resp, body = f.do(t, http.MethodPost, "http://app.local/main.js", strings.NewReader("payload"))
	if resp.StatusCode != http.StatusCreated || body != "echo:payload" {
		t.Fatalf("non-GET should be forwarded untouched, got %d %q", resp.StatusCode, body)
	}

	after, err := f.store.Keys(context.Background(), testPartitions.Content)
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if strings.Join(before, ",") != strings.Join(after, ",") {
		t.Fatalf("pass-through changed the content partition: %v -> %v", before, after)
	}
}

func TestHandlerWithoutActiveWorkerPassesThrough(t *testing.T) {
	f := newHandlerFixture(t, false)

	resp, body := f.do(t, http.MethodGet, "http://app.local/main.js", nil)
	if resp.StatusCode != http.StatusOK || body != "console.log('main')" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(headerKey) != "" {
		t.Fatalf("no worker means no interception")
	}
}

func TestHandlerRootFallsBackWhenOriginDown(t *testing.T) {
	f := newHandlerFixture(t, true)
	f.origin.Close()

	resp, body := f.do(t, http.MethodGet, "http://app.local/", nil)
	if resp.StatusCode != http.StatusOK || body != "<html>shell</html>" {
		t.Fatalf("offline root should be served from cache, got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(headerPolicy) != string(worker.PolicyOnlineFirst) || resp.Header.Get(headerCacheHit) != "true" {
		t.Fatalf("unexpected headers %v", resp.Header)
	}

	resp, body = f.do(t, http.MethodGet, "http://app.local/logo.png", nil)
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(body, "upstream_failed") {
		t.Fatalf("uncached resource offline should be 502, got %d %q", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "http://app.local/extra.txt", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("pass-through offline should be 502, got %d", resp.StatusCode)
	}
}

func TestHeaderBridgeKeepsMultiValueHeaders(t *testing.T) {
	var resp fasthttp.Response
	applyResponseHeaders(&resp.Header, http.Header{
		"Set-Cookie":     {"a=1", "b=2"},
		"Content-Length": {"99"},
		"Keep-Alive":     {"timeout=5"},
		"Content-Type":   {"text/css"},
	})

	var cookies []string
	resp.Header.VisitAll(func(key, value []byte) {
		if string(key) == "Set-Cookie" {
			cookies = append(cookies, string(value))
		}
	})
	if len(cookies) != 2 {
		t.Fatalf("expected both cookies, got %v", cookies)
	}
	if string(resp.Header.ContentType()) != "text/css" {
		t.Fatalf("unexpected content type %q", resp.Header.ContentType())
	}
	if len(resp.Header.Peek("Keep-Alive")) != 0 {
		t.Fatalf("hop-by-hop header must be dropped")
	}

	var req fasthttp.Request
	req.Header.Add("X-Trace", "1")
	req.Header.Add("X-Trace", "2")
	if got := requestHeaders(&req.Header).Values("X-Trace"); len(got) != 2 {
		t.Fatalf("expected two request header values, got %v", got)
	}
}

func TestHandlerInterceptsOriginAndAbsoluteFormTargets(t *testing.T) {
	f := newHandlerFixture(t, true)

	forms := map[string]string{
		"origin-form":   "/main.js?v=7",
		"absolute-form": "http://app.local/main.js?v=7",
	}
	for name, requestURI := range forms {
		req := httptest.NewRequest(http.MethodGet, "http://app.local/main.js?v=7", nil)
		req.RequestURI = requestURI
		resp, err := f.app.Test(req)
		if err != nil {
			t.Fatalf("%s: app.Test failed: %v", name, err)
		}
		resp.Body.Close()
		if resp.Header.Get(headerKey) != "main.js" || resp.Header.Get(headerCacheHit) != "true" {
			t.Fatalf("%s: expected a cache hit on main.js, got key=%q hit=%q", name, resp.Header.Get(headerKey), resp.Header.Get(headerCacheHit))
		}
	}
	if hits := f.origin.hitsFor("/main.js"); hits != 1 {
		t.Fatalf("only the install fetch should reach the origin, got %d", hits)
	}
}
