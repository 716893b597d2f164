package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/manifest"
)

// Policy 描述命中清单的请求使用的缓存策略。
type Policy string

const (
	PolicyOnlineFirst Policy = "online-first"
	PolicyCacheFirst  Policy = "cache-first"
)

// Outcome 记录一次 Serve 的决策，供代理层设置响应头与日志。
type Outcome struct {
	Intercepted bool
	Key         string
	Policy      Policy
	CacheHit    bool
}

// Serve 处理一个请求。Outcome.Intercepted 为 false 时调用方应按默认方式直接回源，
// 此时不会触碰任何缓存分区。
func (w *Worker) Serve(ctx context.Context, req *Request) (*cache.Response, Outcome, error) {
	if req == nil || req.Method != http.MethodGet {
		return nil, Outcome{}, nil
	}
	if !w.State().Serving() {
		return nil, Outcome{}, nil
	}

	key, ok := manifest.ResolveKey(w.scope, req.URL)
	if !ok || !w.build.Resources.Has(key) {
		return nil, Outcome{}, nil
	}

	routed := *req
	routed.Key = key
	if key == manifest.RootKey {
		return w.onlineFirst(ctx, &routed)
	}
	return w.cacheFirst(ctx, &routed)
}

// onlineFirst 总是先取源；成功则刷新缓存（206 除外），失败时退回缓存副本，仍没有则返回原始网络错误。
func (w *Worker) onlineFirst(ctx context.Context, req *Request) (*cache.Response, Outcome, error) {
	outcome := Outcome{Intercepted: true, Key: req.Key, Policy: PolicyOnlineFirst}

	resp, fetchErr := w.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		if resp.Storable() {
			w.keep(ctx, req.Key, resp)
		}
		return resp, outcome, nil
	}

	content, err := cache.OpenPartition(ctx, w.store, w.names.Content)
	if err != nil {
		return nil, outcome, fetchErr
	}
	cached, err := content.Match(ctx, req.Key)
	if err != nil {
		return nil, outcome, fetchErr
	}
	outcome.CacheHit = true
	return cached, outcome, nil
}

// cacheFirst 优先返回缓存；未命中时取源一次，仅在 2xx 且非 206 时写入副本。
func (w *Worker) cacheFirst(ctx context.Context, req *Request) (*cache.Response, Outcome, error) {
	outcome := Outcome{Intercepted: true, Key: req.Key, Policy: PolicyCacheFirst}

	content, err := cache.OpenPartition(ctx, w.store, w.names.Content)
	if err != nil {
		return nil, outcome, err
	}

	cached, err := content.Match(ctx, req.Key)
	switch {
	case err == nil:
		outcome.CacheHit = true
		return cached, outcome, nil
	case errors.Is(err, cache.ErrNotFound):
	default:
		w.logger.WithError(err).WithField("key", req.Key).Warn("cache_match_failed")
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, outcome, err
	}
	if resp.OK() && resp.Storable() {
		w.keep(ctx, req.Key, resp)
	}
	return resp, outcome, nil
}

// keep 写入 content 分区的副本；写入失败只记录日志，不影响本次响应。
func (w *Worker) keep(ctx context.Context, key string, resp *cache.Response) {
	content, err := cache.OpenPartition(ctx, w.store, w.names.Content)
	if err == nil {
		err = content.Put(ctx, key, resp.Clone())
	}
	if err != nil {
		w.logger.WithError(err).WithField("key", key).Warn("cache_put_failed")
	}
}
