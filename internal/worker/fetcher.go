package worker

import (
	"context"
	"net/http"

	"github.com/any-hub/shellcache/internal/cache"
)

// Request 是被拦截或由 worker 主动发起的一次资源请求。
type Request struct {
	Method string
	// URL 为完整 URL，前缀是 worker 的作用域 origin。
	URL    string
	Key    string
	Header http.Header
	// Reload 要求绕过任何中间缓存直接取源。
	Reload bool
}

// Fetcher 代表网络：按请求取回完整响应。传输失败返回 error，非 2xx 响应不视为错误。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	return f(ctx, req)
}
