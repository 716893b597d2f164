package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/worker"
)

// Upstream 代表网络：把 worker 的请求映射到配置的源站并取回完整响应。
type Upstream struct {
	client *http.Client
	origin *url.URL
}

var _ worker.Fetcher = (*Upstream)(nil)

// NewUpstream 使用共享 http.Client 构造 Upstream，origin 需为 http(s) 绝对地址。
func NewUpstream(client *http.Client, origin string) (*Upstream, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid origin: %q", origin)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return &Upstream{client: client, origin: parsed}, nil
}

// Origin 返回源站地址。
func (u *Upstream) Origin() *url.URL {
	clone := *u.origin
	return &clone
}

// Target 将请求 URL 的 path+query 拼接到源站地址上，片段始终丢弃。
func (u *Upstream) Target(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url: %w", err)
	}
	target := *u.origin
	p := parsed.Path
	if p == "" {
		p = "/"
	}
	target.Path = u.origin.Path + p
	if parsed.RawPath != "" {
		target.RawPath = u.origin.Path + parsed.RawPath
	}
	target.RawQuery = parsed.RawQuery
	return &target, nil
}

// Fetch 实现 worker.Fetcher：完整读取响应体，便于写入缓存后再返回给客户端。
func (u *Upstream) Fetch(ctx context.Context, req *worker.Request) (*cache.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	target, err := u.Target(req.URL)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(httpReq.Header, req.Header)
	// 缓存副本必须是未压缩的原始字节。
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")
	// 条件与范围请求头会让源站返回 304/206，缓存需要完整的 200 正文。
	for _, name := range []string{"If-None-Match", "If-Modified-Since", "If-Match", "If-Unmodified-Since", "If-Range", "Range"} {
		httpReq.Header.Del(name)
	}
	httpReq.Host = target.Host
	if req.Reload {
		httpReq.Header.Set("Cache-Control", "no-cache")
		httpReq.Header.Set("Pragma", "no-cache")
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// Do 发送透传请求，调用方负责关闭响应体。
func (u *Upstream) Do(req *http.Request) (*http.Response, error) {
	return u.client.Do(req)
}
