package server

import (
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/shellcache/internal/config"
)

const fallbackUpstreamTimeout = 30 * time.Second

// NewUpstreamClient 返回预取、回源与透传共用的 http.Client。
// 配置了 App.Proxy 时所有上游请求都经该代理发出，否则沿用环境变量代理。
func NewUpstreamClient(cfg *config.Config) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// 预取并发有上限，空闲连接数按单一源站设置即可。
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	timeout := fallbackUpstreamTimeout
	if cfg != nil {
		if d := cfg.Global.UpstreamTimeout.DurationValue(); d > 0 {
			timeout = d
		}
		if raw := strings.TrimSpace(cfg.App.Proxy); raw != "" {
			proxyURL, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy: %w", err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// hopByHop 是 RFC 7230 规定不得被代理转发的逐跳头部。
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// IsHopByHopHeader 报告该头部是否属于逐跳头部。
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHop[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// CopyHeaders 把 src 追加到 dst，跳过逐跳头部以及 Connection 中点名的字段。
func CopyHeaders(dst, src http.Header) {
	named := connectionTokens(src)
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		if _, listed := named[textproto.CanonicalMIMEHeaderKey(key)]; listed {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func connectionTokens(h http.Header) map[string]struct{} {
	values := h.Values("Connection")
	if len(values) == 0 {
		return nil
	}
	tokens := make(map[string]struct{})
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
			}
		}
	}
	return tokens
}
