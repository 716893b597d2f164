package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/worker"
)

const (
	headerKey      = "X-Shellcache-Key"
	headerPolicy   = "X-Shellcache-Policy"
	headerCacheHit = "X-Shellcache-Cache-Hit"
	headerUpstream = "X-Shellcache-Upstream"
)

// Handler 把每个请求交给当前激活的 worker；未被拦截的请求原样转发到源站，
// 不读写任何缓存分区。
type Handler struct {
	registration *worker.Registration
	upstream     *Upstream
	logger       *logrus.Logger
	app          string
}

// NewHandler constructs a proxy handler bound to the registration and shared upstream.
func NewHandler(registration *worker.Registration, upstream *Upstream, logger *logrus.Logger, app string) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		registration: registration,
		upstream:     upstream,
		logger:       logger,
		app:          app,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	var active *worker.Worker
	if h.registration != nil {
		active = h.registration.Active()
	}
	if active == nil {
		return h.passThrough(ctx, c, requestID, started)
	}

	req := &worker.Request{
		Method: c.Method(),
		URL:    active.Scope() + requestTarget(c),
		Header: requestHeaders(&c.Request().Header),
	}
	resp, outcome, err := active.Serve(ctx, req)
	if !outcome.Intercepted {
		return h.passThrough(ctx, c, requestID, started)
	}
	if err != nil {
		h.logResult(outcome, requestID, 0, started, err)
		return h.writeError(c, requestID, fiber.StatusBadGateway, "upstream_failed")
	}
	return h.writeIntercepted(c, outcome, resp, requestID, started)
}

func (h *Handler) writeIntercepted(c fiber.Ctx, outcome worker.Outcome, resp *cache.Response, requestID string, started time.Time) error {
	applyResponseHeaders(&c.Response().Header, resp.Header)
	c.Set(headerKey, outcome.Key)
	c.Set(headerPolicy, string(outcome.Policy))
	c.Set(headerCacheHit, strconv.FormatBool(outcome.CacheHit))
	setRequestIDHeader(c, requestID)
	c.Status(resp.Status)

	_, err := c.Response().BodyWriter().Write(resp.Body)
	h.logResult(outcome, requestID, resp.Status, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("write response failed: %v", err))
	}
	return nil
}

// passThrough 等价于未安装 worker 时浏览器的默认行为：直接回源并流式返回。
func (h *Handler) passThrough(ctx context.Context, c fiber.Ctx, requestID string, started time.Time) error {
	outcome := worker.Outcome{}
	if h.upstream == nil {
		h.logResult(outcome, requestID, 0, started, fmt.Errorf("upstream not configured"))
		return h.writeError(c, requestID, fiber.StatusBadGateway, "upstream_failed")
	}

	target, err := h.upstream.Target(requestTarget(c))
	if err == nil {
		var req *http.Request
		req, err = h.buildUpstreamRequest(ctx, c, target.String())
		if err == nil {
			var resp *http.Response
			resp, err = h.upstream.Do(req)
			if err == nil {
				defer resp.Body.Close()
				return h.streamUpstream(c, resp, target.String(), requestID, started)
			}
		}
	}
	h.logResult(outcome, requestID, 0, started, err)
	return h.writeError(c, requestID, fiber.StatusBadGateway, "upstream_failed")
}

// requestTarget 返回 path+query。绝对形式的请求行（GET http://host/x）同样只取路径部分。
func requestTarget(c fiber.Ctx) string {
	return string(c.Request().URI().RequestURI())
}

func (h *Handler) buildUpstreamRequest(ctx context.Context, c fiber.Ctx, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, c.Method(), target, bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(req.Header, requestHeaders(&c.Request().Header))
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Host")
	req.Host = req.URL.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Scheme())
	return req, nil
}

func (h *Handler) streamUpstream(c fiber.Ctx, resp *http.Response, upstream string, requestID string, started time.Time) error {
	applyResponseHeaders(&c.Response().Header, resp.Header)
	c.Set(headerUpstream, upstream)
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(worker.Outcome{}, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(worker.Outcome{}, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, requestID string, status int, code string) error {
	setRequestIDHeader(c, requestID)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(outcome worker.Outcome, requestID string, status int, started time.Time, err error) {
	fields := logging.RequestFields(h.app, outcome.Key, string(outcome.Policy), outcome.Intercepted, outcome.CacheHit)
	fields["action"] = "proxy"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

// requestHeaders 把 fasthttp 请求头转换为 net/http 形式，供 worker 与上游请求复用。
func requestHeaders(src *fasthttp.RequestHeader) http.Header {
	header := http.Header{}
	src.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// applyResponseHeaders 用 Add 写入，多值头（如 Set-Cookie）不会互相覆盖。
func applyResponseHeaders(dst *fasthttp.ResponseHeader, src http.Header) {
	for key, values := range src {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
