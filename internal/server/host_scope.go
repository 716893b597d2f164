package server

import (
	"net"
	"strconv"
	"strings"
)

// HostScope 限定服务接受的 Host；domain 为空时接受任意 Host。
type HostScope struct {
	domain string
}

// NewHostScope 规范化 domain（去端口、去结尾点、小写）后构造 HostScope。
func NewHostScope(domain string) HostScope {
	host, _ := normalizeHost(domain)
	return HostScope{domain: host}
}

// Domain 返回规范化后的域名。
func (s HostScope) Domain() string {
	return s.domain
}

// Allows 根据 Host 或 Host:port 判断请求是否属于本服务。
func (s HostScope) Allows(rawHost string) bool {
	if s.domain == "" {
		return true
	}
	host, _ := normalizeHost(rawHost)
	return host == s.domain
}

// ScopeOrigin 返回 worker 的作用域 origin，形如 http://domain:port。
func ScopeOrigin(domain string, port int) string {
	host, _ := normalizeHost(domain)
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
