// Package proxy 将 HTTP 请求接入 worker：命中资源清单的 GET 由 worker 按策略应答，
// 其余请求原样转发到源站。Upstream 同时作为 worker 的 Fetcher。
package proxy
