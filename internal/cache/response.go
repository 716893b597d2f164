package cache

import "net/http"

// Response 是缓存与网络之间传递的完整响应副本。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK 对应 fetch 语义中的 response.ok：2xx 状态码。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Storable 报告响应能否作为完整资源写入缓存：206 只是资源的一段，永远不存。
func (r *Response) Storable() bool {
	return r != nil && r.Status != http.StatusPartialContent
}

// Clone 返回深拷贝，写入缓存与返回调用方的副本互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
}
