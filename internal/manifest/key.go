package manifest

import "strings"

// cacheBustMarker 是构建工具附加在资源 URL 上的版本参数。
const cacheBustMarker = "?v="

// ResolveKey 将请求 URL 解析为相对于 origin 的逻辑键。
//
// origin 本身、origin/#... 形式的前端路由以及空键都映射为 RootKey；
// ?v= 之后的内容会被剥离。跨 origin 的 URL 返回 ok=false。
func ResolveKey(origin, rawURL string) (key string, ok bool) {
	origin = strings.TrimSuffix(origin, "/")
	if rawURL != origin && !strings.HasPrefix(rawURL, origin+"/") {
		return "", false
	}

	if len(rawURL) > len(origin)+1 {
		key = rawURL[len(origin)+1:]
	}
	if idx := strings.Index(key, cacheBustMarker); idx != -1 {
		key = key[:idx]
	}
	if rawURL == origin || strings.HasPrefix(rawURL, origin+"/#") || key == "" {
		key = RootKey
	}
	return key, true
}

// KeyPath 返回逻辑键对应的 URL 路径，RootKey 映射为 "/"。
func KeyPath(key string) string {
	if key == "" || key == RootKey {
		return "/"
	}
	return "/" + strings.TrimPrefix(key, "/")
}
