package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// RootKey 是文档根（origin 本身）的哨兵键。
const RootKey = "/"

// Manifest 将逻辑资源路径映射到内容指纹，每次构建不可变。
type Manifest map[string]string

// ErrEmptyManifest 表示清单没有任何资源。
var ErrEmptyManifest = errors.New("manifest has no resources")

// Has 报告 key 是否属于当前清单；空指纹视为不存在。
func (m Manifest) Has(key string) bool {
	return m[key] != ""
}

// Fingerprint 返回 key 对应的指纹，不存在时返回空串。
func (m Manifest) Fingerprint(key string) string {
	return m[key]
}

// Keys 返回排序后的全部键。
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Retains 判断缓存中的 key 在从 previous 升级到 m 后是否可以复用：
// key 必须仍在 m 中，且指纹与 previous 记录一致。
func (m Manifest) Retains(key string, previous Manifest) bool {
	if !m.Has(key) {
		return false
	}
	return m[key] == previous[key]
}

// Missing 返回 m 中存在但 present 中缺失的键（已排序）。
func (m Manifest) Missing(present map[string]struct{}) []string {
	var missing []string
	for _, key := range m.Keys() {
		if _, ok := present[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// Encode 序列化为扁平 JSON 对象，encoding/json 会按键排序，结果稳定。
func (m Manifest) Encode() ([]byte, error) {
	if m == nil {
		m = Manifest{}
	}
	return json.Marshal(map[string]string(m))
}

// Decode 解析 Encode 的输出。
func Decode(data []byte) (Manifest, error) {
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if out == nil {
		out = map[string]string{}
	}
	return Manifest(out), nil
}
