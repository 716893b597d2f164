package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Build 是外部构建工具生成的产物描述：资源清单 + 安装时必须预取的 shell 列表。
type Build struct {
	Version   string   `json:"version,omitempty"`
	Resources Manifest `json:"resources"`
	Core      []string `json:"core"`
}

// LoadBuild 读取并校验 JSON 格式的构建文件。
func LoadBuild(path string) (Build, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Build{}, fmt.Errorf("read build file: %w", err)
	}
	return ParseBuild(data)
}

// ParseBuild 解析构建文件内容。
func ParseBuild(data []byte) (Build, error) {
	var b Build
	if err := json.Unmarshal(data, &b); err != nil {
		return Build{}, fmt.Errorf("decode build file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Build{}, err
	}
	return b, nil
}

// Validate 确保清单非空且 shell 列表中的每个键都属于清单。
func (b Build) Validate() error {
	if len(b.Resources) == 0 {
		return ErrEmptyManifest
	}
	for key, fp := range b.Resources {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("resource key must not be empty")
		}
		if fp == "" {
			return fmt.Errorf("resource %q has no fingerprint", key)
		}
	}
	for _, key := range b.Core {
		if !b.Resources.Has(key) {
			return fmt.Errorf("core file %q is not listed in resources", key)
		}
	}
	return nil
}

// Digest 对资源清单的规范 JSON 求 sha256 摘要，用于区分 worker 版本。
func (b Build) Digest() digest.Digest {
	encoded, err := b.Resources.Encode()
	if err != nil {
		return ""
	}
	return digest.FromBytes(encoded)
}

// VersionLabel 优先返回构建声明的版本号，否则返回摘要的短形式。
func (b Build) VersionLabel() string {
	if b.Version != "" {
		return b.Version
	}
	d := b.Digest()
	if d == "" {
		return ""
	}
	hex := d.Encoded()
	if len(hex) > 12 {
		hex = hex[:12]
	}
	return hex
}

// WithCore 返回替换 shell 列表后的副本，供配置覆盖使用。
func (b Build) WithCore(core []string) Build {
	if len(core) == 0 {
		return b
	}
	b.Core = append([]string(nil), core...)
	return b
}
