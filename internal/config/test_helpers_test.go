package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 写入临时 config.toml；body 之后追加 extra 行，便于在最小 App 配置上叠加字段。
func writeTempConfig(t *testing.T, content string, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	full := content
	if len(extra) > 0 {
		full += "\n" + strings.Join(extra, "\n") + "\n"
	}
	if err := os.WriteFile(path, []byte(full), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// minimalApp 是能通过校验的最小 [App] 配置。
const minimalApp = `
StoragePath = "./data"

[App]
Origin = "https://app.example.com"
BuildFile = "./build.json"`
