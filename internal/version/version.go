package version

import (
	"fmt"
	"runtime/debug"
)

// 通过 -ldflags "-X .../internal/version.Version=..." 在发布构建时注入。
var (
	Version = "0.1.0"
	Commit  = ""
)

// Full 返回 CLI 与启动日志使用的版本串。
func Full() string {
	return fmt.Sprintf("shellcache %s (%s)", Version, commit())
}

// commit 优先使用注入值，其次读取 go 工具链记录的 vcs.revision。
func commit() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "dev"
}
