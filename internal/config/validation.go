package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	a := c.App
	if strings.TrimSpace(a.Name) == "" {
		return newFieldError(appField("Name"), "不能为空")
	}
	if a.Domain != "" {
		if err := validateDomain(a.Domain); err != nil {
			return fmt.Errorf("%s: %w", appField("Domain"), err)
		}
	}
	if err := validateUpstream(a.Origin); err != nil {
		return fmt.Errorf("%s: %w", appField("Origin"), err)
	}
	if a.Proxy != "" {
		if err := validateUpstream(a.Proxy); err != nil {
			return fmt.Errorf("%s: %w", appField("Proxy"), err)
		}
	}
	if strings.TrimSpace(a.BuildFile) == "" {
		return newFieldError(appField("BuildFile"), "不能为空")
	}
	for _, core := range a.CoreFiles {
		if strings.TrimSpace(core) == "" {
			return newFieldError(appField("CoreFiles"), "不允许空路径")
		}
	}
	if a.FetchConcurrency <= 0 {
		return newFieldError(appField("FetchConcurrency"), "必须大于 0")
	}
	if a.WatchBuild && a.WatchDebounce.DurationValue() <= 0 {
		return newFieldError(appField("WatchDebounce"), "必须大于 0")
	}

	return validatePartitions(a.Partitions())
}

func validatePartitions(names PartitionNames) error {
	fields := []struct {
		field string
		value string
	}{
		{"TempCache", names.Temp},
		{"ContentCache", names.Content},
		{"ManifestCache", names.Manifest},
	}

	seen := map[string]string{}
	for _, f := range fields {
		name := strings.TrimSpace(f.value)
		if name == "" {
			return newFieldError(appField(f.field), "不能为空")
		}
		if strings.ContainsAny(name, `/\ `) || name == "." || name == ".." {
			return newFieldError(appField(f.field), "不允许包含路径分隔符或空格")
		}
		if other, exists := seen[name]; exists {
			return newFieldError(appField(f.field), "与 "+other+" 重复")
		}
		seen[name] = f.field
	}
	return nil
}

func validateDomain(domain string) error {
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
