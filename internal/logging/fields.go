package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供逻辑键/缓存策略/命中状态字段，供代理请求日志复用。
func RequestFields(app, key, policy string, intercepted, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"app":         app,
		"key":         key,
		"policy":      policy,
		"intercepted": intercepted,
		"cache_hit":   cacheHit,
	}
}

// LifecycleFields 描述 worker 生命周期事件（install/activate/backfill 等）。
func LifecycleFields(phase, workerID, version string) logrus.Fields {
	return logrus.Fields{
		"action":    "lifecycle",
		"phase":     phase,
		"worker_id": workerID,
		"version":   version,
	}
}
