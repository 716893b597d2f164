package worker

import "errors"

var (
	// ErrInvalidState 表示在错误的生命周期阶段调用了操作。
	ErrInvalidState = errors.New("worker: invalid lifecycle state")
	// ErrActivationFailed 包装激活阶段的任何失败；此时三个分区均已被删除。
	ErrActivationFailed = errors.New("worker: activation failed, caches purged")
	// ErrBadStatus 表示批量预取时上游返回了非 2xx 响应。
	ErrBadStatus = errors.New("worker: unexpected response status")
	// ErrNoActiveWorker 表示当前没有可处理消息的激活 worker。
	ErrNoActiveWorker = errors.New("worker: no active worker")
)
