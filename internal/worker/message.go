package worker

import "context"

// Signal 是外部页面发送给 worker 的消息。
type Signal string

const (
	SignalNone            Signal = ""
	SignalSkipWaiting     Signal = "skipWaiting"
	SignalDownloadOffline Signal = "downloadOffline"
)

// ParseSignal 按原文精确匹配两种消息，大小写或空白不同都返回 SignalNone。
func ParseSignal(data string) Signal {
	switch Signal(data) {
	case SignalSkipWaiting:
		return SignalSkipWaiting
	case SignalDownloadOffline:
		return SignalDownloadOffline
	default:
		return SignalNone
	}
}

// HandleMessage 处理单条消息：skipWaiting 标记立即激活，downloadOffline 触发补齐，其余忽略。
func (w *Worker) HandleMessage(ctx context.Context, data string) (Signal, error) {
	signal := ParseSignal(data)
	switch signal {
	case SignalSkipWaiting:
		w.SkipWaiting()
		return signal, nil
	case SignalDownloadOffline:
		_, err := w.Backfill(ctx)
		return signal, err
	default:
		return SignalNone, nil
	}
}
