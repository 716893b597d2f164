package worker

import (
	"context"
	"fmt"

	"github.com/any-hub/shellcache/internal/cache"
)

// Backfill 取回清单中 content 分区尚未缓存的全部资源，实现完整离线可用。
// 返回本次取回的键；没有缺失时不发起任何请求。
//
// content 分区的键与 Serve 使用同一套相对作用域 origin 的逻辑键，因此缺失集合直接由键集合求差得到。
func (w *Worker) Backfill(ctx context.Context) ([]string, error) {
	log := w.lifecycleLog("backfill")

	content, err := cache.OpenPartition(ctx, w.store, w.names.Content)
	if err != nil {
		return nil, err
	}
	present, err := content.KeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("list content partition: %w", err)
	}

	missing := w.build.Resources.Missing(present)
	if len(missing) == 0 {
		log.Debug("backfill_noop")
		return nil, nil
	}

	if err := w.addAll(ctx, content, missing, false); err != nil {
		log.WithError(err).WithField("missing", len(missing)).Error("backfill_failed")
		return nil, fmt.Errorf("backfill: %w", err)
	}
	log.WithField("fetched", len(missing)).Info("backfill_complete")
	return missing, nil
}
