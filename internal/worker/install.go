package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/shellcache/internal/cache"
)

// Install 立即请求跳过 waiting，清空暂存分区，然后绕过中间缓存预取全部核心 shell 文件写入暂存分区。
// 任一文件失败都会中止安装且不写入任何文件，worker 随之变为 redundant。
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	w.SkipWaiting()

	log := w.lifecycleLog("install")
	log.WithField("core_files", len(w.build.Core)).Info("install_started")

	// 暂存分区只属于本次安装，先清掉中断的旧安装留下的条目。
	_, err := w.store.Drop(ctx, w.names.Temp)
	var temp cache.Partition
	if err == nil {
		temp, err = cache.OpenPartition(ctx, w.store, w.names.Temp)
	}
	if err == nil {
		err = w.addAll(ctx, temp, w.build.Core, true)
	}
	if err != nil {
		w.markRedundant()
		log.WithError(err).Error("install_failed")
		return fmt.Errorf("install: %w", err)
	}

	w.setState(StateInstalled)
	log.Info("install_complete")
	return nil
}

// addAll 并发取回 keys，只有全部成功（传输无错且状态为 2xx 完整响应）才依次写入 part。
func (w *Worker) addAll(ctx context.Context, part cache.Partition, keys []string, reload bool) error {
	if len(keys) == 0 {
		return nil
	}

	responses := make([]*cache.Response, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			resp, err := w.fetcher.Fetch(gctx, w.keyRequest(key, reload))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", key, err)
			}
			if !resp.OK() || !resp.Storable() {
				return fmt.Errorf("fetch %s: %w %d", key, ErrBadStatus, resp.Status)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, key := range keys {
		if err := part.Put(ctx, key, responses[i]); err != nil {
			return err
		}
	}
	return nil
}
