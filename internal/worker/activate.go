package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/manifest"
)

// activation 是一次激活过程中打开的三个分区句柄。
type activation struct {
	temp     cache.Partition
	content  cache.Partition
	manifest cache.Partition
}

// Activate 将暂存的 shell 文件提升到 content 分区，并按持久化清单淘汰过期条目。
//
// 任何步骤失败都会删除全部三个分区，worker 仍进入 activated（不接管客户端），
// 并返回包装了 ErrActivationFailed 的错误。
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}

	log := w.lifecycleLog("activate")
	evicted, err := w.reconcile(ctx)
	if err != nil {
		log.WithError(err).Error("activate_failed")
		w.purge(ctx)
		w.setState(StateActivated)
		return fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}

	w.setState(StateActivated)
	w.claim()
	log.WithField("evicted", evicted).Info("activate_complete")
	return nil
}

func (w *Worker) reconcile(ctx context.Context) (int, error) {
	act, err := w.openPartitions(ctx)
	if err != nil {
		return 0, err
	}

	record, err := act.manifest.Match(ctx, ManifestRecordKey)
	if errors.Is(err, cache.ErrNotFound) {
		return 0, w.firstActivation(ctx, act)
	}
	if err != nil {
		return 0, fmt.Errorf("read manifest record: %w", err)
	}

	previous, err := manifest.Decode(record.Body)
	if err != nil {
		return 0, err
	}
	return w.upgrade(ctx, act, previous)
}

func (w *Worker) openPartitions(ctx context.Context) (*activation, error) {
	content, err := cache.OpenPartition(ctx, w.store, w.names.Content)
	if err != nil {
		return nil, err
	}
	temp, err := cache.OpenPartition(ctx, w.store, w.names.Temp)
	if err != nil {
		return nil, err
	}
	record, err := cache.OpenPartition(ctx, w.store, w.names.Manifest)
	if err != nil {
		return nil, err
	}
	return &activation{temp: temp, content: content, manifest: record}, nil
}

// firstActivation 在没有旧清单时执行：content 分区整体重建。
func (w *Worker) firstActivation(ctx context.Context, act *activation) error {
	if _, err := w.store.Drop(ctx, w.names.Content); err != nil {
		return fmt.Errorf("drop content partition: %w", err)
	}
	content, err := cache.OpenPartition(ctx, w.store, w.names.Content)
	if err != nil {
		return err
	}
	act.content = content
	return w.promote(ctx, act)
}

// upgrade 淘汰不再存在或指纹变化的条目，保留未变化的条目供新版本复用。
func (w *Worker) upgrade(ctx context.Context, act *activation, previous manifest.Manifest) (int, error) {
	keys, err := act.content.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list content partition: %w", err)
	}

	current := w.build.Resources
	evicted := 0
	for _, key := range keys {
		if current.Retains(key, previous) {
			continue
		}
		if err := act.content.Delete(ctx, key); err != nil {
			return evicted, fmt.Errorf("evict %s: %w", key, err)
		}
		evicted++
	}
	return evicted, w.promote(ctx, act)
}

// promote 将暂存分区全部复制到 content（覆盖同名条目），删除暂存分区并持久化当前清单。
func (w *Worker) promote(ctx context.Context, act *activation) error {
	keys, err := act.temp.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list temp partition: %w", err)
	}
	for _, key := range keys {
		resp, err := act.temp.Match(ctx, key)
		if err != nil {
			return fmt.Errorf("read staged %s: %w", key, err)
		}
		if err := act.content.Put(ctx, key, resp); err != nil {
			return err
		}
	}

	if _, err := w.store.Drop(ctx, w.names.Temp); err != nil {
		return fmt.Errorf("drop temp partition: %w", err)
	}

	encoded, err := w.build.Resources.Encode()
	if err != nil {
		return err
	}
	return act.manifest.Put(ctx, ManifestRecordKey, &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   encoded,
	})
}

// purge 是激活阶段唯一的恢复策略：无条件删除三个分区，等待下一轮从零重建。
func (w *Worker) purge(ctx context.Context) {
	// 调用方的 ctx 可能已取消，清理不能因此中断。
	ctx = context.WithoutCancel(ctx)
	for _, name := range []string{w.names.Content, w.names.Temp, w.names.Manifest} {
		if _, err := w.store.Drop(ctx, name); err != nil {
			w.lifecycleLog("activate").WithError(err).WithField("partition", name).Error("purge_failed")
		}
	}
}
