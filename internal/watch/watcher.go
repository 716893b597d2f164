// Package watch 监听构建文件变化，合并编辑器/构建工具产生的多次事件后回调一次。
package watch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/logging"
)

// DefaultDebounce 是未配置时的事件合并窗口。
const DefaultDebounce = 500 * time.Millisecond

// Watch 监听 path 所在目录，path 被创建、写入或替换后等待 debounce 无新事件再调用 fn。
// fn 在监听 goroutine 中串行执行；ctx 取消时返回 nil。
//
// 监听目录而不是文件本身：构建工具通常先写临时文件再 rename 覆盖，文件级 watch 会随旧 inode 失效。
func Watch(ctx context.Context, path string, debounce time.Duration, logger *logrus.Logger, fn func()) error {
	if fn == nil {
		return errors.New("watch callback is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Discard()
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve watch path: %w", err)
	}
	dir := filepath.Dir(target)
	if fi, err := os.Stat(dir); err != nil {
		return err
	} else if !fi.IsDir() {
		return errors.New("path exists and is not a directory: " + dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	fire := make(chan struct{}, 1)
	timer := time.AfterFunc(math.MaxInt64, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
	timer.Stop()
	defer timer.Stop()

	log := logger.WithFields(logrus.Fields{"action": "watch", "path": target})
	log.Debug("watch_started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("watch_stopped")
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch_error")
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case <-fire:
			// rename 移走文件也会触发，文件不存在时等待下一次创建。
			if fi, err := os.Stat(target); err != nil || fi.IsDir() {
				log.Debug("watch_target_missing")
				continue
			}
			fn()
		}
	}
}
