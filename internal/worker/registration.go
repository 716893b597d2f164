package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/manifest"
)

// Factory 为新的构建创建 worker。
type Factory func(build manifest.Build) (*Worker, error)

// Registration 管理当前激活的 worker 以及可能处于 waiting 的新版本。
// 生命周期步骤由 mu 串行化；Active 读取不加锁，安装过程中请求仍由旧版本处理。
type Registration struct {
	mu      sync.Mutex
	active  atomic.Pointer[Worker]
	waiting atomic.Pointer[Worker]

	factory Factory
	logger  *logrus.Logger
}

// NewRegistration 构造空的 Registration。
func NewRegistration(factory Factory, logger *logrus.Logger) *Registration {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registration{factory: factory, logger: logger}
}

// Active 返回当前激活的 worker，可能为 nil。
func (r *Registration) Active() *Worker {
	return r.active.Load()
}

// Waiting 返回已安装但尚未激活的 worker，可能为 nil。
func (r *Registration) Waiting() *Worker {
	return r.waiting.Load()
}

// Update 为 build 安装新版本。摘要与当前版本相同时不做任何事；
// 安装失败时保留旧版本继续服务。由于 Install 总是请求跳过 waiting，
// 新版本安装成功后会立即激活并替换旧版本。
func (r *Registration) Update(ctx context.Context, build manifest.Build) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := build.Digest()
	if cur := r.active.Load(); cur != nil && cur.Digest() == d {
		r.logger.WithFields(logrus.Fields{"action": "update", "digest": d.String()}).Debug("build_unchanged")
		return nil
	}
	if wt := r.waiting.Load(); wt != nil && wt.Digest() == d {
		return nil
	}

	if r.factory == nil {
		return errors.New("worker factory is required")
	}
	w, err := r.factory(build)
	if err != nil {
		return err
	}
	// 安装会重建共享的暂存分区，已在 waiting 的版本随之失效。
	if prev := r.waiting.Swap(nil); prev != nil {
		prev.markRedundant()
	}
	if err := w.Install(ctx); err != nil {
		return err
	}

	// Install 总会请求跳过 waiting，因此正常流程下新版本立即激活；
	// 下面的 waiting 分支只服务于未请求跳过的 worker，之后由 Post("skipWaiting") 激活。
	if !w.SkipWaitingRequested() {
		if prev := r.waiting.Swap(w); prev != nil {
			prev.markRedundant()
		}
		r.logger.WithFields(logging.LifecycleFields("waiting", w.ID(), w.Version())).Info("worker_waiting")
		return nil
	}
	return r.activateLocked(ctx, w)
}

// Post 投递一条消息：skipWaiting 激活 waiting 版本，downloadOffline 交给激活版本补齐缓存。
func (r *Registration) Post(ctx context.Context, data string) (Signal, error) {
	switch ParseSignal(data) {
	case SignalSkipWaiting:
		r.mu.Lock()
		defer r.mu.Unlock()

		w := r.waiting.Load()
		if w == nil {
			return SignalSkipWaiting, nil
		}
		w.SkipWaiting()
		return SignalSkipWaiting, r.activateLocked(ctx, w)
	case SignalDownloadOffline:
		w := r.active.Load()
		if w == nil {
			return SignalDownloadOffline, ErrNoActiveWorker
		}
		return w.HandleMessage(ctx, data)
	default:
		return SignalNone, nil
	}
}

// activateLocked 调用方需持有 mu。激活失败的 worker 仍会替换旧版本。
func (r *Registration) activateLocked(ctx context.Context, w *Worker) error {
	err := w.Activate(ctx)
	r.waiting.CompareAndSwap(w, nil)
	if prev := r.active.Swap(w); prev != nil && prev != w {
		prev.markRedundant()
	}
	return err
}

// Status 是诊断接口展示的注册状态。
type Status struct {
	Active  *WorkerStatus `json:"active,omitempty"`
	Waiting *WorkerStatus `json:"waiting,omitempty"`
}

// WorkerStatus 描述单个 worker。
type WorkerStatus struct {
	ID          string     `json:"id"`
	Version     string     `json:"version"`
	Digest      string     `json:"digest"`
	State       State      `json:"state"`
	Claimed     bool       `json:"claimed"`
	SkipWaiting bool       `json:"skip_waiting"`
	Resources   int        `json:"resources"`
	Inventory   *Inventory `json:"inventory,omitempty"`
}

// Status 汇总激活与 waiting 版本；激活版本附带分区统计。
func (r *Registration) Status(ctx context.Context) Status {
	var st Status
	if w := r.active.Load(); w != nil {
		ws := describe(w)
		if inv, err := w.Inventory(ctx); err == nil {
			ws.Inventory = &inv
		} else {
			r.logger.WithError(err).WithField("action", "status").Warn("inventory_failed")
		}
		st.Active = ws
	}
	if w := r.waiting.Load(); w != nil {
		st.Waiting = describe(w)
	}
	return st
}

func describe(w *Worker) *WorkerStatus {
	return &WorkerStatus{
		ID:          w.ID(),
		Version:     w.Version(),
		Digest:      w.Digest().String(),
		State:       w.State(),
		Claimed:     w.Claimed(),
		SkipWaiting: w.SkipWaitingRequested(),
		Resources:   len(w.Manifest()),
	}
}
