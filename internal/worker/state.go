package worker

// State 表示 worker 在生命周期中的阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Serving 报告该状态下是否拦截请求。
func (s State) Serving() bool {
	return s == StateActivated
}
