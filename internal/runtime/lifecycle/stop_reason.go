// Package lifecycle names why the process or a component is stopping.
package lifecycle

// StopReason is used for structured shutdown tracing.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

// FromSignal maps an os.Signal name to a reason.
func FromSignal(name string) StopReason {
	switch name {
	case "interrupt", "SIGINT":
		return StopSIGINT
	case "terminated", "SIGTERM":
		return StopSIGTERM
	default:
		return StopUnknown
	}
}
