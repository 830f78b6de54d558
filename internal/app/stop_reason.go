package app

// StopReason records why the process is shutting down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopPanic      StopReason = "panic"
	StopAppStop    StopReason = "app_stop"
)
