package app

// StopReason is logged by Stop and sent to systemd as the STATUS line.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopTickSource StopReason = "tick_source_exit"
	StopAppStop    StopReason = "app_stop"
)
