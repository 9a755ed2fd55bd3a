package handlers

import "log/slog"

// HandlerType names one diagnostic output so errors can say which one failed.
type HandlerType string

const (
	HandlerConsole HandlerType = "console_output"
	HandlerFile    HandlerType = "file_output"
	HandlerSyslog  HandlerType = "syslog_output"
)

type NamedHandler struct {
	slog.Handler
	HandlerType
}
