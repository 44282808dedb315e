package safe

import (
	"PCollab/logger"
	"PCollab/tools/errs"

	"go.uber.org/zap"
)

// Go starts a goroutine that recovers from panic, so that a panic in one
// connection's goroutine doesn't crash the entire gateway.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run executes f in the current goroutine and recovers a panic into a log line.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[SafeGo] panic recovered",
				zap.String("task", name),
				zap.Error(errs.ErrPanic(r)),
				zap.Stack("stack"))
		}
	}()
	f()
}
