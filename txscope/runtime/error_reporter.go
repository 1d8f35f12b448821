package runtime

import (
	"context"
	"sync/atomic"
)

// ErrorReporter forwards recovered panics to an external tracking service.
// Implementations must be safe for concurrent use and must not panic.
type ErrorReporter interface {
	CaptureException(ctx context.Context, err error, tags map[string]string)
}

type reporterBox struct {
	reporter ErrorReporter
}

var (
	installedReporter atomic.Pointer[reporterBox]
	productionMode    atomic.Bool
)

// SetErrorReporter installs the process-wide reporter. Pass nil to disable.
func SetErrorReporter(reporter ErrorReporter) {
	if reporter == nil {
		installedReporter.Store(nil)

		return
	}

	installedReporter.Store(&reporterBox{reporter: reporter})
}

// GetErrorReporter returns the installed reporter or nil.
//
//nolint:ireturn
func GetErrorReporter() ErrorReporter {
	if box := installedReporter.Load(); box != nil {
		return box.reporter
	}

	return nil
}

// SetProductionMode toggles redaction of panic values and stack traces.
func SetProductionMode(enabled bool) {
	productionMode.Store(enabled)
}

func IsProductionMode() bool {
	return productionMode.Load()
}

const maxReportedStackLen = 4096

func reportPanic(ctx context.Context, perr *PanicError) {
	reporter := GetErrorReporter()
	if reporter == nil {
		return
	}

	tags := map[string]string{"source": perr.Source}

	if len(perr.Stack) > 0 && !IsProductionMode() {
		stack := perr.Stack
		if len(stack) > maxReportedStackLen {
			stack = append(stack[:maxReportedStackLen:maxReportedStackLen], "\n...[truncated]"...)
		}

		tags["stack_trace"] = string(stack)
	}

	reporter.CaptureException(ctx, perr, tags)
}
