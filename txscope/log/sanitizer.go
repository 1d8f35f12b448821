package log

import (
	"context"
	"fmt"
	"strings"
)

// controlCharReplacer escapes control characters that can forge log entries (CWE-117).
var controlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// SanitizeMessage escapes newlines, carriage returns and tabs in s.
func SanitizeMessage(s string) string {
	return controlCharReplacer.Replace(s)
}

// SafeError logs err at error level. When production is true only the
// error type is logged, never its message.
func SafeError(ctx context.Context, logger Logger, msg string, err error, production bool) {
	if logger == nil || err == nil {
		return
	}

	if !logger.Enabled(LevelError) {
		return
	}

	if production {
		logger.Log(ctx, LevelError, msg, String("error_type", fmt.Sprintf("%T", err)))
		return
	}

	logger.Log(ctx, LevelError, msg, Err(err))
}
