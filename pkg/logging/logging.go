// Package logging builds the zap loggers of the command line tools.
package logging

import (
	"io"
	"strings"

	"github.com/iotaledger/hive.go/ierrors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels lists the accepted level names.
var Levels = []string{"debug", "info", "warn", "error"}

// ParseLevel maps a level name, case-insensitively, onto a zap level. An
// empty name means info.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(name))
	if err != nil || lvl < zapcore.DebugLevel || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel, ierrors.Errorf("invalid log level %q (valid: %s)", name, strings.Join(Levels, ", "))
	}
	return lvl, nil
}

// New returns a console logger writing to w at the given level. Unknown
// level names fall back to info.
func New(level string, w io.Writer) *zap.Logger {
	lvl, _ := ParseLevel(level)

	encoder := zap.NewDevelopmentEncoderConfig()
	encoder.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoder), zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))

	return zap.New(core)
}
