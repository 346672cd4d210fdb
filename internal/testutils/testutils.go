package testutils

import (
	"io"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// NewLogger returns a development logger writing to w, e.g., GinkgoWriter. The level is a zap
// level: -4 enables logr verbosity up to V(4).
func NewLogger(w io.Writer, level int) logr.Logger {
	opts := zap.Options{
		Development:     true,
		DestWriter:      w,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
		Level:           zapcore.Level(level),
	}
	return zap.New(zap.UseFlagOptions(&opts))
}
