// Package logger holds the process-wide zap logger used for diagnostics.
// Operator-facing progress goes through the report package on stdout; this
// logger writes to stderr.
package logger

import (
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names.
const (
	FieldModule       = "module"
	FieldPipeline     = "pipeline"
	FieldExecutionArn = "execution_arn"
	FieldStatus       = "status"
	FieldElapsed      = "elapsed"
	FieldPolls        = "polls"
	FieldError        = "error"
)

// Logger is a no-op until Initialize is called.
var Logger = zap.NewNop().Sugar()

// Initialize sets up the global logger. jsonOutput selects the production JSON
// encoder; otherwise a console encoder is used.
func Initialize(jsonOutput bool, level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}

	var zapLogger *zap.Logger
	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(lvl)
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		zapLogger, err = config.Build()
		if err != nil {
			return errors.Wrap(err, "failed to build logger")
		}
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zapLogger = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stderr),
			lvl,
		))
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Named returns a component logger.
func Named(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// Sync flushes buffered entries; errors from syncing stderr are ignored.
func Sync() {
	_ = Logger.Sync()
}
