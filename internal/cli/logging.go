package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging installs the process-wide slog handler: tinted stderr
// output by default, rotated file output when --log-file is set.
func setupLogging(verbose bool, logFile string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	noColor := false
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		noColor = true
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:   level,
		NoColor: noColor,
	})
	slog.SetDefault(slog.New(handler))
}
