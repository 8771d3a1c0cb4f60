// Package logging configures the process-wide logrus logger, matching
// the teacher's "log \"github.com/sirupsen/logrus\"" convention: package
// functions mutate logrus's standard logger rather than threading a
// *logrus.Logger through every call site.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the base logger.
type Options struct {
	Level      string // "debug", "info", "warn", "error"; default "info"
	JSON       bool   // structured JSON output instead of text
	FilePath   string // when set, log output also rotates to this file
	MaxSizeMB  int    // lumberjack MaxSize, default 100
	MaxBackups int    // lumberjack MaxBackups, default 5
	MaxAgeDays int    // lumberjack MaxAge, default 28
}

// SetupBaseLogger configures logrus's standard logger per opts, mirroring
// the teacher's logging setup convention (one base logger for the whole
// process, fields attached per call site via log.WithFields).
func SetupBaseLogger(opts Options) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if opts.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}
	log.SetOutput(out)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// RequestFields builds the structured field set spec §7 requires on every
// dispatch log line: request id, inbound path, selected provider,
// upstream status, latency, and failover chain.
func RequestFields(requestID, path, provider string, status int, latencyMS int64, failover []string) log.Fields {
	return log.Fields{
		"request_id": requestID,
		"path":       path,
		"provider":   provider,
		"status":     status,
		"latency_ms": latencyMS,
		"failover":   failover,
	}
}
