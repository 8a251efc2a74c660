// Package common provides centralized logging infrastructure and the shared
// error taxonomy for the GraphMind ingestion control plane.
//
// The logging system is built on logrus for structured logging with custom
// output handling: error-level messages are routed to stderr while other
// levels go to stdout, enabling proper stream separation for containerized
// deployments where orchestration platforms and log aggregators treat the
// two streams differently.
//
// Key Features:
//   - Automatic output stream routing based on log level
//   - Structured logging with JSON and text format support
//   - Global logger instance for consistent usage patterns
//   - Context-aware field helpers for service, task and domain scoping
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter implements log output routing based on log content analysis.
// Messages containing "level=error" are written to stderr; everything else
// goes to stdout. The pattern matching operates on the final formatted output
// and therefore works with both the text and JSON logrus formatters (the JSON
// formatter emits "level":"error", which is handled as well).
type OutputSplitter struct{}

// Write implements io.Writer, routing the formatted log line to stderr when
// it carries an error level marker and to stdout otherwise.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for the control plane. It is
// pre-configured with the OutputSplitter; format and level are adjusted at
// startup from configuration (text for development, JSON for production).
var Logger = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&OutputSplitter{})
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// ConfigureLogger applies level and format settings to the global logger.
// Unknown levels fall back to info; unknown formats fall back to text.
func ConfigureLogger(level, format string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	Logger.SetLevel(parsed)

	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// ServiceLogger returns an entry pre-populated with service metadata so all
// component logs carry a consistent service field.
func ServiceLogger(service string) *logrus.Entry {
	return Logger.WithField("service", service)
}

// TaskLogger returns an entry scoped to a queue task, carrying the fields the
// worker and supervisor use to correlate log lines with task records.
func TaskLogger(taskID, taskType string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": taskType,
	})
}
