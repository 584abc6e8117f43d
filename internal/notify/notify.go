// Package notify carries operator-facing conditions out of the data path.
// The station is headless, so the default sink is the log, but anything
// that can show a message to an operator can implement Notifier.
package notify

import (
	"github.com/lakeshorelabs/groundstation/internal/logger"
)

// Severity ranks how urgently an operator should see a condition.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the label used in logs and API payloads.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Notifier receives conditions an operator should see. Implementations
// must be safe for concurrent use and must never block the caller.
type Notifier interface {
	Report(title, message string, severity Severity)
}

// LogNotifier writes conditions to the station log at a level matching
// their severity.
type LogNotifier struct{}

func (LogNotifier) Report(title, message string, severity Severity) {
	switch severity {
	case SeverityCritical:
		logger.Error(title, "detail", message, "severity", severity.String())
	case SeverityWarning:
		logger.Warning(title, "detail", message, "severity", severity.String())
	default:
		logger.Info(title, "detail", message, "severity", severity.String())
	}
}
