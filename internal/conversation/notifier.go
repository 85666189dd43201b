// Package conversation implements the AI doctor consultation and the
// terminal toast notifier.
package conversation

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Compile-time interface check.
var _ domain.Notifier = (*CLINotifier)(nil)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7dd3fc"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#86efac"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fde68a"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#fca5a5")).Bold(true)
)

// PrintFunc is a function used to print formatted output.
// Matches the signature of both fmt.Printf and display.UI.Printf.
type PrintFunc func(format string, a ...interface{})

// CLINotifier prints toasts as one styled line each.
type CLINotifier struct {
	log     *logger.Logger
	printFn PrintFunc
}

// NewCLINotifier creates a terminal notifier.
// If printFn is nil, fmt.Printf is used.
func NewCLINotifier(log *logger.Logger, printFn PrintFunc) *CLINotifier {
	if printFn == nil {
		printFn = func(format string, a ...interface{}) {
			fmt.Printf(format+"\n", a...)
		}
	}
	return &CLINotifier{log: log.Named("toast"), printFn: printFn}
}

// Notify prints message styled by severity.
func (n *CLINotifier) Notify(ctx context.Context, message string, severity domain.Severity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Debug("%s: %s", severity, message)
	n.printFn("%s", styleFor(severity).Render(badge(severity)+" "+message))
	return nil
}

func styleFor(s domain.Severity) lipgloss.Style {
	switch s {
	case domain.SeveritySuccess:
		return successStyle
	case domain.SeverityWarning:
		return warningStyle
	case domain.SeverityError:
		return errorStyle
	default:
		return infoStyle
	}
}

func badge(s domain.Severity) string {
	switch s {
	case domain.SeveritySuccess:
		return "✔"
	case domain.SeverityWarning:
		return "!"
	case domain.SeverityError:
		return "✘"
	default:
		return "•"
	}
}
