// Package notify delivers best-effort completion notifications.
package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"time"
)

const commandTimeout = 5 * time.Second

// Notifier receives fire-and-forget completion events. Failures must
// never affect the run that triggered them.
type Notifier interface {
	NotifyCompletion(title, body string)
}

// CommandNotifier shells out to an operator-configured command with the
// title and body as arguments (e.g. notify-send). An empty command makes
// it a no-op.
type CommandNotifier struct {
	command string
}

// NewCommandNotifier constructs the notifier.
func NewCommandNotifier(command string) *CommandNotifier {
	return &CommandNotifier{command: command}
}

// NotifyCompletion runs the command detached; errors are logged and
// swallowed.
func (n *CommandNotifier) NotifyCompletion(title, body string) {
	if n.command == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, n.command, title, body)
		if err := cmd.Run(); err != nil {
			slog.Warn("completion notification failed", "command", n.command, "err", err)
		}
	}()
}

// Discard is a Notifier that drops everything.
type Discard struct{}

func (Discard) NotifyCompletion(title, body string) {}
