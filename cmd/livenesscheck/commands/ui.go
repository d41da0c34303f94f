package commands

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// consoleUI prints the host status line and logs the remaining UI
// transitions.
type consoleUI struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger
	status string
}

func newConsoleUI(out io.Writer, logger *zap.Logger) *consoleUI {
	return &consoleUI{out: out, logger: logger.Named("console_ui")}
}

func (u *consoleUI) PrepareForSession() {
	u.logger.Debug("preparing for session")
}

func (u *consoleUI) ShowMainUI() {
	u.logger.Debug("returning to main view")
}

func (u *consoleUI) EnableAllButtons() {}

func (u *consoleUI) DisplayStatus(status string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
	fmt.Fprintf(u.out, "status: %s\n", status)
}

func (u *consoleUI) HandleSessionTokenError() {
	u.DisplayStatus("Could not get a session token, check the service address and device key.")
}

func (u *consoleUI) lastStatus() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}
