// Package interactive asks the user what to do about an available update.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/adamancini/appupdater/internal/poller"
	"github.com/adamancini/appupdater/internal/types"
)

// maxAttempts bounds how often an unrecognised answer is re-asked.
const maxAttempts = 3

// Response represents the user's answer to the install question.
type Response int

const (
	ResponseScript    Response = iota // Hand off to an external installer script
	ResponseInProcess                 // Install from inside this process
	ResponseCancel                    // Leave the installation alone
)

// String returns the name of the response.
func (r Response) String() string {
	switch r {
	case ResponseScript:
		return "script"
	case ResponseInProcess:
		return "inprocess"
	default:
		return "cancel"
	}
}

// Mode maps the response onto an install mode. Cancel maps to notify, which
// reports the update without touching the installation.
func (r Response) Mode() types.InstallMode {
	switch r {
	case ResponseScript:
		return types.InstallModeScript
	case ResponseInProcess:
		return types.InstallModeInProcess
	default:
		return types.InstallModeNotify
	}
}

// Prompter presents update events and failure messages to the user.
type Prompter struct {
	out     io.Writer
	scanner *bufio.Scanner
}

// NewPrompter creates a prompter with stdin/stdout.
func NewPrompter() *Prompter {
	return NewPrompterWithIO(os.Stdin, os.Stdout)
}

// NewPrompterWithIO creates a prompter with custom input/output (for testing).
func NewPrompterWithIO(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// IsTerminal checks if stdin is a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ChooseInstall describes the update and asks how to install it. End of
// input or repeated nonsense answers count as cancel.
func (p *Prompter) ChooseInstall(ev poller.UpdateEvent) Response {
	fmt.Fprintf(p.out, "%s %s (%s) is available.\n", ev.AppName, ev.RemoteVersion, ev.Platform)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprint(p.out, "Install now? [s]cript/[i]n-process/[c]ancel: ")

		if !p.scanner.Scan() {
			fmt.Fprintln(p.out)
			return ResponseCancel
		}

		switch strings.ToLower(strings.TrimSpace(p.scanner.Text())) {
		case "s", "script":
			return ResponseScript
		case "i", "in-process", "inprocess":
			return ResponseInProcess
		case "c", "cancel", "n", "no", "q", "quit":
			return ResponseCancel
		default:
			fmt.Fprintln(p.out, "Please answer s, i or c.")
		}
	}

	return ResponseCancel
}

// Confirm asks a yes/no question. Anything other than y or yes is a no.
func (p *Prompter) Confirm(question string) bool {
	fmt.Fprintf(p.out, "%s [y/n] ", question)
	if !p.scanner.Scan() {
		fmt.Fprintln(p.out)
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(p.scanner.Text()))
	return answer == "y" || answer == "yes"
}

// Notify shows a single message to the user.
func (p *Prompter) Notify(msg string) {
	if msg == "" {
		return
	}
	fmt.Fprintln(p.out, msg)
}

// Announce reports an update without asking anything. It is used when no
// terminal is attached or the configured mode is notify.
func (p *Prompter) Announce(ev poller.UpdateEvent) {
	fmt.Fprintf(p.out, "%s %s (%s) is available: %s\n", ev.AppName, ev.RemoteVersion, ev.Platform, ev.DownloadURL)
}
