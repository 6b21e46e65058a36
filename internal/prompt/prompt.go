// Package prompt renders the update notification on a terminal and collects
// the user's choice.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nholik/freshness-sentinel/internal/notify"
)

// Choice is the user's answer to an update notification.
type Choice string

const (
	ChoiceRefresh Choice = "refresh"
	ChoiceDismiss Choice = "dismiss"
	// ChoiceNone means the prompt ended without an answer (input closed or canceled).
	ChoiceNone Choice = ""
)

// Actions are the two operations a notification offers.
type Actions interface {
	Refresh()
	Dismiss()
}

// Presenter prints notifications to out and reads answers from in. A single
// reader goroutine owns in, so prompts from successive loads share it.
type Presenter struct {
	out io.Writer
	in  io.Reader

	outMu     sync.Mutex
	startOnce sync.Once
	lines     chan string
}

// New returns a Presenter.
func New(out io.Writer, in io.Reader) *Presenter {
	return &Presenter{out: out, in: in, lines: make(chan string)}
}

// Prompt shows the notification and blocks until the user answers, input
// ends, or ctx is done. The chosen action is invoked before returning.
func (p *Presenter) Prompt(ctx context.Context, event notify.UpdateEvent, actions Actions) Choice {
	p.startOnce.Do(p.startReader)

	p.printf("\n┌ New version available%s\n", targetSuffix(event.Target))
	p.printf("│ Build time: %s\n", buildTime(event))
	p.printf("│ Loaded %s, deployed %s\n", orUnknown(event.CurrentVersion), event.Manifest.Version)
	p.printf("└ [r] refresh now   [d] later: ")

	for {
		select {
		case <-ctx.Done():
			return ChoiceNone
		case line, ok := <-p.lines:
			if !ok {
				return ChoiceNone
			}
			switch parseChoice(line) {
			case ChoiceRefresh:
				p.printf("Refreshing to load the latest version...\n")
				actions.Refresh()
				return ChoiceRefresh
			case ChoiceDismiss:
				actions.Dismiss()
				return ChoiceDismiss
			default:
				p.printf("Please answer r (refresh) or d (later): ")
			}
		}
	}
}

func (p *Presenter) startReader() {
	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
	}()
}

func (p *Presenter) printf(format string, args ...any) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func parseChoice(line string) Choice {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "r", "refresh", "y", "yes":
		return ChoiceRefresh
	case "d", "dismiss", "l", "later", "n", "no":
		return ChoiceDismiss
	default:
		return ChoiceNone
	}
}

func targetSuffix(target string) string {
	if target == "" || target == "default" {
		return ""
	}
	return " for " + target
}

func buildTime(event notify.UpdateEvent) string {
	built := event.Manifest.BuiltAt()
	if built.IsZero() {
		return orUnknown(event.Manifest.BuildTime)
	}
	return built.Local().Format("2006-01-02 15:04:05")
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
