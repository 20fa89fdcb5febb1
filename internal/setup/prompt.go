// Package setup implements the interactive `picasync setup` wizard: it asks
// for the sync root and remote credentials, verifies them, writes the config
// file and optionally installs picasync as a per-user background service.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Prompter asks questions on a line-oriented terminal. Tests feed it from a
// strings.Reader.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// NewPrompter returns a Prompter reading answers from r and writing
// questions to w.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

// readLine returns the next trimmed answer and false at end of input.
func (p *Prompter) readLine() (string, bool) {
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// String asks for a text value. An empty answer yields def; when def is
// empty the question repeats until answered.
func (p *Prompter) String(label, def string) string {
	for {
		if def != "" {
			_, _ = fmt.Fprintf(p.w, "  %s [%s]: ", label, def)
		} else {
			_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		}
		val, ok := p.readLine()
		if !ok {
			return def
		}
		if val != "" {
			return val
		}
		if def != "" {
			return def
		}
		_, _ = fmt.Fprintln(p.w, "  (a value is required)")
	}
}

// Secret asks for a credential. Input is echoed; the label tells the user it
// is sensitive. End of input yields "".
func (p *Prompter) Secret(label string) string {
	for {
		_, _ = fmt.Fprintf(p.w, "  %s (input visible): ", label)
		val, ok := p.readLine()
		if !ok {
			return ""
		}
		if val != "" {
			return val
		}
		_, _ = fmt.Fprintln(p.w, "  (a value is required)")
	}
}

// Confirm asks a yes/no question; an empty answer yields def.
func (p *Prompter) Confirm(label string, def bool) bool {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	_, _ = fmt.Fprintf(p.w, "  %s %s: ", label, hint)

	val, ok := p.readLine()
	if !ok || val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Duration asks for a Go duration within [lo, hi].
func (p *Prompter) Duration(label string, def, lo, hi time.Duration) time.Duration {
	for {
		raw := p.String(fmt.Sprintf("%s (%v to %v)", label, lo, hi), def.String())
		d, err := time.ParseDuration(raw)
		if err == nil && d >= lo && d <= hi {
			return d
		}
		_, _ = fmt.Fprintf(p.w, "  (enter a duration such as 5m, between %v and %v)\n", lo, hi)
		if raw == def.String() {
			return def
		}
	}
}

// Int asks for a non-negative integer.
func (p *Prompter) Int(label string, def int) int {
	for {
		raw := p.String(label, strconv.Itoa(def))
		n, err := strconv.Atoi(raw)
		if err == nil && n >= 0 {
			return n
		}
		_, _ = fmt.Fprintln(p.w, "  (enter a whole number, 0 or more)")
	}
}

// Select shows a numbered menu and returns the zero-based choice.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}
	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}
	for {
		_, _ = fmt.Fprintf(p.w, "  Choice [1-%d]: ", len(options))
		val, ok := p.readLine()
		if !ok {
			return -1, fmt.Errorf("no input")
		}
		if n, err := strconv.Atoi(val); err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		_, _ = fmt.Fprintf(p.w, "  (enter a number between 1 and %d)\n", len(options))
	}
}
