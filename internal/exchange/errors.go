package exchange

import (
	"fmt"
	"strings"
)

// ErrorList collects human-readable failure strings in insertion order and
// drops duplicates, so the same failure reported at several layers of a
// response appears once.
type ErrorList struct {
	seen  map[string]struct{}
	items []string
}

// Add appends msg unless it is blank or already present.
func (l *ErrorList) Add(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	if _, ok := l.seen[msg]; ok {
		return
	}
	l.seen[msg] = struct{}{}
	l.items = append(l.items, msg)
}

// Addf formats and appends a message.
func (l *ErrorList) Addf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...))
}

// AddErr appends err's message with an optional label prefix.
func (l *ErrorList) AddErr(label string, err error) {
	if err == nil {
		return
	}
	if label == "" {
		l.Add(err.Error())
		return
	}
	l.Add(label + ": " + err.Error())
}

// Merge appends every message from msgs.
func (l *ErrorList) Merge(msgs []string) {
	for _, m := range msgs {
		l.Add(m)
	}
}

// Len returns the number of collected messages.
func (l *ErrorList) Len() int { return len(l.items) }

// Items returns the collected messages. The result is never nil.
func (l *ErrorList) Items() []string {
	if len(l.items) == 0 {
		return []string{}
	}
	out := make([]string, len(l.items))
	copy(out, l.items)
	return out
}

// Summary joins the messages for log lines.
func Summary(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return strings.Join(errs, "; ")
}
