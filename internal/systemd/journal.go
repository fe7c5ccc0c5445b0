package systemd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// JournalHandler is a slog.Handler that sends records to the systemd journal
// as structured entries. Attribute keys become upper-case journal fields.
type JournalHandler struct {
	identifier string
	level      slog.Leveler
	fields     map[string]string
	prefix     string
	send       func(message string, priority journal.Priority, vars map[string]string) error
}

// NewJournalHandler creates a handler tagging entries with SYSLOG_IDENTIFIER.
func NewJournalHandler(identifier string, level slog.Leveler) *JournalHandler {
	return &JournalHandler{
		identifier: identifier,
		level:      level,
		fields:     map[string]string{},
		send:       journal.Send,
	}
}

// JournalAvailable reports whether the journal socket can be reached.
func JournalAvailable() bool {
	return journal.Enabled()
}

// StderrIsJournal reports whether stderr is connected to the journal, as it
// is for services started by systemd with default output settings.
func StderrIsJournal() bool {
	ok, err := journal.StderrIsJournalStream()
	return err == nil && ok
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	vars := make(map[string]string, len(h.fields)+r.NumAttrs()+1)
	for k, v := range h.fields {
		vars[k] = v
	}
	if h.identifier != "" {
		vars["SYSLOG_IDENTIFIER"] = h.identifier
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(vars, h.prefix, a)
		return true
	})
	return h.send(r.Message, priority(r.Level), vars)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		addField(c.fields, c.prefix, a)
	}
	return c
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix = c.prefix + name + "_"
	return c
}

func (h *JournalHandler) clone() *JournalHandler {
	fields := make(map[string]string, len(h.fields))
	for k, v := range h.fields {
		fields[k] = v
	}
	return &JournalHandler{
		identifier: h.identifier,
		level:      h.level,
		fields:     fields,
		prefix:     h.prefix,
		send:       h.send,
	}
}

func addField(vars map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		sub := prefix
		if a.Key != "" {
			sub = prefix + a.Key + "_"
		}
		for _, ga := range v.Group() {
			addField(vars, sub, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if name := fieldName(prefix + a.Key); name != "" {
		vars[name] = v.String()
	}
}

// fieldName maps a key to a valid journal field name: upper-case letters,
// digits and underscores, not starting with an underscore.
func fieldName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}

func priority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
