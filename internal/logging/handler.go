// Package logging implements the log file line format spec §6 names:
// "[HH:MM:SS.uuuuuu (level)] [prefix]message", with a daily
// "--- [YYYY-MM-DD] ---" marker whenever the calendar date advances. No
// library in the retrieved pack renders this exact bespoke layout (the
// structured-logging libraries elsewhere in the corpus emit key=value or
// JSON lines, not this inline bracketed form), so this package is a thin
// slog.Handler the way the teacher wires slog.NewTextHandler directly in
// cmd/sentinel-gate/cmd/start.go, just with a different Handler
// implementation underneath the same *slog.Logger facade.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ComponentKey is the attribute key a caller sets (via
// logger.With(logging.ComponentKey, "store")) to get a "[store]" prefix
// on every line it logs.
const ComponentKey = "component"

// sink is the state several per-component Handlers share when they write
// to the same underlying file: one mutex, so concurrent loggers never
// interleave a line, and one "last day seen" so the daily marker prints
// once across all of them rather than once per component.
type sink struct {
	mu      sync.Mutex
	w       io.Writer
	lastDay string
}

// Handler formats records as spec §6 describes, writing a daily marker
// line the first time a record's date differs from the last one written.
type Handler struct {
	sink  *sink
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewHandler builds a Handler writing to w, filtering below level.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{sink: &sink{w: w}, level: level}
}

// WithLevel returns a Handler sharing h's underlying sink (and therefore
// its lock and daily-marker state) but filtering at a different level —
// for DiagnosticReportingThresholds' per-component severity floors.
func (h *Handler) WithLevel(level slog.Leveler) *Handler {
	return &Handler{sink: h.sink, level: level, attrs: h.attrs, group: h.group}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()

	day := r.Time.Format("2006-01-02")
	if day != h.sink.lastDay {
		h.sink.lastDay = day
		if _, err := fmt.Fprintf(h.sink.w, "--- [%s] ---\n", day); err != nil {
			return err
		}
	}

	prefix := ""
	fields := make([]string, 0, r.NumAttrs()+len(h.attrs))
	appendAttr := func(a slog.Attr) bool {
		if a.Key == ComponentKey {
			prefix = a.Value.String()
			return true
		}
		fields = append(fields, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool { return appendAttr(a) })

	line := fmt.Sprintf("[%s (%s)] [%s]%s", r.Time.Format("15:04:05.000000"), levelTag(r.Level), prefix, r.Message)
	if len(fields) > 0 {
		line += " " + strings.Join(fields, " ")
	}
	_, err := fmt.Fprintln(h.sink.w, line)
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = name
	return &next
}

// ThresholdLevel maps a Configuration.DiagnosticReportingThresholds
// integer severity floor (spec §6) to a slog.Level: 0=debug, 1=info,
// 2=warning, 3 and above=error. A component with no entry in thresholds
// logs at def.
func ThresholdLevel(thresholds map[string]int, component string, def slog.Level) slog.Level {
	n, ok := thresholds[component]
	if !ok {
		return def
	}
	switch {
	case n <= 0:
		return slog.LevelDebug
	case n == 1:
		return slog.LevelInfo
	case n == 2:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// NewComponentLogger builds a *slog.Logger for component, filtered at the
// level ThresholdLevel resolves and tagged with ComponentKey so its lines
// carry component's "[prefix]". It shares base's underlying sink.
func NewComponentLogger(base *Handler, thresholds map[string]int, component string, def slog.Level) *slog.Logger {
	level := ThresholdLevel(thresholds, component, def)
	return slog.New(base.WithLevel(level)).With(ComponentKey, component)
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
