// Package console provides the pipeline's human-facing logger: a logrus
// logger whose entries are rendered as "[time] [LEVEL] message" lines,
// coloured when attached to a terminal, with errors routed to stderr.
package console

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// SuccessKey marks an info entry as a success announcement.
const SuccessKey = "success"

// DefaultTimeFormat is the timestamp layout used in the line prefix.
const DefaultTimeFormat = "2006-01-02 15:04:05"

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Formatter renders entries as single prefixed lines.
type Formatter struct {
	// Prefix replaces the timestamp when set (config log_prefix).
	Prefix     string
	TimeFormat string
	Color      bool
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	prefix := f.Prefix
	if prefix == "" {
		layout := f.TimeFormat
		if layout == "" {
			layout = DefaultTimeFormat
		}
		prefix = e.Time.Format(layout)
	}

	tag, style := levelTag(e)
	line := fmt.Sprintf("[%s] [%s] %s", prefix, tag, e.Message)

	if fields := formatFields(e.Data); fields != "" {
		line += " " + fields
	}
	if f.Color {
		line = style.Render(line)
	}
	b.WriteString(line)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelTag(e *logrus.Entry) (string, lipgloss.Style) {
	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return "ERROR", errorStyle
	case logrus.WarnLevel:
		return "WARN", warnStyle
	case logrus.DebugLevel, logrus.TraceLevel:
		return "DEBUG", debugStyle
	}
	if ok, _ := e.Data[SuccessKey].(bool); ok {
		return "SUCCESS", successStyle
	}
	return "INFO", infoStyle
}

func formatFields(data logrus.Fields) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k == SuccessKey {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}

// splitHook writes warnings and below to out and errors to errOut.
type splitHook struct {
	out    io.Writer
	errOut io.Writer
}

func (h *splitHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *splitHook) Fire(e *logrus.Entry) error {
	line, err := e.Bytes()
	if err != nil {
		return err
	}
	w := h.out
	if e.Level <= logrus.ErrorLevel {
		w = h.errOut
	}
	_, err = w.Write(line)
	return err
}

// Options configures New.
type Options struct {
	Out    io.Writer // default os.Stdout
	ErrOut io.Writer // default os.Stderr
	Level  logrus.Level
	Prefix string
	// Color forces colouring on or off. Nil means auto-detect.
	Color *bool
}

// New builds the console logger.
func New(opts Options) *logrus.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	errOut := opts.ErrOut
	if errOut == nil {
		errOut = os.Stderr
	}

	color := isTerminal(out)
	if opts.Color != nil {
		color = *opts.Color
	}
	if os.Getenv("NO_COLOR") != "" {
		color = false
	}

	level := opts.Level
	if level == 0 {
		level = logrus.InfoLevel
	}

	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(level)
	l.SetFormatter(&Formatter{Prefix: opts.Prefix, Color: color})
	l.AddHook(&splitHook{out: out, errOut: errOut})
	return l
}

// Success logs an info entry rendered with the SUCCESS tag.
func Success(l logrus.FieldLogger, format string, args ...any) {
	l.WithField(SuccessKey, true).Infof(format, args...)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Elapsed formats a duration for step summaries.
func Elapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
