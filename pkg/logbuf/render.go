package logbuf

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// ColorMode controls whether rendered lines carry ANSI styling.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColorMode maps the config/flag words to a mode.
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	}
	return ColorAuto, fmt.Errorf("unknown color mode %q (auto, always, never)", s)
}

func (m ColorMode) enabledFor(w io.Writer) bool {
	switch m {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

var (
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	stderrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Faint(true)
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	debugStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	stdoutStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).Faint(true)
	notsetStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func levelStyle(l Level) lipgloss.Style {
	switch l {
	case LevelCritical:
		return criticalStyle
	case LevelError:
		return errorStyle
	case LevelStderr:
		return stderrStyle
	case LevelWarning:
		return warningStyle
	case LevelInfo:
		return infoStyle
	case LevelDebug:
		return debugStyle
	case LevelStdout:
		return stdoutStyle
	}
	return notsetStyle
}

const dateFormat = "20060102_150405"

func timestamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format(dateFormat), t.Nanosecond()/int(time.Millisecond))
}

// FormatRecord renders a record in the plain, uncolored form used by the
// All view and by report bodies: timestamp, level name, text.
func FormatRecord(r Record) string {
	return fmt.Sprintf("%s %s %s", timestamp(r.Time), r.Level, r.Text)
}

// RenderLine renders a record for the console: timestamp, the level badge
// padded to eight columns, then the text. With color the badge is drawn in
// reverse video and both badge and text take the level's color.
func RenderLine(r Record, color bool) string {
	badge := fmt.Sprintf(" %-8s ", r.Level)
	text := r.Text
	if color {
		style := levelStyle(r.Level)
		badge = style.Reverse(true).Render(badge)
		text = style.Render(text)
	}
	return fmt.Sprintf("%s %s %s", timestamp(r.Time), badge, text)
}
