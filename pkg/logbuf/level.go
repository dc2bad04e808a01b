package logbuf

import "fmt"

// Level is the severity of a record. The numeric values form a fixed,
// closed scheme; the two pseudo-levels STDOUT and STDERR mark captured
// output lines. STDERR sits between WARNING and ERROR so that captured
// stderr output routes to the error stream without outranking real errors.
type Level int

const (
	LevelNotset   Level = 0
	LevelStdout   Level = 5
	LevelDebug    Level = 10
	LevelInfo     Level = 20
	LevelWarning  Level = 30
	LevelStderr   Level = 35
	LevelError    Level = 40
	LevelCritical Level = 50
)

func (l Level) String() string {
	switch l {
	case LevelNotset:
		return "NOTSET"
	case LevelStdout:
		return "STDOUT"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelStderr:
		return "STDERR"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a level name back to its value.
func ParseLevel(name string) (Level, error) {
	for _, l := range []Level{
		LevelNotset, LevelStdout, LevelDebug, LevelInfo,
		LevelWarning, LevelStderr, LevelError, LevelCritical,
	} {
		if l.String() == name {
			return l, nil
		}
	}
	return LevelNotset, fmt.Errorf("unknown level %q", name)
}
