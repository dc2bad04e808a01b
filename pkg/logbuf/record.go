package logbuf

import (
	"strings"
	"time"
)

// Origin identifies where a record came from.
type Origin string

const (
	OriginStdout   Origin = "stdout"
	OriginStderr   Origin = "stderr"
	OriginInternal Origin = "internal"
)

// Record is a single captured or internal log line.
type Record struct {
	Time   time.Time `json:"time"`
	Level  Level     `json:"level"`
	Origin Origin    `json:"origin"`
	Text   string    `json:"text"`
}

// LevelForOrigin returns the level a captured line of the given origin is
// recorded with.
func LevelForOrigin(o Origin) Level {
	switch o {
	case OriginStdout:
		return LevelStdout
	case OriginStderr:
		return LevelStderr
	}
	return LevelInfo
}

// CleanLine normalizes one captured output line: invalid UTF-8 bytes are
// replaced with U+FFFD and trailing whitespace is cut. Leading whitespace
// stays so indented output survives. ok is false when nothing printable
// remains and the line should be skipped.
func CleanLine(raw string) (text string, ok bool) {
	text = strings.TrimRight(strings.ToValidUTF8(raw, "�"), " \t\r\n")
	return text, strings.TrimSpace(text) != ""
}
