// Package journald mirrors buffer records into the systemd journal.
package journald

import (
	"github.com/coreos/go-systemd/v22/journal"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

// Mirror forwards records to the systemd journal under one syslog
// identifier.
type Mirror struct {
	service string
}

// New returns a Mirror for service. ok is false when no journal socket
// is present, for example outside of systemd systems.
func New(service string) (m *Mirror, ok bool) {
	if !journal.Enabled() {
		return nil, false
	}
	return &Mirror{service: service}, true
}

// Hook adapts the mirror to the logbuf mirror hook.
func (m *Mirror) Hook() func(logbuf.Record) {
	return m.Write
}

// Write sends one record to the journal. Send failures are dropped.
func (m *Mirror) Write(r logbuf.Record) {
	_ = journal.Send(r.Text, priority(r.Level), map[string]string{
		"SYSLOG_IDENTIFIER": m.service,
		"CWATCH_ORIGIN":     string(r.Origin),
		"CWATCH_LEVEL":      r.Level.String(),
	})
}

// priority maps buffer levels onto journal priorities. STDERR sits
// between WARNING and ERROR and lands on warning.
func priority(l logbuf.Level) journal.Priority {
	switch {
	case l >= logbuf.LevelCritical:
		return journal.PriCrit
	case l >= logbuf.LevelError:
		return journal.PriErr
	case l >= logbuf.LevelWarning:
		return journal.PriWarning
	case l >= logbuf.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
