// Package report assembles the outcome of a watched run into messages and
// fans them out over an explicit list of delivery channels. The status
// scheme follows the Nagios/Icinga passive check convention.
package report

import (
	"fmt"
	"sort"
	"strings"
)

// Status is a monitoring state: 0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

// States maps a status to its monitoring text.
var States = [...]string{"OK", "WARNING", "CRITICAL", "UNKNOWN"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(States) {
		return States[StatusUnknown]
	}
	return States[s]
}

// DefaultPrefix starts every report message unless overridden.
const DefaultPrefix = "[cwatcher]:"

// Message bundles everything a channel may want to deliver. Channels pick
// the fields they need.
type Message struct {
	Status          Status
	ServiceName     string
	CustomMessage   string
	Prefix          string
	Body            string
	PerformanceData map[string]string
	LogRecords      string
	Processes       []string
	Hostname        string
	User            string
}

// Params are the per-report fields a caller can set; the watch fills in
// the rest.
type Params struct {
	CustomMessage   string
	Prefix          string
	Body            string
	PerformanceData map[string]string
}

// PerformanceText renders the performance data as space-joined key=value
// pairs, keys sorted.
func (m Message) PerformanceText() string {
	if len(m.PerformanceData) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m.PerformanceData))
	for k := range m.PerformanceData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, m.PerformanceData[k]))
	}
	return strings.Join(pairs, " ")
}

// Text is the one-line summary: prefix, upper-cased service name, status
// text and, when present, the custom message.
func (m Message) Text() string {
	prefix := m.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	service := m.ServiceName
	if service == "" {
		service = "service_not_set"
	}

	parts := []string{prefix, strings.ToUpper(service), m.Status.String()}
	if m.CustomMessage != "" {
		parts = append(parts, "- "+m.CustomMessage)
	}
	return strings.Join(parts, " ")
}

// Monitoring is Text plus the performance data in the pipe-separated
// passive check form.
func (m Message) Monitoring() string {
	perf := m.PerformanceText()
	if perf == "" {
		return m.Text()
	}
	return m.Text() + " | " + perf
}

// BodyText is the long form used by channels that deliver a full body.
func (m Message) BodyText() string {
	out := []string{
		"Host: " + m.Hostname,
		"User: " + m.User,
		"Service name: " + m.ServiceName,
	}
	if perf := m.PerformanceText(); perf != "" {
		out = append(out, "Performance data: "+perf)
	}
	if m.Body != "" {
		out = append(out, "", m.Body)
	}
	if m.LogRecords != "" {
		out = append(out, "", "Log records:", "", m.LogRecords)
	}
	return strings.Join(out, "\n")
}

// ProcessesText lists the commands this watch ran, semicolon separated.
func (m Message) ProcessesText() string {
	if len(m.Processes) == 0 {
		return ""
	}
	return "(" + strings.Join(m.Processes, "; ") + ")"
}
