package report

import (
	"errors"
	"fmt"
	"io"
)

// Channel delivers a message to one destination.
type Channel interface {
	Report(msg Message) error
}

// Reporter fans a message out to its channels. The channel list is
// explicit; there is no package-level registry.
type Reporter struct {
	channels []Channel
}

// NewReporter creates a reporter for the given channels.
func NewReporter(channels ...Channel) *Reporter {
	return &Reporter{channels: channels}
}

// AddChannel appends a delivery channel.
func (r *Reporter) AddChannel(c Channel) {
	r.channels = append(r.channels, c)
}

// Report sends the message to every channel. Delivery keeps going after a
// channel fails; the failures come back joined.
func (r *Reporter) Report(msg Message) error {
	var errs []error
	for _, c := range r.channels {
		if err := c.Report(msg); err != nil {
			errs = append(errs, fmt.Errorf("report channel %T: %w", c, err))
		}
	}
	return errors.Join(errs...)
}

// WriterChannel writes the monitoring line of a message to a writer.
// With Body set the full body follows, separated by a blank line.
type WriterChannel struct {
	W    io.Writer
	Body bool
}

func (c WriterChannel) Report(msg Message) error {
	if _, err := fmt.Fprintln(c.W, msg.Monitoring()); err != nil {
		return err
	}
	if c.Body {
		if _, err := fmt.Fprintf(c.W, "\n%s\n", msg.BodyText()); err != nil {
			return err
		}
	}
	return nil
}
