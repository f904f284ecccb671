// Package notify delivers rendered grade reports.
package notify

import (
	"context"
	"errors"

	"github.com/naka-gawa/grade-report/internal/domain"
)

// Message is a report ready to be delivered.
type Message struct {
	Subject    string
	Recipients []string
	// Document is the rendered HTML report.
	Document string
	Summary  domain.Summary
}

// Notifier delivers a report message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi delivers every message through all its notifiers, even when some fail.
type Multi []Notifier

// Notify calls every notifier in order and returns their joined errors.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every message.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(context.Context, Message) error { return nil }
