// Package notify delivers out-of-band notices about pool changes.
package notify

import (
	"context"
	"errors"
)

type Field struct {
	Name  string
	Value string
}

// Notice is one message. Attachment, when set, is delivered as a file named
// AttachmentName with Caption.
type Notice struct {
	ID      string
	Account string // account id the notice is about, if any
	Title   string
	Fields  []Field

	Attachment     []byte
	AttachmentName string
	Caption        string
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Notice) error { return nil }

// Multi delivers to every notifier and joins the errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, x := range m {
		if x == nil {
			continue
		}
		if err := x.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
