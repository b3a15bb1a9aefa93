package notify

import (
	"context"

	"github.com/gen2brain/beeep"
)

// Desktop shows the organiser a system notification for each booked meeting.
type Desktop struct {
	notify func(title, message string, icon any) error
}

func NewDesktop() *Desktop {
	return &Desktop{notify: beeep.Notify}
}

func (d *Desktop) Notify(_ context.Context, invite Invite) error {
	msg := invite.Summary()
	if names := invite.attendeeNames(); names != "" {
		msg += "\nWith " + names
	}
	return d.notify("Meeting booked", msg, "")
}

// Alert shows a free-form desktop notification.
func (d *Desktop) Alert(title, message string) error {
	return d.notify(title, message, "")
}
