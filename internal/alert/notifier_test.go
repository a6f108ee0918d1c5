package alert

import (
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	n := NewNotifier(4)
	a := n.Subscribe("a")
	b := n.Subscribe("b", "recon-")

	n.Publish(Notification{Kind: RunFailed, TaskCode: "recon-daily", RunID: "r-1"})
	n.Publish(Notification{Kind: RunSucceeded, TaskCode: "other-task", RunID: "r-2"})

	if got := len(a.Ch); got != 2 {
		t.Errorf("unfiltered subscriber received %d, want 2", got)
	}
	if got := len(b.Ch); got != 1 {
		t.Errorf("filtered subscriber received %d, want 1", got)
	}
	notif := <-b.Ch
	if notif.Kind != RunFailed || notif.RunID != "r-1" {
		t.Errorf("filtered subscriber got %+v", notif)
	}
	if notif.Timestamp.IsZero() {
		t.Error("publish must stamp the notification")
	}
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	n := NewNotifier(1)
	s := n.Subscribe("slow")

	// Second publish must not block even though nobody is draining.
	n.Publish(Notification{Kind: RunStarted, TaskCode: "recon-daily"})
	n.Publish(Notification{Kind: RunStarted, TaskCode: "recon-daily"})

	if got := len(s.Ch); got != 1 {
		t.Errorf("buffered = %d, want 1 (overflow dropped)", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(1)
	s := n.Subscribe("x")
	n.Unsubscribe("x")

	if _, open := <-s.Ch; open {
		t.Error("channel must be closed after unsubscribe")
	}

	// Publishing after unsubscribe reaches nobody and must not panic.
	n.Publish(Notification{Kind: RunStale, TaskCode: "recon-daily"})
}
