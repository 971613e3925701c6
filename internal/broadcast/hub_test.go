package broadcast

import (
	"errors"
	"testing"

	"github.com/Picca1e-12/GenTestAI/internal/model"
)

type recordingSubscriber struct {
	got  []model.Notification
	fail bool
}

func (r *recordingSubscriber) Send(n model.Notification) error {
	if r.fail {
		return errors.New("subscriber gone")
	}
	r.got = append(r.got, n)
	return nil
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub(nil)
	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	h.Subscribe(a)
	h.Subscribe(b)

	h.Publish(model.Notification{ID: "n1"})

	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("deliveries = %d, %d, want 1 each", len(a.got), len(b.got))
	}
}

func TestFailedSubscriberIsPrunedWithoutBlockingOthers(t *testing.T) {
	h := NewHub(nil)
	broken := &recordingSubscriber{fail: true}
	healthy := &recordingSubscriber{}
	h.Subscribe(broken)
	h.Subscribe(healthy)

	h.Publish(model.Notification{ID: "n1"})
	if len(healthy.got) != 1 {
		t.Fatal("healthy subscriber missed the broadcast")
	}
	if h.Count() != 1 {
		t.Fatalf("Count = %d after prune, want 1", h.Count())
	}

	h.Publish(model.Notification{ID: "n2"})
	if len(healthy.got) != 2 {
		t.Fatal("healthy subscriber missed the second broadcast")
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	sub := &recordingSubscriber{}
	id := h.Subscribe(sub)
	h.Unsubscribe(id)
	h.Publish(model.Notification{ID: "n1"})
	if len(sub.got) != 0 {
		t.Fatal("unsubscribed subscriber still received notification")
	}
}

func TestChannelSubscriberNonBlocking(t *testing.T) {
	sub := NewChannelSubscriber(1)
	if err := sub.Send(model.Notification{ID: "n1"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := sub.Send(model.Notification{ID: "n2"}); !errors.Is(err, ErrSubscriberFull) {
		t.Fatalf("second send = %v, want ErrSubscriberFull", err)
	}
	if got := <-sub.C; got.ID != "n1" {
		t.Fatalf("received %q", got.ID)
	}
}
