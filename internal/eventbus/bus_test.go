package eventbus

import (
	"testing"

	"civicsync/internal/models"
)

func TestPublishReachesTypeSubscribers(t *testing.T) {
	bus := New()
	ch := make(chan Event, 1)
	bus.Subscribe(ch, models.FeedBillCreated)

	bus.Publish(&models.FeedPost{TenantID: 1, Type: models.FeedBillCreated, Title: "B-1"})

	select {
	case evt := <-ch:
		if evt.Post.Title != "B-1" || evt.Post.TenantID != 1 {
			t.Errorf("wrong post delivered: %+v", evt.Post)
		}
		if evt.At.IsZero() {
			t.Error("delivery time not stamped")
		}
	default:
		t.Fatal("post not delivered")
	}
}

func TestPublishFiltersByPostType(t *testing.T) {
	bus := New()
	bills := make(chan Event, 1)
	votes := make(chan Event, 1)
	bus.Subscribe(bills, models.FeedBillCreated)
	bus.Subscribe(votes, models.FeedVoteResult)

	bus.Publish(&models.FeedPost{Type: models.FeedVoteResult})

	if len(bills) != 0 {
		t.Error("bill subscriber received a vote post")
	}
	if len(votes) != 1 {
		t.Error("vote subscriber missed the post")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := New()
	ch := make(chan Event, 1)
	bus.Subscribe(ch, models.FeedBillMovement)

	bus.Publish(&models.FeedPost{Type: models.FeedBillMovement, Title: "first"})
	bus.Publish(&models.FeedPost{Type: models.FeedBillMovement, Title: "second"})

	if len(ch) != 1 {
		t.Fatalf("buffered %d events, want 1", len(ch))
	}
	if evt := <-ch; evt.Post.Title != "first" {
		t.Errorf("kept %q, want the first post", evt.Post.Title)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	ch := make(chan Event, 2)
	bus.Subscribe(ch, models.FeedBillCreated, models.FeedVoteResult)
	bus.Unsubscribe(ch, models.FeedBillCreated, models.FeedVoteResult)

	bus.Publish(&models.FeedPost{Type: models.FeedBillCreated})
	bus.Publish(&models.FeedPost{Type: models.FeedVoteResult})

	if len(ch) != 0 {
		t.Errorf("detached subscriber still received %d event(s)", len(ch))
	}
}
