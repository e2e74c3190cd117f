package memory

import (
	"context"
	"testing"
)

func TestPublisherRecordsEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "ingest-done", map[string]int{"chapters": 3})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "ingest-done", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	events[0].Topic = "modified"
	if pub.Events()[0].Topic == "modified" {
		t.Fatal("expected Events() to return a copy")
	}
}
