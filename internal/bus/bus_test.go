package bus

import (
	"sync"
	"testing"

	"github.com/quantfall/goxfeed/internal/schema"
)

const testTopic = schema.Topic("test")

func TestPublishDeliversInOrder(t *testing.T) {
	b := New(nil)
	var got []int
	b.Subscribe(testTopic, func(_ schema.Topic, payload any) {
		got = append(got, payload.(int))
	})

	for i := 0; i < 5; i++ {
		b.Publish(testTopic, i)
	}

	if len(got) != 5 {
		t.Fatalf("deliveries: got %d want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

func TestNestedPublishDrainsBeforeOuterReturns(t *testing.T) {
	b := New(nil)
	var got []string
	b.Subscribe(testTopic, func(_ schema.Topic, payload any) {
		s := payload.(string)
		got = append(got, s)
		if s == "outer" {
			b.Publish(testTopic, "nested")
		}
	})

	b.Publish(testTopic, "outer")

	if len(got) != 2 || got[0] != "outer" || got[1] != "nested" {
		t.Fatalf("nested delivery: got %v", got)
	}
}

func TestNestedPublishKeepsQueueOrder(t *testing.T) {
	b := New(nil)
	var got []int
	b.Subscribe(testTopic, func(_ schema.Topic, payload any) {
		v := payload.(int)
		got = append(got, v)
		if v == 0 {
			// Enqueued behind nothing, delivered after the current one.
			b.Publish(testTopic, 10)
			b.Publish(testTopic, 11)
		}
	})

	b.Publish(testTopic, 0)

	want := []int{0, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("deliveries: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("deliveries: got %v want %v", got, want)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	count := 0
	sub := b.Subscribe(testTopic, func(_ schema.Topic, _ any) { count++ })

	b.Publish(testTopic, nil)
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	b.Publish(testTopic, nil)

	if count != 1 {
		t.Fatalf("deliveries after unsubscribe: got %d want 1", count)
	}
}

func TestHandlerPanicDoesNotStopDrain(t *testing.T) {
	b := New(nil)
	delivered := false
	b.Subscribe(testTopic, func(_ schema.Topic, _ any) {
		panic("boom")
	})
	b.Subscribe(testTopic, func(_ schema.Topic, _ any) {
		delivered = true
	})

	b.Publish(testTopic, nil)

	if !delivered {
		t.Fatal("second handler skipped after panic")
	}
}

func TestConcurrentPublishersAllDelivered(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	count := 0
	b.Subscribe(testTopic, func(_ schema.Topic, _ any) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	const publishers = 8
	const perPublisher = 100
	var wg sync.WaitGroup
	for g := 0; g < publishers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish(testTopic, i)
			}
		}()
	}
	wg.Wait()

	// Publish only returns once its notice is drained or handed to an
	// active drainer, so after Wait the queue is empty.
	mu.Lock()
	defer mu.Unlock()
	if count != publishers*perPublisher {
		t.Fatalf("deliveries: got %d want %d", count, publishers*perPublisher)
	}
}

func TestSubscribersOnOtherTopicsNotInvoked(t *testing.T) {
	b := New(nil)
	invoked := false
	b.Subscribe(schema.Topic("other"), func(_ schema.Topic, _ any) { invoked = true })

	b.Publish(testTopic, nil)

	if invoked {
		t.Fatal("handler for unrelated topic invoked")
	}
}
