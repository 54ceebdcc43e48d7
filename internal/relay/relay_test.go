package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrcam/internal/frame"
)

func testFrame(seq uint64) *frame.Frame {
	fr := frame.New(4, 4, frame.BGR24)
	fr.Seq = seq
	return fr
}

func TestSubscribeReceivesPublished(t *testing.T) {
	r := New("test")
	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	r.Publish(testFrame(1))

	fr := <-sub.Frames()
	assert.Equal(t, uint64(1), fr.Seq)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	r := New("test")
	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	r.Publish(testFrame(1))
	r.Publish(testFrame(2))
	r.Publish(testFrame(3))

	// Only the newest frame survives in the one-slot buffer.
	fr := <-sub.Frames()
	assert.Equal(t, uint64(3), fr.Seq)
	select {
	case extra := <-sub.Frames():
		t.Fatalf("unexpected buffered frame seq=%d", extra.Seq)
	default:
	}
}

func TestSubscriberSeesMonotonicSubsequence(t *testing.T) {
	r := New("test")
	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	var seen []uint64
	for seq := uint64(1); seq <= 100; seq++ {
		r.Publish(testFrame(seq))
		if seq%3 == 0 {
			select {
			case fr := <-sub.Frames():
				seen = append(seen, fr.Seq)
			default:
			}
		}
	}

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "frames must never repeat or reorder")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	r := New("test")
	for i := 0; i < 8; i++ {
		r.Subscribe()
	}

	done := make(chan struct{})
	go func() {
		for seq := uint64(1); seq <= 1000; seq++ {
			r.Publish(testFrame(seq))
		}
		close(done)
	}()

	// No subscriber ever reads; publish must still terminate.
	<-done
}

func TestUnsubscribeIdempotent(t *testing.T) {
	r := New("test")
	sub := r.Subscribe()

	r.Unsubscribe(sub)
	r.Unsubscribe(sub)
	r.Unsubscribe(nil)

	assert.Equal(t, 0, r.Len())
	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel not closed after unsubscribe")
	}
}

func TestCloseCancelsAll(t *testing.T) {
	r := New("test")
	a := r.Subscribe()
	b := r.Subscribe()

	r.Close()

	<-a.Done()
	<-b.Done()
	assert.Equal(t, 0, r.Len())

	// Subscriptions taken after close are born cancelled.
	c := r.Subscribe()
	select {
	case <-c.Done():
	default:
		t.Fatal("post-close subscription not cancelled")
	}
}
