package ws

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TehShadow/Rusty/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func recv(t *testing.T, s *Subscription) []byte {
	t.Helper()
	select {
	case msg, ok := <-s.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestHub_Online_NonExistentRoom(t *testing.T) {
	hub := NewHub(Options{})
	if online := hub.Online("room:missing"); online != 0 {
		t.Errorf("Online() for non-existent room = %d, want 0", online)
	}
	if n := hub.Publish("room:missing", []byte("x"), nil); n != 0 {
		t.Errorf("Publish() to missing room delivered %d", n)
	}
}

func TestHub_SubscribeSharesRoom(t *testing.T) {
	hub := NewHub(Options{Grace: time.Minute})
	a := hub.Subscribe("room:1", "u1", "alice")
	b := hub.Subscribe("room:1", "u2", "bob")
	defer a.Close()
	defer b.Close()

	if a.room != b.room {
		t.Fatal("subscribers of the same key got different rooms")
	}
	if got := hub.Online("room:1"); got != 2 {
		t.Errorf("Online() = %d, want 2", got)
	}
	if got := hub.Rooms(); got != 1 {
		t.Errorf("Rooms() = %d, want 1", got)
	}
}

func TestHub_ConcurrentFirstJoin(t *testing.T) {
	hub := NewHub(Options{Grace: time.Minute})
	const n = 50
	subs := make([]*Subscription, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subs[i] = hub.Subscribe("room:race", fmt.Sprintf("u%d", i), "")
		}(i)
	}
	wg.Wait()

	for _, s := range subs[1:] {
		if s.room != subs[0].room {
			t.Fatal("concurrent first join created more than one room")
		}
	}
	if got := hub.Online("room:race"); got != n {
		t.Errorf("Online() = %d, want %d", got, n)
	}
}

func TestHub_PublishOrder(t *testing.T) {
	hub := NewHub(Options{Grace: time.Minute, EchoToSender: true})
	r1 := hub.Subscribe("room:1", "u1", "")
	r2 := hub.Subscribe("room:1", "u2", "")
	other := hub.Subscribe("room:2", "u3", "")
	defer r1.Close()
	defer r2.Close()
	defer other.Close()

	for i := 0; i < 5; i++ {
		if n := hub.Publish("room:1", []byte(fmt.Sprint(i)), nil); n != 2 {
			t.Fatalf("Publish() delivered %d, want 2", n)
		}
	}
	for i := 0; i < 5; i++ {
		want := fmt.Sprint(i)
		if got := string(recv(t, r1)); got != want {
			t.Errorf("r1 got %q, want %q", got, want)
		}
		if got := string(recv(t, r2)); got != want {
			t.Errorf("r2 got %q, want %q", got, want)
		}
	}
	select {
	case msg := <-other.C():
		t.Errorf("other room received %q", msg)
	default:
	}
}

func TestHub_EchoToSender(t *testing.T) {
	tests := []struct {
		name     string
		echo     bool
		wantSelf bool
	}{
		{"echo on", true, true},
		{"echo off", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(Options{Grace: time.Minute, EchoToSender: tt.echo})
			self := hub.Subscribe("room:1", "u1", "")
			peer := hub.Subscribe("room:1", "u2", "")
			defer self.Close()
			defer peer.Close()

			hub.Publish("room:1", []byte("hi"), self)
			if got := string(recv(t, peer)); got != "hi" {
				t.Errorf("peer got %q", got)
			}
			select {
			case <-self.C():
				if !tt.wantSelf {
					t.Error("sender received its own message")
				}
			case <-time.After(50 * time.Millisecond):
				if tt.wantSelf {
					t.Error("sender did not receive echo")
				}
			}
		})
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := NewHub(Options{SendBuffer: 2, Grace: time.Minute, EchoToSender: true})
	slow := hub.Subscribe("room:1", "slow", "")
	fast := hub.Subscribe("room:1", "fast", "")
	defer fast.Close()

	before := testutil.ToFloat64(metrics.SubscribersDropped)
	for i := 0; i < 3; i++ {
		hub.Publish("room:1", []byte(fmt.Sprint(i)), nil)
		recv(t, fast)
	}

	if !slow.Dropped() {
		t.Fatal("slow subscriber was not dropped")
	}
	if got := testutil.ToFloat64(metrics.SubscribersDropped) - before; got != 1 {
		t.Errorf("dropped counter delta = %v, want 1", got)
	}
	// buffered messages drain, then the channel reports closed
	for range slow.C() {
	}
	if got := hub.Online("room:1"); got != 1 {
		t.Errorf("Online() = %d, want 1", got)
	}
	slow.Close()
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	hub := NewHub(Options{Grace: time.Minute})
	s := hub.Subscribe("room:1", "u1", "")
	s.Close()
	s.Close()
	if _, ok := <-s.C(); ok {
		t.Error("channel still open after Close()")
	}
	if got := hub.Online("room:1"); got != 0 {
		t.Errorf("Online() = %d, want 0", got)
	}
}

func TestHub_EvictsEmptyRoomAfterGrace(t *testing.T) {
	hub := NewHub(Options{Grace: 20 * time.Millisecond})
	s := hub.Subscribe("room:1", "u1", "")
	s.Close()

	if got := hub.Rooms(); got != 1 {
		t.Fatalf("room evicted before grace, Rooms() = %d", got)
	}
	deadline := time.Now().Add(time.Second)
	for hub.Rooms() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("room not evicted after grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_RejoinWithinGraceKeepsRoom(t *testing.T) {
	hub := NewHub(Options{Grace: 20 * time.Millisecond})
	first := hub.Subscribe("room:1", "u1", "")
	room := first.room
	first.Close()

	second := hub.Subscribe("room:1", "u2", "")
	defer second.Close()
	time.Sleep(60 * time.Millisecond)

	if second.room != room {
		t.Error("rejoin within grace created a new room")
	}
	if got := hub.Rooms(); got != 1 {
		t.Errorf("Rooms() = %d, want 1", got)
	}
	hub.Publish("room:1", []byte("still here"), nil)
	if got := string(recv(t, second)); got != "still here" {
		t.Errorf("got %q", got)
	}
}

func TestHub_SubscribeAfterEvictionGetsNewRoom(t *testing.T) {
	hub := NewHub(Options{Grace: time.Millisecond})
	first := hub.Subscribe("room:1", "u1", "")
	old := first.room
	first.Close()
	hub.evict(old)

	s := hub.Subscribe("room:1", "u2", "")
	defer s.Close()
	if s.room == old {
		t.Fatal("subscribed to an evicted room")
	}
	if n := hub.Publish("room:1", []byte("x"), nil); n != 1 {
		t.Errorf("Publish() delivered %d, want 1", n)
	}
}

func TestHub_Shutdown(t *testing.T) {
	hub := NewHub(Options{Grace: time.Minute})
	a := hub.Subscribe("room:1", "u1", "")
	b := hub.Subscribe("dm:x:y", "u2", "")
	hub.Shutdown()

	for _, s := range []*Subscription{a, b} {
		if _, ok := <-s.C(); ok {
			t.Error("subscription open after Shutdown()")
		}
		s.Close()
	}
}

func TestHub_ConcurrentPublishAndChurn(t *testing.T) {
	hub := NewHub(Options{SendBuffer: 8, Grace: time.Millisecond, EchoToSender: true})
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Publish("room:churn", []byte("m"), nil)
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := hub.Subscribe("room:churn", fmt.Sprint(i), "")
				for k := 0; k < 2; k++ {
					select {
					case <-s.C():
					default:
					}
				}
				s.Close()
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}
