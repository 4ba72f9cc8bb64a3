package broadcast

import (
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mtx      sync.Mutex
	messages [][]byte
	block    chan struct{}
	panics   bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.panics {
		panic("write on torn down connection")
	}
	if f.block != nil {
		<-f.block
	}
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeConn) count() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.messages)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEmitReachesAllClients(t *testing.T) {
	h := NewHub(nil)

	conns := []*fakeConn{{}, {}, {}}
	for _, c := range conns {
		h.Register(NewClient(c))
	}

	h.Emit(EventPollTimer, map[string]interface{}{"pollId": "p1", "remainingSeconds": 10})

	for _, c := range conns {
		c := c
		waitFor(t, func() bool { return c.count() == 1 })
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	h := NewHub(nil)

	conn := &fakeConn{}
	client := NewClient(conn)
	h.Register(client)

	h.Emit(EventSessions, nil)
	waitFor(t, func() bool { return conn.count() == 1 })

	h.Unregister(client.ID)
	h.Emit(EventSessions, nil)

	time.Sleep(50 * time.Millisecond)
	if conn.count() != 1 {
		t.Errorf("messages = %d, want 1 after unregister", conn.count())
	}
}

func TestSlowClientDoesNotStallOthers(t *testing.T) {
	h := NewHub(nil)

	slow := &fakeConn{block: make(chan struct{})}
	fast := &fakeConn{}
	h.Register(NewClient(slow))
	h.Register(NewClient(fast))

	h.Emit(EventPollUpdate, nil)

	waitFor(t, func() bool { return fast.count() == 1 })
	if slow.count() != 0 {
		t.Error("slow client should still be blocked")
	}
	close(slow.block)
	waitFor(t, func() bool { return slow.count() == 1 })
}

func TestPanickingClientDoesNotTakeDownFanout(t *testing.T) {
	h := NewHub(nil)

	bad := &fakeConn{panics: true}
	good := &fakeConn{}
	h.Register(NewClient(bad))
	h.Register(NewClient(good))

	h.Emit(EventPollEnded, nil)
	waitFor(t, func() bool { return good.count() == 1 })

	h.Emit(EventPollEnded, nil)
	waitFor(t, func() bool { return good.count() == 2 })
}

func TestClientSendEnvelope(t *testing.T) {
	conn := &fakeConn{}
	client := NewClient(conn)

	if err := client.Send(EventKicked, map[string]string{"sessionId": "s1"}); err != nil {
		t.Fatalf("Send() err = %v", err)
	}
	if conn.count() != 1 {
		t.Fatalf("messages = %d, want 1", conn.count())
	}

	var envelope Envelope
	if err := json.Unmarshal(conn.messages[0], &envelope); err != nil {
		t.Fatalf("unmarshal err = %v", err)
	}
	if envelope.Event != EventKicked {
		t.Errorf("event = %s, want %s", envelope.Event, EventKicked)
	}
}
