package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chafiq1992/wagateway/infrastructure/cachebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return ""
	}
	return string(c.frames[len(c.frames)-1])
}

// brokenConn accepts a fixed number of writes, then fails every one.
type brokenConn struct {
	mu      sync.Mutex
	writes  int
	allowed int
	closed  bool
}

func (c *brokenConn) WriteMessage(_ int, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writes < c.allowed {
		c.writes++
		return nil
	}
	return errors.New("broken pipe")
}

func (c *brokenConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *brokenConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestSendToUserReachesAllSessions(t *testing.T) {
	r := New(nil)
	a, b := &fakeConn{}, &fakeConn{}
	sessA := NewSession("u1", false, a)
	sessB := NewSession("u1", false, b)
	r.Register(sessA)
	r.Register(sessB)

	r.SendToUser(context.Background(), "u1", map[string]string{"type": "ping"})
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	r.Unregister(sessB)
	r.SendToUser(context.Background(), "u1", map[string]string{"type": "ping"})
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.count())
}

func TestOfflineQueueDrainsOnConnect(t *testing.T) {
	r := New(nil)

	for i := 0; i < 3; i++ {
		r.SendToUser(context.Background(), "u2", map[string]int{"seq": i})
	}

	conn := &fakeConn{}
	r.Register(NewSession("u2", false, conn))
	require.Equal(t, 3, conn.count())
	assert.JSONEq(t, `{"seq":2}`, conn.last())

	// The queue is consumed: a second session gets nothing.
	conn2 := &fakeConn{}
	r.Register(NewSession("u2", false, conn2))
	assert.Equal(t, 0, conn2.count())
}

func TestOfflineQueueTrimsOverflow(t *testing.T) {
	r := New(nil)
	for i := 0; i < offlineCap+10; i++ {
		r.SendToUser(context.Background(), "u3", map[string]int{"seq": i})
	}

	conn := &fakeConn{}
	r.Register(NewSession("u3", false, conn))
	assert.LessOrEqual(t, conn.count(), offlineKeep+10)
	assert.JSONEq(t, `{"seq":109}`, conn.last())
}

func TestSendToUserExceptSkipsOriginSession(t *testing.T) {
	r := New(nil)
	origin, peer := &fakeConn{}, &fakeConn{}
	sessOrigin := NewSession("u4", false, origin)
	sessPeer := NewSession("u4", false, peer)
	r.Register(sessOrigin)
	r.Register(sessPeer)

	r.SendToUserExcept(context.Background(), "u4", map[string]string{"type": "typing"}, sessOrigin.ID)
	assert.Equal(t, 0, origin.count(), "event echoed back to the originating session")
	assert.Equal(t, 1, peer.count())

	// Transient path: with only the origin connected nothing is queued.
	r.Unregister(sessPeer)
	r.SendToUserExcept(context.Background(), "u4", map[string]string{"type": "typing"}, sessOrigin.ID)
	late := &fakeConn{}
	r.Register(NewSession("u4", false, late))
	assert.Equal(t, 0, late.count())
}

func TestRegisterDrainFailureRequeuesRemainder(t *testing.T) {
	r := New(nil)
	for i := 0; i < 3; i++ {
		r.SendToUser(context.Background(), "u5", map[string]int{"seq": i})
	}

	// Takes the first queued event, then the pipe breaks.
	broken := &brokenConn{allowed: 1}
	sess := NewSession("u5", false, broken)
	r.Register(sess)

	assert.Equal(t, 0, r.SessionCount("u5"), "failed session must be disconnected")
	assert.True(t, broken.isClosed())

	// A healthy reconnect gets the undelivered remainder in order.
	conn := &fakeConn{}
	r.Register(NewSession("u5", false, conn))
	require.Equal(t, 2, conn.count())
	assert.JSONEq(t, `{"seq":2}`, conn.last())
}

func TestDeadSessionCulledAndEventQueued(t *testing.T) {
	r := New(nil)
	broken := &brokenConn{}
	r.Register(NewSession("u6", false, broken))

	r.SendToUser(context.Background(), "u6", map[string]int{"seq": 0})
	assert.Equal(t, 0, r.SessionCount("u6"))
	assert.True(t, broken.isClosed())

	// The event was not lost: it waited in the offline queue.
	conn := &fakeConn{}
	r.Register(NewSession("u6", false, conn))
	require.Equal(t, 1, conn.count())
	assert.JSONEq(t, `{"seq":0}`, conn.last())
}

func TestBusDeliveryIsLocalOnly(t *testing.T) {
	r := New(nil)
	env := cachebus.Envelope{UserID: "u7", Payload: []byte(`{"type":"message_received"}`)}

	// No local session: the envelope is dropped, never queued offline.
	r.DeliverFromBus(env)
	conn := &fakeConn{}
	r.Register(NewSession("u7", false, conn))
	assert.Equal(t, 0, conn.count(), "bus envelope must not reach the offline queue")

	r.DeliverFromBus(env)
	assert.Equal(t, 1, conn.count())

	admin := &fakeConn{}
	r.Register(NewSession("agent:nadia", true, admin))
	r.DeliverFromBus(cachebus.Envelope{Admins: true, ExcludeUser: "", Payload: []byte(`{"type":"conversation_update"}`)})
	assert.Equal(t, 1, admin.count())
	assert.Equal(t, 1, conn.count())
}

func TestBroadcastToAdminsSkipsRegularSessions(t *testing.T) {
	r := New(nil)
	admin, user := &fakeConn{}, &fakeConn{}
	r.Register(NewSession("agent:karima", true, admin))
	r.Register(NewSession("212600000001", false, user))

	r.BroadcastToAdmins(context.Background(), map[string]string{"type": "conversation_update"}, "")
	assert.Equal(t, 1, admin.count())
	assert.Equal(t, 0, user.count())

	r.BroadcastToAdmins(context.Background(), map[string]string{"type": "typing"}, "agent:karima")
	assert.Equal(t, 1, admin.count())
}

func TestSendLimiterRefills(t *testing.T) {
	l := NewSendLimiter(3, 1, 60)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowText("a1"))
	}
	assert.False(t, l.AllowText("a1"))

	// Another agent has an independent bucket.
	assert.True(t, l.AllowText("a2"))

	// 20 seconds refills one token at 3/min.
	now = now.Add(20 * time.Second)
	assert.True(t, l.AllowText("a1"))
	assert.False(t, l.AllowText("a1"))

	// Media budget is tracked separately.
	assert.True(t, l.AllowMedia("a1"))
	assert.False(t, l.AllowMedia("a1"))
}

func TestSendLimiterZeroDisables(t *testing.T) {
	l := NewSendLimiter(0, 0, 60)
	for i := 0; i < 100; i++ {
		assert.True(t, l.AllowText("a1"))
		assert.True(t, l.AllowMedia("a1"))
	}
}

func TestSendLimiterBurstWindowScalesCapacity(t *testing.T) {
	// 6/min over a 30s window: the bucket holds 3 tokens.
	l := NewSendLimiter(6, 1, 30)
	now := time.Unix(2000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowText("a1"))
	}
	assert.False(t, l.AllowText("a1"))

	// Refill stays at the per-minute rate: 10s buys one token.
	now = now.Add(10 * time.Second)
	assert.True(t, l.AllowText("a1"))
	assert.False(t, l.AllowText("a1"))
}
