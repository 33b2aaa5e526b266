package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_Publish(t *testing.T) {
	reg := NewRegistry(nil)
	router := NewRouter(reg, nil, nil)

	memberA, memberB := &testSink{}, &testSink{}
	outsider := &testSink{}

	sa := reg.Connect("alice", memberA)
	sb := reg.Connect("bob", memberB)
	so := reg.Connect("carol", outsider)

	require.NoError(t, reg.JoinRoom(sa.ID, "project-1"))
	require.NoError(t, reg.JoinRoom(sb.ID, "project-1"))
	require.NoError(t, reg.JoinRoom(so.ID, "project-2"))

	for i := 0; i < 3; i++ {
		router.Publish("project-1", NewEvent(EventEntityUpdate, "project-1", map[string]int{"seq": i}))
	}

	require.Eventually(t, func() bool {
		return len(memberA.received()) == 3 && len(memberB.received()) == 3
	}, time.Second, 5*time.Millisecond)

	// Each member saw every event exactly once, in publish order.
	for _, sink := range []*testSink{memberA, memberB} {
		events := sink.received()
		require.Len(t, events, 3)
		for i, evt := range events {
			assert.Equal(t, EventEntityUpdate, evt.Type)
			assert.Equal(t, "project-1", evt.RoomID)
			assert.JSONEq(t, `{"seq":`+string(rune('0'+i))+`}`, string(evt.Payload))
		}
	}

	// The other room saw nothing.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, outsider.received())
}

func TestRouter_SendToActor(t *testing.T) {
	reg := NewRegistry(nil)
	router := NewRouter(reg, nil, nil)

	first, second := &testSink{}, &testSink{}
	reg.Connect("alice", first)
	reg.Connect("alice", second)

	other := &testSink{}
	reg.Connect("bob", other)

	router.SendToActor("alice", NewEvent(EventNotificationNew, "", map[string]string{"text": "hi"}))

	require.Eventually(t, func() bool {
		return len(first.received()) == 1 && len(second.received()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, other.received())
}

func TestRouter_Broadcast(t *testing.T) {
	reg := NewRegistry(nil)
	router := NewRouter(reg, nil, nil)

	sinks := []*testSink{{}, {}, {}}
	for i, s := range sinks {
		reg.Connect("user-"+string(rune('a'+i)), s)
	}

	router.Broadcast(NewEvent(EventUserOnline, "", map[string]string{"actor_id": "user-a"}))

	require.Eventually(t, func() bool {
		for _, s := range sinks {
			if len(s.received()) != 1 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func setupBackplanePeer(t *testing.T, mr *miniredis.Miniredis, instanceID string) (*Registry, *Router, *Backplane) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := NewRegistry(nil)
	bp := NewBackplane(client, instanceID, nil)
	router := NewRouter(reg, bp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bp.Start(ctx)
	return reg, router, bp
}

func TestBackplane_CrossInstanceFanOut(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	regA, routerA, _ := setupBackplanePeer(t, mr, "instance-a")
	regB, _, _ := setupBackplanePeer(t, mr, "instance-b")

	localSink, remoteSink := &testSink{}, &testSink{}

	sa := regA.Connect("alice", localSink)
	require.NoError(t, regA.JoinRoom(sa.ID, "project-1"))

	sb := regB.Connect("bob", remoteSink)
	require.NoError(t, regB.JoinRoom(sb.ID, "project-1"))

	routerA.Publish("project-1", NewEvent(EventEntityUpdate, "project-1", map[string]string{"id": "scene-1"}))

	// Both the publishing instance and its peer deliver to their members.
	require.Eventually(t, func() bool {
		return len(remoteSink.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(localSink.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The origin-instance guard keeps the publisher's members at one copy.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, localSink.received(), 1)
	assert.Len(t, remoteSink.received(), 1)
}
