package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/internal/relay"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
)

func testConn(userID string, role model.Role) *Conn {
	return NewConn(userID, userID, role, 60, 10)
}

func drain(t *testing.T, c *Conn) *model.Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env model.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return &env
	default:
		t.Fatal("expected a frame on the send channel")
		return nil
	}
}

func TestBroadcastReachesGroupMembersOnly(t *testing.T) {
	h := NewHub(logger.NewNop())
	a := testConn("u1", model.RoleUser)
	b := testConn("u2", model.RoleUser)
	c := testConn("u3", model.RoleUser)
	for _, conn := range []*Conn{a, b, c} {
		h.Register(conn)
	}
	require.NoError(t, h.JoinGroup(a, "session:s1"))
	require.NoError(t, h.JoinGroup(b, "session:s1"))
	require.NoError(t, h.JoinGroup(c, "session:s2"))

	h.Broadcast("session:s1", model.EventTypingStart, nil)

	assert.Equal(t, model.EventTypingStart, drain(t, a).Type)
	assert.Equal(t, model.EventTypingStart, drain(t, b).Type)
	assert.Empty(t, c.send)
}

func TestSendToTargetsOneConnection(t *testing.T) {
	h := NewHub(logger.NewNop())
	a := testConn("u1", model.RoleUser)
	b := testConn("u2", model.RoleUser)
	h.Register(a)
	h.Register(b)

	h.SendTo(a, model.EventError, &model.ErrorPayload{Code: model.ErrCodeNotFound, Message: "nope"})

	env := drain(t, a)
	assert.Equal(t, model.EventError, env.Type)
	var payload model.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, model.ErrCodeNotFound, payload.Code)
	assert.Empty(t, b.send)
}

func TestStaffBroadcastGroupRequiresStaffRole(t *testing.T) {
	h := NewHub(logger.NewNop())
	user := testConn("u1", model.RoleUser)
	staff := testConn("s1", model.RolePsikolog)
	h.Register(user)
	h.Register(staff)

	assert.Error(t, h.JoinGroup(user, relay.StaffBroadcastGroup))
	assert.NoError(t, h.JoinGroup(staff, relay.StaffBroadcastGroup))
	assert.Equal(t, 1, h.GroupSize(relay.StaffBroadcastGroup))
}

func TestUnregisterLeavesAllGroupsAndClosesSend(t *testing.T) {
	h := NewHub(logger.NewNop())
	a := testConn("u1", model.RoleUser)
	h.Register(a)
	require.NoError(t, h.JoinGroup(a, "session:s1"))

	h.Unregister(a)

	assert.Equal(t, 0, h.GroupSize("session:s1"))
	_, open := <-a.send
	assert.False(t, open)

	// A second unregister is a no-op, not a double close.
	h.Unregister(a)
}

func TestCloseGroupDropsMembershipsNotConnections(t *testing.T) {
	h := NewHub(logger.NewNop())
	a := testConn("u1", model.RoleUser)
	h.Register(a)
	require.NoError(t, h.JoinGroup(a, "session:s1"))

	h.CloseGroup("session:s1")

	assert.Equal(t, 0, h.GroupSize("session:s1"))
	h.SendTo(a, model.EventSessionClosed, nil)
	assert.Equal(t, model.EventSessionClosed, drain(t, a).Type)
}

func TestStalledConnectionDropsFramesInsteadOfBlocking(t *testing.T) {
	h := NewHub(logger.NewNop())
	a := testConn("u1", model.RoleUser)
	h.Register(a)
	require.NoError(t, h.JoinGroup(a, "session:s1"))

	for i := 0; i < sendBufferSize+10; i++ {
		h.Broadcast("session:s1", model.EventTypingStart, nil)
	}

	assert.Len(t, a.send, sendBufferSize)
}

func TestDeliverLocalFansOutBridgeFrames(t *testing.T) {
	h := NewHub(logger.NewNop())
	a := testConn("u1", model.RoleUser)
	h.Register(a)
	require.NoError(t, h.JoinGroup(a, "session:s1"))

	env, err := model.NewEnvelope(model.EventMessageReceived, model.Message{ID: "m1", Text: "hi"})
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)

	h.DeliverLocal("session:s1", data)

	got := drain(t, a)
	assert.Equal(t, model.EventMessageReceived, got.Type)
}

func TestSendToAfterUnregisterIsANoop(t *testing.T) {
	h := NewHub(logger.NewNop())
	a := testConn("u1", model.RoleUser)
	h.Register(a)
	h.Unregister(a)

	// The send channel is closed; delivery must be skipped, not panic.
	h.SendTo(a, model.EventTypingStart, nil)
}

func TestBroadcastRacingUnregisterDoesNotPanic(t *testing.T) {
	h := NewHub(logger.NewNop())
	conns := make([]*Conn, 200)
	for i := range conns {
		conns[i] = testConn(fmt.Sprintf("u%d", i), model.RoleUser)
		h.Register(conns[i])
		require.NoError(t, h.JoinGroup(conns[i], "session:s1"))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.Broadcast("session:s1", model.EventTypingStart, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range conns {
			h.Unregister(c)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, h.GroupSize("session:s1"))
}

type recordingBridge struct {
	published [][]byte
	groups    []string
}

func (b *recordingBridge) Publish(group string, data []byte) error {
	b.groups = append(b.groups, group)
	b.published = append(b.published, data)
	return nil
}

func TestBroadcastForwardsToBridge(t *testing.T) {
	h := NewHub(logger.NewNop())
	bridge := &recordingBridge{}
	h.SetBridge(bridge)

	h.Broadcast("session:s1", model.EventSessionClosed, nil)

	require.Len(t, bridge.published, 1)
	assert.Equal(t, []string{"session:s1"}, bridge.groups)
	var env model.Envelope
	require.NoError(t, json.Unmarshal(bridge.published[0], &env))
	assert.Equal(t, model.EventSessionClosed, env.Type)
}
