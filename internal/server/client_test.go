package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/stats"
	"github.com/taskhive/realtime/internal/testutil"
	"github.com/taskhive/realtime/internal/types"
)

func Test_dispatch(t *testing.T) {
	ss := newTestSyncServer(t, &database.MockRealtimeRepository{}, &stats.MockStatsUpdater{})

	t.Run("empty envelope is rejected", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})

		c.dispatch(&ClientMessage{BaseMessage: BaseMessage{Id: 3}})

		msg := <-c.send
		require.NotNil(t, msg.Response)
		assert.Equal(t, 400, msg.Response.ResponseCode)
		assert.Equal(t, 3, msg.Id)
	})

	t.Run("join without a room id is rejected", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})

		c.dispatch(&ClientMessage{Join: &Join{}})

		msg := <-c.send
		require.NotNil(t, msg.Response)
		assert.Equal(t, 400, msg.Response.ResponseCode)
	})

	t.Run("join document without a document id is rejected", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})

		c.dispatch(&ClientMessage{JoinDocument: &JoinDocument{}})

		msg := <-c.send
		require.NotNil(t, msg.Response)
		assert.Equal(t, 400, msg.Response.ResponseCode)
	})

	t.Run("join is forwarded to the server", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})

		join := &ClientMessage{Join: &Join{RoomId: "room-1"}}
		c.dispatch(join)

		select {
		case got := <-ss.joinRoomChan:
			assert.Equal(t, join, got)
		default:
			t.Error("expected join on joinRoomChan")
		}
	})
}

func Test_forwardToRoom(t *testing.T) {
	ss := newTestSyncServer(t, &database.MockRealtimeRepository{}, &stats.MockStatsUpdater{})

	t.Run("not in any room", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})

		c.dispatch(&ClientMessage{Publish: &Publish{RoomId: "room-1", Content: "hi"}})

		msg := <-c.send
		require.NotNil(t, msg.Response)
		assert.Equal(t, 404, msg.Response.ResponseCode)
	})

	t.Run("room id does not match membership", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})
		c.setRoom(newTestRoom(t, "room-1", ss))

		c.dispatch(&ClientMessage{Typing: &Typing{RoomId: "room-2", IsTyping: true}})

		msg := <-c.send
		require.NotNil(t, msg.Response)
		assert.Equal(t, 404, msg.Response.ResponseCode)
	})

	t.Run("member forwards to the room actor", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})
		r := newTestRoom(t, "room-1", ss)
		c.setRoom(r)

		publish := &ClientMessage{Publish: &Publish{RoomId: "room-1", Content: "hi"}}
		c.dispatch(publish)

		select {
		case got := <-r.clientMsgChan:
			assert.Equal(t, publish, got)
		default:
			t.Error("expected message on the room's channel")
		}
		assert.Len(t, c.send, 0, "expected no error reply")
	})
}

func Test_forwardToDocument(t *testing.T) {
	ss := newTestSyncServer(t, &database.MockRealtimeRepository{}, &stats.MockStatsUpdater{})

	t.Run("not in any document", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})

		c.dispatch(&ClientMessage{MoveCursor: &MoveCursor{DocumentId: "doc-1", Position: 3}})

		msg := <-c.send
		require.NotNil(t, msg.Response)
		assert.Equal(t, 404, msg.Response.ResponseCode)
	})

	t.Run("document id does not match membership", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})
		c.setDocument(newTestDocument(t, ss))

		c.dispatch(&ClientMessage{Save: &Save{DocumentId: "doc-other", Content: "x", Version: 1}})

		msg := <-c.send
		require.NotNil(t, msg.Response)
		assert.Equal(t, 404, msg.Response.ResponseCode)
	})

	t.Run("member forwards to the document actor", func(t *testing.T) {
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})
		d := newTestDocument(t, ss)
		c.setDocument(d)

		edit := &ClientMessage{LiveEdit: &LiveEdit{DocumentId: "doc-1", Content: "x", Version: 1}}
		c.dispatch(edit)

		select {
		case got := <-d.clientMsgChan:
			assert.Equal(t, edit, got)
		default:
			t.Error("expected message on the document's channel")
		}
	})
}

func Test_joinDocument_leavesPreviousDocument(t *testing.T) {
	ss := newTestSyncServer(t, &database.MockRealtimeRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})
	previous := newTestDocument(t, ss)
	c.setDocument(previous)

	c.joinDocument(&ClientMessage{JoinDocument: &JoinDocument{DocumentId: "doc-2"}, client: c})

	select {
	case left := <-previous.leaveChan:
		assert.Equal(t, c, left, "expected leave signal for the previous document")
	default:
		t.Error("expected leave signal for the previous document")
	}
	assert.Nil(t, c.getDocument(), "expected document membership cleared")
	assert.Len(t, ss.joinDocChan, 1, "expected join forwarded to the server")
}

func Test_joinDocument_sameDocumentDoesNotLeave(t *testing.T) {
	ss := newTestSyncServer(t, &database.MockRealtimeRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})
	current := newTestDocument(t, ss)
	c.setDocument(current)

	c.joinDocument(&ClientMessage{JoinDocument: &JoinDocument{DocumentId: "doc-1"}, client: c})

	assert.Len(t, current.leaveChan, 0, "expected no leave signal")
	assert.Equal(t, current, c.getDocument())
}

func Test_joinRoom_leavesPreviousRoom(t *testing.T) {
	ss := newTestSyncServer(t, &database.MockRealtimeRepository{}, &stats.MockStatsUpdater{})
	c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})
	previous := newTestRoom(t, "room-1", ss)
	c.setRoom(previous)

	c.joinRoom(&ClientMessage{Join: &Join{RoomId: "room-2"}, client: c})

	select {
	case left := <-previous.leaveChan:
		assert.Equal(t, c, left, "expected leave signal for the previous room")
	default:
		t.Error("expected leave signal for the previous room")
	}
	assert.Nil(t, c.getRoom(), "expected room membership cleared")
	assert.Len(t, ss.joinRoomChan, 1, "expected join forwarded to the server")
}

func Test_queueMessage(t *testing.T) {
	t.Run("queued while there is room", func(t *testing.T) {
		c := &Client{
			id:   "conn-test",
			log:  testutil.TestLogger(t),
			send: make(chan *ServerMessage, 1),
		}

		assert.True(t, c.queueMessage(&ServerMessage{}))
	})

	t.Run("dropped when the channel is full", func(t *testing.T) {
		c := &Client{
			id:   "conn-test",
			log:  testutil.TestLogger(t),
			send: make(chan *ServerMessage, 1),
		}
		c.send <- &ServerMessage{}

		assert.False(t, c.queueMessage(&ServerMessage{}), "expected message dropped")
	})
}

func Test_cleanup(t *testing.T) {
	t.Run("no activity for a connection that never joined a scope", func(t *testing.T) {
		db := &database.MockRealtimeRepository{}
		ss := newTestSyncServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})

		c.cleanup()

		db.AssertNotCalled(t, "CreateActivity", mock.Anything)
	})

	t.Run("records the departure with the room id", func(t *testing.T) {
		db := &database.MockRealtimeRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateActivity", mock.MatchedBy(func(a database.Activity) bool {
			return a.Kind == ActivityParticipantLeft && a.RoomId == "room-1" && a.AccountId == 1
		})).Return(database.Activity{Id: 1}, nil).Once()

		ss := newTestSyncServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})
		r := newTestRoom(t, "room-1", ss)
		c.setRoom(r)

		c.cleanup()

		assert.Nil(t, c.getRoom(), "expected room membership cleared")
		select {
		case got := <-r.leaveChan:
			assert.Equal(t, c, got, "expected leave signal for the room")
		default:
			t.Error("expected leave signal for the room")
		}
	})

	t.Run("stops the connection before detaching", func(t *testing.T) {
		db := &database.MockRealtimeRepository{}
		ss := newTestSyncServer(t, db, &stats.MockStatsUpdater{})
		c := newTestClient(t, ss, types.Participant{Id: 1, Name: "alice"})

		c.cleanup()

		select {
		case <-c.stop:
		default:
			t.Error("expected stop channel closed")
		}
	})
}
