package server

import (
	"log"
	"time"

	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/types"
)

const idleRoomTimeout = time.Second * 5

const messagePreviewLen = 50

// Room tracks the live membership of one room scope. All mutations go
// through the room's goroutine, so presence and typing state are
// serialized per room without a global lock.
type Room struct {
	id            string
	srv           *SyncServer
	joinChan      chan *ClientMessage
	leaveChan     chan *Client
	clientMsgChan chan *ClientMessage
	// presence is keyed by connection, not participant: the same
	// human appears once per open tab
	presence map[*Client]types.Participant
	typing   map[*Client]types.Participant
	log      *log.Logger
	// killTimer unloads the room once the last connection leaves
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newRoom(id string, srv *SyncServer) *Room {
	return &Room{
		id:            id,
		srv:           srv,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *Client, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		presence:      make(map[*Client]types.Participant),
		typing:        make(map[*Client]types.Participant),
		log:           srv.log,
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case client := <-r.leaveChan:
			r.handleLeave(client)
		case msg := <-r.clientMsgChan:
			if msg.Publish != nil {
				r.handlePublish(msg)
			} else if msg.Typing != nil {
				r.handleTyping(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

// leave blocks until the actor accepts the signal; dropping it would
// strand the connection in the presence list. The actor always drains
// leaveChan, so this only waits when the room is exiting.
func (r *Room) leave(c *Client) {
	select {
	case r.leaveChan <- c:
	case <-r.done:
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	c := join.client

	// the connection may have disconnected while the join sat queued;
	// admitting it now would leave a ghost in the presence list
	select {
	case <-c.stop:
		if len(r.presence) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	default:
	}

	r.killTimer.Stop()

	r.presence[c] = c.participant
	c.setRoom(r)

	c.queueMessage(NoErrOK(join.Id, nil))

	// everyone in the room, the joiner included, gets the full
	// refreshed membership list
	r.broadcastPresence()

	r.srv.activity.Record(database.Activity{
		Kind:      ActivityRoomJoined,
		AccountId: c.participant.Id,
		RoomId:    r.id,
		Message:   c.participant.Name + " joined the room",
		Data:      map[string]any{"room": r.id},
	})
}

func (r *Room) handleLeave(c *Client) {
	if _, ok := r.presence[c]; !ok {
		return
	}

	r.log.Printf("removing connection %q from room %q", c.id, r.id)
	delete(r.presence, c)
	r.broadcastPresence()

	if _, ok := r.typing[c]; ok {
		delete(r.typing, c)
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			TypingState: &TypingState{
				RoomId:       r.id,
				Participants: r.typingParticipants(),
				IsTyping:     false,
			},
			SkipClient: c,
		})
	}

	if len(r.presence) == 0 {
		r.log.Printf("no connections in room %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleTyping(msg *ClientMessage) {
	c := msg.client
	if msg.Typing.IsTyping {
		r.typing[c] = c.participant
	} else {
		delete(r.typing, c)
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		TypingState: &TypingState{
			RoomId:       r.id,
			Participants: r.typingParticipants(),
			IsTyping:     msg.Typing.IsTyping,
		},
		SkipClient: c,
	})
}

func (r *Room) handlePublish(msg *ClientMessage) {
	c := msg.client
	saved, err := r.srv.db.CreateMessage(database.Message{
		RoomId:    r.id,
		AccountId: c.participant.Id,
		Content:   msg.Publish.Content,
	})
	if err != nil {
		r.log.Println("error saving message:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.srv.stats.Incr("MessagesSent")

	// the sender receives the broadcast too, carrying the saved id
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: msg.Timestamp,
		},
		Message: &types.Message{
			Id:        saved.Id,
			RoomId:    r.id,
			UserId:    c.participant.Id,
			Username:  c.participant.Name,
			Content:   msg.Publish.Content,
			Timestamp: saved.CreatedAt,
		},
	})

	preview := msg.Publish.Content
	if len(preview) > messagePreviewLen {
		preview = preview[:messagePreviewLen]
	}
	r.srv.activity.Record(database.Activity{
		Kind:      ActivityMessageSent,
		AccountId: c.participant.Id,
		RoomId:    r.id,
		Message:   c.participant.Name + " sent a message",
		Data:      map[string]any{"message_id": saved.Id, "preview": preview},
	})
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.id)
	select {
	case r.srv.unloadRoomChan <- r.id:
	default:
		// server busy, try again on the next idle period
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.id)
	for c := range r.presence {
		c.setRoom(nil)
	}

	close(r.done)
}

func (r *Room) participants() []types.Participant {
	participants := make([]types.Participant, 0, len(r.presence))
	for _, p := range r.presence {
		participants = append(participants, p)
	}
	return participants
}

func (r *Room) typingParticipants() []types.Participant {
	participants := make([]types.Participant, 0, len(r.typing))
	for _, p := range r.typing {
		participants = append(participants, p)
	}
	return participants
}

func (r *Room) broadcastPresence() {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		RoomPresence: &RoomPresence{
			RoomId:       r.id,
			Participants: r.participants(),
		},
	})
}

func (r *Room) broadcast(msg *ServerMessage) {
	for client := range r.presence {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
