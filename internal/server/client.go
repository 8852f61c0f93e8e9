package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/stats"
	"github.com/taskhive/realtime/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client represents one live websocket connection. A participant may
// hold several simultaneously (one per tab); each gets its own
// connection id.
type Client struct {
	id          string
	conn        *websocket.Conn
	syncServer  *SyncServer
	log         *log.Logger
	stats       stats.StatsProvider
	participant types.Participant
	send        chan *ServerMessage
	room        *Room
	document    *Document
	scopeLock   sync.RWMutex
	// identified is owned by the SyncServer and guarded by its
	// clientsLock
	identified bool
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(connId string, participant types.Participant, conn *websocket.Conn, ss *SyncServer, l *log.Logger, sp stats.StatsProvider) *Client {
	return &Client{
		id:          connId,
		conn:        conn,
		syncServer:  ss,
		log:         l,
		stats:       sp,
		participant: participant,
		send:        make(chan *ServerMessage, 256),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write exiting for connection %q", c.id)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read exiting for connection %q", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.participant.Id
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Identify != nil:
		c.syncServer.IdentifyClient(c)
	case msg.Join != nil:
		if msg.Join.RoomId == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		c.joinRoom(msg)
	case msg.Typing != nil:
		c.forwardToRoom(msg, msg.Typing.RoomId)
	case msg.Publish != nil:
		c.forwardToRoom(msg, msg.Publish.RoomId)
	case msg.JoinDocument != nil:
		if msg.JoinDocument.DocumentId == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		c.joinDocument(msg)
	case msg.MoveCursor != nil:
		c.forwardToDocument(msg, msg.MoveCursor.DocumentId)
	case msg.LiveEdit != nil:
		c.forwardToDocument(msg, msg.LiveEdit.DocumentId)
	case msg.Save != nil:
		c.forwardToDocument(msg, msg.Save.DocumentId)
	case msg.OnlineUsers != nil:
		c.syncServer.sendOnlineUsers(c, msg.Id)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	// a connection holds one room at a time; switching rooms leaves
	// the previous one first
	if r := c.getRoom(); r != nil && r.id != msg.Join.RoomId {
		r.leave(c)
		c.setRoom(nil)
	}

	select {
	case c.syncServer.joinRoomChan <- msg:
	default:
		c.log.Printf("joinRoomChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) joinDocument(msg *ClientMessage) {
	// joining a new document evicts this connection from its previous
	// one before the new membership is registered
	if doc := c.getDocument(); doc != nil && doc.externalId != msg.JoinDocument.DocumentId {
		doc.leave(c)
		c.setDocument(nil)
	}

	select {
	case c.syncServer.joinDocChan <- msg:
	default:
		c.log.Printf("joinDocChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) forwardToRoom(msg *ClientMessage, roomId string) {
	if roomId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	r := c.getRoom()
	if r == nil || r.id != roomId {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.clientMsgChan <- msg:
	default:
		c.log.Printf("clientMsgChan full for room %q", r.id)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) forwardToDocument(msg *ClientMessage, documentId string) {
	if documentId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	d := c.getDocument()
	if d == nil || d.externalId != documentId {
		c.queueMessage(ErrDocumentNotFound(msg.Id))
		return
	}

	select {
	case d.clientMsgChan <- msg:
	default:
		c.log.Printf("clientMsgChan full for document %q", d.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// leaveScopes detaches the connection from its current room and
// document, returning the room id and whether any scope was held.
func (c *Client) leaveScopes() (string, bool) {
	var roomId string
	had := false

	if r := c.getRoom(); r != nil {
		roomId = r.id
		had = true
		r.leave(c)
		c.setRoom(nil)
	}

	if d := c.getDocument(); d != nil {
		had = true
		d.leave(c)
		c.setDocument(nil)
	}

	return roomId, had
}

// cleanup undoes every piece of bookkeeping derived from this
// connection. Each step is independent; a failure in one never skips
// the rest.
func (c *Client) cleanup() {
	// stop first so actors refuse any of this connection's joins still
	// sitting in their queues
	c.stopClient()

	roomId, hadScope := c.leaveScopes()

	c.syncServer.DeregisterClient(c)

	// a join racing with the shutdown may have attached a scope after
	// the first pass
	if id, had := c.leaveScopes(); had {
		hadScope = true
		if roomId == "" {
			roomId = id
		}
	}

	if !hadScope {
		return
	}

	c.syncServer.activity.Record(database.Activity{
		Kind:      ActivityParticipantLeft,
		AccountId: c.participant.Id,
		RoomId:    roomId,
		Message:   c.participant.Name + " left",
		Data:      map[string]any{"room": roomId},
	})
}

func (c *Client) setRoom(r *Room) {
	c.scopeLock.Lock()
	defer c.scopeLock.Unlock()
	c.room = r
}

func (c *Client) getRoom() *Room {
	c.scopeLock.RLock()
	defer c.scopeLock.RUnlock()
	return c.room
}

func (c *Client) setDocument(d *Document) {
	c.scopeLock.Lock()
	defer c.scopeLock.Unlock()
	c.document = d
}

func (c *Client) getDocument() *Document {
	c.scopeLock.RLock()
	defer c.scopeLock.RUnlock()
	return c.document
}
