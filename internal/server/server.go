package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/stats"
	"github.com/taskhive/realtime/internal/types"
)

// SyncServer owns every live connection and the per-key room and
// document actors. Join requests funnel through the run loop so actor
// creation and unload are serialized; everything else happens on the
// actors' own goroutines.
type SyncServer struct {
	log            *log.Logger
	db             database.Repository
	stats          stats.StatsProvider
	activity       *ActivityRecorder
	clients        map[*Client]struct{}
	connsByUser    map[int]map[*Client]struct{}
	clientsLock    sync.Mutex
	joinRoomChan   chan *ClientMessage
	joinDocChan    chan *ClientMessage
	broadcastChan  chan *ServerMessage
	unloadRoomChan chan string
	unloadDocChan  chan string
	rooms          map[string]*Room
	documents      map[string]*Document
	stop           chan struct{}
	done           chan struct{}
}

func NewSyncServer(logger *log.Logger, db database.Repository, sp stats.StatsProvider, activityRetention time.Duration) (*SyncServer, error) {
	ss := &SyncServer{
		log:            logger,
		db:             db,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		connsByUser:    make(map[int]map[*Client]struct{}),
		joinRoomChan:   make(chan *ClientMessage, 256),
		joinDocChan:    make(chan *ClientMessage, 256),
		broadcastChan:  make(chan *ServerMessage, 512),
		unloadRoomChan: make(chan string, 64),
		unloadDocChan:  make(chan string, 64),
		rooms:          make(map[string]*Room),
		documents:      make(map[string]*Document),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, metric := range []string{
		"ActiveConnections",
		"ActiveRooms",
		"ActiveDocuments",
		"DocumentSaves",
		"SaveConflicts",
		"MessagesSent",
	} {
		sp.RegisterMetric(metric)
	}

	ss.activity = NewActivityRecorder(logger, db, activityRetention, ss.queueBroadcast)

	return ss, nil
}

func (ss *SyncServer) Run() {
	go ss.activity.RunCleanup()

	for {
		select {
		case msg := <-ss.joinRoomChan:
			ss.handleRoomJoin(msg)
		case msg := <-ss.joinDocChan:
			ss.handleDocumentJoin(msg)
		case msg := <-ss.broadcastChan:
			ss.broadcastGlobal(msg)
		case id := <-ss.unloadRoomChan:
			ss.unloadRoom(id)
		case id := <-ss.unloadDocChan:
			ss.unloadDocument(id)
		case <-ss.stop:
			ss.log.Println("shutting down rooms and documents")
			for _, r := range ss.rooms {
				close(r.exit)
				<-r.done
			}
			for _, d := range ss.documents {
				close(d.exit)
				<-d.done
			}

			ss.activity.StopCleanup()
			close(ss.done)
			return
		}
	}
}

func (ss *SyncServer) handleRoomJoin(msg *ClientMessage) {
	room, ok := ss.rooms[msg.Join.RoomId]
	if !ok {
		// any non-empty identifier names a room; it exists once
		// someone is in it
		room = newRoom(msg.Join.RoomId, ss)
		ss.rooms[room.id] = room
		go room.start()
		ss.stats.Incr("ActiveRooms")
	}

	select {
	case room.joinChan <- msg:
	default:
		ss.log.Printf("join channel full on room %q", room.id)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (ss *SyncServer) handleDocumentJoin(msg *ClientMessage) {
	doc, ok := ss.documents[msg.JoinDocument.DocumentId]
	if !ok {
		dbDoc, err := ss.db.GetDocumentByExternalId(msg.JoinDocument.DocumentId)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				msg.client.queueMessage(ErrDocumentNotFound(msg.Id))
			} else {
				ss.log.Println("GetDocumentByExternalId:", err)
				msg.client.queueMessage(ErrInternalError(msg.Id))
			}
			return
		}

		doc = newDocument(dbDoc, ss)

		// restore the persisted cursor baseline so a reload shows
		// collaborators where they left off
		cursors, err := ss.db.GetCursors(dbDoc.Id)
		if err != nil {
			ss.log.Println("GetCursors:", err)
		} else {
			doc.seedCursors(cursors)
		}

		ss.documents[doc.externalId] = doc
		go doc.start()
		ss.stats.Incr("ActiveDocuments")
	}

	select {
	case doc.joinChan <- msg:
	default:
		ss.log.Printf("join channel full on document %q", doc.externalId)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (ss *SyncServer) unloadRoom(id string) {
	r, ok := ss.rooms[id]
	if !ok {
		return
	}

	ss.log.Printf("unloading room %q", id)
	delete(ss.rooms, id)
	close(r.exit)
	<-r.done
	ss.stats.Decr("ActiveRooms")
}

func (ss *SyncServer) unloadDocument(id string) {
	d, ok := ss.documents[id]
	if !ok {
		return
	}

	ss.log.Printf("unloading document %q", id)
	delete(ss.documents, id)
	close(d.exit)
	<-d.done
	ss.stats.Decr("ActiveDocuments")
}

func (ss *SyncServer) RegisterClient(c *Client) {
	ss.clientsLock.Lock()
	ss.clients[c] = struct{}{}
	ss.clientsLock.Unlock()

	ss.stats.Incr("ActiveConnections")
	ss.log.Printf("added connection %q for %q", c.id, c.participant.Name)
}

// IdentifyClient marks the connection's participant online. The first
// identified connection flips the durable online flag and announces the
// participant globally; subsequent tabs are bookkeeping only.
func (ss *SyncServer) IdentifyClient(c *Client) {
	ss.clientsLock.Lock()
	if _, ok := ss.clients[c]; !ok {
		ss.clientsLock.Unlock()
		return
	}
	if c.identified {
		ss.clientsLock.Unlock()
		return
	}
	c.identified = true

	first := len(ss.connsByUser[c.participant.Id]) == 0
	if ss.connsByUser[c.participant.Id] == nil {
		ss.connsByUser[c.participant.Id] = make(map[*Client]struct{})
	}
	ss.connsByUser[c.participant.Id][c] = struct{}{}
	ss.clientsLock.Unlock()

	if !first {
		return
	}

	if err := ss.db.SetAccountOnline(c.participant.Id, true); err != nil {
		ss.log.Println("SetAccountOnline:", err)
	}

	ss.queueBroadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		ParticipantStatus: &ParticipantStatus{
			Participant: c.participant.Summary(),
			Online:      true,
		},
	})
	ss.pushOnlineUsers()
}

func (ss *SyncServer) DeregisterClient(c *Client) {
	ss.clientsLock.Lock()
	if _, ok := ss.clients[c]; !ok {
		ss.clientsLock.Unlock()
		return
	}
	delete(ss.clients, c)

	last := false
	if c.identified {
		set := ss.connsByUser[c.participant.Id]
		delete(set, c)
		if len(set) == 0 {
			delete(ss.connsByUser, c.participant.Id)
			last = true
		}
	}
	ss.clientsLock.Unlock()

	ss.stats.Decr("ActiveConnections")
	ss.log.Printf("removed connection %q for %q", c.id, c.participant.Name)

	if !last {
		return
	}

	if err := ss.db.SetAccountOnline(c.participant.Id, false); err != nil {
		ss.log.Println("SetAccountOnline:", err)
	}

	ss.queueBroadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		ParticipantStatus: &ParticipantStatus{
			Participant: c.participant.Summary(),
			Online:      false,
		},
	})
	ss.pushOnlineUsers()
}

func (ss *SyncServer) sendOnlineUsers(c *Client, msgId int) {
	accounts, err := ss.db.ListOnlineAccounts()
	if err != nil {
		ss.log.Println("ListOnlineAccounts:", err)
		c.queueMessage(ErrInternalError(msgId))
		return
	}

	c.queueMessage(&ServerMessage{
		BaseMessage:     BaseMessage{Id: msgId, Timestamp: Now()},
		OnlineUsersList: onlineParticipants(accounts),
	})
}

func (ss *SyncServer) pushOnlineUsers() {
	accounts, err := ss.db.ListOnlineAccounts()
	if err != nil {
		ss.log.Println("ListOnlineAccounts:", err)
		return
	}

	ss.queueBroadcast(&ServerMessage{
		BaseMessage:     BaseMessage{Timestamp: Now()},
		OnlineUsersList: onlineParticipants(accounts),
	})
}

func onlineParticipants(accounts []database.Account) []types.Participant {
	participants := make([]types.Participant, 0, len(accounts))
	for _, a := range accounts {
		participants = append(participants, types.Participant{
			Id:         a.Id,
			Name:       a.Username,
			Role:       a.Role,
			Online:     a.Online,
			LastActive: a.LastActive,
		})
	}
	return participants
}

// queueBroadcast hands a message to the run loop for global fan-out.
// Delivery is best-effort; if the loop is saturated the message is
// dropped rather than blocking an actor.
func (ss *SyncServer) queueBroadcast(msg *ServerMessage) {
	select {
	case ss.broadcastChan <- msg:
	default:
		ss.log.Println("broadcast channel full, dropping message")
	}
}

func (ss *SyncServer) broadcastGlobal(msg *ServerMessage) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()

	for c := range ss.clients {
		if c == msg.SkipClient {
			continue
		}
		if msg.UserId != 0 && c.participant.Id != msg.UserId {
			continue
		}

		c.queueMessage(msg)
	}
}

func (ss *SyncServer) Shutdown(ctx context.Context) error {
	ss.log.Println("received shutdown signal")

	ss.clientsLock.Lock()
	for c := range ss.clients {
		c.stopClient()
	}
	ss.clientsLock.Unlock()

	close(ss.stop)

	select {
	case <-ss.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
