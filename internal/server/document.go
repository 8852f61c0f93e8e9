package server

import (
	"database/sql"
	"errors"
	"log"
	"math/rand/v2"
	"time"

	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/types"
)

const idleDocumentTimeout = time.Second * 5

// cursorPalette holds the colors assigned to collaborator cursors.
// Collisions between participants are acceptable; the colors only need
// to be readable.
var cursorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

func randomCursorColor() string {
	return cursorPalette[rand.IntN(len(cursorPalette))]
}

// Document tracks the live editing session for one document: who is
// connected, where their cursors are, and the durable save path. All
// mutations run on the document's goroutine, which also serializes
// save attempts within this process; the conditional update in the
// store closes the race across processes.
type Document struct {
	id            int
	externalId    string
	name          string
	srv           *SyncServer
	joinChan      chan *ClientMessage
	leaveChan     chan *Client
	clientMsgChan chan *ClientMessage
	presence      map[*Client]types.Participant
	// cursors is keyed by participant, not connection: two tabs of
	// the same participant share one cursor
	cursors   map[int]*types.Cursor
	log       *log.Logger
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newDocument(dbDoc database.Document, srv *SyncServer) *Document {
	return &Document{
		id:            dbDoc.Id,
		externalId:    dbDoc.ExternalId,
		name:          dbDoc.Name,
		srv:           srv,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *Client, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		presence:      make(map[*Client]types.Participant),
		cursors:       make(map[int]*types.Cursor),
		log:           srv.log,
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// seedCursors loads the persisted cursor baseline into the live map.
// Called before the actor goroutine starts.
func (d *Document) seedCursors(cursors []database.Cursor) {
	for _, c := range cursors {
		d.cursors[c.AccountId] = &types.Cursor{
			Position:     c.Position,
			Name:         c.Name,
			Color:        c.Color,
			LastActivity: c.UpdatedAt,
		}
	}
}

func (d *Document) start() {
	d.log.Printf("starting document %q", d.externalId)
	d.killTimer = time.NewTimer(idleDocumentTimeout)
	d.killTimer.Stop()

	for {
		select {
		case join := <-d.joinChan:
			d.handleJoin(join)
		case client := <-d.leaveChan:
			d.handleLeave(client)
		case msg := <-d.clientMsgChan:
			switch {
			case msg.MoveCursor != nil:
				d.handleCursorMove(msg)
			case msg.LiveEdit != nil:
				d.handleLiveEdit(msg)
			case msg.Save != nil:
				d.handleSave(msg)
			}
		case <-d.killTimer.C:
			d.handleDocumentTimeout()
		case <-d.exit:
			d.handleDocumentExit()
			return
		}
	}
}

// leave blocks until the actor accepts the signal; dropping it would
// strand the connection in the presence list. The actor always drains
// leaveChan, so this only waits when the document is exiting.
func (d *Document) leave(c *Client) {
	select {
	case d.leaveChan <- c:
	case <-d.done:
	}
}

func (d *Document) handleJoin(join *ClientMessage) {
	c := join.client

	// the connection may have disconnected while the join sat queued;
	// admitting it now would leave a ghost in the presence list
	select {
	case <-c.stop:
		if len(d.presence) == 0 {
			d.killTimer.Reset(idleDocumentTimeout)
		}
		return
	default:
	}

	d.killTimer.Stop()

	p := c.participant

	// duplicate join signals happen on reconnect races; the second
	// one is a no-op
	if existing, ok := d.presence[c]; ok && existing.Id == p.Id {
		d.log.Printf("connection %q already in document %q", c.id, d.externalId)
		return
	}

	d.presence[c] = p
	c.setDocument(d)

	cursor, ok := d.cursors[p.Id]
	if !ok {
		cursor = &types.Cursor{
			Position:     0,
			Name:         p.Name,
			Color:        randomCursorColor(),
			LastActivity: Now(),
		}
		d.cursors[p.Id] = cursor
	}

	// persist the collaborator list and cursor baseline so a reload
	// shows the same collaborators; the live session continues even
	// if the write fails
	if err := d.srv.db.AddCollaborator(d.id, p.Id); err != nil {
		d.log.Println("AddCollaborator:", err)
	}
	if err := d.srv.db.UpsertCursor(database.Cursor{
		DocumentId: d.id,
		AccountId:  p.Id,
		Position:   cursor.Position,
		Name:       cursor.Name,
		Color:      cursor.Color,
	}); err != nil {
		d.log.Println("UpsertCursor:", err)
	}

	dbDoc, err := d.srv.db.GetDocumentByExternalId(d.externalId)
	if err != nil {
		d.log.Println("GetDocumentByExternalId:", err)
		c.queueMessage(ErrInternalError(join.Id))
		return
	}

	collaborators, err := d.srv.db.GetCollaborators(d.id)
	if err != nil {
		d.log.Println("GetCollaborators:", err)
	}

	// the joining connection gets the authoritative state; everyone
	// else just learns about the new participant
	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        join.Id,
			Timestamp: Now(),
		},
		DocumentState: &DocumentState{
			Document:            documentInfo(dbDoc, collaborators),
			Cursors:             d.cursorSnapshot(),
			ActiveCollaborators: d.participants(),
		},
	})

	d.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		ParticipantJoined: &ParticipantJoined{
			DocumentId:  d.externalId,
			Participant: p,
			Cursor:      *cursor,
		},
		SkipClient: c,
	})

	d.srv.activity.Record(database.Activity{
		Kind:      ActivityDocumentJoined,
		AccountId: p.Id,
		RoomId:    d.externalId,
		Message:   p.Name + " started editing " + d.name,
		Data:      map[string]any{"document_id": d.externalId, "document_name": d.name},
	})
}

func (d *Document) handleLeave(c *Client) {
	p, ok := d.presence[c]
	if !ok {
		return
	}

	d.log.Printf("removing connection %q from document %q", c.id, d.externalId)
	delete(d.presence, c)

	// the cursor survives as long as any of the participant's other
	// connections remains in the document
	if !d.participantPresent(p.Id) {
		delete(d.cursors, p.Id)
		d.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			ParticipantLeft: &ParticipantLeft{
				DocumentId:  d.externalId,
				Participant: p,
			},
		})
	}

	if len(d.presence) == 0 {
		d.log.Printf("no connections in document %q, starting kill timer", d.externalId)
		d.killTimer.Reset(idleDocumentTimeout)
	}
}

func (d *Document) handleCursorMove(msg *ClientMessage) {
	c := msg.client
	cursor, ok := d.cursors[c.participant.Id]
	if !ok {
		return
	}

	// position is an offset into the document, never negative
	position := msg.MoveCursor.Position
	if position < 0 {
		position = 0
	}

	cursor.Position = position
	cursor.LastActivity = Now()

	d.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		CursorMoved: &CursorMoved{
			DocumentId:  d.externalId,
			Participant: c.participant,
			Position:    cursor.Position,
			Color:       cursor.Color,
		},
		SkipClient: c,
	})
}

// handleLiveEdit is the low-latency propagation path: the raw edit is
// fanned out with no version check and nothing is persisted. The
// durable save path is handleSave.
func (d *Document) handleLiveEdit(msg *ClientMessage) {
	c := msg.client

	d.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		LiveEdit: &LiveEditApplied{
			DocumentId:  d.externalId,
			Content:     msg.LiveEdit.Content,
			Version:     msg.LiveEdit.Version,
			Participant: c.participant,
		},
		SkipClient: c,
	})

	if cursor, ok := d.cursors[c.participant.Id]; ok {
		cursor.LastActivity = Now()
	}
}

func (d *Document) handleSave(msg *ClientMessage) {
	c := msg.client

	newVersion, err := d.srv.db.SaveDocumentContent(d.id, msg.Save.Content, msg.Save.Version, c.participant.Id)
	switch {
	case errors.Is(err, database.ErrVersionConflict):
		d.srv.stats.Incr("SaveConflicts")
		dbDoc, err := d.srv.db.GetDocumentByExternalId(d.externalId)
		if err != nil {
			d.log.Println("GetDocumentByExternalId:", err)
			c.queueMessage(ErrInternalError(msg.Id))
			return
		}

		// conflicts go to the requester only so it can rebase; no
		// automatic merge
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{
				Id:        msg.Id,
				Timestamp: Now(),
			},
			SaveConflict: &SaveConflict{
				DocumentId:     d.externalId,
				CurrentVersion: dbDoc.Version,
				CurrentContent: dbDoc.Content,
			},
		})
	case errors.Is(err, sql.ErrNoRows):
		c.queueMessage(ErrDocumentNotFound(msg.Id))
	case err != nil:
		d.log.Println("SaveDocumentContent:", err)
		c.queueMessage(ErrInternalError(msg.Id))
	default:
		d.srv.stats.Incr("DocumentSaves")
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{
				Id:        msg.Id,
				Timestamp: Now(),
			},
			SaveSucceeded: &SaveSucceeded{
				DocumentId: d.externalId,
				Version:    newVersion,
			},
		})

		d.srv.activity.Record(database.Activity{
			Kind:      ActivityDocumentSaved,
			AccountId: c.participant.Id,
			RoomId:    d.externalId,
			Message:   c.participant.Name + " saved changes to " + d.name,
			Data:      map[string]any{"document_id": d.externalId, "document_name": d.name, "version": newVersion},
		})
	}
}

func (d *Document) handleDocumentTimeout() {
	d.log.Printf("document %q timed out", d.externalId)
	select {
	case d.srv.unloadDocChan <- d.externalId:
	default:
		d.killTimer.Reset(idleDocumentTimeout)
	}
}

func (d *Document) handleDocumentExit() {
	d.log.Printf("document %q is exiting", d.externalId)
	for c := range d.presence {
		c.setDocument(nil)
	}

	close(d.done)
}

func (d *Document) participantPresent(participantId int) bool {
	for _, p := range d.presence {
		if p.Id == participantId {
			return true
		}
	}
	return false
}

func (d *Document) participants() []types.Participant {
	participants := make([]types.Participant, 0, len(d.presence))
	for _, p := range d.presence {
		participants = append(participants, p)
	}
	return participants
}

func (d *Document) cursorSnapshot() map[int]types.Cursor {
	cursors := make(map[int]types.Cursor, len(d.cursors))
	for id, cursor := range d.cursors {
		cursors[id] = *cursor
	}
	return cursors
}

func (d *Document) broadcast(msg *ServerMessage) {
	for client := range d.presence {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}

func documentInfo(dbDoc database.Document, collaborators []database.Collaborator) types.Document {
	doc := types.Document{
		Id:             dbDoc.Id,
		ExternalId:     dbDoc.ExternalId,
		Name:           dbDoc.Name,
		RoomId:         dbDoc.RoomId,
		Content:        dbDoc.Content,
		Version:        dbDoc.Version,
		LastModifiedBy: dbDoc.LastModifiedBy,
		CreatedAt:      dbDoc.CreatedAt,
		UpdatedAt:      dbDoc.UpdatedAt,
	}

	for _, collab := range collaborators {
		doc.Collaborators = append(doc.Collaborators, types.Collaborator{
			Participant: types.Participant{
				Id:   collab.AccountId,
				Name: collab.Username,
			},
			JoinedAt:     collab.JoinedAt,
			LastActivity: collab.LastActivity,
		})
	}

	return doc
}
