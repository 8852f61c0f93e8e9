package server

import (
	"log"
	"time"

	"github.com/taskhive/realtime/internal/database"
	"github.com/taskhive/realtime/internal/types"
)

const (
	ActivityRoomJoined      = "room-joined"
	ActivityDocumentJoined  = "document-joined"
	ActivityDocumentSaved   = "document-saved"
	ActivityMessageSent     = "message-sent"
	ActivityParticipantLeft = "participant-left"
)

const activityCleanupInterval = 24 * time.Hour

// ActivityRecorder persists notable events and fans them out to every
// connection. Storage failures are logged and never surfaced to the
// interactive flow; an event that failed to persist is not broadcast.
type ActivityRecorder struct {
	log       *log.Logger
	db        database.Repository
	broadcast func(*ServerMessage)
	retention time.Duration
	stop      chan struct{}
	done      chan struct{}
}

func NewActivityRecorder(logger *log.Logger, db database.Repository, retention time.Duration, broadcast func(*ServerMessage)) *ActivityRecorder {
	return &ActivityRecorder{
		log:       logger,
		db:        db,
		broadcast: broadcast,
		retention: retention,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (ar *ActivityRecorder) Record(activity database.Activity) {
	saved, err := ar.db.CreateActivity(activity)
	if err != nil {
		ar.log.Println("CreateActivity:", err)
		return
	}

	ar.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Activity: &types.Activity{
			Id:        saved.Id,
			Kind:      saved.Kind,
			ActorId:   saved.AccountId,
			RoomId:    saved.RoomId,
			Message:   saved.Message,
			Data:      saved.Data,
			Timestamp: saved.CreatedAt,
		},
	})
}

// RunCleanup prunes activities older than the retention window, once
// at startup and then every 24 hours.
func (ar *ActivityRecorder) RunCleanup() {
	defer close(ar.done)

	ar.cleanup()

	ticker := time.NewTicker(activityCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ar.cleanup()
		case <-ar.stop:
			return
		}
	}
}

func (ar *ActivityRecorder) cleanup() {
	cutoff := time.Now().UTC().Add(-ar.retention)
	deleted, err := ar.db.DeleteActivitiesBefore(cutoff)
	if err != nil {
		ar.log.Println("DeleteActivitiesBefore:", err)
		return
	}

	if deleted > 0 {
		ar.log.Printf("cleaned up %d activities older than %s", deleted, ar.retention)
	}
}

func (ar *ActivityRecorder) StopCleanup() {
	close(ar.stop)
	<-ar.done
}
