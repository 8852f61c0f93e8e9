package server

import (
	"net/http"
	"time"

	"github.com/taskhive/realtime/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for every message received from a
// connection. Exactly one of the operation fields is expected to be
// set. The participant fields inside the operations are accepted for
// wire compatibility; the server always acts on the identity bound at
// upgrade time.
type ClientMessage struct {
	BaseMessage
	Identify     *Identify     `json:"identify,omitempty"`
	Join         *Join         `json:"join,omitempty"`
	Publish      *Publish      `json:"publish,omitempty"`
	Typing       *Typing       `json:"typing,omitempty"`
	JoinDocument *JoinDocument `json:"join_document,omitempty"`
	MoveCursor   *MoveCursor   `json:"move_cursor,omitempty"`
	LiveEdit     *LiveEdit     `json:"live_edit,omitempty"`
	Save         *Save         `json:"save_document,omitempty"`
	OnlineUsers  *OnlineUsers  `json:"online_users,omitempty"`
	UserId       int           `json:"-"`
	client       *Client       `json:"-"`
}

type Identify struct {
	Participant *types.Participant `json:"participant,omitempty"`
}

type Join struct {
	RoomId      string             `json:"room_id"`
	Participant *types.Participant `json:"participant,omitempty"`
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type Typing struct {
	RoomId      string             `json:"room_id"`
	IsTyping    bool               `json:"is_typing"`
	Participant *types.Participant `json:"participant,omitempty"`
}

type JoinDocument struct {
	DocumentId  string             `json:"document_id"`
	Participant *types.Participant `json:"participant,omitempty"`
}

type MoveCursor struct {
	DocumentId  string             `json:"document_id"`
	Position    int                `json:"position"`
	Participant *types.Participant `json:"participant,omitempty"`
}

type LiveEdit struct {
	DocumentId  string             `json:"document_id"`
	Content     string             `json:"content"`
	Version     int                `json:"version"`
	Participant *types.Participant `json:"participant,omitempty"`
}

type Save struct {
	DocumentId  string             `json:"document_id"`
	Content     string             `json:"content"`
	Version     int                `json:"version"`
	Participant *types.Participant `json:"participant,omitempty"`
}

type OnlineUsers struct{}

// ServerMessage is the envelope for every message sent to a
// connection. UserId targets a single participant's connections on the
// global scope; zero means every connection. SkipClient excludes the
// originating connection from a broadcast.
type ServerMessage struct {
	BaseMessage
	Response          *Response           `json:"response,omitempty"`
	RoomPresence      *RoomPresence       `json:"room_presence,omitempty"`
	TypingState       *TypingState        `json:"typing_state,omitempty"`
	Message           *types.Message      `json:"message,omitempty"`
	DocumentState     *DocumentState      `json:"document_state,omitempty"`
	ParticipantJoined *ParticipantJoined  `json:"participant_joined,omitempty"`
	ParticipantLeft   *ParticipantLeft    `json:"participant_left,omitempty"`
	CursorMoved       *CursorMoved        `json:"cursor_moved,omitempty"`
	LiveEdit          *LiveEditApplied    `json:"live_edit,omitempty"`
	SaveSucceeded     *SaveSucceeded      `json:"save_succeeded,omitempty"`
	SaveConflict      *SaveConflict       `json:"save_conflict,omitempty"`
	Activity          *types.Activity     `json:"activity,omitempty"`
	ParticipantStatus *ParticipantStatus  `json:"participant_status,omitempty"`
	OnlineUsersList   []types.Participant `json:"online_users_list,omitempty"`
	UserId            int                 `json:"-"`
	SkipClient        *Client             `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type RoomPresence struct {
	RoomId       string              `json:"room_id"`
	Participants []types.Participant `json:"participants"`
}

type TypingState struct {
	RoomId       string              `json:"room_id"`
	Participants []types.Participant `json:"participants"`
	IsTyping     bool                `json:"is_typing"`
}

type DocumentState struct {
	Document            types.Document       `json:"document"`
	Cursors             map[int]types.Cursor `json:"cursors"`
	ActiveCollaborators []types.Participant  `json:"active_collaborators"`
}

type ParticipantJoined struct {
	DocumentId  string            `json:"document_id"`
	Participant types.Participant `json:"participant"`
	Cursor      types.Cursor      `json:"cursor"`
}

type ParticipantLeft struct {
	DocumentId  string            `json:"document_id"`
	Participant types.Participant `json:"participant"`
}

type CursorMoved struct {
	DocumentId  string            `json:"document_id"`
	Participant types.Participant `json:"participant"`
	Position    int               `json:"position"`
	Color       string            `json:"color"`
}

type LiveEditApplied struct {
	DocumentId  string            `json:"document_id"`
	Content     string            `json:"content"`
	Version     int               `json:"version"`
	Participant types.Participant `json:"participant"`
}

type SaveSucceeded struct {
	DocumentId string `json:"document_id"`
	Version    int    `json:"version"`
}

type SaveConflict struct {
	DocumentId     string `json:"document_id"`
	CurrentVersion int    `json:"current_version"`
	CurrentContent string `json:"current_content"`
}

type ParticipantStatus struct {
	Participant types.Participant `json:"participant"`
	Online      bool              `json:"online"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrDocumentNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "document not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
