package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhive/realtime/internal/types"
)

func TestClientMessage_decode(t *testing.T) {
	raw := []byte(`{
		"id": 4,
		"save_document": {"document_id": "doc-1", "content": "hello", "version": 3}
	}`)

	var msg ClientMessage
	require.NoError(t, json.Unmarshal(raw, &msg))

	require.NotNil(t, msg.Save)
	assert.Equal(t, 4, msg.Id)
	assert.Equal(t, "doc-1", msg.Save.DocumentId)
	assert.Equal(t, "hello", msg.Save.Content)
	assert.Equal(t, 3, msg.Save.Version)
	assert.Nil(t, msg.Join, "expected only the save operation set")
}

func TestServerMessage_encode(t *testing.T) {
	t.Run("unset operations are omitted", func(t *testing.T) {
		msg := &ServerMessage{
			BaseMessage: BaseMessage{Id: 9, Timestamp: Now()},
			SaveConflict: &SaveConflict{
				DocumentId:     "doc-1",
				CurrentVersion: 5,
				CurrentContent: "latest",
			},
		}

		raw, err := json.Marshal(msg)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Contains(t, decoded, "save_conflict")
		assert.NotContains(t, decoded, "save_succeeded")
		assert.NotContains(t, decoded, "document_state")
	})

	t.Run("routing fields never reach the wire", func(t *testing.T) {
		msg := &ServerMessage{
			BaseMessage:       BaseMessage{Timestamp: Now()},
			ParticipantStatus: &ParticipantStatus{Participant: types.Participant{Id: 1, Name: "alice"}, Online: true},
			UserId:            1,
			SkipClient:        &Client{id: "conn-alice"},
		}

		raw, err := json.Marshal(msg)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.NotContains(t, decoded, "UserId")
		assert.NotContains(t, decoded, "SkipClient")
	})
}

func TestErrInvalidMessage_negativeId(t *testing.T) {
	msg := ErrInvalidMessage(-1)
	assert.Equal(t, 0, msg.Id, "expected unparseable requests to carry no correlation id")
	assert.Equal(t, 400, msg.Response.ResponseCode)
}
