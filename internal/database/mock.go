package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRealtimeRepository struct {
	mock.Mock
}

func (m *MockRealtimeRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRealtimeRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockRealtimeRepository) SetAccountOnline(accountId int, online bool) error {
	args := m.Called(accountId, online)
	return args.Error(0)
}
func (m *MockRealtimeRepository) ListOnlineAccounts() ([]Account, error) {
	args := m.Called()
	return args.Get(0).([]Account), args.Error(1)
}
func (m *MockRealtimeRepository) GetDocumentByExternalId(externalId string) (Document, error) {
	args := m.Called(externalId)
	return args.Get(0).(Document), args.Error(1)
}
func (m *MockRealtimeRepository) SaveDocumentContent(documentId int, content string, baseVersion, modifiedBy int) (int, error) {
	args := m.Called(documentId, content, baseVersion, modifiedBy)
	return args.Int(0), args.Error(1)
}
func (m *MockRealtimeRepository) AddCollaborator(documentId, accountId int) error {
	args := m.Called(documentId, accountId)
	return args.Error(0)
}
func (m *MockRealtimeRepository) UpsertCursor(cursor Cursor) error {
	args := m.Called(cursor)
	return args.Error(0)
}
func (m *MockRealtimeRepository) GetCollaborators(documentId int) ([]Collaborator, error) {
	args := m.Called(documentId)
	return args.Get(0).([]Collaborator), args.Error(1)
}
func (m *MockRealtimeRepository) GetCursors(documentId int) ([]Cursor, error) {
	args := m.Called(documentId)
	return args.Get(0).([]Cursor), args.Error(1)
}
func (m *MockRealtimeRepository) CreateMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRealtimeRepository) CreateActivity(activity Activity) (Activity, error) {
	args := m.Called(activity)
	return args.Get(0).(Activity), args.Error(1)
}
func (m *MockRealtimeRepository) DeleteActivitiesBefore(cutoff time.Time) (int64, error) {
	args := m.Called(cutoff)
	return args.Get(0).(int64), args.Error(1)
}
