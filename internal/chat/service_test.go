package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"webchat-service/internal/mocks"
	"webchat-service/internal/models"
	"webchat-service/internal/registry"
)

var key7 = registry.GroupKey{ServerID: "1", ChannelID: "7"}

func newTestService(store *mocks.StoreMock, reg *mocks.RegistryMock) *Service {
	return NewService(store, reg, NewMediaResolver("https://media.example/"), zerolog.Nop())
}

func TestPostPersistsThenPublishes(t *testing.T) {
	store := new(mocks.StoreMock)
	reg := new(mocks.RegistryMock)
	svc := newTestService(store, reg)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	avatar := "Avatars/alice.png"
	alice := models.Identity{ID: 1, Username: "alice", Avatar: &avatar}

	var order []string
	store.On("GetOrCreateConversation", mock.Anything, "7").Return(models.Conversation{ID: 3, ChannelID: "7"}, nil).Once()
	store.On("CreateMessage", mock.Anything, 3, 1, "hi").Run(func(mock.Arguments) { order = append(order, "store") }).
		Return(models.Message{ID: 10, ConversationID: 3, SenderID: 1, Content: "hi", CreatedAt: created, UpdatedAt: created}, nil).Once()

	var published []byte
	reg.On("Publish", mock.Anything, key7, mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, "publish")
		published = args.Get(2).([]byte)
	}).Return(nil).Once()

	payload, err := svc.Post(context.Background(), alice, key7, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"store", "publish"}, order)
	assert.Equal(t, 10, payload.ID)

	var event map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(published, &event))
	msg := event["message"]
	assert.Equal(t, float64(10), msg["id"])
	assert.Equal(t, "hi", msg["content"])
	assert.Equal(t, "2025-03-01T12:00:00Z", msg["timestamp_created"])
	assert.Equal(t, map[string]interface{}{
		"id":        float64(1),
		"username":  "alice",
		"image_url": "https://media.example/Avatars/alice.png",
	}, msg["user"])
	assert.NotContains(t, event, "error")

	store.AssertExpectations(t)
	reg.AssertExpectations(t)
}

func TestPostRejectsBlankText(t *testing.T) {
	store := new(mocks.StoreMock)
	reg := new(mocks.RegistryMock)
	svc := newTestService(store, reg)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Post(context.Background(), models.Identity{ID: 1}, key7, text)
		require.ErrorIs(t, err, ErrEmptyMessage)
		assert.Equal(t, CodeValidation, Code(err))
	}
	store.AssertNotCalled(t, "GetOrCreateConversation", mock.Anything, mock.Anything)
	reg.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestPostStoreFailureBroadcastsNothing(t *testing.T) {
	store := new(mocks.StoreMock)
	reg := new(mocks.RegistryMock)
	svc := newTestService(store, reg)

	store.On("GetOrCreateConversation", mock.Anything, "7").Return(models.Conversation{ID: 3}, nil).Once()
	store.On("CreateMessage", mock.Anything, 3, 1, "hi").Return(nil, errors.New("disk full")).Once()

	_, err := svc.Post(context.Background(), models.Identity{ID: 1}, key7, "hi")
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, CodePersistence, Code(err))
	reg.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestPostPublishFailureKeepsMessage(t *testing.T) {
	store := new(mocks.StoreMock)
	reg := new(mocks.RegistryMock)
	svc := newTestService(store, reg)

	store.On("GetOrCreateConversation", mock.Anything, "7").Return(models.Conversation{ID: 3}, nil).Once()
	store.On("CreateMessage", mock.Anything, 3, 1, "hi").Return(models.Message{ID: 11, Content: "hi"}, nil).Once()
	reg.On("Publish", mock.Anything, key7, mock.Anything).Return(errors.New("broker down")).Once()

	payload, err := svc.Post(context.Background(), models.Identity{ID: 1}, key7, "hi")
	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, 11, publishErr.MessageID)
	assert.Equal(t, 11, payload.ID)
	assert.Equal(t, CodePublish, Code(err))
}

func TestParseInbound(t *testing.T) {
	text, err := ParseInbound([]byte(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", text)

	text, err = ParseInbound([]byte(`{"message":""}`))
	require.NoError(t, err)
	assert.Empty(t, text)

	for _, raw := range []string{`not json`, `{}`, `{"message":null}`, `{"message":5}`, `["hi"]`} {
		_, err := ParseInbound([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedEvent, raw)
		assert.Equal(t, CodeValidation, Code(err))
	}
}

func TestMediaResolver(t *testing.T) {
	str := func(s string) *string { return &s }
	withBase := NewMediaResolver("https://media.example/uploads")
	noBase := NewMediaResolver("")

	assert.Nil(t, withBase.ImageURL(nil))
	assert.Nil(t, withBase.ImageURL(str("  ")))
	assert.Equal(t, "https://media.example/uploads/Avatars/a.png", *withBase.ImageURL(str("Avatars/a.png")))
	assert.Equal(t, "https://media.example/root.png", *withBase.ImageURL(str("/root.png")))
	assert.Equal(t, "https://cdn.example/a.png", *withBase.ImageURL(str("http://cdn.example/a.png")))
	assert.Equal(t, "https://cdn.example/a.png", *noBase.ImageURL(str("https://cdn.example/a.png")))
	assert.Equal(t, "Avatars/a.png", *noBase.ImageURL(str("Avatars/a.png")))
	assert.Equal(t, "https://plain.example/x.png", *NewMediaResolver("http://plain.example").ImageURL(str("x.png")))
}
