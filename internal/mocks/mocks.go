package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"webchat-service/internal/models"
	"webchat-service/internal/registry"
)

// StoreMock implements repositories.ConversationRepository and
// repositories.MessageRepository.
type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) GetOrCreateConversation(ctx context.Context, channelID string) (models.Conversation, error) {
	args := m.Called(ctx, channelID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *StoreMock) FindConversation(ctx context.Context, channelID string) (models.Conversation, error) {
	args := m.Called(ctx, channelID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *StoreMock) CreateMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *StoreMock) ListMessages(ctx context.Context, channelID string) ([]models.MessageWithSender, error) {
	args := m.Called(ctx, channelID)
	var list []models.MessageWithSender
	if val := args.Get(0); val != nil {
		list = val.([]models.MessageWithSender)
	}
	return list, args.Error(1)
}

func (m *StoreMock) GetMessage(ctx context.Context, messageID int) (models.MessageWithSender, error) {
	args := m.Called(ctx, messageID)
	var msg models.MessageWithSender
	if val := args.Get(0); val != nil {
		msg = val.(models.MessageWithSender)
	}
	return msg, args.Error(1)
}

func (m *StoreMock) UpdateMessageContent(ctx context.Context, messageID int, senderID int, content string) (models.MessageWithSender, error) {
	args := m.Called(ctx, messageID, senderID, content)
	var msg models.MessageWithSender
	if val := args.Get(0); val != nil {
		msg = val.(models.MessageWithSender)
	}
	return msg, args.Error(1)
}

func (m *StoreMock) DeleteMessage(ctx context.Context, messageID int, senderID int) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

type RegistryMock struct {
	mock.Mock
}

func (m *RegistryMock) Join(ctx context.Context, key registry.GroupKey, member registry.Member) error {
	args := m.Called(ctx, key, member)
	return args.Error(0)
}

func (m *RegistryMock) Leave(key registry.GroupKey, member registry.Member) {
	m.Called(key, member)
}

func (m *RegistryMock) Publish(ctx context.Context, key registry.GroupKey, payload []byte) error {
	args := m.Called(ctx, key, payload)
	return args.Error(0)
}

// PublisherMock implements rabbitmq.Publisher, telemetry.Publisher and
// observability.Publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
