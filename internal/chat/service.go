// Package chat implements the inbound message path: validate, persist, then
// broadcast to the channel's group.
package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"webchat-service/internal/models"
	"webchat-service/internal/observability"
	"webchat-service/internal/registry"
)

// Store is the part of the message store the inbound path needs.
type Store interface {
	GetOrCreateConversation(ctx context.Context, channelID string) (models.Conversation, error)
	CreateMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error)
}

// Service persists and broadcasts chat messages.
type Service struct {
	store    Store
	registry registry.Registry
	media    *MediaResolver
	tracer   trace.Tracer
	logger   zerolog.Logger
}

func NewService(store Store, reg registry.Registry, media *MediaResolver, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		registry: reg,
		media:    media,
		tracer:   otel.Tracer("webchat-service/chat"),
		logger:   logger.With().Str("component", "chat").Logger(),
	}
}

// ParseInbound extracts the message text from a raw client frame.
func ParseInbound(raw []byte) (string, error) {
	var event models.InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil || event.Message == nil {
		return "", ErrMalformedEvent
	}
	return *event.Message, nil
}

// Post stores text as a message from sender in the channel of key and
// broadcasts it to every member of the group, the sender included. The
// message is persisted before anything is broadcast; a failed broadcast
// does not roll the message back.
func (s *Service) Post(ctx context.Context, sender models.Identity, key registry.GroupKey, text string) (models.MessagePayload, error) {
	ctx, span := s.tracer.Start(ctx, "chat.post", trace.WithAttributes(
		attribute.String("chat.server_id", key.ServerID),
		attribute.String("chat.channel_id", key.ChannelID),
		attribute.Int("chat.sender_id", sender.ID),
	))
	defer span.End()

	if strings.TrimSpace(text) == "" {
		span.SetStatus(codes.Error, ErrEmptyMessage.Error())
		return models.MessagePayload{}, ErrEmptyMessage
	}

	conv, err := s.store.GetOrCreateConversation(ctx, key.ChannelID)
	if err != nil {
		return models.MessagePayload{}, s.fail(span, &PersistenceError{Err: err})
	}
	msg, err := s.store.CreateMessage(ctx, conv.ID, sender.ID, text)
	if err != nil {
		return models.MessagePayload{}, s.fail(span, &PersistenceError{Err: err})
	}
	observability.IncMessagePersisted()

	payload := models.NewMessagePayload(msg, sender, s.media.ImageURL(sender.Avatar))
	body, err := json.Marshal(models.ChatEvent{Message: &payload})
	if err != nil {
		return payload, s.fail(span, &PublishError{MessageID: msg.ID, Err: err})
	}
	if err := s.registry.Publish(ctx, key, body); err != nil {
		return payload, s.fail(span, &PublishError{MessageID: msg.ID, Err: err})
	}

	span.SetAttributes(attribute.Int("chat.message_id", msg.ID))
	s.logger.Debug().Str("group", key.String()).Int("message_id", msg.ID).Int("sender_id", sender.ID).Msg("message broadcast")
	return payload, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error().Err(err).Msg("post failed")
	return err
}
