package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"webchat-service/internal/chat"
	"webchat-service/internal/models"
	"webchat-service/internal/repositories"
	"webchat-service/internal/telemetry"
)

// MessageHandler serves the message history endpoints.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	media       *chat.MediaResolver
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messageRepo repositories.MessageRepository, media *chat.MediaResolver, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{messageRepo: messageRepo, media: media, audit: audit}
}

// ListMessages returns the messages of a channel, oldest first.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	channelID := c.Query("channel_id")
	if channelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id is required"})
		return
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), channelID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	resp := make([]models.MessagePayload, 0, len(msgs))
	for _, msg := range msgs {
		resp = append(resp, h.payload(msg))
	}
	c.JSON(http.StatusOK, resp)
}

// GetMessage returns a single message.
func (h *MessageHandler) GetMessage(c *gin.Context) {
	msg, ok := h.loadMessage(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.payload(msg))
}

// UpdateMessage edits the content of a message (sender only).
func (h *MessageHandler) UpdateMessage(c *gin.Context) {
	msg, ok := h.loadMessage(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")
	if msg.SenderID != userID {
		h.emitAudit(c, "WARN", "message edit denied")
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can edit a message"})
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": chat.ErrEmptyMessage.Error()})
		return
	}

	updated, err := h.messageRepo.UpdateMessageContent(c.Request.Context(), msg.ID, userID, req.Content)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		h.emitAudit(c, "ERROR", "message edit failed")
		c.JSON(status, gin.H{"error": "could not update message"})
		return
	}

	h.emitAudit(c, "INFO", "Message edited")
	c.JSON(http.StatusOK, h.payload(updated))
}

// DeleteMessage removes a message (sender only).
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	msg, ok := h.loadMessage(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")
	if msg.SenderID != userID {
		h.emitAudit(c, "WARN", "message delete denied")
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can delete a message"})
		return
	}

	if err := h.messageRepo.DeleteMessage(c.Request.Context(), msg.ID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		h.emitAudit(c, "ERROR", "message delete failed")
		c.JSON(status, gin.H{"error": "could not delete message"})
		return
	}

	h.emitAudit(c, "INFO", "Message deleted")
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) loadMessage(c *gin.Context) (models.MessageWithSender, bool) {
	messageID, err := strconv.Atoi(c.Param("id"))
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return models.MessageWithSender{}, false
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return models.MessageWithSender{}, false
	}
	return msg, true
}

func (h *MessageHandler) payload(msg models.MessageWithSender) models.MessagePayload {
	sender := msg.Sender()
	return models.NewMessagePayload(msg.Message, sender, h.media.ImageURL(sender.Avatar))
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
