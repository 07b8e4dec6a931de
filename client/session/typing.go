package session

import (
	"strconv"
	"strings"

	"chat-sync/internal/models"
)

// Legacy clients smuggle typing indicators through the chat-message channel
// as "TYPING:<flag>:<name>" text frames. The backend now emits first-class
// typing events, but the extractor still decodes the string convention so old
// peers interoperate.
const (
	legacyTypingPrefix = "TYPING"
	legacyDelimiter    = ":"
)

// ExtractTypingSignal inspects a live-stream message. control reports whether
// the message is a typing control frame; control frames are never part of the
// room view. sig is nil for malformed control frames, which are dropped
// without emitting anything.
func ExtractTypingSignal(msg models.Message) (sig *models.TypingSignal, control bool) {
	switch msg.ContentType {
	case models.ContentTyping:
		isTyping, err := strconv.ParseBool(msg.Content)
		if err != nil {
			return nil, true
		}
		return &models.TypingSignal{
			RoomID:   msg.RoomID,
			UserID:   msg.SenderID,
			UserName: msg.SenderName,
			IsTyping: isTyping,
		}, true

	case models.ContentText:
		if !strings.HasPrefix(msg.Content, legacyTypingPrefix+legacyDelimiter) {
			return nil, false
		}
		parts := strings.SplitN(msg.Content, legacyDelimiter, 3)
		if len(parts) < 3 {
			return nil, true
		}
		isTyping, err := strconv.ParseBool(parts[1])
		if err != nil {
			return nil, true
		}
		return &models.TypingSignal{
			RoomID:   msg.RoomID,
			UserID:   msg.SenderID,
			UserName: parts[2],
			IsTyping: isTyping,
		}, true
	}

	return nil, false
}
