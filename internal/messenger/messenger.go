// Package messenger is the boundary to the chat platform buyers talk to.
package messenger

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-core/pkg/logger"
)

// Messenger delivers chat messages. Ids are chat and message ids of the
// underlying platform; the returned int64 is the id of the sent message.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) (int64, error)
	SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) (int64, error)
	EditText(ctx context.Context, chatID, messageID int64, text string) error
	Delete(ctx context.Context, chatID, messageID int64) error
}

// BestEffort logs and swallows every delivery failure. Chat delivery never
// decides the outcome of a payment or fulfillment step.
type BestEffort struct {
	next Messenger
	logg *logger.Logger
}

// NewBestEffort wraps the provided messenger.
func NewBestEffort(next Messenger, logg *logger.Logger) (*BestEffort, error) {
	if next == nil {
		return nil, fmt.Errorf("messenger required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &BestEffort{next: next, logg: logg}, nil
}

func (b *BestEffort) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	id, err := b.next.SendText(ctx, chatID, text)
	if err != nil {
		b.log(ctx, "send_text", chatID, 0, err)
		return 0, nil
	}
	return id, nil
}

func (b *BestEffort) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) (int64, error) {
	id, err := b.next.SendPhoto(ctx, chatID, photo, caption)
	if err != nil {
		b.log(ctx, "send_photo", chatID, 0, err)
		return 0, nil
	}
	return id, nil
}

func (b *BestEffort) SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) (int64, error) {
	id, err := b.next.SendDocument(ctx, chatID, filename, content, caption)
	if err != nil {
		b.log(ctx, "send_document", chatID, 0, err)
		return 0, nil
	}
	return id, nil
}

func (b *BestEffort) EditText(ctx context.Context, chatID, messageID int64, text string) error {
	if err := b.next.EditText(ctx, chatID, messageID, text); err != nil {
		b.log(ctx, "edit_text", chatID, messageID, err)
	}
	return nil
}

func (b *BestEffort) Delete(ctx context.Context, chatID, messageID int64) error {
	if err := b.next.Delete(ctx, chatID, messageID); err != nil {
		b.log(ctx, "delete", chatID, messageID, err)
	}
	return nil
}

func (b *BestEffort) log(ctx context.Context, op string, chatID, messageID int64, err error) {
	logCtx := b.logg.WithFields(ctx, map[string]any{
		"messenger_op": op,
		"chat_id":      chatID,
	})
	if messageID != 0 {
		logCtx = b.logg.WithField(logCtx, "message_id", messageID)
	}
	b.logg.Warn(logCtx, fmt.Sprintf("chat delivery failed: %v", err))
}

// Discard accepts and drops every message. It backs processes started
// without a bot token.
type Discard struct{}

func (Discard) SendText(context.Context, int64, string) (int64, error) { return 0, nil }

func (Discard) SendPhoto(context.Context, int64, []byte, string) (int64, error) { return 0, nil }

func (Discard) SendDocument(context.Context, int64, string, []byte, string) (int64, error) {
	return 0, nil
}

func (Discard) EditText(context.Context, int64, int64, string) error { return nil }

func (Discard) Delete(context.Context, int64, int64) error { return nil }
