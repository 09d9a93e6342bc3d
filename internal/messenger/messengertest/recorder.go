// Package messengertest records chat traffic for tests.
package messengertest

import (
	"context"
	"sync"
)

// Document is one recorded SendDocument call.
type Document struct {
	ChatID   int64
	Filename string
	Content  string
	Caption  string
}

// Edit is one recorded EditText call.
type Edit struct {
	ChatID    int64
	MessageID int64
	Text      string
}

// Recorder implements messenger.Messenger in memory. Message ids are
// assigned sequentially starting at 1.
type Recorder struct {
	mu        sync.Mutex
	nextID    int64
	texts     []string
	chats     []int64
	photos    []string
	documents []Document
	edits     []Edit
	deleted   []int64

	// Err, when set, is returned by every call.
	Err error
}

func (r *Recorder) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *Recorder) SendText(_ context.Context, chatID int64, text string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	r.texts = append(r.texts, text)
	r.chats = append(r.chats, chatID)
	return r.id(), nil
}

func (r *Recorder) SendPhoto(_ context.Context, chatID int64, _ []byte, caption string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	r.photos = append(r.photos, caption)
	r.chats = append(r.chats, chatID)
	return r.id(), nil
}

func (r *Recorder) SendDocument(_ context.Context, chatID int64, filename string, content []byte, caption string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	r.documents = append(r.documents, Document{ChatID: chatID, Filename: filename, Content: string(content), Caption: caption})
	r.chats = append(r.chats, chatID)
	return r.id(), nil
}

func (r *Recorder) EditText(_ context.Context, chatID, messageID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.edits = append(r.edits, Edit{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (r *Recorder) Delete(_ context.Context, _, messageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.deleted = append(r.deleted, messageID)
	return nil
}

// Texts returns the text messages sent so far.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

// Photos returns the captions of photos sent so far.
func (r *Recorder) Photos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.photos...)
}

// Documents returns the documents sent so far.
func (r *Recorder) Documents() []Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Document(nil), r.documents...)
}

// Edits returns the message edits so far.
func (r *Recorder) Edits() []Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Edit(nil), r.edits...)
}

// Deleted returns the ids of deleted messages.
func (r *Recorder) Deleted() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.deleted...)
}

// Chats returns the chat id of every sent message in order.
func (r *Recorder) Chats() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.chats...)
}
