// internal/services/notify/batch.go
package notify

import "compliance-workflow/internal/models"

// Message is one notification as produced by an operation.
type Message struct {
	RecipientID string
	Category    models.NotificationCategory
	Title       string
	Body        string
	Link        string
}

// Batch collects the notifications of one operation so they can be handed to
// the Notifier in a single call after the transaction commits.
type Batch struct {
	msgs []Message
}

func (b *Batch) Add(recipientID string, category models.NotificationCategory, title, body, link string) {
	if recipientID == "" {
		return
	}
	b.msgs = append(b.msgs, Message{
		RecipientID: recipientID,
		Category:    category,
		Title:       title,
		Body:        body,
		Link:        link,
	})
}

// AddEach adds the same message for every recipient.
func (b *Batch) AddEach(recipientIDs []string, category models.NotificationCategory, title, body, link string) {
	for _, id := range recipientIDs {
		b.Add(id, category, title, body, link)
	}
}

// Messages returns a copy of the collected messages.
func (b *Batch) Messages() []Message {
	out := make([]Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

func (b *Batch) Len() int {
	return len(b.msgs)
}
