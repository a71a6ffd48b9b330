// Package notification delivers workflow messages to agents. The production
// path publishes to a Kafka topic consumed by the messaging gateway;
// in-process fakes back the tests.
package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Message is the wire payload published for each notification.
type Message struct {
	RecipientID int64     `json:"recipientId"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sentAt"`
}

func (m Message) marshal() ([]byte, error) {
	return json.Marshal(m)
}

// MemoryNotifier records messages for assertions in tests.
type MemoryNotifier struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) Notify(_ context.Context, recipientID int64, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, Message{RecipientID: recipientID, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of everything sent so far.
func (n *MemoryNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Message, len(n.messages))
	copy(out, n.messages)
	return out
}
