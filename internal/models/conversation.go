package models

import (
	"time"
)

// Message senders.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// ChatDocument is the durable history of one chat session.
type ChatDocument struct {
	ID        string        `json:"id"`
	Identity  string        `json:"identity"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []ChatMessage `json:"messages"`
}

// ChatMessage is a single message within a chat document.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent,omitempty"` // category that produced a bot message
}

// ChatSummary is a listing entry for a chat session.
type ChatSummary struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summarize builds the listing entry for d. The title is the first user
// message, truncated.
func (d ChatDocument) Summarize() ChatSummary {
	s := ChatSummary{
		ID:        d.ID,
		Identity:  d.Identity,
		Messages:  len(d.Messages),
		UpdatedAt: d.UpdatedAt,
	}
	for _, m := range d.Messages {
		if m.Sender == SenderUser {
			s.Title = truncate(m.Content, 60)
			break
		}
	}
	return s
}

// Turns pairs consecutive user and bot messages. Unanswered user messages
// are dropped.
func (d ChatDocument) Turns() [][2]string {
	var turns [][2]string
	for i := 0; i+1 < len(d.Messages); i++ {
		if d.Messages[i].Sender == SenderUser && d.Messages[i+1].Sender == SenderBot {
			turns = append(turns, [2]string{d.Messages[i].Content, d.Messages[i+1].Content})
			i++
		}
	}
	return turns
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
