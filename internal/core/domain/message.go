package domain

import "time"

// Message is an inbound chat message delivered by the transport.
type Message struct {
	ID         int       `json:"id"`
	ChatID     int64     `json:"chat_id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	Command    string    `json:"command,omitempty"` // without leading slash
	Args       string    `json:"args,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// IsCommand reports whether the message carries a bot command.
func (m Message) IsCommand() bool {
	return m.Command != ""
}

// Reply is an outbound message.
type Reply struct {
	ChatID    int64
	Text      string
	ParseMode string
	ReplyTo   int
}

// Identity describes the account the bot is connected as.
type Identity struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}
