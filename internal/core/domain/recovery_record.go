package domain

import "time"

// RecoveryRecord keeps an undecodable inbound payload for manual follow-up.
type RecoveryRecord struct {
	ID           string    `db:"id"            json:"id"`
	Payload      string    `db:"payload"       json:"payload"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	Topic        string    `db:"topic"         json:"topic"`
	MessageID    string    `db:"message_id"    json:"message_id"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}
