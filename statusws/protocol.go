package statusws

import (
	"time"

	"github.com/user-none/emubridge/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgStatus   MessageType = "status"
)

type Message struct {
	Type    MessageType   `json:"type"`
	Payload StatusPayload `json:"payload"`
}

type StatusPayload struct {
	SessionID uint32    `json:"sessionId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

func payloadOf(ev session.StatusEvent) StatusPayload {
	return StatusPayload{
		SessionID: ev.SessionID,
		From:      ev.From.String(),
		To:        ev.To.String(),
		Reason:    ev.Reason,
		Time:      ev.Time,
	}
}
