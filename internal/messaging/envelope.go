// Package messaging parses inbound provider envelopes and sends outbound
// messages. Grounded on whatsapp_helpers.py / app.py's wa_* functions (the
// WhatsApp Cloud API's entry→changes→value→messages[] shape) and, for the
// outbound side, on the teacher's deleted notification_client.go pattern
// of a thin manual net/http JSON client.
package messaging

import (
	"encoding/json"
	"fmt"
)

// InboundEnvelope is the raw provider payload shape for a webhook POST
// body (WhatsApp Cloud API).
type InboundEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive struct {
						Type       string `json:"type"`
						ButtonReply struct {
							ID string `json:"id"`
						} `json:"button_reply"`
						ListReply struct {
							ID string `json:"id"`
						} `json:"list_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Origin labels which channel an inbound message arrived on, mirroring
// the dialogue engine's origin parameter.
type Origin string

const (
	OriginText   Origin = "text"
	OriginButton Origin = "button"
	OriginList   Origin = "list"
)

// Message is one inbound message extracted from an envelope, flattened to
// what the dispatcher needs to run the dedupe/monotonic/classification
// pipeline (spec §4.4).
type Message struct {
	PhoneNumberID  string // tenant lookup key
	From           string // customer MSISDN
	MessageID      string // provider message id, dedupe key
	TimestampUnix  int64  // monotonic-filter key
	Origin         Origin
	RawText        string // free text, when Origin == text
	ListOrButtonID string // interactive payload id, when present
}

// ParseInbound flattens every message across every entry/change in the
// envelope. WhatsApp batches are always single-message in practice but the
// schema allows more, so this handles the general case.
func ParseInbound(body []byte) ([]Message, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing inbound envelope: %w", err)
	}

	var out []Message
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			for _, m := range v.Messages {
				msg := Message{
					PhoneNumberID: v.Metadata.PhoneNumberID,
					From:          m.From,
					MessageID:     m.ID,
					Origin:        OriginText,
					RawText:       m.Text.Body,
				}
				fmt.Sscanf(m.Timestamp, "%d", &msg.TimestampUnix)

				switch m.Interactive.Type {
				case "button_reply":
					msg.Origin = OriginButton
					msg.ListOrButtonID = m.Interactive.ButtonReply.ID
				case "list_reply":
					msg.Origin = OriginList
					msg.ListOrButtonID = m.Interactive.ListReply.ID
				}

				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// SessionID derives the dialogue session id for a customer on a given
// tenant line, mirroring _wa_normalize_session_id's "wa_<msisdn>" shape.
func SessionID(from string) string {
	if from == "" {
		return "wa_unknown"
	}
	return "wa_" + from
}
