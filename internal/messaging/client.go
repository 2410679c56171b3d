package messaging

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/peluqueria/booking-engine/internal/dialogue"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// Sender is C9's outbound contract: turn a dialogue.Reply into one or more
// provider API calls. token is the shop's own wa_token (§3 Shop messaging
// credentials) — each tenant authenticates with its own channel, so it is
// threaded through on every call rather than fixed at construction. Kept
// separate from the inbound parsing in envelope.go so a future provider
// swap only touches this file.
type Sender interface {
	SendText(ctx context.Context, phoneNumberID, token, to, text string) error
	SendButtons(ctx context.Context, phoneNumberID, token, to, text string, choices []dialogue.Choice) error
	SendList(ctx context.Context, phoneNumberID, token, to, title string, rows []dialogue.Choice) error
}

// HTTPSender posts to the provider's Graph-style send endpoint. Modeled on
// the teacher's deleted notification_client.go: a bare net/http client with
// a fixed timeout and bearer auth, no retry (the caller's worker pool
// already bounds latency).
type HTTPSender struct {
	httpClient *http.Client
	baseURL    string
	logger     logger.Logger
}

func NewHTTPSender(baseURL string, log logger.Logger) *HTTPSender {
	return &HTTPSender{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		logger:     log,
	}
}

type outboundPayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             *textBody   `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type interactive struct {
	Type   string          `json:"type"`
	Body   textBody        `json:"body"`
	Action interactiveAction `json:"action"`
}

type interactiveAction struct {
	Buttons  []interactiveButton `json:"buttons,omitempty"`
	Button   string              `json:"button,omitempty"`
	Sections []interactiveSection `json:"sections,omitempty"`
}

type interactiveButton struct {
	Type  string          `json:"type"`
	Reply interactiveReply `json:"reply"`
}

type interactiveReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type interactiveSection struct {
	Title string              `json:"title"`
	Rows  []interactiveListRow `json:"rows"`
}

type interactiveListRow struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (s *HTTPSender) SendText(ctx context.Context, phoneNumberID, token, to, text string) error {
	return s.post(ctx, phoneNumberID, token, outboundPayload{
		MessagingProduct: "whatsapp", To: to, Type: "text",
		Text: &textBody{Body: text},
	})
}

func (s *HTTPSender) SendButtons(ctx context.Context, phoneNumberID, token, to, text string, choices []dialogue.Choice) error {
	buttons := make([]interactiveButton, 0, len(choices))
	for _, c := range choices {
		buttons = append(buttons, interactiveButton{Type: "reply", Reply: interactiveReply{ID: c.ID, Title: c.Label}})
	}
	return s.post(ctx, phoneNumberID, token, outboundPayload{
		MessagingProduct: "whatsapp", To: to, Type: "interactive",
		Interactive: &interactive{
			Type:   "button",
			Body:   textBody{Body: text},
			Action: interactiveAction{Buttons: buttons},
		},
	})
}

// SendList renders one page of a selection list. The caller (the webhook
// dispatcher) has already assigned each row its list-reply identifier,
// including any "see more" pagination row (spec §4.4).
func (s *HTTPSender) SendList(ctx context.Context, phoneNumberID, token, to, title string, pageRows []dialogue.Choice) error {
	rows := make([]interactiveListRow, 0, len(pageRows))
	for _, c := range pageRows {
		rows = append(rows, interactiveListRow{ID: c.ID, Title: c.Label})
	}
	return s.post(ctx, phoneNumberID, token, outboundPayload{
		MessagingProduct: "whatsapp", To: to, Type: "interactive",
		Interactive: &interactive{
			Type:   "list",
			Body:   textBody{Body: title},
			Action: interactiveAction{Button: "Elegir", Sections: []interactiveSection{{Title: title, Rows: rows}}},
		},
	})
}

func (s *HTTPSender) post(ctx context.Context, phoneNumberID, token string, payload outboundPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling outbound message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	// Dedupe key for at-least-once delivery: the provider may see the same
	// send twice on a worker retry, never as two distinct messages.
	sum := sha256.Sum256(append([]byte(payload.To), body...))
	req.Header.Set("X-Idempotency-Key", hex.EncodeToString(sum[:]))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending outbound message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("outbound message rejected: status %d", resp.StatusCode)
	}
	return nil
}
