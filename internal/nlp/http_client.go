package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/peluqueria/booking-engine/pkg/logger"
)

// HTTPClient is a chat-completion-style implementation of Interpreter,
// modeled on the same manual net/http+JSON pattern used across this
// codebase's outbound collaborators: one structured request, one
// structured response, a package logger, a bounded client timeout.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     logger.Logger
}

func NewHTTPClient(baseURL, apiKey, model string, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 8 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		logger:     log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *HTTPClient) Interpret(ctx context.Context, text string, kind SlotKind, shop ShopContext) (string, error) {
	prompt, maxTokens := buildPrompt(text, kind, shop)
	if prompt == "" {
		return "", ErrNoUnderstand
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You interpret short customer messages for a service-business booking assistant. Reply with only what is asked."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling interpreter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("building interpreter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("nlp request failed", "error", err, "slot_kind", string(kind))
		return "", ErrNoUnderstand
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.logger.Error("nlp provider returned error status", "status", resp.StatusCode, "slot_kind", string(kind))
		return "", ErrNoUnderstand
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || len(out.Choices) == 0 {
		return "", ErrNoUnderstand
	}

	answer := strings.TrimSpace(out.Choices[0].Message.Content)
	if answer == "" || strings.EqualFold(answer, "NO_ENTIENDO") || strings.EqualFold(answer, "NO_UNDERSTAND") {
		return "", ErrNoUnderstand
	}
	return answer, nil
}

func buildPrompt(text string, kind SlotKind, shop ShopContext) (prompt string, maxTokens int) {
	clean := strings.Trim(strings.TrimSpace(text), " \t\n\r\"'¡!¿?.")

	switch kind {
	case SlotIntent:
		return fmt.Sprintf(
			"Classify the user's intent for a salon booking chatbot.\n"+
				"Visible options:\n1. Book an appointment\n2. Cancel an appointment\n3. I have a question\n\n"+
				"Return exactly one of these words: 'reservar', 'cancelar', 'duda', 'NO_ENTIENDO'.\n"+
				"Message: %s", clean), 10

	case SlotService:
		names := strings.Join(shop.ServiceNames, ", ")
		return fmt.Sprintf(
			"You are a salon assistant. Interpret which service the customer is asking for.\n"+
				"Available services: %s.\n"+
				"Message: %s\n"+
				"Return only the exact service name or 'NO_ENTIENDO'.", names, clean), 20

	case SlotDate:
		return fmt.Sprintf(
			"Today is %s (ISO YYYY-MM-DD).\nThe customer says: %s\n\n"+
				"TASK: figure out which concrete DATE the customer means.\n"+
				"RULES: if ambiguous and you cannot be 100%% certain, return exactly 'NO_ENTIENDO'. "+
				"Otherwise return only a date in exact 'YYYY-MM-DD' format, nothing else.",
			shop.TodayISO, clean), 15

	case SlotFAQ:
		var services strings.Builder
		for _, s := range shop.ServiceSummary {
			services.WriteString("- ")
			services.WriteString(s.Name)
			if s.PriceCents != nil {
				fmt.Fprintf(&services, " · %d %s", *s.PriceCents/100, shop.CurrencyCode)
			}
			fmt.Fprintf(&services, " · %d min\n", s.DurationMinutes)
		}
		return fmt.Sprintf(
			"You are the virtual secretary for %s.\n"+
				"Answer the customer's question using EXCLUSIVELY this data:\n"+
				"- Address: %s\n- Closed days: %s\n- Hours: %s\n- Shop phone: %s\n"+
				"- Services:\n%s- Staff count: %d\n- Extra info: %s\n\n"+
				"STRICT RULES:\n"+
				"1. If asked about a service not on the list, say it is not offered.\n"+
				"2. If asked about hours/days not listed, say the shop is closed then.\n"+
				"3. If asked for anything not in this data, reply exactly: "+
				"'I don't have that information. Please contact the shop directly at %s'.\n"+
				"4. Never invent services, prices or hours.\n"+
				"5. If the customer asks for a human, give the shop phone number.\n"+
				"Customer message: %s",
			shop.Name, shop.Address, shop.ClosedDaysText, shop.HoursText, shop.Phone,
			services.String(), shop.NumStaff, shop.Info, shop.Phone, clean), 120

	default:
		return "", 0
	}
}
