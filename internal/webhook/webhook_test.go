package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/peluqueria/booking-engine/internal/config"
	"github.com/peluqueria/booking-engine/internal/dialogue"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// captureSender records outbound calls instead of hitting a provider.
type captureSender struct {
	texts []string
	lists [][]dialogue.Choice
}

func (s *captureSender) SendText(_ context.Context, _, _, _, text string) error {
	s.texts = append(s.texts, text)
	return nil
}

func (s *captureSender) SendButtons(_ context.Context, _, _, _, _ string, _ []dialogue.Choice) error {
	return nil
}

func (s *captureSender) SendList(_ context.Context, _, _, _, _ string, rows []dialogue.Choice) error {
	s.lists = append(s.lists, rows)
	return nil
}

func newTestDispatcher() *Dispatcher {
	return &Dispatcher{
		store:   kv.NewMemoryStore(),
		sender:  &captureSender{},
		logger:  logger.New("error"),
		msgCfg:  config.Messaging{},
		rateCfg: config.RateLimit{},
		dlgCfg:  config.Dialogue{DedupeTTL: time.Hour},
	}
}

func TestVerifySignatureDisabledWithoutAppSecret(t *testing.T) {
	d := newTestDispatcher()
	if !d.verifySignature([]byte("body"), "") {
		t.Fatal("expected signature check to pass through when no app secret is configured")
	}
}

func TestVerifySignatureValidatesHMAC(t *testing.T) {
	d := newTestDispatcher()
	d.msgCfg.AppSecret = "s3cr3t"
	body := []byte(`{"hello":"world"}`)

	mac := hmac.New(sha256.New, []byte(d.msgCfg.AppSecret))
	mac.Write(body)
	validHeader := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !d.verifySignature(body, validHeader) {
		t.Fatal("expected a correctly signed body to verify")
	}
	if d.verifySignature(body, "sha256=deadbeef") {
		t.Fatal("expected a tampered signature to fail verification")
	}
	if d.verifySignature(body, "") {
		t.Fatal("expected a missing signature header to fail verification when a secret is configured")
	}
}

func TestShouldProcessByTimestampDropsStaleMessages(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	if !d.shouldProcessByTimestamp(ctx, "wa_123", 100, time.Hour) {
		t.Fatal("expected the first message for a session to be processed")
	}
	if d.shouldProcessByTimestamp(ctx, "wa_123", 50, time.Hour) {
		t.Fatal("expected an out-of-order (older) timestamp to be dropped")
	}
	if d.shouldProcessByTimestamp(ctx, "wa_123", 100, time.Hour) {
		t.Fatal("expected a duplicate timestamp to be dropped")
	}
	if !d.shouldProcessByTimestamp(ctx, "wa_123", 150, time.Hour) {
		t.Fatal("expected a newer timestamp to be processed")
	}
}

func TestMarkMessageSeenDedupes(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	seen, err := d.markMessageSeen(ctx, "wamid.abc", time.Hour)
	if err != nil {
		t.Fatalf("markMessageSeen: %v", err)
	}
	if seen {
		t.Fatal("expected the first sighting of a message id to report unseen")
	}

	seen, err = d.markMessageSeen(ctx, "wamid.abc", time.Hour)
	if err != nil {
		t.Fatalf("markMessageSeen: %v", err)
	}
	if !seen {
		t.Fatal("expected a repeated message id to report seen")
	}
}

func TestClassifyListIDPagination(t *testing.T) {
	prefix, kind, page, index, action, ok := classifyListID("HORA_NEXT_2")
	if !ok || prefix != "HORA_" || kind != "hours" || page != 2 || index != 0 || action != "next" {
		t.Fatalf("classifyListID(HORA_NEXT_2) = (%q,%q,%d,%d,%q,%v)", prefix, kind, page, index, action, ok)
	}
}

func TestClassifyListIDSelection(t *testing.T) {
	prefix, kind, page, index, action, ok := classifyListID("SERV_P1_3")
	if !ok || prefix != "SERV_" || kind != "servlist" || page != 1 || index != 3 || action != "select" {
		t.Fatalf("classifyListID(SERV_P1_3) = (%q,%q,%d,%d,%q,%v)", prefix, kind, page, index, action, ok)
	}
}

func TestClassifyListIDUnrecognized(t *testing.T) {
	if _, _, _, _, _, ok := classifyListID("PEL_ANY"); ok {
		t.Fatal("expected the bare PEL_ANY marker to not classify as paginated")
	}
	if _, _, _, _, _, ok := classifyListID("plain text"); ok {
		t.Fatal("expected plain text to not classify")
	}
}

func manyHourChoices(n int) []dialogue.Choice {
	choices := make([]dialogue.Choice, n)
	for i := range choices {
		hhmm := fmt.Sprintf("%02d:%02d", 9+i/2, (i%2)*30)
		choices[i] = dialogue.Choice{ID: hhmm, Label: hhmm}
	}
	return choices
}

func TestSendListPageAssignsWireIdentifiers(t *testing.T) {
	d := newTestDispatcher()
	sender := d.sender.(*captureSender)
	shop := &models.Shop{ID: "shop-1"}

	snapshot := &listSnapshot{Choices: manyHourChoices(12), Title: "Horas"}
	d.sendListPage(context.Background(), shop, "wa_600", "HORA_", snapshot, 1)

	if len(sender.lists) != 1 {
		t.Fatalf("expected one list send, got %d", len(sender.lists))
	}
	rows := sender.lists[0]
	if len(rows) != listPageSize+1 {
		t.Fatalf("expected %d rows plus a see-more row, got %d", listPageSize, len(rows))
	}
	if rows[0].ID != "HORA_P1_0" {
		t.Fatalf("first row id = %q, want HORA_P1_0", rows[0].ID)
	}
	if last := rows[len(rows)-1]; last.ID != "HORA_NEXT_2" {
		t.Fatalf("see-more row id = %q, want HORA_NEXT_2", last.ID)
	}
}

func TestResolveListReplyTranslatesSelection(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()
	shop := &models.Shop{ID: "shop-1"}

	choices := manyHourChoices(12)
	if err := d.saveSnapshot(ctx, "hours", "wa_600", "Horas", choices); err != nil {
		t.Fatalf("saveSnapshot: %v", err)
	}

	text, handled := d.resolveListReply(ctx, shop, "HORA_P1_2", "wa_600")
	if handled {
		t.Fatal("item selection must be forwarded to the engine, not handled inline")
	}
	if text != choices[2].Label {
		t.Fatalf("translated text = %q, want %q", text, choices[2].Label)
	}
}

func TestResolveListReplyPagesInline(t *testing.T) {
	d := newTestDispatcher()
	sender := d.sender.(*captureSender)
	ctx := context.Background()
	shop := &models.Shop{ID: "shop-1"}

	if err := d.saveSnapshot(ctx, "hours", "wa_600", "Horas", manyHourChoices(12)); err != nil {
		t.Fatalf("saveSnapshot: %v", err)
	}

	_, handled := d.resolveListReply(ctx, shop, "HORA_NEXT_2", "wa_600")
	if !handled {
		t.Fatal("pure pagination must be handled inline without entering the engine")
	}
	if len(sender.lists) != 1 {
		t.Fatalf("expected the next page to be sent, got %d list sends", len(sender.lists))
	}
	if sender.lists[0][0].ID != "HORA_P2_0" {
		t.Fatalf("second page first row id = %q, want HORA_P2_0", sender.lists[0][0].ID)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("abc", "abc") {
		t.Fatal("expected equal strings to compare equal")
	}
	if constantTimeEqual("abc", "abd") {
		t.Fatal("expected different strings to compare unequal")
	}
	if constantTimeEqual("abc", "abcd") {
		t.Fatal("expected different-length strings to compare unequal")
	}
}
