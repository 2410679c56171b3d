// Package webhook is C9: the inbound WhatsApp webhook endpoints and the
// bounded worker pool that runs each message through the dialogue engine.
// Grounded on original_source app.py's verify_waba_signature /
// _wa_normalize_session_id / should_process_by_ts / dedupe flow, and on
// auth-service's rate_limit.go for the sliding-window shape (reused here
// via the kv.Store abstraction instead of a raw Redis pipeline).
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peluqueria/booking-engine/internal/config"
	"github.com/peluqueria/booking-engine/internal/dialogue"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/messaging"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/pkg/logger"
	"github.com/peluqueria/booking-engine/pkg/reporter"
)

const (
	listPageSize = 9  // rows per list page, leaving room for the "see more" row
	maxButtons   = 3  // WhatsApp interactive-button ceiling
)

// listPrefixes maps each list snapshot kind to the identifier prefix its
// rows carry on the wire (spec §4.4's HORA_/SERV_/PEL_/RID_ schemes).
var listPrefixes = map[string]string{
	"hours":    "HORA_",
	"servlist": "SERV_",
	"pelulist": "PEL_",
	"reslist":  "RID_",
}

type job struct {
	shop      *models.Shop
	sessionID string
	text      string
	origin    dialogue.Origin
}

// Dispatcher wires the inbound HTTP surface to C7/C1/messaging. All
// collaborators are injected so tests can swap in fakes.
type Dispatcher struct {
	shops   *repository.ShopRepository
	engine  *dialogue.Engine
	sender  messaging.Sender
	store   kv.Store
	msgCfg  config.Messaging
	rateCfg config.RateLimit
	dlgCfg  config.Dialogue
	logger  logger.Logger
	jobs    chan job
}

func NewDispatcher(
	shops *repository.ShopRepository,
	engine *dialogue.Engine,
	sender messaging.Sender,
	store kv.Store,
	msgCfg config.Messaging,
	rateCfg config.RateLimit,
	dlgCfg config.Dialogue,
	log logger.Logger,
) *Dispatcher {
	poolSize := dlgCfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 20
	}
	d := &Dispatcher{
		shops: shops, engine: engine, sender: sender, store: store,
		msgCfg: msgCfg, rateCfg: rateCfg, dlgCfg: dlgCfg, logger: log,
		jobs: make(chan job, poolSize*4),
	}
	for i := 0; i < poolSize; i++ {
		go d.worker()
	}
	return d
}

// Verify handles GET /webhook/whatsapp, the Cloud API subscription
// handshake: constant-time token compare, echo the challenge verbatim.
func (d *Dispatcher) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || !constantTimeEqual(token, d.msgCfg.VerifyToken) {
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, challenge)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Receive handles POST /webhook/whatsapp. It verifies the signature, runs
// the per-message dedupe/monotonic/classification pipeline, and ACKs
// immediately; actual engine work happens on the worker pool.
func (d *Dispatcher) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if !d.verifySignature(body, c.GetHeader("X-Hub-Signature-256")) {
		c.Status(http.StatusForbidden)
		return
	}

	messages, err := messaging.ParseInbound(body)
	if err != nil {
		d.logger.Warn("failed to parse inbound webhook payload", "error", err)
		c.Status(http.StatusOK) // WhatsApp retries on non-2xx; a malformed payload will never parse differently.
		return
	}

	ctx := c.Request.Context()
	for _, msg := range messages {
		d.intake(ctx, msg)
	}
	c.Status(http.StatusOK)
}

func (d *Dispatcher) verifySignature(body []byte, header string) bool {
	if d.msgCfg.AppSecret == "" {
		return true // signature verification disabled (local/dev config)
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(d.msgCfg.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return constantTimeEqual(strings.TrimPrefix(header, prefix), expected)
}

// intake applies the per-tenant rate limit, monotonic-ts filter, and
// message-id dedupe, then either resolves a UI-paging directive inline or
// schedules the engine call on the worker pool.
func (d *Dispatcher) intake(ctx context.Context, msg messaging.Message) {
	shop, err := d.shops.GetByWAPhoneNumberID(ctx, msg.PhoneNumberID)
	if err != nil || shop == nil {
		d.logger.Warn("inbound message for unknown phone_number_id", "phone_number_id", msg.PhoneNumberID)
		return
	}

	limit := d.rateCfg.WebhookPerTenant
	if limit <= 0 {
		limit = 1500
	}
	allowed, err := d.store.SlidingWindowAllow(ctx, "rl:"+shop.ID, limit, time.Minute)
	if err != nil {
		d.logger.Error("webhook rate limit check failed", "error", err, "shop_id", shop.ID)
	} else if !allowed {
		d.logger.Warn("webhook rate limit exceeded, dropping message", "shop_id", shop.ID)
		return
	}

	sessionID := messaging.SessionID(msg.From)
	dedupeTTL := d.dlgCfg.DedupeTTL
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}

	if !d.shouldProcessByTimestamp(ctx, sessionID, msg.TimestampUnix, dedupeTTL) {
		return
	}
	if seen, err := d.markMessageSeen(ctx, msg.MessageID, dedupeTTL); err != nil {
		d.logger.Error("dedupe check failed", "error", err)
	} else if seen {
		return
	}

	text := msg.RawText
	origin := dialogue.OriginText
	switch msg.Origin {
	case messaging.OriginButton:
		text, origin = msg.ListOrButtonID, dialogue.OriginButton
	case messaging.OriginList:
		resolved, handledInline := d.resolveListReply(ctx, shop, msg.ListOrButtonID, sessionID)
		if handledInline {
			return
		}
		text, origin = resolved, dialogue.OriginList
	}

	select {
	case d.jobs <- job{shop: shop, sessionID: sessionID, text: text, origin: origin}:
	default:
		d.logger.Warn("worker pool saturated, dropping inbound message", "shop_id", shop.ID, "session_id", sessionID)
	}
}

// shouldProcessByTimestamp implements the monotonic filter: a message
// whose ts is at or before the last-seen ts for this session is stale or
// duplicated and is dropped (spec §5 O1).
func (d *Dispatcher) shouldProcessByTimestamp(ctx context.Context, sessionID string, ts int64, ttl time.Duration) bool {
	key := "last_ts:" + sessionID
	raw, found, err := d.store.Get(ctx, key)
	if err != nil {
		d.logger.Error("monotonic ts check failed", "error", err)
		return true
	}
	if found {
		last, _ := strconv.ParseInt(raw, 10, 64)
		if ts <= last {
			return false
		}
	}
	if err := d.store.Set(ctx, key, strconv.FormatInt(ts, 10), ttl); err != nil {
		d.logger.Error("failed to persist last_ts", "error", err)
	}
	return true
}

func (d *Dispatcher) markMessageSeen(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	set, err := d.store.SetNX(ctx, "seen_wamid:"+messageID, "1", ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// resolveListReply handles a list-reply identifier before it reaches the
// engine. Pure-pagination identifiers (HORA_NEXT_2, …) are answered from
// the saved snapshot without entering the engine at all; item-selection
// identifiers (HORA_P1_2, …) are translated into the user-visible text.
// PEL_ANY, RID_<n>, and anything unrecognised pass through verbatim
// (spec §4.4).
func (d *Dispatcher) resolveListReply(ctx context.Context, shop *models.Shop, listID, sessionID string) (string, bool) {
	prefix, snapshotKind, page, index, kind, ok := classifyListID(listID)
	if !ok {
		return listID, false
	}

	snapshot, err := d.loadSnapshot(ctx, snapshotKind, sessionID)
	if err != nil || snapshot == nil {
		return listID, false
	}

	switch kind {
	case "next":
		d.sendListPage(ctx, shop, sessionID, prefix, snapshot, page)
		return "", true
	case "select":
		i := (page-1)*listPageSize + index
		if i < 0 || i >= len(snapshot.Choices) {
			return listID, false
		}
		return snapshot.Choices[i].Label, false
	}
	return listID, false
}

// classifyListID parses "<prefix>NEXT_<page>" or "<prefix>P<page>_<index>"
// (spec §4.4's item-selection/pagination identifier schemes).
func classifyListID(raw string) (prefix, snapshotKind string, page, index int, kind string, ok bool) {
	for p, sk := range map[string]string{"HORA_": "hours", "SERV_": "servlist", "PEL_": "pelulist", "RID_": "reslist"} {
		if !strings.HasPrefix(raw, p) {
			continue
		}
		rest := strings.TrimPrefix(raw, p)
		if strings.HasPrefix(rest, "NEXT_") {
			n, err := strconv.Atoi(strings.TrimPrefix(rest, "NEXT_"))
			if err != nil {
				return "", "", 0, 0, "", false
			}
			return p, sk, n, 0, "next", true
		}
		if strings.HasPrefix(rest, "P") {
			parts := strings.SplitN(strings.TrimPrefix(rest, "P"), "_", 2)
			if len(parts) != 2 {
				return "", "", 0, 0, "", false
			}
			pg, err1 := strconv.Atoi(parts[0])
			idx, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return "", "", 0, 0, "", false
			}
			return p, sk, pg, idx, "select", true
		}
	}
	return "", "", 0, 0, "", false
}

type listSnapshot struct {
	Choices []dialogue.Choice `json:"choices"`
	Title   string            `json:"title"`
}

func (d *Dispatcher) loadSnapshot(ctx context.Context, kind, sessionID string) (*listSnapshot, error) {
	raw, found, err := d.store.Get(ctx, kind+":"+sessionID)
	if err != nil || !found {
		return nil, err
	}
	var snap listSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (d *Dispatcher) saveSnapshot(ctx context.Context, kind, sessionID, title string, choices []dialogue.Choice) error {
	ttl := d.dlgCfg.ListSnapshotTTL
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	raw, err := json.Marshal(listSnapshot{Choices: choices, Title: title})
	if err != nil {
		return err
	}
	return d.store.Set(ctx, kind+":"+sessionID, string(raw), ttl)
}

func (d *Dispatcher) worker() {
	for j := range d.jobs {
		d.process(j)
	}
}

func (d *Dispatcher) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.loopbackTimeout())
	defer cancel()

	reply, err := d.engine.Handle(ctx, j.sessionID, j.shop, j.text, j.origin)
	if err != nil {
		d.logger.Error("dialogue engine call failed", "error", err, "session_id", j.sessionID)
		reporter.Capture(err, map[string]string{"shop_id": j.shop.ID, "session_id": j.sessionID})
		return
	}
	d.deliver(ctx, j.shop, j.sessionID, reply)
}

func (d *Dispatcher) loopbackTimeout() time.Duration {
	if d.dlgCfg.LoopbackTimeout > 0 {
		return d.dlgCfg.LoopbackTimeout
	}
	return 40 * time.Second
}

// deliver renders a Reply: up to three choices go out as reply buttons,
// longer sets are paginated into a selection list whose full contents are
// snapshotted so a later tap can page forward without re-entering the
// engine.
func (d *Dispatcher) deliver(ctx context.Context, shop *models.Shop, sessionID string, reply *dialogue.Reply) {
	if reply == nil {
		return
	}
	to := strings.TrimPrefix(sessionID, "wa_")

	if len(reply.Choices) > maxButtons {
		snapshotKind := uiSnapshotKind(reply.UI)
		if err := d.saveSnapshot(ctx, snapshotKind, sessionID, reply.Text, reply.Choices); err != nil {
			d.logger.Error("failed to save list snapshot", "error", err)
		}
		d.sendListPage(ctx, shop, sessionID, listPrefixes[snapshotKind], &listSnapshot{Choices: reply.Choices, Title: reply.Text}, 1)
	} else if len(reply.Choices) > 0 {
		if !d.allowOutbound(ctx, shop.ID) {
			return
		}
		if err := d.sender.SendButtons(ctx, shop.WAPhoneNumberID, shop.WAToken, to, reply.Text, reply.Choices); err != nil {
			d.logger.Error("failed to send choice buttons", "error", err)
		}
	} else if reply.Text != "" {
		if !d.allowOutbound(ctx, shop.ID) {
			return
		}
		if err := d.sender.SendText(ctx, shop.WAPhoneNumberID, shop.WAToken, to, reply.Text); err != nil {
			d.logger.Error("failed to send text reply", "error", err)
		}
	}

	if reply.SecondText != "" {
		if !d.allowOutbound(ctx, shop.ID) {
			return
		}
		if err := d.sender.SendText(ctx, shop.WAPhoneNumberID, shop.WAToken, to, reply.SecondText); err != nil {
			d.logger.Error("failed to send second text reply", "error", err)
		}
	}
}

func uiSnapshotKind(ui dialogue.UI) string {
	switch ui {
	case dialogue.UIHours:
		return "hours"
	case dialogue.UIServices:
		return "servlist"
	case dialogue.UIStaff:
		return "pelulist"
	case dialogue.UIResList:
		return "reslist"
	default:
		return "hours"
	}
}

// sendListPage renders one page of a snapshotted list, assigning each row
// its wire identifier: "<prefix>P<page>_<i>" for item selection (RID rows
// keep their absolute "RID_<n>" form) and "<prefix>NEXT_<page+1>" for the
// trailing see-more row when further pages remain.
func (d *Dispatcher) sendListPage(ctx context.Context, shop *models.Shop, sessionID, prefix string, snapshot *listSnapshot, page int) {
	start := (page - 1) * listPageSize
	if start < 0 || start >= len(snapshot.Choices) {
		return
	}
	end := start + listPageSize
	if end > len(snapshot.Choices) {
		end = len(snapshot.Choices)
	}

	rows := make([]dialogue.Choice, 0, end-start+1)
	for i, c := range snapshot.Choices[start:end] {
		id := fmt.Sprintf("%sP%d_%d", prefix, page, i)
		switch {
		case prefix == "RID_":
			id = fmt.Sprintf("RID_%d", start+i+1)
		case c.ID == "PEL_ANY":
			id = "PEL_ANY"
		}
		rows = append(rows, dialogue.Choice{ID: id, Label: c.Label})
	}
	if end < len(snapshot.Choices) {
		rows = append(rows, dialogue.Choice{ID: fmt.Sprintf("%sNEXT_%d", prefix, page+1), Label: "Ver más"})
	}

	if !d.allowOutbound(ctx, shop.ID) {
		return
	}
	to := strings.TrimPrefix(sessionID, "wa_")
	if err := d.sender.SendList(ctx, shop.WAPhoneNumberID, shop.WAToken, to, snapshot.Title, rows); err != nil {
		d.logger.Error("failed to send list page", "error", err)
	}
}

// allowOutbound enforces OUTBOUND_WA_PER_PELU: a minute-bucketed counter
// INCR'd before every outbound call; overage is dropped silently per
// spec §4.4. KV failure is fail-open so a storage outage cannot mute every
// outbound reply mid-conversation.
func (d *Dispatcher) allowOutbound(ctx context.Context, shopID string) bool {
	limit := d.rateCfg.OutboundPerTenant
	if limit <= 0 {
		limit = 100
	}
	key := fmt.Sprintf("rl:wa:out:%s:%s", shopID, time.Now().UTC().Format("200601021504"))
	count, err := d.store.Incr(ctx, key, 2*time.Minute)
	if err != nil {
		d.logger.Error("outbound rate limit check failed", "error", err)
		return true
	}
	if count > int64(limit) {
		d.logger.Warn("outbound rate limit exceeded, dropping message", "shop_id", shopID)
		return false
	}
	return true
}
