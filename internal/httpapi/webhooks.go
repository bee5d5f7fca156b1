package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"voicedial-platform/internal/scheduler"
	"voicedial-platform/internal/telephony"
	"voicedial-platform/pkg/logger"
	"voicedial-platform/pkg/utils"
)

const (
	signatureHeader = "X-Webhook-Signature"

	// dedupTTL bounds the redis duplicate filter in front of the reducer.
	// The reducer is idempotent without it; this just absorbs retry storms.
	dedupTTL = 10 * time.Minute
)

// WebhookHandler terminates inbound webhooks from the voice engine and the
// telephony providers and feeds terminal events into the scheduler.
type WebhookHandler struct {
	sched *scheduler.Scheduler
	rdb   *redis.Client // optional; nil disables the duplicate filter

	// engineSecret signs engine webhook bodies; empty disables verification
	// (local development).
	engineSecret string
}

func NewWebhookHandler(sched *scheduler.Scheduler, rdb *redis.Client, engineSecret string) *WebhookHandler {
	return &WebhookHandler{sched: sched, rdb: rdb, engineSecret: engineSecret}
}

// engineEvent is the engine's webhook envelope.
type engineEvent struct {
	Event string `json:"event"`
	Call  struct {
		ID              string     `json:"id"`
		EndReason       string     `json:"end_reason"`
		JoinedAt        *time.Time `json:"joined_at"`
		EndedAt         *time.Time `json:"ended_at"`
		DurationSeconds int        `json:"duration_seconds"`
		BilledSeconds   int        `json:"billed_seconds"`
		Summary         string     `json:"summary"`
		ShortSummary    string     `json:"short_summary"`
		RecordingURL    string     `json:"recording_url"`
	} `json:"call"`
}

// Engine handles voice engine webhooks. Non-terminal events (call.started,
// call.joined) are acknowledged without touching state; call.ended and
// call.billed reduce into the scheduler.
func (h *WebhookHandler) Engine(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if h.engineSecret != "" && !verifySignature(body, c.GetHeader(signatureHeader), h.engineSecret) {
		log.Warn("engine webhook signature mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var ev engineEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("engine webhook malformed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	switch ev.Event {
	case "call.ended", "call.billed":
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if ev.Call.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing call id"})
		return
	}

	if !h.firstDelivery(c, "engine:"+ev.Event+":"+ev.Call.ID) {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	term := scheduler.CallTerminated{
		EngineCallID:    ev.Call.ID,
		Outcome:         scheduler.OutcomeFromEngineReason(ev.Call.EndReason),
		EndReason:       ev.Call.EndReason,
		DurationSeconds: ev.Call.DurationSeconds,
		JoinedAt:        ev.Call.JoinedAt,
		EndedAt:         ev.Call.EndedAt,
		BilledSeconds:   ev.Call.BilledSeconds,
		Summary:         ev.Call.Summary,
		ShortSummary:    ev.Call.ShortSummary,
		RecordingURL:    ev.Call.RecordingURL,
	}
	if err := h.sched.HandleCallTerminated(c.Request.Context(), term); err != nil {
		// Acknowledge anyway: the reaper settles anything we drop, and a 5xx
		// would only trigger a retry against the same failure.
		log.Error("engine webhook reduce failed", "call_id", ev.Call.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// TwilioStatus handles Twilio status callbacks. Twilio expects a TwiML body.
func (h *WebhookHandler) TwilioStatus(c *gin.Context) {
	log := logger.FromGin(c)
	ev, err := telephony.ParseTwilioStatus(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	h.reduceProviderEvent(c, log, ev)
	c.Data(http.StatusOK, "text/xml", []byte(telephony.EmptyTwiML()))
}

// PlivoStatus handles Plivo hangup callbacks.
func (h *WebhookHandler) PlivoStatus(c *gin.Context) {
	log := logger.FromGin(c)
	ev, err := telephony.ParsePlivoStatus(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	h.reduceProviderEvent(c, log, ev)
	c.Status(http.StatusOK)
}

// PlivoAnswer serves the answer-URL XML that streams the answered call into
// the engine session named by the joinUrl query parameter.
func (h *WebhookHandler) PlivoAnswer(c *gin.Context) {
	xml, err := telephony.RenderPlivoStream(c.Query("joinUrl"))
	if err != nil {
		c.String(http.StatusBadRequest, "missing joinUrl")
		return
	}
	c.Data(http.StatusOK, "text/xml", []byte(xml))
}

// TelnyxStatus handles Telnyx Call Control webhooks.
func (h *WebhookHandler) TelnyxStatus(c *gin.Context) {
	log := logger.FromGin(c)
	ev, err := telephony.ParseTelnyxStatus(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	if ev.Status != "" {
		h.reduceProviderEvent(c, log, ev)
	}
	c.Status(http.StatusOK)
}

// reduceProviderEvent maps a provider status event to a terminal call event.
// Provider callbacks are a fallback signal: the engine webhook usually wins
// the race and this reduces to the duplicate path.
func (h *WebhookHandler) reduceProviderEvent(c *gin.Context, log *slog.Logger, ev telephony.StatusEvent) {
	outcome, terminal := scheduler.OutcomeFromProviderStatus(ev.Status, ev.DurationSeconds)
	if !terminal {
		return
	}
	if ev.CallHistoryID == "" {
		log.Warn("provider status without call correlation",
			"provider", ev.Provider, "provider_call_id", ev.ProviderCallID, "status", ev.Status)
		return
	}
	if !h.firstDelivery(c, "provider:"+ev.Provider+":"+ev.CallHistoryID+":"+ev.Status) {
		return
	}
	term := scheduler.CallTerminated{
		EngineCallID:    ev.CallHistoryID,
		CampaignID:      ev.CampaignID,
		ContactID:       ev.ContactID,
		Outcome:         outcome,
		EndReason:       ev.Status,
		DurationSeconds: ev.DurationSeconds,
	}
	if err := h.sched.HandleCallTerminated(c.Request.Context(), term); err != nil {
		log.Error("provider status reduce failed",
			"provider", ev.Provider, "call_id", ev.CallHistoryID, "error", err)
	}
}

// firstDelivery runs the optional redis duplicate filter. Degrades open:
// with no redis, or redis down, every delivery is treated as first and the
// reducer's idempotence carries the weight.
func (h *WebhookHandler) firstDelivery(c *gin.Context, key string) bool {
	if h.rdb == nil {
		return true
	}
	first, err := utils.MarkOnce(c.Request.Context(), h.rdb, "webhook:dedup:"+key, dedupTTL)
	if err != nil {
		logger.FromGin(c).Warn("webhook dedup unavailable", "error", err)
		return true
	}
	return first
}

func verifySignature(body []byte, header, secret string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}
