package telephony

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/status"
	"voicebridge/internal/transfer"
	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandlers converts carrier webhooks to internal events, delegates to
// the transfer orchestrator and reconciler, and writes TwiML.
//
// No business logic here: each handler parses the form, calls one internal
// operation, and renders one document.
//
// Call-control responses are text/xml; status/recording/delivery callbacks
// answer a bare 200 text acknowledgement regardless of internal outcome so
// the carrier never retries a processed callback.
type WebhookHandlers struct {
	Calls      calls.Store
	Directory  calls.Directory
	Transfers  *transfer.Service
	Reconciler *status.Reconciler
	Cfg        config.TwilioConfig
}

// Fallback wait audio when HOLD_MUSIC_URL is unset.
const defaultHoldMusic = "http://com.twilio.music.classical.s3.amazonaws.com/BusyStrings.mp3"

// HandleInboundCall answers a new inbound leg: resolve the dialed number,
// create the call record, and screen the caller with a one-digit gather.
func (h WebhookHandlers) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseInboundCall(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("inbound webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	route, err := h.Directory.RouteForNumber(c.Request.Context(), form.To)
	if err != nil {
		log.Warn("no route for dialed number", "to", form.To)
		h.respondTwiML(c, SayHangupDocument("This number is not in service. Goodbye."))
		return
	}

	_, err = h.Calls.Create(c.Request.Context(), calls.Call{
		Sid:       form.CallSid,
		OrgID:     route.OrgID,
		Direction: calls.DirectionInbound,
		From:      form.From,
		To:        form.To,
		Status:    calls.StatusRinging,
	})
	if err != nil && !errors.Is(err, calls.ErrAlreadyExists) {
		// Never block the carrier on persistence; answer the call anyway and
		// let the status callbacks repair the record.
		log.Error("inbound call create failed", "call_sid", form.CallSid, "err", err)
	}

	caller := form.CallerName
	if caller == "" {
		caller = form.From
	}
	announcement := fmt.Sprintf("Call from %s for %s. Press 1 to accept.", caller, route.BusinessName)
	h.respondTwiML(c, ScreenDocument(announcement, h.webhookURL("/webhooks/voice/screen?to="+url.QueryEscape(form.To)), h.Transfers.AcceptTimeoutSeconds()))
}

// HandleScreenDigits bridges the caller to the agent when the screen gather
// returns 1; any other outcome ends the leg politely.
func (h WebhookHandlers) HandleScreenDigits(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseDigits(c.Request)
	if err != nil {
		log.Warn("screen webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if form.Digits != "1" {
		h.respondTwiML(c, SayHangupDocument("Goodbye."))
		return
	}

	route, err := h.Directory.RouteForNumber(c.Request.Context(), c.Query("to"))
	if err != nil || route.AgentNumber == "" {
		log.Warn("screen accept with no agent target", "to", c.Query("to"))
		h.respondTwiML(c, SayHangupDocument("No agent is available. Goodbye."))
		return
	}

	h.respondTwiML(c, ConnectDocument(route.AgentNumber, h.Cfg.CallerID, h.webhookURL("/webhooks/voice/recording")))
}

// HandleOutboundConnect is the PUBLIC document for operator-initiated
// outbound calls: once the operator leg answers, dial the destination. It is
// display-only (no state mutation) and therefore exempt from the signature
// gate.
func (h WebhookHandlers) HandleOutboundConnect(c *gin.Context) {
	to := c.Query("to")
	if to == "" {
		h.respondTwiML(c, HangupDocument())
		return
	}
	h.respondTwiML(c, ConnectDocument(to, h.Cfg.CallerID, h.webhookURL("/webhooks/voice/recording")))
}

// HandleHoldMusic is the PUBLIC wait-content loop for the hold conference.
func (h WebhookHandlers) HandleHoldMusic(c *gin.Context) {
	audio := h.Cfg.HoldMusicURL
	if audio == "" {
		audio = defaultHoldMusic
	}
	h.respondTwiML(c, HoldMusicDocument(audio))
}

// HandleTransferHold parks the redirected source leg in its transfer's hold
// conference.
func (h WebhookHandlers) HandleTransferHold(c *gin.Context) {
	room := c.Query("room")
	if _, err := h.Transfers.GetByRoom(c.Request.Context(), room); err != nil {
		logger.FromGin(c).Warn("hold webhook for unknown room", "room_id", room)
		h.respondTwiML(c, HangupDocument())
		return
	}
	h.respondTwiML(c, HoldDocument(
		room,
		h.webhookURL("/webhooks/voice/hold-music"),
		h.webhookURL("/webhooks/voice/transfer/events?room="+url.QueryEscape(room)),
	))
}

// HandleTransferAnnounce plays the warm-transfer announcement to the target
// agent and gathers the accept digit.
func (h WebhookHandlers) HandleTransferAnnounce(c *gin.Context) {
	room := c.Query("room")
	sess, err := h.Transfers.GetByRoom(c.Request.Context(), room)
	if err != nil || sess.State != transfer.StateAnnouncing {
		// Session resolved or canceled underneath the ringing leg.
		h.respondTwiML(c, HangupDocument())
		return
	}

	caller := sess.CallerName
	if caller == "" {
		caller = "a caller"
	}
	announcement := fmt.Sprintf("Incoming transfer from %s. Press 1 to accept.", caller)
	h.respondTwiML(c, AnnounceDocument(announcement, h.webhookURL("/webhooks/voice/transfer/decision?room="+url.QueryEscape(room)), h.Transfers.AcceptTimeoutSeconds()))
}

// HandleTransferDecision applies the target agent's gather result.
func (h WebhookHandlers) HandleTransferDecision(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseDigits(c.Request)
	if err != nil {
		log.Warn("decision webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	room := c.Query("room")
	sess, decision, err := h.Transfers.Decide(c.Request.Context(), room, form.Digits)
	if err != nil {
		log.Warn("transfer decision failed", "room_id", room, "err", err)
		h.respondTwiML(c, HangupDocument())
		return
	}

	switch decision {
	case transfer.DecisionAccepted:
		h.respondTwiML(c, JoinDocument(sess.RoomID, h.webhookURL("/webhooks/voice/transfer/events?room="+url.QueryEscape(sess.RoomID))))
	case transfer.DecisionDeclined, transfer.DecisionTimedOut:
		log.Info("transfer not completed", "room_id", sess.RoomID, "decision", decision)
		h.respondTwiML(c, NotCompletedDocument())
	default:
		h.respondTwiML(c, HangupDocument())
	}
}

// HandleConferenceEvents consumes conference status callbacks; a
// participant-join for the target leg confirms the bridge.
func (h WebhookHandlers) HandleConferenceEvents(c *gin.Context) {
	form, err := ParseConferenceEvent(c.Request)
	if err == nil && form.StatusEvent == "participant-join" {
		if _, err := h.Transfers.ConfirmBridge(c.Request.Context(), c.Query("room"), form.CallSid); err != nil {
			logger.FromGin(c).Warn("bridge confirm failed", "room_id", c.Query("room"), "err", err)
		}
	}
	c.String(http.StatusOK, "ok")
}

// HandleCallStatus ingests call lifecycle callbacks.
func (h WebhookHandlers) HandleCallStatus(c *gin.Context) {
	form, err := ParseCallStatus(c.Request)
	if err == nil {
		h.Reconciler.ApplyCallStatus(c.Request.Context(), status.CallStatusEvent{
			CallSid: form.CallSid,
			Status:  calls.Status(normalizeCallStatus(form.CallStatus)),
		})
	}
	c.String(http.StatusOK, "ok")
}

// HandleRecordingStatus ingests recording-ready callbacks.
func (h WebhookHandlers) HandleRecordingStatus(c *gin.Context) {
	form, err := ParseRecording(c.Request)
	if err == nil && form.RecordingStatus != "failed" {
		h.Reconciler.ApplyRecording(c.Request.Context(), status.RecordingEvent{
			CallSid:      form.CallSid,
			RecordingSid: form.RecordingSid,
			RecordingURL: form.RecordingURL,
		})
	}
	c.String(http.StatusOK, "ok")
}

// HandleMessageStatus ingests delivery-status callbacks.
func (h WebhookHandlers) HandleMessageStatus(c *gin.Context) {
	form, err := ParseMessageStatus(c.Request)
	if err == nil {
		h.Reconciler.ApplyMessageStatus(c.Request.Context(), status.MessageStatusEvent{
			MessageSid:   form.MessageSid,
			Status:       status.MessageStatus(form.MessageStatus),
			ErrorCode:    form.ErrorCode,
			ErrorMessage: form.ErrorMessage,
		})
	}
	c.String(http.StatusOK, "ok")
}

func (h WebhookHandlers) respondTwiML(c *gin.Context, doc Response) {
	out, err := Render(doc)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", ContentTypeTwiML)
	c.String(http.StatusOK, out)
}

func (h WebhookHandlers) webhookURL(pathAndQuery string) string {
	return h.Cfg.PublicBaseURL + pathAndQuery
}

// normalizeCallStatus maps the carrier's hyphenated statuses onto the stored
// forms.
func normalizeCallStatus(s string) string {
	switch s {
	case "in-progress":
		return string(calls.StatusInProgress)
	case "no-answer":
		return string(calls.StatusNoAnswer)
	default:
		return s
	}
}
