package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/status"
	"voicebridge/internal/transfer"

	"github.com/gin-gonic/gin"
)

const (
	testBaseURL   = "https://voice.example.test"
	testAuthToken = "webhook-secret"
)

type fakeDialer struct {
	nextSid   string
	placed    []string
	redirects []string
}

func (d *fakeDialer) PlaceCall(ctx context.Context, to, from, webhookURL string) (string, error) {
	d.placed = append(d.placed, to+" "+webhookURL)
	return d.nextSid, nil
}

func (d *fakeDialer) RedirectCall(ctx context.Context, callSid, webhookURL string) error {
	d.redirects = append(d.redirects, callSid+" "+webhookURL)
	return nil
}

type webhookFixture struct {
	router    *gin.Engine
	calls     *calls.MemoryStore
	messages  *status.MemoryMessageRepo
	transfers *transfer.Service
	dialer    *fakeDialer
	validator SignatureValidator
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	callStore := calls.NewMemoryStore()
	messages := status.NewMemoryMessageRepo()
	dialer := &fakeDialer{nextSid: "CAtarget"}

	transfers := transfer.NewService(
		transfer.NewMemorySessionStore(),
		callStore,
		dialer,
		transfer.Config{
			CallerID:      "+15550009999",
			PublicBaseURL: testBaseURL,
			AcceptTimeout: 20 * time.Second,
		},
	)

	cfg := config.TwilioConfig{
		AccountSID:            "AC1",
		AuthToken:             testAuthToken,
		CallerID:              "+15550009999",
		PublicBaseURL:         testBaseURL,
		TransferAcceptTimeout: 20 * time.Second,
	}

	h := WebhookHandlers{
		Calls: callStore,
		Directory: calls.StaticDirectory{
			"+15550002222": {
				OrgID:        "org1",
				AgentID:      "agent1",
				AgentNumber:  "+15550003333",
				BusinessName: "Ace Plumbing",
			},
		},
		Transfers:  transfers,
		Reconciler: status.NewReconciler(callStore, messages, transfers, nil),
		Cfg:        cfg,
	}

	validator := NewSignatureValidator(testAuthToken)

	r := gin.New()
	signed := r.Group("/webhooks", RequireSignature(validator, testBaseURL))
	{
		signed.POST("/voice/inbound", h.HandleInboundCall)
		signed.POST("/voice/screen", h.HandleScreenDigits)
		signed.POST("/voice/transfer/hold", h.HandleTransferHold)
		signed.POST("/voice/transfer/announce", h.HandleTransferAnnounce)
		signed.POST("/voice/transfer/decision", h.HandleTransferDecision)
		signed.POST("/voice/transfer/events", h.HandleConferenceEvents)
		signed.POST("/voice/status", h.HandleCallStatus)
		signed.POST("/voice/recording", h.HandleRecordingStatus)
		signed.POST("/sms/status", h.HandleMessageStatus)
	}
	r.POST("/webhooks/voice/outbound-connect", h.HandleOutboundConnect)
	r.POST("/webhooks/voice/hold-music", h.HandleHoldMusic)

	return &webhookFixture{
		router:    r,
		calls:     callStore,
		messages:  messages,
		transfers: transfers,
		dialer:    dialer,
		validator: validator,
	}
}

func (f *webhookFixture) post(t *testing.T, pathAndQuery string, form url.Values, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, pathAndQuery, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signed {
		req.Header.Set(SignatureHeader, f.validator.Sign(testBaseURL+pathAndQuery, form))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestUnsignedWebhookRejectedWithoutSideEffects(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/voice/inbound", url.Values{
		"CallSid": {"CA123"},
		"From":    {"+15550001111"},
		"To":      {"+15550002222"},
	}, false)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if _, err := f.calls.GetBySid(context.Background(), "CA123"); err == nil {
		t.Fatal("unsigned webhook must not create state")
	}
}

func TestTamperedSignatureRejected(t *testing.T) {
	f := newWebhookFixture(t)

	form := url.Values{"CallSid": {"CA123"}, "To": {"+15550002222"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SignatureHeader, "bm90LXRoZS1yZWFsLXNpZ25hdHVyZQ==")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestInboundCallScreensAndRecords(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/voice/inbound", url.Values{
		"CallSid":    {"CA123"},
		"From":       {"+15550001111"},
		"To":         {"+15550002222"},
		"CallStatus": {"ringing"},
	}, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("expected text/xml, got %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "<Gather") {
		t.Fatalf("expected gather document:\n%s", body)
	}
	if !strings.Contains(body, "Ace Plumbing") {
		t.Fatalf("expected business name in announcement:\n%s", body)
	}

	call, err := f.calls.GetBySid(context.Background(), "CA123")
	if err != nil {
		t.Fatalf("call not recorded: %v", err)
	}
	if call.Status != calls.StatusRinging || call.OrgID != "org1" || call.Direction != calls.DirectionInbound {
		t.Fatalf("unexpected call record: %+v", call)
	}
}

func TestInboundCallUnroutedNumber(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/voice/inbound", url.Values{
		"CallSid": {"CA123"},
		"From":    {"+15550001111"},
		"To":      {"+15559990000"},
	}, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not in service") {
		t.Fatalf("expected out-of-service message:\n%s", w.Body.String())
	}
}

func TestScreenAcceptDialsAgentWithRecording(t *testing.T) {
	f := newWebhookFixture(t)

	path := "/webhooks/voice/screen?to=" + url.QueryEscape("+15550002222")
	w := f.post(t, path, url.Values{"CallSid": {"CA123"}, "Digits": {"1"}}, true)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"<Number>+15550003333</Number>",
		`callerId="+15550009999"`,
		`record="record-from-answer-dual"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestScreenDeclineEndsLeg(t *testing.T) {
	f := newWebhookFixture(t)

	path := "/webhooks/voice/screen?to=" + url.QueryEscape("+15550002222")
	w := f.post(t, path, url.Values{"CallSid": {"CA123"}, "Digits": {"9"}}, true)

	body := w.Body.String()
	if !strings.Contains(body, "<Hangup>") || strings.Contains(body, "<Dial") {
		t.Fatalf("expected hangup without dial:\n%s", body)
	}
}

func TestOutboundConnectIsPublic(t *testing.T) {
	f := newWebhookFixture(t)

	path := "/webhooks/voice/outbound-connect?to=" + url.QueryEscape("+15550004444")
	w := f.post(t, path, url.Values{"CallSid": {"CAout"}}, false)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without signature, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Number>+15550004444</Number>") {
		t.Fatalf("expected dial to destination:\n%s", w.Body.String())
	}
}

func TestOutboundConnectWithoutTargetHangsUp(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/voice/outbound-connect", url.Values{}, false)
	if !strings.Contains(w.Body.String(), "<Hangup>") {
		t.Fatalf("expected hangup:\n%s", w.Body.String())
	}
}

func TestHoldMusicIsPublicAndLoops(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/voice/hold-music", url.Values{}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `loop="0"`) {
		t.Fatalf("expected endless loop:\n%s", w.Body.String())
	}
}

// startTransfer seeds a live call and walks Start, returning the session.
func (f *webhookFixture) startTransfer(t *testing.T) transfer.Session {
	t.Helper()
	ctx := context.Background()

	if _, err := f.calls.Create(ctx, calls.Call{
		Sid:       "CAsource",
		OrgID:     "org1",
		Direction: calls.DirectionInbound,
		From:      "+15550001111",
		To:        "+15550002222",
		Status:    calls.StatusInProgress,
	}); err != nil {
		t.Fatalf("seed call: %v", err)
	}

	sess, err := f.transfers.Start(ctx, "CAsource", transfer.StartRequest{
		TargetAgentID: "agent2",
		TargetNumber:  "+15550005555",
		CallerName:    "Dana",
	})
	if err != nil {
		t.Fatalf("start transfer: %v", err)
	}
	return sess
}

func TestTransferHoldParksSourceLeg(t *testing.T) {
	f := newWebhookFixture(t)
	sess := f.startTransfer(t)

	path := "/webhooks/voice/transfer/hold?room=" + url.QueryEscape(sess.RoomID)
	w := f.post(t, path, url.Values{"CallSid": {"CAsource"}}, true)

	body := w.Body.String()
	for _, want := range []string{
		`startConferenceOnEnter="false"`,
		`endConferenceOnExit="false"`,
		">" + sess.RoomID + "</Conference>",
		"/webhooks/voice/hold-music",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestTransferHoldUnknownRoomHangsUp(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/voice/transfer/hold?room=xfer-nope", url.Values{}, true)
	if !strings.Contains(w.Body.String(), "<Hangup>") {
		t.Fatalf("expected hangup:\n%s", w.Body.String())
	}
}

func TestTransferAnnounceGathersDecision(t *testing.T) {
	f := newWebhookFixture(t)
	sess := f.startTransfer(t)

	path := "/webhooks/voice/transfer/announce?room=" + url.QueryEscape(sess.RoomID)
	w := f.post(t, path, url.Values{"CallSid": {"CAtarget"}}, true)

	body := w.Body.String()
	if !strings.Contains(body, "Dana") {
		t.Fatalf("expected caller name in announcement:\n%s", body)
	}
	if !strings.Contains(body, "/webhooks/voice/transfer/decision?room=") {
		t.Fatalf("expected decision action:\n%s", body)
	}
	if !strings.Contains(body, `timeout="20"`) {
		t.Fatalf("expected configured gather window:\n%s", body)
	}
}

func TestTransferAcceptJoinsAndBridges(t *testing.T) {
	f := newWebhookFixture(t)
	sess := f.startTransfer(t)
	ctx := context.Background()

	decisionPath := "/webhooks/voice/transfer/decision?room=" + url.QueryEscape(sess.RoomID)
	w := f.post(t, decisionPath, url.Values{"CallSid": {"CAtarget"}, "Digits": {"1"}}, true)

	body := w.Body.String()
	if !strings.Contains(body, `startConferenceOnEnter="true"`) || !strings.Contains(body, `endConferenceOnExit="true"`) {
		t.Fatalf("expected join document:\n%s", body)
	}

	got, err := f.transfers.GetByRoom(ctx, sess.RoomID)
	if err != nil || got.State != transfer.StateAccepted {
		t.Fatalf("expected accepted, got %v %v", got.State, err)
	}

	// Conference confirms the target leg joined.
	eventsPath := "/webhooks/voice/transfer/events?room=" + url.QueryEscape(sess.RoomID)
	w = f.post(t, eventsPath, url.Values{
		"StatusCallbackEvent": {"participant-join"},
		"CallSid":             {"CAtarget"},
		"FriendlyName":        {sess.RoomID},
	}, true)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected bare ok ack, got %d %q", w.Code, w.Body.String())
	}

	got, err = f.transfers.GetByRoom(ctx, sess.RoomID)
	if err != nil || got.State != transfer.StateBridged {
		t.Fatalf("expected bridged, got %v %v", got.State, err)
	}
}

func TestTransferDeclineKeepsSourceParked(t *testing.T) {
	f := newWebhookFixture(t)
	sess := f.startTransfer(t)

	decisionPath := "/webhooks/voice/transfer/decision?room=" + url.QueryEscape(sess.RoomID)
	w := f.post(t, decisionPath, url.Values{"CallSid": {"CAtarget"}, "Digits": {"3"}}, true)

	body := w.Body.String()
	if !strings.Contains(body, "not completed") || !strings.Contains(body, "<Hangup>") {
		t.Fatalf("expected not-completed hangup for target leg:\n%s", body)
	}

	got, err := f.transfers.GetByRoom(context.Background(), sess.RoomID)
	if err != nil || got.State != transfer.StateDeclined {
		t.Fatalf("expected declined, got %v %v", got.State, err)
	}
}

func TestTransferTimeoutOnEmptyDigits(t *testing.T) {
	f := newWebhookFixture(t)
	sess := f.startTransfer(t)

	decisionPath := "/webhooks/voice/transfer/decision?room=" + url.QueryEscape(sess.RoomID)
	f.post(t, decisionPath, url.Values{"CallSid": {"CAtarget"}, "Digits": {""}}, true)

	got, err := f.transfers.GetByRoom(context.Background(), sess.RoomID)
	if err != nil || got.State != transfer.StateTimedOut {
		t.Fatalf("expected timed_out, got %v %v", got.State, err)
	}
}

func TestCallStatusTerminalCancelsTransfer(t *testing.T) {
	f := newWebhookFixture(t)
	sess := f.startTransfer(t)

	w := f.post(t, "/webhooks/voice/status", url.Values{
		"CallSid":    {"CAsource"},
		"CallStatus": {"completed"},
	}, true)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected bare ok ack, got %d %q", w.Code, w.Body.String())
	}

	got, err := f.transfers.GetByRoom(context.Background(), sess.RoomID)
	if err != nil || got.State != transfer.StateCanceled {
		t.Fatalf("expected canceled, got %v %v", got.State, err)
	}
}

func TestCallStatusTargetLegEndResolvesTransfer(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	sess := f.startTransfer(t)

	// The agent hung up during the announcement; the leg's completed status
	// callback is the only signal the carrier sends.
	w := f.post(t, "/webhooks/voice/status", url.Values{
		"CallSid":    {"CAtarget"},
		"CallStatus": {"completed"},
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	got, err := f.transfers.GetByRoom(ctx, sess.RoomID)
	if err != nil || got.State != transfer.StateDeclined {
		t.Fatalf("expected declined, got %v %v", got.State, err)
	}

	// The slot must be free again: a retry succeeds instead of conflicting.
	if _, err := f.transfers.Start(ctx, "CAsource", transfer.StartRequest{
		TargetNumber: "+15550006666",
	}); err != nil {
		t.Fatalf("slot still wedged after target hangup: %v", err)
	}
}

func TestCallStatusTargetLegNoAnswerTimesOutTransfer(t *testing.T) {
	f := newWebhookFixture(t)
	sess := f.startTransfer(t)

	f.post(t, "/webhooks/voice/status", url.Values{
		"CallSid":    {"CAtarget"},
		"CallStatus": {"no-answer"},
	}, true)

	got, err := f.transfers.GetByRoom(context.Background(), sess.RoomID)
	if err != nil || got.State != transfer.StateTimedOut {
		t.Fatalf("expected timed_out, got %v %v", got.State, err)
	}
}

func TestCallStatusHyphenatedCarrierForms(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	if _, err := f.calls.Create(ctx, calls.Call{
		Sid: "CA123", OrgID: "org1", Direction: calls.DirectionInbound, Status: calls.StatusRinging,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.post(t, "/webhooks/voice/status", url.Values{
		"CallSid":    {"CA123"},
		"CallStatus": {"in-progress"},
	}, true)

	call, err := f.calls.GetBySid(ctx, "CA123")
	if err != nil || call.Status != calls.StatusInProgress {
		t.Fatalf("expected in_progress, got %v %v", call.Status, err)
	}
}

func TestCallStatusUnknownSidStillAcked(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/voice/status", url.Values{
		"CallSid":    {"CAghost"},
		"CallStatus": {"completed"},
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown sid must still be acked, got %d", w.Code)
	}
}

func TestRecordingCallbackAttachesMedia(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	if _, err := f.calls.Create(ctx, calls.Call{
		Sid: "CA123", OrgID: "org1", Direction: calls.DirectionInbound, Status: calls.StatusInProgress,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := f.post(t, "/webhooks/voice/recording", url.Values{
		"CallSid":         {"CA123"},
		"RecordingSid":    {"RE1"},
		"RecordingUrl":    {"https://api.example.test/recordings/RE1"},
		"RecordingStatus": {"completed"},
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	call, err := f.calls.GetBySid(ctx, "CA123")
	if err != nil || call.RecordingSid != "RE1" || call.RecordingURL != "https://api.example.test/recordings/RE1" {
		t.Fatalf("recording not attached: %+v %v", call, err)
	}
}

func TestMessageStatusUnknownSidNoWrite(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, "/webhooks/sms/status", url.Values{
		"MessageSid":    {"SM999"},
		"MessageStatus": {"delivered"},
	}, true)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected bare ok ack, got %d %q", w.Code, w.Body.String())
	}
	if _, err := f.messages.GetBySid(context.Background(), "SM999"); err == nil {
		t.Fatal("unknown message must not be created")
	}
}

func TestMessageStatusLegacyFieldNames(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	f.messages.Seed(status.MessageDelivery{Sid: "SM1", OrgID: "org1", Status: status.MessageStatusSent})

	f.post(t, "/webhooks/sms/status", url.Values{
		"SmsSid":    {"SM1"},
		"SmsStatus": {"delivered"},
	}, true)

	m, err := f.messages.GetBySid(ctx, "SM1")
	if err != nil || m.Status != status.MessageStatusDelivered {
		t.Fatalf("expected delivered, got %v %v", m.Status, err)
	}
}
