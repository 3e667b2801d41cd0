package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrTransferActive    = errors.New("transfer: another transfer is already active for this call")
	ErrInvalidArgument   = errors.New("transfer: invalid argument")
	ErrInvalidTransition = errors.New("transfer: invalid state transition")
	ErrCallNotFound      = errors.New("transfer: call not found")
	ErrCallNotLive       = errors.New("transfer: call is not in progress")
)

// Dialer is the outbound call-initiation collaborator. Implemented by the
// carrier REST client; results are observed only through later webhooks.
type Dialer interface {
	PlaceCall(ctx context.Context, to, from, webhookURL string) (string, error)
	RedirectCall(ctx context.Context, callSid, webhookURL string) error
}

// Config is the static configuration the orchestrator needs. Injected at
// construction so tests run against fixed fixtures.
type Config struct {
	// CallerID is the org's outbound caller-ID for the announcement leg.
	CallerID string
	// PublicBaseURL builds the absolute webhook URLs handed to the carrier.
	PublicBaseURL string
	// AcceptTimeout is the gather window for the transfer announcement.
	AcceptTimeout time.Duration
	// SessionTTL bounds how long an unresolved session may linger before
	// Redis ages it out. Defaults to one hour.
	SessionTTL time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.AcceptTimeout <= 0 {
		out.AcceptTimeout = 20 * time.Second
	}
	if out.SessionTTL <= 0 {
		out.SessionTTL = time.Hour
	}
	return out
}

// Service coordinates the warm-transfer state machine: hold conference,
// announcement, accept/decline/timeout, final bridge. Each webhook is one
// state-transition event; the carrier drives the sequencing.
type Service struct {
	sessions SessionStore
	calls    calls.Store
	dialer   Dialer
	cfg      Config
	clock    func() time.Time
}

func NewService(sessions SessionStore, callStore calls.Store, dialer Dialer, cfg Config) *Service {
	return &Service{
		sessions: sessions,
		calls:    callStore,
		dialer:   dialer,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

// AcceptTimeoutSeconds is the gather window forwarded into the announcement
// document.
func (s *Service) AcceptTimeoutSeconds() int {
	return int(s.cfg.AcceptTimeout / time.Second)
}

type StartRequest struct {
	TargetAgentID string `json:"target_agent_id"`
	TargetNumber  string `json:"target_number"`
	CallerName    string `json:"caller_name,omitempty"`
}

// Start begins a warm transfer for a live source call: claims the call's
// transfer slot, parks the source leg in a fresh hold conference, and dials
// the target agent with the announcement document.
//
// Exactly one active session may exist per source call; a second Start while
// one is holding/announcing/accepted returns ErrTransferActive and leaves
// the original session untouched.
func (s *Service) Start(ctx context.Context, sourceCallSid string, req StartRequest) (Session, error) {
	if sourceCallSid == "" || req.TargetNumber == "" {
		return Session{}, ErrInvalidArgument
	}

	call, err := s.calls.GetBySid(ctx, sourceCallSid)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return Session{}, ErrCallNotFound
		}
		return Session{}, err
	}
	if call.Status != calls.StatusInProgress {
		return Session{}, ErrCallNotLive
	}

	roomID := "xfer-" + uuid.NewString()
	claimed, err := s.sessions.Claim(ctx, sourceCallSid, roomID, s.cfg.SessionTTL)
	if err != nil {
		return Session{}, err
	}
	if !claimed {
		return Session{}, ErrTransferActive
	}

	sess := Session{
		RoomID:        roomID,
		OrgID:         call.OrgID,
		SourceCallSid: sourceCallSid,
		TargetAgentID: req.TargetAgentID,
		TargetNumber:  req.TargetNumber,
		CallerName:    req.CallerName,
		State:         StateHolding,
		CreatedAt:     s.clock().UTC(),
	}
	if err := s.sessions.Save(ctx, sess, s.cfg.SessionTTL); err != nil {
		_ = s.sessions.Release(ctx, sourceCallSid, roomID)
		return Session{}, err
	}

	// Park the customer on hold. The redirected leg fetches the conference
	// document from the hold webhook.
	if err := s.dialer.RedirectCall(ctx, sourceCallSid, s.webhookURL("/webhooks/voice/transfer/hold", roomID)); err != nil {
		_ = s.sessions.Release(ctx, sourceCallSid, roomID)
		return Session{}, fmt.Errorf("transfer: holding source leg: %w", err)
	}

	// Dial the target agent; the announcement leg drives the rest.
	targetSid, err := s.dialer.PlaceCall(ctx, req.TargetNumber, s.cfg.CallerID, s.webhookURL("/webhooks/voice/transfer/announce", roomID))
	if err != nil {
		// The source stays parked; the operator can pick the call back up.
		_ = s.sessions.Release(ctx, sourceCallSid, roomID)
		return Session{}, fmt.Errorf("transfer: dialing target: %w", err)
	}

	// Record the announcement leg so its status callbacks resolve to a known
	// call; a dead target leg is the only signal when the agent never answers.
	if _, err := s.calls.Create(ctx, calls.Call{
		Sid:       targetSid,
		OrgID:     call.OrgID,
		Direction: calls.DirectionOutbound,
		From:      s.cfg.CallerID,
		To:        req.TargetNumber,
		Status:    calls.StatusQueued,
	}); err != nil && !errors.Is(err, calls.ErrAlreadyExists) {
		logger.From(ctx).Error("target leg record failed", "call_sid", targetSid, "err", err)
	}

	sess.TargetCallSid = targetSid
	if terr := sess.transition(StateAnnouncing, s.clock()); terr != nil {
		return Session{}, terr
	}
	if err := s.sessions.Save(ctx, sess, s.cfg.SessionTTL); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// GetByRoom resolves a session for webhook handlers.
func (s *Service) GetByRoom(ctx context.Context, roomID string) (Session, error) {
	if roomID == "" {
		return Session{}, ErrInvalidArgument
	}
	return s.sessions.GetByRoom(ctx, roomID)
}

// ActiveForSource returns the session currently occupying the call's slot.
func (s *Service) ActiveForSource(ctx context.Context, sourceCallSid string) (Session, error) {
	if sourceCallSid == "" {
		return Session{}, ErrInvalidArgument
	}
	return s.sessions.ActiveBySource(ctx, sourceCallSid)
}

// Decision is the orchestrator's answer to the gather-result webhook.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionDeclined Decision = "declined"
	DecisionTimedOut Decision = "timed_out"
	// DecisionAbandon covers a session canceled underneath the target leg;
	// the handler answers with a hangup document.
	DecisionAbandon Decision = "abandon"
)

// Decide applies the target agent's gather result. Digit "1" within the
// window accepts; an empty digit means the window elapsed; anything else
// declines. Declined and timed-out transfers free the slot immediately;
// the source stays parked and the operator retries or picks back up.
func (s *Service) Decide(ctx context.Context, roomID, digits string) (Session, Decision, error) {
	sess, err := s.sessions.GetByRoom(ctx, roomID)
	if err != nil {
		return Session{}, DecisionAbandon, err
	}

	if sess.State != StateAnnouncing {
		// Source hung up (canceled) or a replayed webhook after resolution.
		return sess, DecisionAbandon, nil
	}

	now := s.clock()
	var decision Decision
	switch digits {
	case "1":
		decision = DecisionAccepted
		err = sess.transition(StateAccepted, now)
	case "":
		decision = DecisionTimedOut
		err = sess.transition(StateTimedOut, now)
	default:
		decision = DecisionDeclined
		err = sess.transition(StateDeclined, now)
	}
	if err != nil {
		return Session{}, DecisionAbandon, err
	}

	if err := s.sessions.Save(ctx, sess, s.cfg.SessionTTL); err != nil {
		return Session{}, DecisionAbandon, err
	}
	if sess.State.Resolved() {
		_ = s.sessions.Release(ctx, sess.SourceCallSid, sess.RoomID)
	}
	return sess, decision, nil
}

// ConfirmBridge marks the transfer bridged once the conference reports the
// target leg joined. Frees the slot; the session is immutable afterwards.
func (s *Service) ConfirmBridge(ctx context.Context, roomID, joinedCallSid string) (Session, error) {
	sess, err := s.sessions.GetByRoom(ctx, roomID)
	if err != nil {
		return Session{}, err
	}
	if sess.State != StateAccepted {
		// Join events for the source leg arrive while holding; ignore them.
		return sess, nil
	}
	if joinedCallSid != "" && joinedCallSid != sess.TargetCallSid {
		return sess, nil
	}
	if err := sess.transition(StateBridged, s.clock()); err != nil {
		return Session{}, err
	}
	if err := s.sessions.Save(ctx, sess, s.cfg.SessionTTL); err != nil {
		return Session{}, err
	}
	_ = s.sessions.Release(ctx, sess.SourceCallSid, sess.RoomID)
	return sess, nil
}

// CallEnded routes a terminal call status into the state machine. The sid
// may be either leg of an in-flight transfer: a dead source leg cancels an
// unresolved session, a dead announcement leg resolves it to declined (the
// agent answered and hung up) or timed_out (never answered). Sids with no
// session attached are ignored.
func (s *Service) CallEnded(ctx context.Context, callSid string, final calls.Status) error {
	if sess, err := s.sessions.ActiveBySource(ctx, callSid); err == nil {
		return s.sourceEnded(ctx, sess)
	} else if !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	sess, err := s.sessions.ActiveByTarget(ctx, callSid)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return s.targetEnded(ctx, sess, final)
}

// sourceEnded cancels the session while holding/announcing. Any in-flight
// announcement leg is abandoned; its next webhook gets a hangup document.
func (s *Service) sourceEnded(ctx context.Context, sess Session) error {
	if !sess.State.CanTransitionTo(StateCanceled) {
		// Accepted sessions ride out the bridge; the conference tears itself
		// down when the legs leave.
		return nil
	}
	if err := sess.transition(StateCanceled, s.clock()); err != nil {
		return err
	}
	if err := s.sessions.Save(ctx, sess, s.cfg.SessionTTL); err != nil {
		return err
	}
	_ = s.sessions.Release(ctx, sess.SourceCallSid, sess.RoomID)
	logger.From(ctx).Info("transfer canceled, source leg ended",
		"room_id", sess.RoomID,
		"source_call_sid", sess.SourceCallSid,
	)
	return nil
}

// targetEnded resolves an announcing session whose agent leg died before a
// decision was gathered. The slot frees immediately so the operator can
// retry; the source stays parked in the hold conference.
func (s *Service) targetEnded(ctx context.Context, sess Session, final calls.Status) error {
	if sess.State != StateAnnouncing {
		// Decision already gathered, or the session was canceled; the leg's
		// terminal status carries no further information.
		return nil
	}

	next := StateTimedOut
	if final == calls.StatusCompleted {
		// The leg completed normally, so the agent answered and hung up
		// during the announcement.
		next = StateDeclined
	}
	if err := sess.transition(next, s.clock()); err != nil {
		return err
	}
	if err := s.sessions.Save(ctx, sess, s.cfg.SessionTTL); err != nil {
		return err
	}
	_ = s.sessions.Release(ctx, sess.SourceCallSid, sess.RoomID)
	logger.From(ctx).Info("transfer resolved, target leg ended",
		"room_id", sess.RoomID,
		"target_call_sid", sess.TargetCallSid,
		"state", sess.State,
	)
	return nil
}

func (s *Service) webhookURL(path, roomID string) string {
	return s.cfg.PublicBaseURL + path + "?room=" + url.QueryEscape(roomID)
}
