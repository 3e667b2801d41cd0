package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal TwiML builder for the verbs the call-control core emits.
// It intentionally avoids any provider SDK dependency.
//
// All interpolated text (caller names, business names) flows through
// encoding/xml chardata/attribute encoding, which entity-escapes reserved
// characters. That is the markup-injection defense; nothing concatenates raw
// strings into documents.

const ContentTypeTwiML = "text/xml; charset=utf-8"

type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type Play struct {
	XMLName xml.Name `xml:"Play"`
	// Loop 0 means repeat forever (hold music).
	Loop *int   `xml:"loop,attr,omitempty"`
	URL  string `xml:",chardata"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type Gather struct {
	XMLName   xml.Name `xml:"Gather"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	// ActionOnEmptyResult makes the carrier request the action URL even when
	// the window elapses with no digits; without it an empty gather falls
	// through to the verbs after the Gather and the action never fires.
	ActionOnEmptyResult string `xml:"actionOnEmptyResult,attr,omitempty"`
	Verbs               []any  `xml:",any"`
}

type Dial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Action   string   `xml:"action,attr,omitempty"`
	Method   string   `xml:"method,attr,omitempty"`
	Timeout  int      `xml:"timeout,attr,omitempty"`
	// Record enables dual-channel call recording; the recording-ready
	// callback lands on RecordingStatusCallback.
	Record                  string `xml:"record,attr,omitempty"`
	RecordingStatusCallback string `xml:"recordingStatusCallback,attr,omitempty"`

	Number     string      `xml:"Number,omitempty"`
	Conference *Conference `xml:"Conference,omitempty"`
}

type Conference struct {
	// Both flags are always rendered: the hold leg needs explicit "false"
	// values, which omitempty would swallow.
	StartConferenceOnEnter bool   `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    bool   `xml:"endConferenceOnExit,attr"`
	Beep                   string `xml:"beep,attr,omitempty"`
	WaitURL                string `xml:"waitUrl,attr,omitempty"`
	WaitMethod             string `xml:"waitMethod,attr,omitempty"`
	StatusCallback         string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent    string `xml:"statusCallbackEvent,attr,omitempty"`
	Name                   string `xml:",chardata"`
}

// Render serializes a response document with the XML declaration the carrier
// expects. Pure and deterministic.
func Render(r Response) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// --- Document constructors -------------------------------------------------
//
// Each maps one call-control intent to one document, so handlers stay thin.

// ScreenDocument asks the answering agent to accept the call: a one-digit
// gather around the announcement, falling back to hangup when nothing is
// pressed before the window elapses.
func ScreenDocument(announcement, actionURL string, timeoutSec int) Response {
	return Response{Verbs: []any{
		Gather{
			NumDigits: 1,
			Timeout:   timeoutSec,
			Action:    actionURL,
			Method:    "POST",
			Verbs:     []any{Say{Text: announcement}},
		},
		Say{Text: "No answer received. Goodbye."},
		Hangup{},
	}}
}

// ConnectDocument bridges the current leg to a phone number, optionally
// recording the call.
func ConnectDocument(number, callerID, recordingCallbackURL string) Response {
	d := Dial{
		CallerID: callerID,
		Number:   number,
	}
	if recordingCallbackURL != "" {
		d.Record = "record-from-answer-dual"
		d.RecordingStatusCallback = recordingCallbackURL
	}
	return Response{Verbs: []any{d}}
}

// HoldDocument parks the current leg in the named conference on hold music.
// The conference must not start mixing until a second party explicitly joins
// and must survive this leg being alone in it.
func HoldDocument(room, waitURL, statusCallbackURL string) Response {
	return Response{Verbs: []any{
		Dial{Conference: &Conference{
			Name:                   room,
			StartConferenceOnEnter: false,
			EndConferenceOnExit:    false,
			Beep:                   "false",
			WaitURL:                waitURL,
			WaitMethod:             "POST",
			StatusCallback:         statusCallbackURL,
			StatusCallbackEvent:    "join leave",
		}},
	}}
}

// JoinDocument drops the accepting leg into the conference, which starts
// mixing both legs. The conference tears down when this leg exits.
func JoinDocument(room, statusCallbackURL string) Response {
	return Response{Verbs: []any{
		Dial{Conference: &Conference{
			Name:                   room,
			StartConferenceOnEnter: true,
			EndConferenceOnExit:    true,
			StatusCallback:         statusCallbackURL,
			StatusCallbackEvent:    "join leave",
		}},
	}}
}

// AnnounceDocument plays the warm-transfer announcement to the target agent
// and gathers the accept/decline digit within the configured window. An
// empty result still posts to the action URL so the window expiry reaches
// the orchestrator as a timeout decision.
func AnnounceDocument(announcement, actionURL string, timeoutSec int) Response {
	return Response{Verbs: []any{
		Gather{
			NumDigits:           1,
			Timeout:             timeoutSec,
			Action:              actionURL,
			Method:              "POST",
			ActionOnEmptyResult: "true",
			Verbs:               []any{Say{Text: announcement}},
		},
		Say{Text: "The transfer was not completed. Goodbye."},
		Hangup{},
	}}
}

// NotCompletedDocument tells the target leg the transfer did not go through
// and terminates it. The source leg stays parked in the hold conference.
func NotCompletedDocument() Response {
	return Response{Verbs: []any{
		Say{Text: "The transfer was not completed. Goodbye."},
		Hangup{},
	}}
}

// HoldMusicDocument loops hold audio forever; the carrier re-requests the
// wait content each time the loop ends otherwise.
func HoldMusicDocument(audioURL string) Response {
	loop := 0
	return Response{Verbs: []any{Play{Loop: &loop, URL: audioURL}}}
}

// HangupDocument ends the leg immediately.
func HangupDocument() Response {
	return Response{Verbs: []any{Hangup{}}}
}

// SayHangupDocument speaks a short message and ends the leg.
func SayHangupDocument(text string) Response {
	return Response{Verbs: []any{Say{Text: text}, Hangup{}}}
}
