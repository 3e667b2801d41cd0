package telephony

import (
	"net/http"
	"strings"
)

// Webhook form payloads. The carrier sends application/x-www-form-urlencoded
// by default; only the fields the core consumes are captured here. Business
// decisions are not made in this file.

// InboundCallForm is the initial inbound-call webhook.
type InboundCallForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	CallerName string
}

func ParseInboundCall(r *http.Request) (InboundCallForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundCallForm{}, err
	}
	return InboundCallForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
		CallerName: strings.TrimSpace(r.PostFormValue("CallerName")),
	}, nil
}

// DigitsForm is any gather-result webhook (screen accept, transfer decision).
// Digits is empty when the gather window elapsed with no input.
type DigitsForm struct {
	CallSid string
	Digits  string
}

func ParseDigits(r *http.Request) (DigitsForm, error) {
	if err := r.ParseForm(); err != nil {
		return DigitsForm{}, err
	}
	return DigitsForm{
		CallSid: r.PostFormValue("CallSid"),
		Digits:  strings.TrimSpace(r.PostFormValue("Digits")),
	}, nil
}

// CallStatusForm is the asynchronous call lifecycle callback.
type CallStatusForm struct {
	CallSid    string
	CallStatus string
	From       string
	To         string
	Direction  string
}

func ParseCallStatus(r *http.Request) (CallStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return CallStatusForm{}, err
	}
	return CallStatusForm{
		CallSid:    r.PostFormValue("CallSid"),
		CallStatus: r.PostFormValue("CallStatus"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
	}, nil
}

// RecordingForm is the recording-ready callback.
type RecordingForm struct {
	CallSid         string
	RecordingSid    string
	RecordingURL    string
	RecordingStatus string
}

func ParseRecording(r *http.Request) (RecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingForm{}, err
	}
	return RecordingForm{
		CallSid:         r.PostFormValue("CallSid"),
		RecordingSid:    r.PostFormValue("RecordingSid"),
		RecordingURL:    r.PostFormValue("RecordingUrl"),
		RecordingStatus: r.PostFormValue("RecordingStatus"),
	}, nil
}

// MessageStatusForm is the delivery-status callback for outbound messages.
type MessageStatusForm struct {
	MessageSid    string
	MessageStatus string
	ErrorCode     string
	ErrorMessage  string
}

func ParseMessageStatus(r *http.Request) (MessageStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return MessageStatusForm{}, err
	}
	f := MessageStatusForm{
		MessageSid:    r.PostFormValue("MessageSid"),
		MessageStatus: r.PostFormValue("MessageStatus"),
		ErrorCode:     r.PostFormValue("ErrorCode"),
		ErrorMessage:  r.PostFormValue("ErrorMessage"),
	}
	if f.MessageSid == "" {
		// Older API versions send SmsSid/SmsStatus.
		f.MessageSid = r.PostFormValue("SmsSid")
	}
	if f.MessageStatus == "" {
		f.MessageStatus = r.PostFormValue("SmsStatus")
	}
	return f, nil
}

// ConferenceEventForm is the conference status callback (join/leave events).
type ConferenceEventForm struct {
	ConferenceSid string
	FriendlyName  string
	StatusEvent   string
	CallSid       string
}

func ParseConferenceEvent(r *http.Request) (ConferenceEventForm, error) {
	if err := r.ParseForm(); err != nil {
		return ConferenceEventForm{}, err
	}
	return ConferenceEventForm{
		ConferenceSid: r.PostFormValue("ConferenceSid"),
		FriendlyName:  r.PostFormValue("FriendlyName"),
		StatusEvent:   r.PostFormValue("StatusCallbackEvent"),
		CallSid:       r.PostFormValue("CallSid"),
	}, nil
}

func normalizePhone(s string) string {
	// The carrier sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}
