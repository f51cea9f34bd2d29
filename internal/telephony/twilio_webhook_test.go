package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"outbound-dialer/internal/calls"
)

func statusRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseTwilioStatus(t *testing.T) {
	form := url.Values{
		"CallSid":         {"CA123"},
		"AccountSid":      {"AC1"},
		"From":            {" +15551234567 "},
		"To":              {"+15557654321"},
		"CallStatus":      {"In-Progress"},
		"SipResponseCode": {"200"},
		"Timestamp":       {"Tue, 14 Nov 2023 22:13:20 +0000"},
	}
	r := statusRequest("/webhooks/twilio/status?attemptId=att-1", form)

	f, err := ParseTwilioStatus(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.CallAttemptID != "att-1" {
		t.Fatalf("expected attempt id from query, got %q", f.CallAttemptID)
	}
	if f.CallSid != "CA123" || f.From != "+15551234567" || f.To != "+15557654321" {
		t.Fatalf("unexpected form %+v", f)
	}
	if f.CallStatus != "in-progress" {
		t.Fatalf("expected lower-cased status, got %q", f.CallStatus)
	}
	if f.SipResponseCode != 200 {
		t.Fatalf("expected sip code 200, got %d", f.SipResponseCode)
	}
	if f.Timestamp.Unix() != 1700000000 {
		t.Fatalf("unexpected timestamp %v", f.Timestamp)
	}
}

func TestTwilioStatusForm_Event(t *testing.T) {
	cases := []struct {
		status     string
		answeredBy string
		sip        int
		state      calls.CallState
		reason     calls.EndReason
	}{
		{status: "queued", state: calls.StateDialing},
		{status: "initiated", state: calls.StateDialing},
		{status: "ringing", state: calls.StateRinging},
		{status: "in-progress", state: calls.StateConnected},
		{status: "completed", state: calls.StateWrapUp, reason: calls.EndReasonCustomerHangup},
		{status: "completed", answeredBy: "machine_end_beep", state: calls.StateWrapUp, reason: calls.EndReasonMachineDetected},
		{status: "busy", state: calls.StateWrapUp, reason: calls.EndReasonBusy},
		{status: "no-answer", state: calls.StateWrapUp, reason: calls.EndReasonNoAnswer},
		{status: "canceled", state: calls.StateWrapUp, reason: calls.EndReasonCanceled},
		{status: "failed", sip: 404, state: calls.StateWrapUp, reason: calls.EndReasonInvalidNumber},
		{status: "failed", sip: 500, state: calls.StateWrapUp, reason: calls.EndReasonFailed},
	}
	for _, tc := range cases {
		f := TwilioStatusForm{CallStatus: tc.status, AnsweredBy: tc.answeredBy, SipResponseCode: tc.sip}
		ev, ok := f.Event()
		if !ok {
			t.Fatalf("%s: expected event", tc.status)
		}
		if got := calls.TargetState(ev); got != tc.state {
			t.Fatalf("%s: expected %s, got %s", tc.status, tc.state, got)
		}
		if tc.reason == "" {
			continue
		}
		h := ev.(calls.Hangup)
		if got := calls.ReasonForHangup(h.Local, h.Cause); got != tc.reason {
			t.Fatalf("%s/%d: expected %s, got %s", tc.status, tc.sip, tc.reason, got)
		}
	}

	if _, ok := (TwilioStatusForm{CallStatus: "mystery"}).Event(); ok {
		t.Fatalf("expected unknown status to be dropped")
	}
}

func sign(token, fullURL string, form url.Values) string {
	s := fullURL
	// keys already sorted by the caller
	for _, k := range []string{"CallSid", "CallStatus", "To"} {
		for _, v := range form[k] {
			s += k + v
		}
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidTwilioSignature(t *testing.T) {
	u := "https://dialer.example.com/webhooks/twilio/status?attemptId=att-1"
	form := url.Values{"To": {"+15557654321"}, "CallSid": {"CA1"}, "CallStatus": {"ringing"}}
	sig := sign("secret", u, form)

	if !ValidTwilioSignature("secret", u, form, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidTwilioSignature("other", u, form, sig) {
		t.Fatalf("expected wrong token to fail")
	}
	form.Set("CallStatus", "completed")
	if ValidTwilioSignature("secret", u, form, sig) {
		t.Fatalf("expected tampered form to fail")
	}
	if ValidTwilioSignature("secret", u, form, "") {
		t.Fatalf("expected empty signature to fail")
	}
}
