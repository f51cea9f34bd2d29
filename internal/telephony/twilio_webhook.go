package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"outbound-dialer/internal/calls"
)

// TwilioStatusForm captures the subset of status callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// The attempt id travels in the callback URL query (?attemptId=) that the
// dialer registers when it places the call.
type TwilioStatusForm struct {
	CallAttemptID   string
	CallSid         string
	AccountSid      string
	From            string
	To              string
	CallStatus      string
	AnsweredBy      string
	SipResponseCode int
	CallDuration    int
	Timestamp       time.Time
}

func ParseTwilioStatus(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	f := TwilioStatusForm{
		CallAttemptID: strings.TrimSpace(r.URL.Query().Get("attemptId")),
		CallSid:       r.PostFormValue("CallSid"),
		AccountSid:    r.PostFormValue("AccountSid"),
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
		CallStatus:    strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		AnsweredBy:    strings.ToLower(strings.TrimSpace(r.PostFormValue("AnsweredBy"))),
	}
	f.SipResponseCode, _ = strconv.Atoi(r.PostFormValue("SipResponseCode"))
	f.CallDuration, _ = strconv.Atoi(r.PostFormValue("CallDuration"))
	if ts := r.PostFormValue("Timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC1123Z, ts); err == nil {
			f.Timestamp = t.UTC()
		}
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// Event translates the callback into a provider event. Unknown statuses report ok=false.
func (f TwilioStatusForm) Event() (ev calls.ProviderEvent, ok bool) {
	at := f.Timestamp
	switch f.CallStatus {
	case "queued":
		return calls.Dialing{Kind: calls.DialingRequesting, At: at}, true
	case "initiated":
		return calls.Dialing{Kind: calls.DialingTrying, At: at}, true
	case "ringing":
		return calls.Ringing{Kind: calls.RingingRinging, At: at}, true
	case "in-progress", "answered":
		return calls.Active{At: at}, true
	case "completed":
		cause := calls.HangupCause{Name: "NORMAL_CLEARING"}
		if strings.HasPrefix(f.AnsweredBy, "machine") || f.AnsweredBy == "fax" {
			cause.Name = "MACHINE_DETECTED"
		}
		return calls.Hangup{Kind: calls.HangupHangup, Cause: cause, At: at}, true
	case "busy":
		return calls.Hangup{Kind: calls.HangupHangup, Cause: calls.HangupCause{Name: "USER_BUSY", Code: f.SipResponseCode}, At: at}, true
	case "no-answer":
		return calls.Hangup{Kind: calls.HangupHangup, Cause: calls.HangupCause{Name: "NO_ANSWER", Code: f.SipResponseCode}, At: at}, true
	case "canceled":
		return calls.Hangup{Kind: calls.HangupHangup, Cause: calls.HangupCause{Name: "ORIGINATOR_CANCEL"}, At: at}, true
	case "failed":
		// the SIP code is more specific than "failed" when we know it
		cause := calls.HangupCause{Name: "FAILED", Code: f.SipResponseCode}
		if calls.KnownCauseCode(f.SipResponseCode) {
			cause.Name = ""
		}
		return calls.Hangup{Kind: calls.HangupHangup, Cause: cause, At: at}, true
	default:
		return nil, false
	}
}

// ValidTwilioSignature checks X-Twilio-Signature: base64(HMAC-SHA1(authToken,
// fullURL + concatenated sorted POST key/value pairs)).
func ValidTwilioSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
