package telephony

import (
	"context"
	"net/http"

	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/livestatus"
	"outbound-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusSink applies a translated provider event to the live status of an attempt.
// *livestatus.Tracker satisfies it.
type StatusSink interface {
	ApplyProviderEvent(ctx context.Context, ref livestatus.Ref, ev calls.ProviderEvent) (livestatus.Status, bool, error)
}

// TwilioStatusHandler converts Twilio status callbacks to provider events and
// hands them to the live status pipeline.
//
// No business logic here. The guard lock is not touched: the agent's end-call
// releases it after disposition.
type TwilioStatusHandler struct {
	Sink StatusSink

	// AuthToken enables X-Twilio-Signature verification when set.
	AuthToken string
	// BaseURL is the public origin used to rebuild the signed URL.
	BaseURL string
}

func (h TwilioStatusHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status sink not configured"})
		return
	}

	form, err := ParseTwilioStatus(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.AuthToken != "" {
		sig := c.GetHeader("X-Twilio-Signature")
		if !ValidTwilioSignature(h.AuthToken, h.signedURL(c), c.Request.PostForm, sig) {
			log.Warn("twilio signature rejected", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	if form.CallAttemptID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "attemptId required"})
		return
	}

	ev, ok := form.Event()
	if !ok {
		log.Debug("twilio status ignored", "call_sid", form.CallSid, "status", form.CallStatus)
		c.Status(http.StatusNoContent)
		return
	}

	ref := livestatus.Ref{CallAttemptID: form.CallAttemptID, Provider: "twilio", ProviderCallID: form.CallSid}
	st, changed, err := h.Sink.ApplyProviderEvent(c.Request.Context(), ref, ev)
	if err != nil {
		log.Error("apply provider event failed", "call_attempt_id", form.CallAttemptID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	log.Info("twilio status",
		"call_attempt_id", form.CallAttemptID,
		"call_sid", form.CallSid,
		"status", form.CallStatus,
		"state", st.State,
		"changed", changed,
	)
	c.Status(http.StatusNoContent)
}

func (h TwilioStatusHandler) signedURL(c *gin.Context) string {
	base := h.BaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + c.Request.URL.RequestURI()
}
