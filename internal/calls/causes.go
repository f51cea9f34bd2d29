package calls

import "strings"

// causeNames maps symbolic hangup causes (SIP/Q.850 names as reported by WebRTC
// softphone SDKs and carriers) to canonical end reasons.
var causeNames = map[string]EndReason{
	"NORMAL_CLEARING":           EndReasonCustomerHangup,
	"USER_BUSY":                 EndReasonBusy,
	"BUSY":                      EndReasonBusy,
	"NO_ANSWER":                 EndReasonNoAnswer,
	"NO_USER_RESPONSE":          EndReasonNoAnswer,
	"UNALLOCATED_NUMBER":        EndReasonInvalidNumber,
	"INVALID_NUMBER_FORMAT":     EndReasonInvalidNumber,
	"NO_ROUTE_DESTINATION":      EndReasonInvalidNumber,
	"NUMBER_CHANGED":            EndReasonInvalidNumber,
	"ORIGINATOR_CANCEL":         EndReasonCanceled,
	"CALL_REJECTED":             EndReasonCallRejected,
	"DESTINATION_OUT_OF_ORDER":  EndReasonNetworkError,
	"NETWORK_OUT_OF_ORDER":      EndReasonNetworkError,
	"NORMAL_TEMPORARY_FAILURE":  EndReasonNetworkError,
	"SWITCH_CONGESTION":         EndReasonNetworkError,
	"NORMAL_CIRCUIT_CONGESTION": EndReasonNetworkError,
	"RECOVERY_ON_TIMER_EXPIRE":  EndReasonTimeout,
	"ALLOTTED_TIMEOUT":          EndReasonTimeout,
	"MACHINE_DETECTED":          EndReasonMachineDetected,
	"VOICEMAIL":                 EndReasonVoicemail,
	"FAILED":                    EndReasonFailed,
}

// causeCodes maps Q.850 cause codes and SIP final response codes.
var causeCodes = map[int]EndReason{
	1:   EndReasonInvalidNumber, // unallocated number
	3:   EndReasonInvalidNumber, // no route to destination
	16:  EndReasonCustomerHangup,
	17:  EndReasonBusy,
	18:  EndReasonNoAnswer,
	19:  EndReasonNoAnswer,
	21:  EndReasonCallRejected,
	22:  EndReasonInvalidNumber, // number changed
	27:  EndReasonNetworkError,
	28:  EndReasonInvalidNumber, // invalid number format
	34:  EndReasonNetworkError,
	38:  EndReasonNetworkError,
	41:  EndReasonNetworkError,
	42:  EndReasonNetworkError,
	102: EndReasonTimeout,
	404: EndReasonInvalidNumber,
	408: EndReasonTimeout,
	480: EndReasonNoAnswer,
	486: EndReasonBusy,
	487: EndReasonCanceled,
	603: EndReasonCallRejected,
}

// ReasonForHangup derives the end reason of a hangup-class event.
//
// A locally initiated disconnect is always AGENT_HANGUP. Otherwise the symbolic
// cause wins over the numeric code; anything unrecognised is CUSTOMER_HANGUP so
// the attempt still seals.
func ReasonForHangup(local bool, cause HangupCause) EndReason {
	if local {
		return EndReasonAgentHangup
	}
	name := strings.ToUpper(strings.TrimSpace(cause.Name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	if r, ok := causeNames[name]; ok {
		return r
	}
	if r, ok := causeCodes[cause.Code]; ok {
		return r
	}
	return EndReasonCustomerHangup
}

// KnownCauseCode reports whether code has an entry in the cause table.
func KnownCauseCode(code int) bool {
	_, ok := causeCodes[code]
	return ok
}
