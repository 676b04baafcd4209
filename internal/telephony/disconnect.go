package telephony

import (
	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

type causeInfo struct {
	code        telecom.Code
	label       string
	description string
}

// causeTable maps each radio-level cause to its normalized code and the
// user-facing text shown for it. Causes absent from the table map to
// CodeUnknown.
var causeTable = map[phone.DisconnectCause]causeInfo{
	phone.CauseNotDisconnected: {code: telecom.CodeUnknown},
	phone.CauseIncomingMissed:  {code: telecom.CodeMissed},
	phone.CauseNormal:          {code: telecom.CodeRemote},
	phone.CauseLocal:           {code: telecom.CodeLocal},
	phone.CauseBusy: {
		code:        telecom.CodeBusy,
		label:       "Busy",
		description: "The number you called is busy.",
	},
	phone.CauseIncomingRejected: {code: telecom.CodeRejected, label: "Call rejected"},
	phone.CauseOutgoingCanceled: {code: telecom.CodeCanceled},
	phone.CauseDialedMMI:        {code: telecom.CodeOther},

	phone.CauseCallBarred: {
		code:        telecom.CodeRestricted,
		label:       "Call barred",
		description: "Outgoing calls are barred.",
	},
	phone.CauseFDNBlocked: {
		code:        telecom.CodeRestricted,
		label:       "Fixed dialing number restriction",
		description: "The number is not in the fixed dialing list.",
	},
	phone.CauseCSRestricted: {
		code:        telecom.CodeRestricted,
		label:       "Access restricted",
		description: "Calls are restricted by access control.",
	},
	phone.CauseCSRestrictedNormal: {
		code:        telecom.CodeRestricted,
		label:       "Access restricted",
		description: "Normal calls are restricted by access control.",
	},
	phone.CauseCSRestrictedEmergency: {
		code:        telecom.CodeRestricted,
		label:       "Access restricted",
		description: "Emergency calls are restricted by access control.",
	},
	phone.CauseLimitExceeded: {
		code:        telecom.CodeRestricted,
		label:       "Limit exceeded",
		description: "Call limit exceeded.",
	},
	phone.CauseCDMANotEmergency: {
		code:        telecom.CodeRestricted,
		label:       "Not an emergency number",
		description: "Only emergency calls are allowed.",
	},
	phone.CauseCDMAAccessBlocked: {
		code:        telecom.CodeRestricted,
		label:       "Access blocked",
		description: "Network access is blocked.",
	},

	phone.CauseCongestion: {
		code:        telecom.CodeError,
		label:       "Network busy",
		description: "The network is busy. Try again later.",
	},
	phone.CauseInvalidNumber: {
		code:        telecom.CodeError,
		label:       "Invalid number",
		description: "Call not sent, no valid number entered.",
	},
	phone.CauseUnobtainableNumber: {
		code:        telecom.CodeError,
		label:       "Invalid number",
		description: "Call not sent, no valid number entered.",
	},
	phone.CauseNoPhoneNumberSupplied: {
		code:        telecom.CodeError,
		label:       "No number",
		description: "Call not sent, no valid number entered.",
	},
	phone.CauseNumberUnreachable: {
		code:        telecom.CodeError,
		label:       "Number unreachable",
		description: "The number you called cannot be reached.",
	},
	phone.CauseServerUnreachable: {
		code:        telecom.CodeError,
		label:       "Server unreachable",
		description: "The call server cannot be reached.",
	},
	phone.CauseInvalidCredentials: {
		code:        telecom.CodeError,
		label:       "Incorrect username or password",
		description: "The call server rejected the account credentials.",
	},
	phone.CauseOutOfNetwork: {
		code:        telecom.CodeError,
		label:       "Out of network",
		description: "The number you called is out of network.",
	},
	phone.CauseServerError: {
		code:        telecom.CodeError,
		label:       "Server error",
		description: "The call server returned an error. Try again later.",
	},
	phone.CauseTimedOut: {
		code:        telecom.CodeError,
		label:       "Timed out",
		description: "The call timed out.",
	},
	phone.CauseLost: {
		code:        telecom.CodeError,
		label:       "Call dropped",
		description: "The call was dropped because the signal was lost.",
	},
	phone.CausePowerOff: {
		code:        telecom.CodeError,
		label:       "Radio off",
		description: "Turn off airplane mode to make a call.",
	},
	phone.CauseOutOfService: {
		code:        telecom.CodeError,
		label:       "No service",
		description: "Cellular network not available.",
	},
	phone.CauseIccError: {
		code:        telecom.CodeError,
		label:       "No SIM",
		description: "Insert a SIM card to make a call.",
	},
	phone.CauseCDMALockedUntilPowerCycle: {
		code:        telecom.CodeError,
		label:       "Locked until power cycle",
		description: "Restart the device to make calls.",
	},
	phone.CauseCDMADrop: {
		code:        telecom.CodeError,
		label:       "Call dropped",
		description: "The call was dropped by the network.",
	},
	phone.CauseCDMAIntercept: {
		code:        telecom.CodeError,
		label:       "Call intercepted",
		description: "The call was intercepted by the network.",
	},
	phone.CauseCDMAReorder: {
		code:        telecom.CodeError,
		label:       "Network busy",
		description: "The network reordered the call. Try again later.",
	},
	phone.CauseCDMASOReject: {
		code:        telecom.CodeError,
		label:       "Service option rejected",
		description: "The network rejected the service option.",
	},
	phone.CauseCDMARetryOrder: {
		code:        telecom.CodeError,
		label:       "Retry",
		description: "The network asked to retry the call.",
	},
	phone.CauseCDMAAccessFailure: {
		code:        telecom.CodeError,
		label:       "Access failure",
		description: "The network could not be accessed.",
	},
	phone.CauseCDMAPreempted: {
		code:        telecom.CodeError,
		label:       "Call preempted",
		description: "The call was preempted by the network.",
	},
	phone.CauseErrorUnspecified: {
		code:        telecom.CodeError,
		label:       "Call failed",
		description: "The call could not be completed.",
	},
	phone.CauseOutgoingFailure: {
		code:        telecom.CodeError,
		label:       "Call failed",
		description: "The call could not be placed.",
	},
	phone.CauseVoicemailNumberMissing: {
		code:        telecom.CodeError,
		label:       "No voicemail number",
		description: "No voicemail number is stored on the SIM card.",
	},
}

// ToDisconnectCause normalizes a radio-level cause. reason is free text for
// logs and may be empty.
func ToDisconnectCause(cause phone.DisconnectCause, reason string) telecom.DisconnectCause {
	info, ok := causeTable[cause]
	if !ok {
		info = causeInfo{code: telecom.CodeUnknown}
	}
	return telecom.DisconnectCause{
		Code:           info.code,
		Label:          info.label,
		Description:    info.description,
		Reason:         reason,
		TelephonyCause: cause,
	}
}

// failed builds a creation result that never reached the radio.
func failed(cause phone.DisconnectCause, reason string) telecom.Connection {
	return telecom.NewFailedConnection(ToDisconnectCause(cause, reason))
}
