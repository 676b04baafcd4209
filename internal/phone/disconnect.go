package phone

import "fmt"

// DisconnectCause is the radio-level reason a call leg ended or a call could
// not be placed. It is translated into a normalized telecom cause by the
// telephony core before being exposed to callers.
type DisconnectCause int

const (
	CauseNotDisconnected DisconnectCause = iota
	CauseIncomingMissed
	CauseNormal
	CauseLocal
	CauseBusy
	CauseCongestion
	CauseInvalidNumber
	CauseNumberUnreachable
	CauseServerUnreachable
	CauseInvalidCredentials
	CauseOutOfNetwork
	CauseServerError
	CauseTimedOut
	CauseLost
	CauseLimitExceeded
	CauseIncomingRejected
	CausePowerOff
	CauseOutOfService
	CauseIccError
	CauseCallBarred
	CauseFDNBlocked
	CauseCSRestricted
	CauseCSRestrictedNormal
	CauseCSRestrictedEmergency
	CauseUnobtainableNumber
	CauseCDMALockedUntilPowerCycle
	CauseCDMADrop
	CauseCDMAIntercept
	CauseCDMAReorder
	CauseCDMASOReject
	CauseCDMARetryOrder
	CauseCDMAAccessFailure
	CauseCDMAPreempted
	CauseCDMANotEmergency
	CauseCDMAAccessBlocked
	CauseErrorUnspecified
	CauseOutgoingFailure
	CauseOutgoingCanceled
	CauseDialedMMI
	CauseVoicemailNumberMissing
	CauseNoPhoneNumberSupplied
)

var causeNames = map[DisconnectCause]string{
	CauseNotDisconnected:           "NOT_DISCONNECTED",
	CauseIncomingMissed:            "INCOMING_MISSED",
	CauseNormal:                    "NORMAL",
	CauseLocal:                     "LOCAL",
	CauseBusy:                      "BUSY",
	CauseCongestion:                "CONGESTION",
	CauseInvalidNumber:             "INVALID_NUMBER",
	CauseNumberUnreachable:         "NUMBER_UNREACHABLE",
	CauseServerUnreachable:         "SERVER_UNREACHABLE",
	CauseInvalidCredentials:        "INVALID_CREDENTIALS",
	CauseOutOfNetwork:              "OUT_OF_NETWORK",
	CauseServerError:               "SERVER_ERROR",
	CauseTimedOut:                  "TIMED_OUT",
	CauseLost:                      "LOST_SIGNAL",
	CauseLimitExceeded:             "LIMIT_EXCEEDED",
	CauseIncomingRejected:          "INCOMING_REJECTED",
	CausePowerOff:                  "POWER_OFF",
	CauseOutOfService:              "OUT_OF_SERVICE",
	CauseIccError:                  "ICC_ERROR",
	CauseCallBarred:                "CALL_BARRED",
	CauseFDNBlocked:                "FDN_BLOCKED",
	CauseCSRestricted:              "CS_RESTRICTED",
	CauseCSRestrictedNormal:        "CS_RESTRICTED_NORMAL",
	CauseCSRestrictedEmergency:     "CS_RESTRICTED_EMERGENCY",
	CauseUnobtainableNumber:        "UNOBTAINABLE_NUMBER",
	CauseCDMALockedUntilPowerCycle: "CDMA_LOCKED_UNTIL_POWER_CYCLE",
	CauseCDMADrop:                  "CDMA_DROP",
	CauseCDMAIntercept:             "CDMA_INTERCEPT",
	CauseCDMAReorder:               "CDMA_REORDER",
	CauseCDMASOReject:              "CDMA_SO_REJECT",
	CauseCDMARetryOrder:            "CDMA_RETRY_ORDER",
	CauseCDMAAccessFailure:         "CDMA_ACCESS_FAILURE",
	CauseCDMAPreempted:             "CDMA_PREEMPTED",
	CauseCDMANotEmergency:          "CDMA_NOT_EMERGENCY",
	CauseCDMAAccessBlocked:         "CDMA_ACCESS_BLOCKED",
	CauseErrorUnspecified:          "ERROR_UNSPECIFIED",
	CauseOutgoingFailure:           "OUTGOING_FAILURE",
	CauseOutgoingCanceled:          "OUTGOING_CANCELED",
	CauseDialedMMI:                 "DIALED_MMI",
	CauseVoicemailNumberMissing:    "VOICEMAIL_NUMBER_MISSING",
	CauseNoPhoneNumberSupplied:     "NO_PHONE_NUMBER_SUPPLIED",
}

func (c DisconnectCause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("INVALID(%d)", int(c))
}

// MarshalText lets causes appear by name in JSON.
func (c DisconnectCause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseDisconnectCause accepts the names produced by String.
func ParseDisconnectCause(s string) (DisconnectCause, error) {
	for c, name := range causeNames {
		if name == s {
			return c, nil
		}
	}
	return CauseNotDisconnected, fmt.Errorf("unknown disconnect cause %q", s)
}
