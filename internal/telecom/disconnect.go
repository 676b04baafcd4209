package telecom

import (
	"fmt"

	"github.com/flowpbx/telephony/internal/phone"
)

// Code is the normalized category of a disconnect.
type Code int

const (
	CodeUnknown Code = iota
	CodeError
	CodeLocal
	CodeRemote
	CodeCanceled
	CodeMissed
	CodeRejected
	CodeBusy
	CodeRestricted
	CodeOther
)

func (c Code) String() string {
	switch c {
	case CodeUnknown:
		return "unknown"
	case CodeError:
		return "error"
	case CodeLocal:
		return "local"
	case CodeRemote:
		return "remote"
	case CodeCanceled:
		return "canceled"
	case CodeMissed:
		return "missed"
	case CodeRejected:
		return "rejected"
	case CodeBusy:
		return "busy"
	case CodeRestricted:
		return "restricted"
	case CodeOther:
		return "other"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// DisconnectCause explains why a connection reached StateDisconnected.
// TelephonyCause keeps the radio-level reason the normalized code was
// derived from; Reason is free text for logs.
type DisconnectCause struct {
	Code           Code                  `json:"code"`
	Label          string                `json:"label,omitempty"`
	Description    string                `json:"description,omitempty"`
	Reason         string                `json:"reason,omitempty"`
	TelephonyCause phone.DisconnectCause `json:"telephony_cause"`
}

func (d DisconnectCause) String() string {
	if d.Reason == "" {
		return fmt.Sprintf("%s (%s)", d.Code, d.TelephonyCause)
	}
	return fmt.Sprintf("%s (%s): %s", d.Code, d.TelephonyCause, d.Reason)
}

// Canceled is the cause attached to canceled creation results.
var Canceled = DisconnectCause{Code: CodeCanceled, TelephonyCause: phone.CauseOutgoingCanceled}
