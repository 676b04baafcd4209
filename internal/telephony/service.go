// Package telephony turns voice stack call events into managed sessions and
// conferences. Service is the entry point for creating outgoing, incoming
// and radio-discovered sessions and for merging them; AnswerAndRelease
// answers a ringing session after tearing down every other one.
package telephony

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/flowpbx/telephony/internal/phone"
	"github.com/flowpbx/telephony/internal/telecom"
)

var (
	// ErrNotManaged is returned when an operation needs a session or
	// conference created by this package.
	ErrNotManaged = errors.New("not a managed connection")
	// ErrTechnologyMismatch is returned when merging sessions of different
	// technologies or phones.
	ErrTechnologyMismatch = errors.New("connections do not share a phone and technology")
	// ErrNotFound is returned for an unknown connection id.
	ErrNotFound = errors.New("connection not found")
)

// OutgoingRequest describes a call to place.
type OutgoingRequest struct {
	Address    telecom.Address
	VideoState phone.VideoState
}

// Options wires the collaborators of a Service. Selector is required; a nil
// Registry gets a fresh one. The other collaborators are optional.
type Options struct {
	Selector   Selector
	Sequencer  RadioSequencer
	Classifier NumberClassifier
	MMI        MMILauncher
	Tones      ToneFactory
	Registry   *telecom.Registry
	Logger     *slog.Logger
}

// Service owns the active sessions and conferences and creates new ones on
// request. All methods are safe for concurrent use and none of the creation
// methods return errors: rejected requests yield a disconnected session
// carrying the cause.
type Service struct {
	selector   Selector
	sequencer  RadioSequencer
	classifier NumberClassifier
	mmi        MMILauncher
	tones      ToneFactory
	registry   *telecom.Registry
	logger     *slog.Logger

	gsm  *ConferenceController
	cdma *ConferenceController

	// createMu makes the known-leg check and the registration of the new
	// session atomic, so a leg is never wrapped twice. It also guards
	// dialing.
	createMu sync.Mutex
	// dialing counts outgoing dials in flight per phone id. Their legs
	// exist on the phone before the outgoing session adopts them.
	dialing map[int]int
}

// NewService creates a connection service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = telecom.NewRegistry(logger)
	}

	return &Service{
		selector:   opts.Selector,
		sequencer:  opts.Sequencer,
		classifier: opts.Classifier,
		mmi:        opts.MMI,
		tones:      opts.Tones,
		registry:   registry,
		logger:     logger.With("subsystem", "connection_service"),
		gsm:        NewConferenceController(phone.TypeGSM, registry, logger),
		cdma:       NewConferenceController(phone.TypeCDMA, registry, logger),
		dialing:    make(map[int]int),
	}
}

// Registry returns the registry of active sessions and conferences.
func (s *Service) Registry() *telecom.Registry { return s.registry }

// CreateOutgoing places a call on the phone resolved for account.
func (s *Service) CreateOutgoing(ctx context.Context, account phone.AccountHandle, req OutgoingRequest) telecom.Connection {
	addr := req.Address
	if addr.IsZero() {
		return failed(phone.CauseNoPhoneNumberSupplied, "no phone number supplied")
	}

	var number string
	switch addr.Scheme {
	case telecom.SchemeVoicemail:
		p := s.selector.Resolve(ctx, account, false)
		if p == nil {
			return failed(phone.CauseOutgoingFailure, "phone is nil")
		}
		number = p.VoiceMailNumber()
		if number == "" {
			return failed(phone.CauseVoicemailNumberMissing, "voicemail scheme provided but no voicemail number set")
		}
		addr = telecom.TelAddress(number)
	case telecom.SchemeTel:
		number = addr.Number
	default:
		return failed(phone.CauseInvalidNumber, "address scheme is not tel")
	}
	if number == "" {
		return failed(phone.CauseInvalidNumber, "unable to parse number")
	}

	isEmergency := s.classifier != nil && s.classifier.IsPotentialEmergencyNumber(number)

	p := s.selector.Resolve(ctx, account, isEmergency)
	if p == nil {
		s.logger.Warn("no phone for outgoing call", "account", account.ID, "emergency", isEmergency)
		return failed(phone.CauseOutgoingFailure, "phone is nil")
	}

	needRadioOn := false
	state := p.ServiceState()
	if isEmergency {
		needRadioOn = state == phone.StatePowerOff
	} else {
		switch state {
		case phone.StateInService, phone.StateEmergencyOnly:
		case phone.StateOutOfService:
			return failed(phone.CauseOutOfService, "service state is out of service")
		case phone.StatePowerOff:
			return failed(phone.CausePowerOff, "service state is power off")
		default:
			return failed(phone.CauseOutgoingFailure, "unknown service state "+state.String())
		}
	}

	c := s.createConnectionFor(p, nil, telecom.DirectionOutgoing, isEmergency)
	if c == nil {
		return failed(phone.CauseOutgoingFailure, "invalid phone type "+p.Type().String())
	}
	c.SetAddress(addr, telecom.PresentationAllowed)
	c.SetVideoState(req.VideoState)

	s.logger.Info("outgoing connection created",
		"connection_id", c.ID(),
		"phone_id", p.ID(),
		"emergency", isEmergency,
		"radio_on_required", needRadioOn,
	)

	if !needRadioOn {
		s.placeOutgoingConnection(c, p, number, req.VideoState)
		return c
	}

	c.SetInitializing()
	if s.sequencer == nil {
		c.SetDisconnected(ToDisconnectCause(phone.CausePowerOff, "no radio sequencer"))
		c.Destroy()
		return c
	}
	s.sequencer.StartTurnOnRadioSequence(p, func(ready bool) {
		if c.State() == telecom.StateDisconnected {
			return
		}
		if !ready {
			s.logger.Warn("radio power on failed", "connection_id", c.ID(), "phone_id", p.ID())
			c.SetDisconnected(ToDisconnectCause(phone.CausePowerOff, "failed to turn on radio"))
			c.Destroy()
			return
		}
		c.SetInitialized()
		s.placeOutgoingConnection(c, p, number, req.VideoState)
	})
	return c
}

func (s *Service) placeOutgoingConnection(c *Connection, p phone.Phone, number string, videoState phone.VideoState) {
	// Dial may deliver call-state events synchronously, so createMu is
	// released across it; the dialing count keeps CreateUnknown off the
	// new leg until it is adopted below.
	s.createMu.Lock()
	s.dialing[p.ID()]++
	s.createMu.Unlock()

	orig, err := p.Dial(number, videoState)

	s.createMu.Lock()
	s.dialing[p.ID()]--
	if s.dialing[p.ID()] == 0 {
		delete(s.dialing, p.ID())
	}
	duplicate := err == nil && orig != nil && s.isOriginalConnectionKnown(orig)
	if err == nil && orig != nil && !duplicate {
		c.adopt(orig)
	}
	s.createMu.Unlock()

	if err != nil {
		var cse *phone.CallStateError
		if errors.As(err, &cse) {
			s.logger.Warn("dial rejected by call state", "connection_id", c.ID(), "error", err)
		} else {
			s.logger.Error("dial failed", "connection_id", c.ID(), "error", err)
		}
		c.SetDisconnected(ToDisconnectCause(phone.CauseOutgoingFailure, err.Error()))
		c.Destroy()
		return
	}

	if orig == nil {
		cause := phone.CauseOutgoingFailure
		if p.Type() == phone.TypeGSM {
			cause = phone.CauseDialedMMI
			if s.mmi != nil {
				s.mmi.LaunchMMI(p, number)
			}
		}
		s.logger.Info("dial produced no call", "connection_id", c.ID(), "cause", cause.String())
		c.SetDisconnected(ToDisconnectCause(cause, "connection is nil"))
		c.Destroy()
		return
	}

	if duplicate {
		s.logger.Warn("dialed leg already has a connection", "connection_id", c.ID(), "phone_id", p.ID())
		c.SetDisconnected(ToDisconnectCause(phone.CauseOutgoingCanceled, "leg already has a connection"))
		c.Destroy()
		return
	}

	c.SetOriginalConnection(orig)
}

// CreateIncoming wraps the ringing leg of the phone resolved for account.
func (s *Service) CreateIncoming(ctx context.Context, account phone.AccountHandle) telecom.Connection {
	p := s.selector.Resolve(ctx, account, false)
	if p == nil {
		return failed(phone.CauseErrorUnspecified, "phone is nil")
	}

	call := p.RingingCall()
	if !call.State().IsRinging() {
		return failed(phone.CauseIncomingMissed, "found no ringing call")
	}

	var orig phone.Connection
	if call.State() == phone.CallWaiting {
		orig = call.LatestConnection()
	} else {
		orig = call.EarliestConnection()
	}
	if orig == nil {
		return failed(phone.CauseIncomingMissed, "ringing call has no connection")
	}

	s.createMu.Lock()
	if s.isOriginalConnectionKnown(orig) {
		s.createMu.Unlock()
		s.logger.Info("incoming leg already has a connection", "phone_id", p.ID())
		return telecom.NewCanceledConnection()
	}
	c := s.createConnectionFor(p, orig, telecom.DirectionIncoming, false)
	s.createMu.Unlock()

	if c == nil {
		return telecom.NewCanceledConnection()
	}
	c.attach()

	s.logger.Info("incoming connection created", "connection_id", c.ID(), "phone_id", p.ID())
	return c
}

// CreateUnknown wraps the first leg on the phone that no session wraps yet,
// such as a call the radio set up without a request from this service.
func (s *Service) CreateUnknown(ctx context.Context, account phone.AccountHandle) telecom.Connection {
	p := s.selector.Resolve(ctx, account, false)
	if p == nil {
		return failed(phone.CauseErrorUnspecified, "phone is nil")
	}

	s.createMu.Lock()
	dialPending := s.dialing[p.ID()] > 0
	var orig phone.Connection
	for _, call := range []phone.Call{p.RingingCall(), p.ForegroundCall(), p.BackgroundCall()} {
		for _, leg := range call.Connections() {
			// An outgoing leg may belong to a dial still in flight.
			if dialPending && !leg.IsIncoming() {
				continue
			}
			if !s.isOriginalConnectionKnown(leg) {
				orig = leg
				break
			}
		}
		if orig != nil {
			break
		}
	}
	if orig == nil {
		s.createMu.Unlock()
		return telecom.NewCanceledConnection()
	}

	direction := telecom.DirectionOutgoing
	if orig.IsIncoming() {
		direction = telecom.DirectionIncoming
	}
	c := s.createConnectionFor(p, orig, direction, false)
	s.createMu.Unlock()

	if c == nil {
		return telecom.NewCanceledConnection()
	}
	c.attach()
	c.refreshState()

	s.logger.Info("unknown connection created",
		"connection_id", c.ID(),
		"phone_id", p.ID(),
		"direction", direction.String(),
	)
	return c
}

// Merge asks the radio to conference a and b. Both must be sessions created
// by this service.
func (s *Service) Merge(a, b telecom.Connection) error {
	ca, ok := a.(*Connection)
	if !ok {
		return ErrNotManaged
	}
	cb, ok := b.(*Connection)
	if !ok {
		return ErrNotManaged
	}
	return ca.PerformConference(cb)
}

// AnswerAndRelease answers the ringing session incomingID once every other
// session and conference has been disconnected. The returned handler
// reports completion.
func (s *Service) AnswerAndRelease(incomingID string, videoState phone.VideoState) (*AnswerAndReleaseHandler, error) {
	incoming := s.registry.Connection(incomingID)
	if incoming == nil {
		return nil, ErrNotFound
	}

	h := NewAnswerAndReleaseHandler(incoming, videoState, s.logger)
	h.CheckAndAnswer(s.registry.Connections(), s.registry.Conferences())
	return h, nil
}

// createConnectionFor builds the session variant for p's technology, hands
// it to the technology's conference controller and registers it. It returns
// nil for technologies without a session variant. The leg, if any, is
// recorded but not yet mirrored; callers attach it.
func (s *Service) createConnectionFor(p phone.Phone, orig phone.Connection, direction telecom.Direction, isEmergency bool) *Connection {
	var (
		c          *Connection
		controller *ConferenceController
	)
	switch p.Type() {
	case phone.TypeGSM:
		c = newConnection(p, gsmTechnology{}, direction, s.logger)
		controller = s.gsm
	case phone.TypeCDMA:
		var tone TonePlayer
		if isEmergency && s.tones != nil {
			tone = s.tones()
		}
		c = newConnection(p, newCDMATechnology(p, tone), direction, s.logger)
		controller = s.cdma
	default:
		return nil
	}

	if orig != nil {
		c.setOriginal(orig)
	}
	s.registry.AddConnection(c)
	controller.Add(c)
	return c
}

// isOriginalConnectionKnown reports whether a managed session already wraps
// orig.
func (s *Service) isOriginalConnectionKnown(orig phone.Connection) bool {
	for _, c := range s.registry.Connections() {
		if mc, ok := c.(*Connection); ok && mc.OriginalConnection() == orig {
			return true
		}
	}
	return false
}
