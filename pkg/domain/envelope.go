package domain

import (
	"encoding/json"
	"fmt"
)

// Channel identifies the topic of an Envelope.
type Channel string

const (
	ChannelIdentity            Channel = "IDENTITY"             // Identity snapshot push (host -> peer)
	ChannelPresentation        Channel = "PRESENTATION"         // Presentation snapshot push (host -> peer)
	ChannelIdentityRequest     Channel = "IDENTITY_REQUEST"     // Pull request for the identity snapshot (peer -> host)
	ChannelPresentationRequest Channel = "PRESENTATION_REQUEST" // Pull request for the presentation snapshot (peer -> host)
	ChannelOpRequest           Channel = "OP_REQUEST"           // Operation invocation (host -> peer)
	ChannelOpResult            Channel = "OP_RESULT"            // Operation outcome (peer -> host)
	ChannelReady               Channel = "READY"                // Peer runtime finished booting (peer -> host)
)

// Standard envelope actions. OP_REQUEST and OP_RESULT carry the operation
// name as their action instead.
const (
	ActionStateChanged = "STATE_CHANGED"
	ActionStateRequest = "STATE_REQUEST"
	ActionReady        = "READY"
)

// Envelope is the single unit of exchange between the host and a peer.
// Payload holds a struct or map on the sending side and decodes to a
// map[string]any on the receiving side; DecodePayload converts it back
// into typed form.
type Envelope struct {
	Channel       Channel `json:"channel" yaml:"channel" mapstructure:"channel"`
	Action        string  `json:"action" yaml:"action" mapstructure:"action"`
	Payload       any     `json:"payload,omitempty" yaml:"payload,omitempty" mapstructure:"payload"`
	CorrelationID string  `json:"correlationId,omitempty" yaml:"correlationId,omitempty" mapstructure:"correlationId"`
}

// Valid reports whether c is one of the defined channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelIdentity, ChannelPresentation,
		ChannelIdentityRequest, ChannelPresentationRequest,
		ChannelOpRequest, ChannelOpResult, ChannelReady:
		return true
	}
	return false
}

// ResponseChannel maps a pull-request channel to the push channel that
// answers it. ok is false for channels that are not pull requests.
func (c Channel) ResponseChannel() (Channel, bool) {
	switch c {
	case ChannelIdentityRequest:
		return ChannelIdentity, true
	case ChannelPresentationRequest:
		return ChannelPresentation, true
	}
	return "", false
}

// Validate checks the structural invariants of an envelope. Envelopes that
// fail validation are dropped without further processing.
func (e Envelope) Validate() error {
	if !e.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrMalformedEnvelope, string(e.Channel))
	}
	if e.Action == "" {
		return fmt.Errorf("%w: missing action", ErrMalformedEnvelope)
	}
	switch e.Channel {
	case ChannelOpRequest, ChannelOpResult:
		if e.CorrelationID == "" {
			return fmt.Errorf("%w: %s requires correlationId", ErrMalformedEnvelope, e.Channel)
		}
	default:
		if e.CorrelationID != "" {
			return fmt.Errorf("%w: correlationId not allowed on %s", ErrMalformedEnvelope, e.Channel)
		}
	}
	return nil
}

// ParseEnvelope decodes and validates a raw wire message.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// NewIdentityPush builds the envelope announcing the current identity snapshot.
func NewIdentityPush(state IdentityState) Envelope {
	return Envelope{Channel: ChannelIdentity, Action: ActionStateChanged, Payload: state}
}

// NewPresentationPush builds the envelope announcing the current presentation snapshot.
func NewPresentationPush(state PresentationState) Envelope {
	return Envelope{Channel: ChannelPresentation, Action: ActionStateChanged, Payload: state}
}

// NewStateRequest builds the pull-request envelope a peer sends to ask for a
// fresh snapshot on the given request channel.
func NewStateRequest(channel Channel) Envelope {
	return Envelope{Channel: channel, Action: ActionStateRequest}
}

// NewReady builds the envelope a peer sends once its runtime can process messages.
func NewReady() Envelope {
	return Envelope{Channel: ChannelReady, Action: ActionReady}
}

// NewOpRequest builds an operation invocation envelope. The correlation ID
// ties the eventual OP_RESULT back to this request.
func NewOpRequest(action string, payload map[string]any, correlationID string) Envelope {
	return Envelope{
		Channel:       ChannelOpRequest,
		Action:        action,
		Payload:       payload,
		CorrelationID: correlationID,
	}
}

// NewOpResult builds the outcome envelope for a previously received OP_REQUEST.
func NewOpResult(action string, result OpResultPayload, correlationID string) Envelope {
	return Envelope{
		Channel:       ChannelOpResult,
		Action:        action,
		Payload:       result,
		CorrelationID: correlationID,
	}
}

// Delivery is an inbound envelope attributed to its transport-level sender.
// PeerID and Origin come from the transport, never from the payload.
type Delivery struct {
	PeerID   string
	Origin   string
	Envelope Envelope
}
