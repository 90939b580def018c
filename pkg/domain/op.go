package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// OpRequest describes one operation the host asks a peer to perform.
type OpRequest struct {
	// Action is the operation name, e.g. "CREATE_RECORD".
	Action string `json:"action" yaml:"action" mapstructure:"action"`

	// Payload carries the operation input.
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty" mapstructure:"payload"`
}

// OpResult is the successful outcome of an operation call.
type OpResult struct {
	// ResultID identifies the entity the peer created or acted on.
	ResultID string `json:"resultId,omitempty" yaml:"resultId,omitempty" mapstructure:"resultId"`

	// ShareID is an optional secondary handle some operations return.
	ShareID string `json:"shareId,omitempty" yaml:"shareId,omitempty" mapstructure:"shareId"`
}

// OpResultPayload is the wire payload of an OP_RESULT envelope.
// Success=false with a non-empty Error means the peer refused the operation.
type OpResultPayload struct {
	Success  bool   `json:"success" yaml:"success" mapstructure:"success"`
	ResultID string `json:"resultId,omitempty" yaml:"resultId,omitempty" mapstructure:"resultId"`
	ShareID  string `json:"shareId,omitempty" yaml:"shareId,omitempty" mapstructure:"shareId"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty" mapstructure:"error"`
}

// Result extracts the success view of the payload.
func (p OpResultPayload) Result() OpResult {
	return OpResult{ResultID: p.ResultID, ShareID: p.ShareID}
}

// DecodePayload converts a received envelope payload (a generic map after
// JSON decoding) into a typed struct via its mapstructure tags.
func DecodePayload(payload any, out any) error {
	if payload == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: out})
	if err != nil {
		return err
	}
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// DecodeOpResult decodes the payload of an OP_RESULT envelope.
func DecodeOpResult(payload any) (OpResultPayload, error) {
	var p OpResultPayload
	err := DecodePayload(payload, &p)
	return p, err
}

// DecodeIdentity decodes the payload of an IDENTITY envelope.
func DecodeIdentity(payload any) (IdentityState, error) {
	var s IdentityState
	err := DecodePayload(payload, &s)
	return s, err
}

// DecodePresentation decodes the payload of a PRESENTATION envelope.
func DecodePresentation(payload any) (PresentationState, error) {
	var s PresentationState
	err := DecodePayload(payload, &s)
	return s, err
}
