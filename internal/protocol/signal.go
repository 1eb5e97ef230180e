package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SignalKind tags the variant carried by a Signal.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

var (
	ErrInvalidSignal  = errors.New("protocol: signal must carry exactly one of offer, answer, candidate")
	ErrMissingSDP     = errors.New("protocol: missing session description sdp")
	ErrInvalidSDPType = errors.New("protocol: invalid session description type")
	ErrEmptyCandidate = errors.New("protocol: empty candidate")
)

// SessionDescription is the JSON form of an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the JSON form of RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is one negotiation message: Offer(sdp), Answer(sdp) or
// Candidate(data). Description is set for offers and answers, Candidate for
// candidates.
//
// On the wire a signal is an object keyed by its kind, e.g.
// {"offer":{"type":"offer","sdp":"..."}}.
type Signal struct {
	Kind        SignalKind
	Description SessionDescription
	Candidate   ICECandidate
}

func Offer(sdp string) Signal {
	return Signal{Kind: SignalOffer, Description: SessionDescription{Type: string(SignalOffer), SDP: sdp}}
}

func Answer(sdp string) Signal {
	return Signal{Kind: SignalAnswer, Description: SessionDescription{Type: string(SignalAnswer), SDP: sdp}}
}

func Candidate(c ICECandidate) Signal {
	return Signal{Kind: SignalCandidate, Candidate: c}
}

func (s Signal) Validate() error {
	switch s.Kind {
	case SignalOffer, SignalAnswer:
		if s.Description.Type != string(s.Kind) {
			return fmt.Errorf("%w: %s carries %q", ErrInvalidSDPType, s.Kind, s.Description.Type)
		}
		if s.Description.SDP == "" {
			return ErrMissingSDP
		}
	case SignalCandidate:
		// An empty candidate string is the end-of-candidates marker in browsers
		// but is never sent by them over signaling.
		if s.Candidate.Candidate == "" {
			return ErrEmptyCandidate
		}
	default:
		return ErrInvalidSignal
	}
	return nil
}

func (s Signal) MarshalJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case SignalCandidate:
		return Marshal(map[SignalKind]ICECandidate{s.Kind: s.Candidate})
	default:
		return Marshal(map[SignalKind]SessionDescription{s.Kind: s.Description})
	}
}

func (s *Signal) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if len(fields) != 1 {
		return ErrInvalidSignal
	}

	var out Signal
	for key, raw := range fields {
		out.Kind = SignalKind(key)
		switch out.Kind {
		case SignalOffer, SignalAnswer:
			if err := decodeStrict(raw, &out.Description); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			// Some clients omit the redundant type field inside the keyed object.
			if out.Description.Type == "" {
				out.Description.Type = key
			}
		case SignalCandidate:
			if err := decodeStrict(raw, &out.Candidate); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		default:
			return ErrInvalidSignal
		}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

// ParseSignal decodes a relayed signal payload.
func ParseSignal(raw json.RawMessage) (Signal, error) {
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return Signal{}, err
	}
	return s, nil
}

// PeekSignalKind reports the variant tag of a raw signal without validating
// or copying its contents. It returns "" when the payload is not a keyed
// signal object.
func PeekSignalKind(raw json.RawMessage) SignalKind {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) != 1 {
		return ""
	}
	for key := range fields {
		switch k := SignalKind(key); k {
		case SignalOffer, SignalAnswer, SignalCandidate:
			return k
		}
	}
	return ""
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
