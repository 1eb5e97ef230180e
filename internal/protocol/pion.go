package protocol

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

func DescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (d SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case string(SignalOffer):
		t = webrtc.SDPTypeOffer
	case string(SignalAnswer):
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", ErrInvalidSDPType, d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func CandidateFromPion(init webrtc.ICECandidateInit) ICECandidate {
	return ICECandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c ICECandidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
