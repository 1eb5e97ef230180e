package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSignal_MarshalUnmarshalOffer(t *testing.T) {
	b, err := json.Marshal(Offer("v=0"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"offer":{"type":"offer","sdp":"v=0"}}` {
		t.Fatalf("offer wire form=%s", b)
	}

	got, err := ParseSignal(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Kind != SignalOffer || got.Description.SDP != "v=0" {
		t.Fatalf("unexpected decoded offer: %#v", got)
	}
}

func TestSignal_UnmarshalCandidate(t *testing.T) {
	raw := []byte(`{
		"candidate":{
			"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0
		}
	}`)

	got, err := ParseSignal(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Kind != SignalCandidate || got.Candidate.Candidate == "" {
		t.Fatalf("unexpected decoded candidate: %#v", got)
	}
	if got.Candidate.SDPMid == nil || *got.Candidate.SDPMid != "0" {
		t.Fatalf("sdpMid=%v, want 0", got.Candidate.SDPMid)
	}
	if got.Candidate.SDPMLineIndex == nil || *got.Candidate.SDPMLineIndex != 0 {
		t.Fatalf("sdpMLineIndex=%v, want 0", got.Candidate.SDPMLineIndex)
	}
}

func TestSignal_AnswerWithoutInnerTypeIsAccepted(t *testing.T) {
	got, err := ParseSignal([]byte(`{"answer":{"sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Kind != SignalAnswer || got.Description.Type != "answer" {
		t.Fatalf("unexpected decoded answer: %#v", got)
	}
}

func TestSignal_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty object":      `{}`,
		"two variants":      `{"offer":{"type":"offer","sdp":"v=0"},"answer":{"type":"answer","sdp":"v=0"}}`,
		"unknown variant":   `{"renegotiate":{}}`,
		"mismatched type":   `{"offer":{"type":"answer","sdp":"v=0"}}`,
		"missing sdp":       `{"offer":{"type":"offer"}}`,
		"unknown field":     `{"offer":{"type":"offer","sdp":"v=0","extra":1}}`,
		"empty candidate":   `{"candidate":{"candidate":""}}`,
		"not an object":     `"offer"`,
		"candidate garbage": `{"candidate":42}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSignal([]byte(raw)); err == nil {
				t.Fatalf("expected error for %s", raw)
			}
		})
	}
}

func TestSignal_MarshalRejectsInvalid(t *testing.T) {
	if _, err := json.Marshal(Signal{Kind: "bogus"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPeekSignalKind(t *testing.T) {
	cases := []struct {
		raw  string
		want SignalKind
	}{
		{`{"offer":{"type":"offer","sdp":"v=0"}}`, SignalOffer},
		{`{"answer":{}}`, SignalAnswer},
		{`{"candidate":{"candidate":"x"}}`, SignalCandidate},
		{`{"other":1}`, ""},
		{`[1,2]`, ""},
	}
	for _, tc := range cases {
		if got := PeekSignalKind(json.RawMessage(tc.raw)); got != tc.want {
			t.Fatalf("PeekSignalKind(%s)=%q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"send-message","data":{"text":"hi"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Event != EventSendMessage {
		t.Fatalf("event=%q, want %q", env.Event, EventSendMessage)
	}
	var msg SendMessage
	if err := env.Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Text != "hi" {
		t.Fatalf("text=%q, want hi", msg.Text)
	}
}

func TestParseEnvelope_NoPayload(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"find-peer"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.HasData() {
		t.Fatalf("expected no payload")
	}
	if err := env.Decode(&SendMessage{}); err == nil {
		t.Fatalf("expected decode of missing payload to fail")
	}
}

func TestParseEnvelope_Rejects(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"event":"find-peer","extra":true}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := ParseEnvelope([]byte(`{"event":"find-peer"} {}`)); !errors.Is(err, ErrTrailingData) {
		t.Fatalf("err=%v, want %v", err, ErrTrailingData)
	}
	if _, err := ParseEnvelope([]byte(`{"data":{}}`)); !errors.Is(err, ErrMissingEvent) {
		t.Fatalf("err=%v, want %v", err, ErrMissingEvent)
	}
}

func TestPeerFound_EmptyHistoryMarshalsAsArray(t *testing.T) {
	b, err := json.Marshal(PeerFound{PeerID: "a", Initiator: true, RoomID: "room_1", ChatHistory: []ChatMessage{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"peerId":"a","initiator":true,"roomId":"room_1","chatHistory":[]}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestChatMessage_Time(t *testing.T) {
	m := ChatMessage{Timestamp: "2024-03-01T10:20:30.456Z"}
	got := m.Time()
	if got.IsZero() || got.Nanosecond() != 456_000_000 {
		t.Fatalf("time=%v", got)
	}
	if !(ChatMessage{Timestamp: "yesterday"}).Time().IsZero() {
		t.Fatalf("expected zero time for malformed timestamp")
	}
}

func TestMarshal_DoesNotEscapeHTML(t *testing.T) {
	b, err := Marshal(Offer("v=0 a<b&c"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if want := `{"offer":{"type":"offer","sdp":"v=0 a<b&c"}}`; string(b) != want {
		t.Fatalf("Marshal=%s, want %s", b, want)
	}

	env := MustEnvelope(EventSignal, SignalPayload{Signal: b, From: "p1"})
	wire, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal envelope: %v", err)
	}
	if !strings.Contains(string(wire), "a<b&c") {
		t.Fatalf("envelope=%s, want unescaped sdp", wire)
	}
}
