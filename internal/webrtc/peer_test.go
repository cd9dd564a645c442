package webrtc

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairtalk/internal/media"
	"github.com/1ureka/pairtalk/internal/negotiation"
	"github.com/1ureka/pairtalk/internal/protocol"
)

// offline keeps the tests off the network: host candidates only.
var offline = Config{STUNServers: []string{}}

func newSession(t *testing.T, local, remote string) (*negotiation.Session, *Peer) {
	t.Helper()
	p, err := NewPeer(offline, negotiation.PeerHooks{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return negotiation.NewSession("room", local, remote, p), p
}

func TestPeerOfferAnswer(t *testing.T) {
	e := negotiation.NewEngine(negotiation.EngineConfig{})
	a, pa := newSession(t, "p1", "p2")
	b, pb := newSession(t, "p2", "p1")

	for _, tr := range []media.Track{
		{ID: "a-mic", Kind: media.KindAudio, StreamID: "a"},
		{ID: "a-cam", Kind: media.KindVideo, StreamID: "a"},
	} {
		if _, err := e.AttachTrack(a, tr); err != nil {
			t.Fatal(err)
		}
	}
	for _, tr := range []media.Track{
		{ID: "b-mic", Kind: media.KindAudio, StreamID: "b"},
		{ID: "b-cam", Kind: media.KindVideo, StreamID: "b"},
	} {
		if _, err := e.AttachTrack(b, tr); err != nil {
			t.Fatal(err)
		}
	}

	offer, err := e.CreateOffer(a)
	if err != nil {
		t.Fatal(err)
	}
	if pa.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("offerer state = %s", pa.SignalingState())
	}
	answer, err := e.HandleOffer(b, offer)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.HandleAnswer(a, answer); err != nil {
		t.Fatal(err)
	}

	if pa.SignalingState() != webrtc.SignalingStateStable || pb.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("states = %s/%s", pa.SignalingState(), pb.SignalingState())
	}
	for _, s := range []*negotiation.Session{a, b} {
		if !s.HasSlot(media.KindAudio) || !s.HasSlot(media.KindVideo) {
			t.Errorf("%s: slots missing", s.Local)
		}
		streams, err := e.RemoteStreams(s)
		if err != nil {
			t.Fatal(err)
		}
		if len(streams) != 1 || len(streams[0].Tracks) != 2 {
			t.Errorf("%s: remote streams = %+v", s.Local, streams)
		}
	}
}

func TestPeerRollback(t *testing.T) {
	e := negotiation.NewEngine(negotiation.EngineConfig{})
	a, _ := newSession(t, "p1", "p2")
	b, pb := newSession(t, "p2", "p1")

	offerA, err := e.CreateOffer(a)
	if err != nil {
		t.Fatal(err)
	}
	offerB, err := e.CreateOffer(b)
	if err != nil {
		t.Fatal(err)
	}

	// a is impolite: it keeps its offer and ignores b's.
	reply, err := e.HandleOffer(a, offerB)
	if err != nil || reply != nil {
		t.Fatalf("impolite: reply=%v err=%v", reply, err)
	}
	if a.State != negotiation.HaveLocalOffer {
		t.Fatalf("impolite state = %s", a.State)
	}

	// b is polite: it rolls back and answers.
	answer, err := e.HandleOffer(b, offerA)
	if err != nil {
		t.Fatal(err)
	}
	if answer == nil || pb.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("answer=%v state=%s", answer, pb.SignalingState())
	}
	if err := e.HandleAnswer(a, answer); err != nil {
		t.Fatal(err)
	}
	if a.State != negotiation.Stable || b.State != negotiation.Stable {
		t.Fatalf("states = %s/%s", a.State, b.State)
	}
	if a.LocalDescription.SDP != b.RemoteDescription.SDP || b.LocalDescription.SDP != a.RemoteDescription.SDP {
		t.Fatal("descriptions disagree after glare")
	}
}

func TestPeerRollbackWithoutOffer(t *testing.T) {
	_, p := newSession(t, "p1", "p2")
	if err := p.Rollback(); err == nil {
		t.Fatal("rollback in stable accepted")
	}
}

func TestPeerRejectedAnswerRollsBack(t *testing.T) {
	e := negotiation.NewEngine(negotiation.EngineConfig{})
	a, pa := newSession(t, "p1", "p2")
	if _, err := e.CreateOffer(a); err != nil {
		t.Fatal(err)
	}
	bad := &protocol.Message{Type: protocol.TypeAnswer, From: "p2", To: "p1", Room: "room", Payload: "not sdp"}
	if err := e.HandleAnswer(a, bad); err == nil {
		t.Fatal("malformed answer accepted")
	}
	if a.State != negotiation.Stable || pa.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("state = %s/%s", a.State, pa.SignalingState())
	}
}

func TestAddICECandidateRejectsGarbage(t *testing.T) {
	_, p := newSession(t, "p1", "p2")
	if err := p.AddICECandidate("not json"); err == nil {
		t.Fatal("expected error")
	}
}
