package negotiation

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/1ureka/pairtalk/internal/media"
	"github.com/1ureka/pairtalk/internal/protocol"
)

const testRoom = "room-1"

// newPair returns an engine and the two ends of one session: a is "p1"
// (impolite) and b is "p2" (polite).
func newPair(t *testing.T) (*Engine, *Session, *Session) {
	t.Helper()
	a := NewSession(testRoom, "p1", "p2", NewSDPPeer())
	b := NewSession(testRoom, "p2", "p1", NewSDPPeer())
	if a.Role != Impolite || b.Role != Polite {
		t.Fatalf("roles = %s/%s, want impolite/polite", a.Role, b.Role)
	}
	return NewEngine(EngineConfig{}), a, b
}

func track(kind media.Kind, id, stream string) media.Track {
	return media.Track{ID: id, Kind: kind, StreamID: stream}
}

func attach(t *testing.T, e *Engine, s *Session, tracks ...media.Track) {
	t.Helper()
	for _, tr := range tracks {
		if _, err := e.AttachTrack(s, tr); err != nil {
			t.Fatalf("AttachTrack(%s): %v", tr.ID, err)
		}
	}
}

// round runs one complete offer/answer exchange initiated by from.
func round(t *testing.T, e *Engine, from, to *Session) (offer, answer *protocol.Message) {
	t.Helper()
	offer, err := e.CreateOffer(from)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answer, err = e.HandleOffer(to, offer)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if answer == nil {
		t.Fatal("HandleOffer returned no answer")
	}
	if err := e.HandleAnswer(from, answer); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	return offer, answer
}

func streamTracks(t *testing.T, e *Engine, s *Session) int {
	t.Helper()
	streams, err := e.RemoteStreams(s)
	if err != nil {
		t.Fatalf("RemoteStreams: %v", err)
	}
	n := 0
	for _, st := range streams {
		n += len(st.Tracks)
	}
	return n
}

func TestRoleFor(t *testing.T) {
	pairs := [][2]string{{"a", "b"}, {"p1", "p2"}, {"6f0c", "1b2e"}}
	for _, p := range pairs {
		x, y := RoleFor(p[0], p[1]), RoleFor(p[1], p[0])
		if x == y {
			t.Errorf("RoleFor(%q,%q) and reverse both %s", p[0], p[1], x)
		}
	}
}

func TestOfferAnswerRound(t *testing.T) {
	e, a, b := newPair(t)
	attach(t, e, a, track(media.KindAudio, "a-mic", "a-cam"), track(media.KindVideo, "a-cam", "a-cam"))
	attach(t, e, b, track(media.KindAudio, "b-mic", "b-cam"), track(media.KindVideo, "b-cam", "b-cam"))

	offer, err := e.CreateOffer(a)
	if err != nil {
		t.Fatal(err)
	}
	if offer.Type != protocol.TypeOffer || offer.From != "p1" || offer.To != "p2" || offer.Room != testRoom {
		t.Fatalf("offer = %+v", offer)
	}
	if a.State != HaveLocalOffer || a.MakingOffer || a.NeedsNegotiation {
		t.Fatalf("after offer: state=%s making=%v dirty=%v", a.State, a.MakingOffer, a.NeedsNegotiation)
	}

	answer, err := e.HandleOffer(b, offer)
	if err != nil {
		t.Fatal(err)
	}
	if answer.Type != protocol.TypeAnswer || b.State != Stable {
		t.Fatalf("answer type=%s, b state=%s", answer.Type, b.State)
	}
	if err := e.HandleAnswer(a, answer); err != nil {
		t.Fatal(err)
	}
	if a.State != Stable {
		t.Fatalf("a state = %s", a.State)
	}

	for _, s := range []*Session{a, b} {
		if !s.HasSlot(media.KindAudio) || !s.HasSlot(media.KindVideo) {
			t.Errorf("%s: missing slots", s.Local)
		}
		if s.NeedsNegotiation {
			t.Errorf("%s: still needs negotiation", s.Local)
		}
		if n := streamTracks(t, e, s); n != 2 {
			t.Errorf("%s: remote tracks = %d, want 2", s.Local, n)
		}
	}
}

func TestCreateOfferRequiresStable(t *testing.T) {
	e, a, _ := newPair(t)
	if _, err := e.CreateOffer(a); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateOffer(a); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second CreateOffer err = %v, want ErrInvalidState", err)
	}
	if a.State != HaveLocalOffer {
		t.Fatalf("state = %s", a.State)
	}
}

func TestHandleAnswerOutOfState(t *testing.T) {
	e, a, b := newPair(t)
	_, answer := round(t, e, a, b)

	// Late duplicate.
	if err := e.HandleAnswer(a, answer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("duplicate answer err = %v", err)
	}
	// Unsolicited.
	stray := &protocol.Message{Type: protocol.TypeAnswer, From: "p1", To: "p2", Payload: answer.Payload}
	if err := e.HandleAnswer(b, stray); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("unsolicited answer err = %v", err)
	}
	if a.State != Stable || b.State != Stable {
		t.Fatalf("states = %s/%s", a.State, b.State)
	}
}

func TestRenegotiationNeedsEstablishedSession(t *testing.T) {
	e, a, b := newPair(t)
	attach(t, e, a, track(media.KindAudio, "a-mic", "a"))
	round(t, e, a, b)

	attach(t, e, a, track(media.KindVideo, "a-cam", "a"))
	renego, err := e.CreateOffer(a)
	if err != nil {
		t.Fatal(err)
	}

	// A fresh session on the receiving side has no round to build on.
	fresh := NewSession(testRoom, "p2", "p1", NewSDPPeer())
	if _, err := e.HandleOffer(fresh, renego); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if fresh.State != Stable || fresh.RemoteDescription != nil || fresh.Established() {
		t.Fatal("rejected nego-needed mutated the session")
	}

	if reply, err := e.HandleOffer(b, renego); err != nil || reply.Type != protocol.TypeNegoDone {
		t.Fatalf("established session: reply=%v err=%v", reply, err)
	}
}

func TestForeignMessage(t *testing.T) {
	e, a, b := newPair(t)
	offer, err := e.CreateOffer(a)
	if err != nil {
		t.Fatal(err)
	}
	offer.From = "intruder"
	if _, err := e.HandleOffer(b, offer); !errors.Is(err, ErrForeignMessage) {
		t.Fatalf("err = %v, want ErrForeignMessage", err)
	}
	if b.State != Stable || b.RemoteDescription != nil {
		t.Fatal("foreign offer mutated session")
	}
}

func TestGlareImpoliteWins(t *testing.T) {
	for _, impoliteFirst := range []bool{true, false} {
		name := "polite-receives-first"
		if impoliteFirst {
			name = "impolite-receives-first"
		}
		t.Run(name, func(t *testing.T) {
			e, a, b := newPair(t)
			attach(t, e, a, track(media.KindAudio, "a-mic", "a"))
			attach(t, e, b, track(media.KindAudio, "b-mic", "b"))

			offerA, err := e.CreateOffer(a)
			if err != nil {
				t.Fatal(err)
			}
			offerB, err := e.CreateOffer(b)
			if err != nil {
				t.Fatal(err)
			}

			var answer *protocol.Message
			deliverToA := func() {
				reply, err := e.HandleOffer(a, offerB)
				if err != nil || reply != nil {
					t.Fatalf("impolite HandleOffer = %v, %v; want silent drop", reply, err)
				}
			}
			deliverToB := func() {
				answer, err = e.HandleOffer(b, offerA)
				if err != nil || answer == nil {
					t.Fatalf("polite HandleOffer = %v, %v", answer, err)
				}
			}
			if impoliteFirst {
				deliverToA()
				deliverToB()
			} else {
				deliverToB()
				deliverToA()
			}
			if err := e.HandleAnswer(a, answer); err != nil {
				t.Fatal(err)
			}

			if a.State != Stable || b.State != Stable {
				t.Fatalf("states = %s/%s", a.State, b.State)
			}
			if b.RemoteDescription.SDP != offerA.Payload {
				t.Error("polite side did not apply the impolite offer")
			}
			if a.RemoteDescription.SDP == offerB.Payload {
				t.Error("impolite side applied the polite offer")
			}
			if !a.HasSlot(media.KindAudio) || !b.HasSlot(media.KindAudio) {
				t.Error("audio not negotiated both ways")
			}
			if b.NeedsNegotiation {
				t.Error("polite side wants another round although its track was answered")
			}
		})
	}
}

func TestGlareRollbackKeepsUnansweredTrack(t *testing.T) {
	e, a, b := newPair(t)
	attach(t, e, a, track(media.KindAudio, "a-mic", "a"))
	attach(t, e, b, track(media.KindAudio, "b-mic", "b"))
	round(t, e, a, b)

	// Both change their track set at once; b adds video that a's
	// renegotiation offer already has a receive section for, a adds nothing.
	attach(t, e, b, track(media.KindVideo, "b-cam", "b"))
	offerA, err := e.CreateOffer(a)
	if err != nil {
		t.Fatal(err)
	}
	if offerA.Type != protocol.TypeNegoNeeded {
		t.Fatalf("renegotiation type = %s", offerA.Type)
	}
	if _, err := e.CreateOffer(b); err != nil {
		t.Fatal(err)
	}

	answer, err := e.HandleOffer(b, offerA)
	if err != nil {
		t.Fatal(err)
	}
	if answer.Type != protocol.TypeNegoDone {
		t.Fatalf("reply type = %s", answer.Type)
	}
	if err := e.HandleAnswer(a, answer); err != nil {
		t.Fatal(err)
	}
	if !b.HasSlot(media.KindVideo) || b.NeedsNegotiation {
		t.Fatalf("b video slot=%v dirty=%v", b.HasSlot(media.KindVideo), b.NeedsNegotiation)
	}
	if n := streamTracks(t, e, a); n != 2 {
		t.Fatalf("a sees %d remote tracks, want 2", n)
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	e, a, b := newPair(t)
	hints := []string{"c1", "c2", "c3"}
	for _, c := range hints {
		msg := &protocol.Message{Type: protocol.TypeCandidate, From: "p1", To: "p2", Payload: c}
		if err := e.HandleCandidate(b, msg); err != nil {
			t.Fatal(err)
		}
	}
	if !slices.Equal(b.PendingCandidates, hints) || len(b.Applied()) != 0 {
		t.Fatalf("pending=%v applied=%v", b.PendingCandidates, b.Applied())
	}

	offer, err := e.CreateOffer(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleOffer(b, offer); err != nil {
		t.Fatal(err)
	}
	if len(b.PendingCandidates) != 0 || !slices.Equal(b.Applied(), hints) {
		t.Fatalf("after offer pending=%v applied=%v", b.PendingCandidates, b.Applied())
	}

	if err := e.AddConnectivityHint(b, "c4"); err != nil {
		t.Fatal(err)
	}
	want := append(hints, "c4")
	if !slices.Equal(b.Applied(), want) {
		t.Fatalf("applied = %v, want %v", b.Applied(), want)
	}
	if got := b.peer.(*SDPPeer).Candidates(); !slices.Equal(got, want) {
		t.Fatalf("peer saw %v", got)
	}
}

func TestReplaceTrackNeedsNoRound(t *testing.T) {
	e, a, b := newPair(t)
	if _, err := e.ReplaceTrack(a, track(media.KindAudio, "early", "a")); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("replace before round err = %v", err)
	}

	attach(t, e, a, track(media.KindAudio, "a-mic", "a"))
	attach(t, e, b, track(media.KindAudio, "b-mic", "b"))
	round(t, e, a, b)

	old, err := e.ReplaceTrack(a, track(media.KindAudio, "a-mic-2", "a"))
	if err != nil {
		t.Fatal(err)
	}
	if old.ID != "a-mic" {
		t.Fatalf("old track = %s", old.ID)
	}
	if a.State != Stable || a.NeedsNegotiation {
		t.Fatalf("replace changed state: %s dirty=%v", a.State, a.NeedsNegotiation)
	}
	if !a.Sending(track(media.KindAudio, "a-mic-2", "a")) || len(a.Tracks) != 1 {
		t.Fatalf("tracks = %v", a.Tracks)
	}
}

func TestAttachTrackRenegotiates(t *testing.T) {
	e, a, b := newPair(t)
	attach(t, e, a, track(media.KindAudio, "a-mic", "a"))
	attach(t, e, b, track(media.KindAudio, "b-mic", "b"))
	round(t, e, a, b)

	if _, err := e.AttachTrack(a, track(media.KindAudio, "dup", "a")); !errors.Is(err, ErrSlotExists) {
		t.Fatalf("attach over slot err = %v", err)
	}
	if a.NeedsNegotiation {
		t.Fatal("rejected attach marked session dirty")
	}

	attach(t, e, a, track(media.KindVideo, "a-cam", "a"))
	if !a.NeedsNegotiation || a.State != Stable {
		t.Fatalf("attach: dirty=%v state=%s", a.NeedsNegotiation, a.State)
	}

	offer, answer := round(t, e, a, b)
	if offer.Type != protocol.TypeNegoNeeded || answer.Type != protocol.TypeNegoDone {
		t.Fatalf("types = %s/%s", offer.Type, answer.Type)
	}
	if !a.HasSlot(media.KindVideo) || a.NeedsNegotiation {
		t.Fatalf("video slot=%v dirty=%v", a.HasSlot(media.KindVideo), a.NeedsNegotiation)
	}
	if n := streamTracks(t, e, b); n != 2 {
		t.Fatalf("b sees %d remote tracks, want 2", n)
	}
}

func TestAttachTrackSwapsUnsentTrack(t *testing.T) {
	e, a, _ := newPair(t)
	attach(t, e, a, track(media.KindAudio, "first", "a"))
	old, err := e.AttachTrack(a, track(media.KindAudio, "second", "a"))
	if err != nil {
		t.Fatal(err)
	}
	if old == nil || old.ID != "first" || len(a.Tracks) != 1 {
		t.Fatalf("old=%v tracks=%v", old, a.Tracks)
	}
}

func TestCloseReleasesTracks(t *testing.T) {
	e, a, b := newPair(t)
	attach(t, e, a, track(media.KindAudio, "a-mic", "a"), track(media.KindVideo, "a-cam", "a"))
	offer, err := e.CreateOffer(a)
	if err != nil {
		t.Fatal(err)
	}

	if got := e.Close(a); len(got) != 2 {
		t.Fatalf("Close returned %d tracks", len(got))
	}
	if e.Close(a) != nil {
		t.Fatal("second Close returned tracks")
	}

	answer, err := e.HandleOffer(b, offer)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.HandleAnswer(a, answer); !errors.Is(err, ErrClosed) {
		t.Fatalf("answer after close err = %v", err)
	}
	if a.RemoteDescription != nil {
		t.Fatal("closed session accepted a remote description")
	}
}

// TestRandomDeliveryStaysConsistent drives two sessions with random track
// changes, offers and delivery order, checks that both always sit in a known
// state, and that once settled each side holds the other's descriptions.
func TestRandomDeliveryStaysConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		e, a, b := newPair(t)
		inbox := map[*Session][]*protocol.Message{a: nil, b: nil}
		other := map[*Session]*Session{a: b, b: a}
		next := 0

		deliver := func(s *Session) {
			msg := inbox[s][0]
			inbox[s] = inbox[s][1:]
			switch {
			case msg.Type.IsProposal():
				reply, err := e.HandleOffer(s, msg)
				if err != nil && !errors.Is(err, ErrInvalidState) {
					t.Fatalf("iter %d: %s HandleOffer(%s): %v", iter, s.Local, msg.Type, err)
				}
				if reply != nil {
					inbox[other[s]] = append(inbox[other[s]], reply)
				}
			default:
				if err := e.HandleAnswer(s, msg); err != nil && !errors.Is(err, ErrInvalidState) {
					t.Fatalf("HandleAnswer: %v", err)
				}
			}
		}
		offer := func(s *Session) {
			if msg, err := e.CreateOffer(s); err == nil {
				inbox[other[s]] = append(inbox[other[s]], msg)
			} else if !errors.Is(err, ErrInvalidState) {
				t.Fatal(err)
			}
		}
		drain := func() {
			for len(inbox[a])+len(inbox[b]) > 0 {
				for _, s := range []*Session{a, b} {
					if len(inbox[s]) > 0 {
						deliver(s)
					}
				}
			}
		}

		for step := 0; step < 40; step++ {
			s := a
			if rng.Intn(2) == 1 {
				s = b
			}
			switch rng.Intn(4) {
			case 0:
				offer(s)
			case 1:
				next++
				kind := media.Kinds[rng.Intn(len(media.Kinds))]
				tr := track(kind, fmt.Sprintf("%s-%d", s.Local, next), s.Local)
				if s.HasSlot(kind) {
					if _, err := e.ReplaceTrack(s, tr); err != nil {
						t.Fatalf("ReplaceTrack: %v", err)
					}
				} else if _, err := e.AttachTrack(s, tr); err != nil {
					t.Fatalf("AttachTrack: %v", err)
				}
			default:
				if len(inbox[s]) > 0 {
					deliver(s)
				}
			}
			for _, x := range []*Session{a, b} {
				if x.State != Stable && x.State != HaveLocalOffer {
					t.Fatalf("iter %d step %d: %s in %s", iter, step, x.Local, x.State)
				}
			}
		}

		drain()
		// Let pending track changes go out, one side at a time.
		for i := 0; i < 4 && (a.NeedsNegotiation || b.NeedsNegotiation); i++ {
			for _, s := range []*Session{a, b} {
				if s.NeedsNegotiation {
					offer(s)
					drain()
				}
			}
		}

		if a.State != Stable || b.State != Stable {
			t.Fatalf("iter %d: settled in %s/%s", iter, a.State, b.State)
		}
		if a.LocalDescription == nil {
			continue // no round ever completed
		}
		if a.RemoteDescription == nil || b.LocalDescription == nil || b.RemoteDescription == nil {
			t.Fatalf("iter %d: half-negotiated session", iter)
		}
		if a.LocalDescription.SDP != b.RemoteDescription.SDP || b.LocalDescription.SDP != a.RemoteDescription.SDP {
			t.Fatalf("iter %d: descriptions disagree", iter)
		}
	}
}
