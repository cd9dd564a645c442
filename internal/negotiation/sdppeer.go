package negotiation

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairtalk/internal/media"
)

// Codecs advertised by synthesised descriptions.
const (
	opusPayloadType = 111
	vp8PayloadType  = 96
)

var errNoLocalOffer = errors.New("no local offer outstanding")

// section is one m-line. Its position and mid never change once created, so
// every later offer lists sections in the same order (JSEP).
type section struct {
	mid      string
	kind     string // media name as it appears on the m-line
	formats  []string
	rejected bool
}

// SDPPeer is a Peer that synthesises descriptions from the track set without
// a real media stack. It gives every session deterministic, parseable SDP and
// is the default backend of the CLI and the test suites.
type SDPPeer struct {
	ufrag, pwd string

	sections []section
	snapshot []section // sections before the outstanding local offer
	offering bool

	candidates []string
	closed     bool
}

var _ Peer = (*SDPPeer)(nil)

// NewSDPPeer creates an SDPPeer with fresh ICE credentials.
func NewSDPPeer() *SDPPeer {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &SDPPeer{ufrag: id[:8], pwd: id[8:]}
}

// SDPPeerFactory is a PeerFactory for SDPPeer. Synthesised sessions gather no
// candidates and receive media only through descriptions, so hooks are unused.
func SDPPeerFactory(PeerHooks) (Peer, error) {
	return NewSDPPeer(), nil
}

func (p *SDPPeer) CreateOffer(tracks []media.Track) (webrtc.SessionDescription, error) {
	if p.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}

	p.snapshot = append([]section(nil), p.sections...)
	if len(p.sections) == 0 {
		// Nothing negotiated yet: offer to receive every kind even if we send
		// none, mirroring pre-created audio and video transceivers.
		for _, k := range media.Kinds {
			p.appendSection(string(k))
		}
	}
	for _, t := range tracks {
		if !p.hasKind(string(t.Kind)) {
			p.appendSection(string(t.Kind))
		}
	}

	body, err := p.build(tracks, "actpass", func(section) string { return "" })
	if err != nil {
		p.sections = p.snapshot
		return webrtc.SessionDescription{}, err
	}
	p.offering = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: body}, nil
}

func (p *SDPPeer) CreateAnswer(offer webrtc.SessionDescription, tracks []media.Track) (webrtc.SessionDescription, error) {
	if p.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}

	parsed, err := parseDescription(offer)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offered := make(map[string]string, len(parsed.MediaDescriptions))
	sections := make([]section, 0, len(parsed.MediaDescriptions))
	for i, md := range parsed.MediaDescriptions {
		mid, ok := md.Attribute(sdp.AttrKeyMID)
		if !ok {
			mid = strconv.Itoa(i)
		}
		_, known := mediaKind(md)
		sections = append(sections, section{
			mid:      mid,
			kind:     md.MediaName.Media,
			formats:  md.MediaName.Formats,
			rejected: !known || rejected(md),
		})
		offered[mid] = direction(md)
	}

	body, err := (&SDPPeer{ufrag: p.ufrag, pwd: p.pwd, sections: sections}).build(tracks, "active",
		func(s section) string { return offered[s.mid] })
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	p.sections = sections
	p.snapshot = nil
	p.offering = false
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: body}, nil
}

func (p *SDPPeer) SetRemoteAnswer(answer webrtc.SessionDescription) error {
	if p.closed {
		return ErrClosed
	}
	if !p.offering {
		return errNoLocalOffer
	}
	if _, err := parseDescription(answer); err != nil {
		return err
	}
	p.snapshot = nil
	p.offering = false
	return nil
}

func (p *SDPPeer) Rollback() error {
	if p.closed {
		return ErrClosed
	}
	if p.offering {
		p.sections = p.snapshot
	}
	p.snapshot = nil
	p.offering = false
	return nil
}

func (p *SDPPeer) AddICECandidate(candidate string) error {
	if p.closed {
		return ErrClosed
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

// ReplaceTrack needs no work here: the next description is built from the
// session's current track set.
func (p *SDPPeer) ReplaceTrack(media.Track) error {
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *SDPPeer) Close() error {
	p.closed = true
	return nil
}

// Candidates returns the connectivity hints applied so far, in order.
func (p *SDPPeer) Candidates() []string {
	return append([]string(nil), p.candidates...)
}

func (p *SDPPeer) hasKind(kind string) bool {
	for _, s := range p.sections {
		if s.kind == kind && !s.rejected {
			return true
		}
	}
	return false
}

// appendSection adds a section under the lowest numeric mid not in use. Mids
// taken over from a remote offer need not be 0..n-1.
func (p *SDPPeer) appendSection(kind string) {
	taken := make(map[string]bool, len(p.sections))
	for _, s := range p.sections {
		taken[s.mid] = true
	}
	mid := 0
	for taken[strconv.Itoa(mid)] {
		mid++
	}
	p.sections = append(p.sections, section{mid: strconv.Itoa(mid), kind: kind})
}

// build renders the sections as SDP. offeredDir returns the remote direction
// of a section when answering, or "" when offering.
func (p *SDPPeer) build(tracks []media.Track, setup string, offeredDir func(section) string) (string, error) {
	desc, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return "", err
	}

	used := make(map[string]bool, len(tracks))
	mids := make([]string, 0, len(p.sections))
	for _, s := range p.sections {
		md := sdp.NewJSEPMediaDescription(s.kind, []string{})
		if s.rejected {
			md.MediaName.Port = sdp.RangedPort{Value: 0}
			md.MediaName.Formats = append([]string(nil), s.formats...)
			if len(md.MediaName.Formats) == 0 {
				md.MediaName.Formats = []string{"0"}
			}
			md.WithValueAttribute(sdp.AttrKeyMID, s.mid)
			desc.WithMedia(md)
			continue
		}

		track, sending := pickTrack(tracks, media.Kind(s.kind), used)
		dir := dirRecvOnly
		if sending {
			dir = dirSendRecv
		}
		if remote := offeredDir(s); remote != "" {
			dir = answerDirection(remote, sending)
			sending = dir == dirSendRecv || dir == dirSendOnly
		}

		md.WithValueAttribute(sdp.AttrKeyConnectionSetup, setup).
			WithValueAttribute(sdp.AttrKeyMID, s.mid).
			WithICECredentials(p.ufrag, p.pwd).
			WithPropertyAttribute(sdp.AttrKeyRTCPMux).
			WithPropertyAttribute(dir)
		if sending {
			used[track.ID] = true
			md.WithValueAttribute(sdp.AttrKeyMsid, track.StreamID+" "+track.ID)
		}
		switch media.Kind(s.kind) {
		case media.KindAudio:
			md.WithCodec(opusPayloadType, "opus", 48000, 2, "minptime=10;useinbandfec=1")
		case media.KindVideo:
			md.WithCodec(vp8PayloadType, "VP8", 90000, 0, "")
		}

		mids = append(mids, s.mid)
		desc.WithMedia(md)
	}
	if len(mids) > 0 {
		desc.WithValueAttribute(sdp.AttrKeyGroup, "BUNDLE "+strings.Join(mids, " "))
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// pickTrack returns the first unused track of kind.
func pickTrack(tracks []media.Track, kind media.Kind, used map[string]bool) (media.Track, bool) {
	for _, t := range tracks {
		if t.Kind == kind && !used[t.ID] {
			return t, true
		}
	}
	return media.Track{}, false
}
