// Package webrtc provides the pion-backed negotiation.Peer used when a
// session carries real media.
package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairtalk/internal/media"
	"github.com/1ureka/pairtalk/internal/negotiation"
)

// DefaultSTUNServers are used when Config.STUNServers is nil. No TURN: the
// tool is meant for direct P2P connectivity.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config configures the PeerConnections created by NewFactory.
type Config struct {
	// STUNServers overrides DefaultSTUNServers. An empty, non-nil slice
	// disables STUN (host candidates only).
	STUNServers []string
	// LoggerFactory is handed to pion. Nil keeps pion's default logger.
	LoggerFactory logging.LoggerFactory
}

// Peer adapts a pion PeerConnection to negotiation.Peer. One sender exists
// per kind; its transceiver is reused for every later track of that kind.
type Peer struct {
	pc    *webrtc.PeerConnection
	hooks negotiation.PeerHooks

	senders map[media.Kind]*webrtc.RTPSender
	sending map[media.Kind]string // kind -> track ID on the sender

	mu      sync.Mutex
	streams map[string]*media.Stream
}

var _ negotiation.Peer = (*Peer)(nil)

// NewFactory returns a PeerFactory producing pion-backed peers.
func NewFactory(cfg Config) negotiation.PeerFactory {
	return func(hooks negotiation.PeerHooks) (negotiation.Peer, error) {
		return NewPeer(cfg, hooks)
	}
}

// NewPeer creates a PeerConnection with the default codecs registered.
func NewPeer(cfg Config, hooks negotiation.PeerHooks) (*Peer, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	servers := cfg.STUNServers
	if servers == nil {
		servers = DefaultSTUNServers
	}
	var iceServers []webrtc.ICEServer
	if len(servers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: servers}}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	p := &Peer{
		pc:      pc,
		hooks:   hooks,
		senders: make(map[media.Kind]*webrtc.RTPSender),
		sending: make(map[media.Kind]string),
		streams: make(map[string]*media.Stream),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || hooks.OnCandidate == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		hooks.OnCandidate(string(data))
	})
	pc.OnTrack(p.onTrack)

	return p, nil
}

// SignalingState exposes the underlying PeerConnection state.
func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *Peer) CreateOffer(tracks []media.Track) (webrtc.SessionDescription, error) {
	if err := p.ensureTracks(tracks); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Always offer to receive every kind, even ones we do not send.
	for _, k := range media.Kinds {
		if p.hasTransceiver(k) {
			continue
		}
		if _, err := p.pc.AddTransceiverFromKind(codecType(k), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("add %s transceiver: %w", k, err)
		}
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *Peer) CreateAnswer(offer webrtc.SessionDescription, tracks []media.Track) (webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Tracks are attached after the remote offer so that they bind to the
	// transceivers it created instead of adding new sections.
	if err := p.ensureTracks(tracks); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	p.announceReceivers()
	return answer, nil
}

func (p *Peer) SetRemoteAnswer(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	p.announceReceivers()
	return nil
}

// Rollback discards the pending local offer. pion parses the SDP of every
// local description, rollback included, so the pending offer is passed along.
func (p *Peer) Rollback() error {
	pending := p.pc.PendingLocalDescription()
	if pending == nil {
		return fmt.Errorf("rollback in %s: no pending local offer", p.pc.SignalingState())
	}
	return p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback, SDP: pending.SDP})
}

func (p *Peer) AddICECandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

func (p *Peer) ReplaceTrack(track media.Track) error {
	sender, ok := p.senders[track.Kind]
	if !ok {
		return fmt.Errorf("no %s sender", track.Kind)
	}
	local, err := newLocalTrack(track)
	if err != nil {
		return err
	}
	if err := sender.ReplaceTrack(local); err != nil {
		return err
	}
	p.sending[track.Kind] = track.ID
	return nil
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

// ensureTracks puts every track on the sender of its kind, creating the
// sender on first use.
func (p *Peer) ensureTracks(tracks []media.Track) error {
	for _, t := range tracks {
		if p.sending[t.Kind] == t.ID {
			continue
		}
		if _, ok := p.senders[t.Kind]; ok {
			if err := p.ReplaceTrack(t); err != nil {
				return err
			}
			continue
		}

		local, err := newLocalTrack(t)
		if err != nil {
			return err
		}
		sender, err := p.pc.AddTrack(local)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind, err)
		}
		p.senders[t.Kind] = sender
		p.sending[t.Kind] = t.ID
	}
	return nil
}

func (p *Peer) hasTransceiver(kind media.Kind) bool {
	for _, tr := range p.pc.GetTransceivers() {
		if tr.Kind() == codecType(kind) {
			return true
		}
	}
	return false
}

// announceReceivers reports remote tracks already bound to receivers.
// OnTrack only fires once RTP flows, which synthetic sources never produce.
func (p *Peer) announceReceivers() {
	for _, tr := range p.pc.GetTransceivers() {
		recv := tr.Receiver()
		if recv == nil {
			continue
		}
		for _, remote := range recv.Tracks() {
			if remote.ID() == "" || remote.StreamID() == "" {
				continue
			}
			p.addRemote(media.Track{
				ID:       remote.ID(),
				Kind:     media.Kind(remote.Kind().String()),
				StreamID: remote.StreamID(),
			})
		}
	}
}

func (p *Peer) onTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	p.addRemote(media.Track{
		ID:       remote.ID(),
		Kind:     media.Kind(remote.Kind().String()),
		StreamID: remote.StreamID(),
	})

	// Drain RTP so the receive buffers never fill up.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (p *Peer) addRemote(t media.Track) {
	p.mu.Lock()
	st, ok := p.streams[t.StreamID]
	if !ok {
		st = &media.Stream{ID: t.StreamID}
		p.streams[t.StreamID] = st
	}
	if st.Has(t.ID) {
		p.mu.Unlock()
		return
	}
	st.Tracks = append(st.Tracks, t)
	snapshot := media.Stream{ID: st.ID, Tracks: append([]media.Track(nil), st.Tracks...)}
	p.mu.Unlock()

	if p.hooks.OnRemoteStream != nil {
		p.hooks.OnRemoteStream(snapshot)
	}
}

func codecType(kind media.Kind) webrtc.RTPCodecType {
	if kind == media.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func newLocalTrack(t media.Track) (*webrtc.TrackLocalStaticSample, error) {
	mime := webrtc.MimeTypeOpus
	if t.Kind == media.KindVideo {
		mime = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, t.ID, t.StreamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", t.Kind, err)
	}
	return local, nil
}
