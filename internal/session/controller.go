package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairtalk/internal/media"
	"github.com/1ureka/pairtalk/internal/negotiation"
	"github.com/1ureka/pairtalk/internal/protocol"
	"github.com/1ureka/pairtalk/internal/util"
)

// Transport carries signaling messages to the other participant. Send must
// preserve order and should not block for long.
type Transport interface {
	Send(ctx context.Context, msg protocol.Message) error
}

// Options configures a Controller.
type Options struct {
	Room string
	Self string // identity assigned by the relay

	Transport Transport
	Engine    *negotiation.Engine     // default: logging-free engine
	Peers     negotiation.PeerFactory // default: negotiation.SDPPeerFactory
	Source    media.Source            // nil: every acquisition fails
	Sink      media.Sink              // nil: remote media is discarded
	Observer  Observer                // nil: NopObserver
	Kinds     []media.Kind            // what PlaceCall captures; default media.Kinds
}

// Controller owns the pairing of one room. Every event, whether a relay
// message, a media callback or a user action, runs on a single goroutine in
// arrival order. A handler that blocks (media acquisition) holds back the
// events behind it; nothing is dropped or reordered.
type Controller struct {
	opts   Options
	engine *negotiation.Engine

	inbox  *inbox
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the loop goroutine.
	sess     *negotiation.Session
	peer     string // the other participant, kept across EndCall
	ended    bool
	log      util.SessionLog
	rendered map[string]media.Stream
	notified struct {
		call      CallState
		signaling negotiation.SignalingState
	}
}

// NewController validates opts and starts the controller goroutine. It stops
// when ctx is cancelled or Close is called.
func NewController(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Self == "" {
		return nil, errors.New("session: Self is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("session: Transport is required")
	}
	if opts.Engine == nil {
		opts.Engine = negotiation.NewEngine(negotiation.EngineConfig{})
	}
	if opts.Peers == nil {
		opts.Peers = negotiation.SDPPeerFactory
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = media.Kinds
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		opts:     opts,
		engine:   opts.Engine,
		inbox:    newInbox(),
		ctx:      cctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		rendered: make(map[string]media.Stream),
	}
	go c.loop()
	return c, nil
}

// Close stops the controller, tearing down any session. It blocks until the
// goroutine has exited.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
}

// Done is closed once the controller has stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// ──────────────────────────────────────────────────────────────────────────────
// Event loop
// ──────────────────────────────────────────────────────────────────────────────

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.teardown("controller closed")
			return
		case <-c.inbox.wake:
			for fn := c.inbox.pop(); fn != nil; fn = c.inbox.pop() {
				if c.ctx.Err() != nil {
					break
				}
				c.run(fn)
			}
		}
	}
}

// run executes one event. A panic in a handler is turned into a logged drop
// so that no input can take the controller down.
func (c *Controller) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			util.Stats.AddDropped()
			err := fmt.Errorf("session: handler panic: %v", r)
			util.LogError("%v", err)
			c.opts.Observer.Failed(err)
		}
		c.notify()
	}()
	fn()
}

func (c *Controller) post(fn func()) error {
	if c.ctx.Err() != nil {
		return ErrControllerClosed
	}
	c.inbox.push(fn)
	return nil
}

// call runs fn on the loop and waits for its result.
func (c *Controller) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if err := c.post(func() { errc <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrControllerClosed
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Inbound events
// ──────────────────────────────────────────────────────────────────────────────

// Deliver routes a message received from the relay.
func (c *Controller) Deliver(msg protocol.Message) {
	util.Stats.AddRecv()
	switch {
	case msg.Type == protocol.TypePeerJoined:
		c.OnParticipantJoined(msg.From)
	case msg.Type == protocol.TypePeerLeft:
		c.OnParticipantLeft(msg.From)
	case msg.Type.IsProposal():
		c.OnIncomingOffer(msg)
	case msg.Type.IsDescription():
		c.OnIncomingAnswer(msg)
	case msg.Type == protocol.TypeCandidate:
		c.OnIncomingCandidate(msg)
	case msg.Type == protocol.TypeHangUp:
		c.OnHangUp(msg)
	case msg.Type == protocol.TypeError:
		_ = c.post(func() {
			c.opts.Observer.Failed(fmt.Errorf("relay: %s", msg.Payload))
		})
	default:
		util.LogDebug("room %s: ignoring %s", c.opts.Room, msg.Type)
	}
}

// OnParticipantJoined creates the session with peer and reports that a call
// can be placed. Nothing is sent until a call is placed.
func (c *Controller) OnParticipantJoined(peer string) {
	_ = c.post(func() { c.join(peer) })
}

// OnParticipantLeft destroys the session with peer, releasing local tracks
// and clearing remote streams. It is safe in any signaling state.
func (c *Controller) OnParticipantLeft(peer string) {
	_ = c.post(func() {
		if peer == c.peer {
			c.peer = ""
		}
		if c.sess == nil || c.sess.Remote != peer {
			return
		}
		c.teardown(peer + " left")
	})
}

func (c *Controller) OnIncomingOffer(msg protocol.Message) {
	_ = c.post(func() { c.handleOffer(&msg) })
}

func (c *Controller) OnIncomingAnswer(msg protocol.Message) {
	_ = c.post(func() { c.handleAnswer(&msg) })
}

func (c *Controller) OnIncomingCandidate(msg protocol.Message) {
	_ = c.post(func() {
		if c.sess == nil {
			c.drop(&msg, ErrNoPeerAvailable)
			return
		}
		if err := c.engine.HandleCandidate(c.sess, &msg); err != nil {
			c.drop(&msg, err)
		}
	})
}

// OnHangUp ends the session when the peer ended the call. The peer stays
// known, so either side may call again.
func (c *Controller) OnHangUp(msg protocol.Message) {
	_ = c.post(func() {
		s := c.sess
		switch {
		case msg.To != c.opts.Self:
			c.drop(&msg, negotiation.ErrForeignMessage)
		case s == nil:
			// Both sides ended at once.
			c.drop(&msg, fmt.Errorf("%w: hang-up without a session", negotiation.ErrInvalidState))
		case msg.From != s.Remote:
			c.drop(&msg, negotiation.ErrForeignMessage)
		default:
			c.teardown(fmt.Sprintf("%s hung up: %s", msg.From, msg.Payload))
		}
	})
}

// OnRemoteTrack renders stream. Repeated delivery of a stream ID updates the
// existing surface instead of opening another.
func (c *Controller) OnRemoteTrack(stream media.Stream) {
	_ = c.post(func() { c.render(stream) })
}

// ──────────────────────────────────────────────────────────────────────────────
// Application actions
// ──────────────────────────────────────────────────────────────────────────────

// PlaceCall captures kinds (Options.Kinds when empty), attaches them and
// sends the initial offer.
func (c *Controller) PlaceCall(ctx context.Context, kinds ...media.Kind) error {
	return c.call(ctx, func() error {
		if c.sess == nil && c.peer != "" {
			if err := c.open(c.peer); err != nil {
				return err
			}
		}
		s := c.sess
		if s == nil {
			return ErrNoPeerAvailable
		}
		if s.Established() {
			// The peer's call got here first; we are already in it.
			c.log.Debug("place call: already in call with %s", s.Remote)
			return nil
		}
		if s.State != negotiation.Stable {
			return fmt.Errorf("%w: call already %s", negotiation.ErrInvalidState, c.callState())
		}
		if len(kinds) == 0 {
			kinds = c.opts.Kinds
		}

		tracks, err := c.acquire(ctx, kinds)
		if err != nil {
			return err
		}
		c.attach(tracks)
		c.log.Info("calling %s with %d track(s)", s.Remote, len(tracks))
		c.offer()
		return nil
	})
}

// AddTrack captures one track of kind. A kind that already has a negotiated
// slot is swapped in place; a new kind is negotiated with a nego-needed round.
func (c *Controller) AddTrack(ctx context.Context, kind media.Kind) error {
	return c.call(ctx, func() error {
		if c.sess == nil {
			return ErrNoPeerAvailable
		}
		tracks, err := c.acquire(ctx, []media.Kind{kind})
		if err != nil {
			return err
		}
		c.attach(tracks)
		c.renegotiate()
		return nil
	})
}

// EndCall tells the peer the call is over and tears the session down. The
// peer stays known, so a later PlaceCall starts over with a fresh session.
// Until then renegotiations from the peer are dropped rather than answered.
func (c *Controller) EndCall(ctx context.Context) error {
	return c.call(ctx, func() error {
		s := c.sess
		if s == nil {
			return ErrNoPeerAvailable
		}
		c.send(&protocol.Message{
			Type:    protocol.TypeHangUp,
			From:    c.opts.Self,
			To:      s.Remote,
			Room:    c.opts.Room,
			Payload: "call ended",
		})
		c.teardown("call ended")
		return nil
	})
}

// Snapshot returns the current state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() error {
		snap = c.snapshot()
		return nil
	})
	return snap, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Handlers (loop goroutine only)
// ──────────────────────────────────────────────────────────────────────────────

func (c *Controller) join(peer string) {
	if peer == "" || peer == c.opts.Self {
		return
	}
	if c.sess != nil {
		if c.sess.Remote != peer {
			util.LogWarning("room %s: already paired with %s, ignoring %s", c.opts.Room, c.sess.Remote, peer)
		}
		return
	}
	if err := c.open(peer); err != nil {
		c.opts.Observer.Failed(err)
		return
	}
	c.opts.Observer.ReadyToCall(peer)
}

func (c *Controller) open(peer string) error {
	var s *negotiation.Session
	hooks := negotiation.PeerHooks{
		OnCandidate: func(candidate string) {
			_ = c.post(func() {
				if c.sess != s || s.Closed() {
					return
				}
				c.send(&protocol.Message{
					Type:    protocol.TypeCandidate,
					From:    c.opts.Self,
					To:      s.Remote,
					Room:    c.opts.Room,
					Payload: candidate,
				})
			})
		},
		OnRemoteStream: c.OnRemoteTrack,
	}
	p, err := c.opts.Peers(hooks)
	if err != nil {
		return fmt.Errorf("session: create peer: %w", err)
	}

	s = negotiation.NewSession(c.opts.Room, c.opts.Self, peer, p)
	c.sess = s
	c.peer = peer
	c.ended = false
	c.log = util.NewSessionLog(c.opts.Room, c.opts.Self, peer)
	c.log.Info("paired with %s as %s", peer, s.Role)
	return nil
}

func (c *Controller) handleOffer(msg *protocol.Message) {
	if msg.To != c.opts.Self {
		c.drop(msg, negotiation.ErrForeignMessage)
		return
	}
	if c.sess == nil {
		// Only a fresh call opens a session. A renegotiation has nothing to
		// build on, for instance after EndCall.
		if msg.Type != protocol.TypeOffer {
			c.drop(msg, fmt.Errorf("%w: %s without a session", negotiation.ErrInvalidState, msg.Type))
			return
		}
		// The offer overtook the join notification.
		if err := c.open(msg.From); err != nil {
			c.drop(msg, err)
			return
		}
	}
	s := c.sess
	if msg.Type == protocol.TypeNegoNeeded && !s.Established() {
		c.drop(msg, fmt.Errorf("%w: %s before the first round", negotiation.ErrInvalidState, msg.Type))
		return
	}

	// Capture before answering so the answer advertises our media too. An
	// offer the impolite side is about to ignore needs no capture.
	glareLoser := s.State == negotiation.HaveLocalOffer && s.Role == negotiation.Impolite
	if len(s.Tracks) == 0 && !glareLoser && msg.From == s.Remote {
		if kinds := c.wanted(msg); len(kinds) > 0 {
			tracks, err := c.acquire(c.ctx, kinds)
			if err != nil {
				// Answer receive-only rather than leave the caller hanging.
				c.log.Warning("answering without media: %v", err)
				c.opts.Observer.Failed(err)
			} else {
				c.attach(tracks)
			}
		}
	}

	reply, err := c.engine.HandleOffer(s, msg)
	if err != nil {
		c.drop(msg, err)
		return
	}
	if reply == nil {
		c.log.Debug("glare: kept own offer, ignored %s from %s", msg.Type, msg.From)
		return
	}
	c.send(reply)
	c.settled()
}

func (c *Controller) handleAnswer(msg *protocol.Message) {
	s := c.sess
	if s == nil {
		c.drop(msg, ErrNoPeerAvailable)
		return
	}
	if err := c.engine.HandleAnswer(s, msg); err != nil {
		c.drop(msg, err)
		return
	}

	// Put local tracks the answer made room for on their slots. This never
	// starts a round.
	for _, t := range slices.Clone(s.Tracks) {
		if s.HasSlot(t.Kind) && !s.Sending(t) {
			if _, err := c.engine.ReplaceTrack(s, t); err != nil {
				c.log.Warning("send %s track: %v", t.Kind, err)
			}
		}
	}
	c.settled()
}

// settled runs after every completed round.
func (c *Controller) settled() {
	c.refreshRemote()
	c.renegotiate()
}

// renegotiate starts a round if the track set changed and none is running.
func (c *Controller) renegotiate() {
	if s := c.sess; s != nil && s.State == negotiation.Stable && s.NeedsNegotiation {
		c.offer()
	}
}

func (c *Controller) offer() {
	msg, err := c.engine.CreateOffer(c.sess)
	if err != nil {
		c.log.Warning("create offer: %v", err)
		c.opts.Observer.Failed(err)
		return
	}
	c.send(msg)
}

func (c *Controller) send(msg *protocol.Message) {
	if err := c.opts.Transport.Send(c.ctx, *msg); err != nil {
		c.log.Error("send %s: %v", msg.Type, err)
		c.opts.Observer.Failed(fmt.Errorf("send %s: %w", msg.Type, err))
		return
	}
	util.Stats.AddSent()
}

// drop discards an inbound message. Out-of-state messages are expected under
// late or duplicate delivery and only logged at debug level.
func (c *Controller) drop(msg *protocol.Message, err error) {
	util.Stats.AddDropped()
	if errors.Is(err, negotiation.ErrInvalidState) {
		util.LogDebug("room %s: dropped %s from %s: %v", c.opts.Room, msg.Type, msg.From, err)
		return
	}
	util.LogWarning("room %s: dropped %s from %s: %v", c.opts.Room, msg.Type, msg.From, err)
}

// wanted returns the kinds to capture for an incoming offer: those the offer
// can receive, limited to the ones we are configured to send.
func (c *Controller) wanted(msg *protocol.Message) []media.Kind {
	offered, err := negotiation.OfferedKinds(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.Payload})
	if err != nil {
		return nil
	}
	var kinds []media.Kind
	for _, k := range offered {
		if slices.Contains(c.opts.Kinds, k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (c *Controller) acquire(ctx context.Context, kinds []media.Kind) ([]media.Track, error) {
	if c.opts.Source == nil {
		return nil, fmt.Errorf("%w: no media source", ErrMediaUnavailable)
	}
	tracks, err := c.opts.Source.Acquire(ctx, kinds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	return tracks, nil
}

// attach adds freshly captured tracks to the session, swapping them into
// existing slots where possible, and releases whatever they displaced.
func (c *Controller) attach(tracks []media.Track) {
	s := c.sess
	var displaced []media.Track
	for _, t := range tracks {
		if s.HasSlot(t.Kind) {
			old, err := c.engine.ReplaceTrack(s, t)
			if err != nil {
				c.log.Warning("replace %s track: %v", t.Kind, err)
				displaced = append(displaced, t)
				continue
			}
			if old.ID != "" {
				displaced = append(displaced, old)
			}
			continue
		}
		old, err := c.engine.AttachTrack(s, t)
		if err != nil {
			c.log.Warning("attach %s track: %v", t.Kind, err)
			displaced = append(displaced, t)
			continue
		}
		if old != nil {
			displaced = append(displaced, *old)
		}
	}
	if len(displaced) > 0 {
		c.opts.Source.Release(displaced)
	}
	for _, st := range media.StreamsOf(tracks) {
		c.opts.Observer.LocalTrack(st)
	}
}

// refreshRemote renders the streams announced by the current remote
// description and clears those it no longer announces.
func (c *Controller) refreshRemote() {
	streams, err := c.engine.RemoteStreams(c.sess)
	if err != nil {
		c.log.Warning("remote streams: %v", err)
		return
	}
	current := make(map[string]bool, len(streams))
	for _, st := range streams {
		current[st.ID] = true
		c.render(st)
	}
	for id := range c.rendered {
		if !current[id] {
			c.clear(id)
		}
	}
}

func (c *Controller) render(stream media.Stream) {
	if c.sess == nil || stream.ID == "" {
		return
	}
	if prev, ok := c.rendered[stream.ID]; ok && sameTracks(prev, stream) {
		return
	}
	c.rendered[stream.ID] = stream
	if c.opts.Sink != nil {
		c.opts.Sink.Render(stream)
	}
}

func (c *Controller) clear(streamID string) {
	delete(c.rendered, streamID)
	if c.opts.Sink != nil {
		c.opts.Sink.Clear(streamID)
	}
}

// teardown destroys the session, if any.
func (c *Controller) teardown(reason string) {
	s := c.sess
	if s == nil {
		return
	}
	tracks := c.engine.Close(s)
	if len(tracks) > 0 && c.opts.Source != nil {
		c.opts.Source.Release(tracks)
	}
	for id := range c.rendered {
		c.clear(id)
	}
	c.sess = nil
	c.ended = true
	c.log.Info("session closed: %s", reason)
	c.notify()
}

func (c *Controller) callState() CallState {
	s := c.sess
	switch {
	case s == nil && c.ended:
		return Ended
	case s == nil:
		return Idle
	case s.Established():
		return InCall
	case s.State == negotiation.HaveLocalOffer:
		return Calling
	default:
		return Idle
	}
}

// notify reports call or signaling state changes since the last report.
func (c *Controller) notify() {
	call := c.callState()
	signaling := negotiation.Stable
	if c.sess != nil {
		signaling = c.sess.State
	}
	if call == c.notified.call && signaling == c.notified.signaling {
		return
	}
	c.notified.call, c.notified.signaling = call, signaling
	c.opts.Observer.CallStateChanged(call, signaling)
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		Room:          c.opts.Room,
		Self:          c.opts.Self,
		Call:          c.callState(),
		Signaling:     negotiation.Stable,
		RemoteStreams: len(c.rendered),
	}
	for _, st := range c.rendered {
		snap.RemoteTracks += len(st.Tracks)
	}
	if s := c.sess; s != nil {
		snap.Peer = s.Remote
		snap.Role = s.Role
		snap.Signaling = s.State
		snap.LocalTracks = len(s.Tracks)
		snap.PendingCandidates = len(s.PendingCandidates)
	}
	return snap
}

func sameTracks(a, b media.Stream) bool {
	if len(a.Tracks) != len(b.Tracks) {
		return false
	}
	for _, t := range b.Tracks {
		if !a.Has(t.ID) {
			return false
		}
	}
	return true
}
