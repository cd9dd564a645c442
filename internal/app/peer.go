package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/pairtalk/internal/config"
	"github.com/1ureka/pairtalk/internal/media"
	"github.com/1ureka/pairtalk/internal/negotiation"
	"github.com/1ureka/pairtalk/internal/session"
	"github.com/1ureka/pairtalk/internal/signaling"
	"github.com/1ureka/pairtalk/internal/util"
	"github.com/1ureka/pairtalk/internal/webrtc"
)

// RunPeer joins every configured room and runs one independent session per
// room until ctx is cancelled or every relay connection is gone. cfg must
// have been validated.
func RunPeer(ctx context.Context, cfg *config.Config) error {
	kinds, err := cfg.MediaKinds()
	if err != nil {
		return err
	}
	peers, err := PeerFactory(cfg)
	if err != nil {
		return err
	}

	env := peerEnv{
		cfg:    cfg,
		kinds:  kinds,
		peers:  peers,
		engine: negotiation.NewEngine(negotiation.EngineConfig{LoggerFactory: util.LoggerFactory{}}),
		source: media.NewSyntheticSource(),
	}

	util.StartStatsReporter(ctx, cfg.Stats.Interval)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, room := range cfg.Peer.Rooms {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			if err := env.runRoom(ctx, room); err != nil {
				util.LogError("room %s: %v", room, err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("room %s: %w", room, err))
				mu.Unlock()
			}
		}(room)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// PeerFactory returns the negotiation.Peer constructor for cfg's backend.
func PeerFactory(cfg *config.Config) (negotiation.PeerFactory, error) {
	switch cfg.Peer.Backend {
	case config.BackendSDP, "":
		return negotiation.SDPPeerFactory, nil
	case config.BackendWebRTC:
		stun := cfg.Peer.STUNServers
		if stun == nil {
			stun = []string{}
		}
		return webrtc.NewFactory(webrtc.Config{
			STUNServers:   stun,
			LoggerFactory: util.LoggerFactory{},
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Peer.Backend)
	}
}

// peerEnv is what every room of one process shares.
type peerEnv struct {
	cfg    *config.Config
	kinds  []media.Kind
	peers  negotiation.PeerFactory
	engine *negotiation.Engine
	source media.Source
}

func (e *peerEnv) runRoom(ctx context.Context, room string) error {
	client, err := signaling.Dial(ctx, e.cfg.Peer.RelayURL, room)
	if err != nil {
		return err
	}
	defer client.Close()
	util.LogSuccess("joined room %s as %s", room, client.ID())

	obs := &roomObserver{ctx: ctx, room: room, autoCall: e.cfg.Peer.AutoCall}
	ctrl, err := session.NewController(ctx, session.Options{
		Room:      room,
		Self:      client.ID(),
		Transport: client,
		Engine:    e.engine,
		Peers:     e.peers,
		Source:    e.source,
		Sink:      media.LogSink{Label: room},
		Observer:  obs,
		Kinds:     e.kinds,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()
	obs.ctrl = ctrl

	err = client.Watch(ctx, ctrl)
	util.LogInfo("left room %s", room)
	return err
}

// roomObserver reports a room's progress on the console and places the call
// when auto-call is on. Callbacks run on the controller goroutine, so
// anything that calls back into the controller is started on its own
// goroutine.
type roomObserver struct {
	ctx      context.Context
	room     string
	autoCall bool
	ctrl     *session.Controller
}

func (o *roomObserver) ReadyToCall(peer string) {
	if !o.autoCall {
		util.LogInfo("room %s: %s is here, waiting for their call", o.room, peer)
		return
	}
	util.LogInfo("room %s: %s is here, calling", o.room, peer)
	go func() {
		err := o.ctrl.PlaceCall(o.ctx)
		switch {
		case err == nil:
		case errors.Is(err, negotiation.ErrInvalidState):
			// A call is already being placed.
			util.LogDebug("room %s: %v", o.room, err)
		default:
			util.LogWarning("room %s: call failed: %v", o.room, err)
		}
	}()
}

func (o *roomObserver) CallStateChanged(call session.CallState, state negotiation.SignalingState) {
	util.LogDebug("room %s: %s (%s)", o.room, call, state)
	switch call {
	case session.InCall:
		go o.status()
	case session.Ended:
		util.LogInfo("room %s: call ended", o.room)
	}
}

func (o *roomObserver) status() {
	snap, err := o.ctrl.Snapshot(o.ctx)
	if err != nil || snap.Call != session.InCall {
		return
	}
	util.LogSuccess("room %s: in call with %s as %s | local %d track(s) | remote %d stream(s), %d track(s)",
		o.room, snap.Peer, snap.Role, snap.LocalTracks, snap.RemoteStreams, snap.RemoteTracks)
}

func (o *roomObserver) LocalTrack(stream media.Stream) {
	util.LogInfo("room %s: capturing %d track(s) on stream %s", o.room, len(stream.Tracks), stream.ID)
}

func (o *roomObserver) Failed(err error) {
	util.LogWarning("room %s: %v", o.room, err)
}
