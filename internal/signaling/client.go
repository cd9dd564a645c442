package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/pairtalk/internal/protocol"
	"github.com/1ureka/pairtalk/internal/util"
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("signaling client closed")

// Handler consumes messages received from the relay.
type Handler interface {
	Deliver(msg protocol.Message)
}

// Client is one participant's connection to a relay room.
type Client struct {
	ws   *websocket.Conn
	id   string
	room string
	seq  *protocol.SeqGen

	out  chan []byte
	done chan struct{}
	once sync.Once
}

// Dial joins room on the relay at rawURL (ws:// or wss://, path /ws) and
// waits for the relay to assign an identity.
func Dial(ctx context.Context, rawURL, room string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	welcome, err := readWelcome(ctx, ws)
	if err != nil {
		ws.Close()
		return nil, err
	}

	c := &Client{
		ws:   ws,
		id:   welcome.To,
		room: room,
		seq:  protocol.NewSeqGen(),
		out:  make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

func readWelcome(ctx context.Context, ws *websocket.Conn) (*protocol.Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
		defer ws.SetReadDeadline(time.Time{})
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation && ce.Text == closeReasonRoomFull {
			return nil, ErrRoomFull
		}
		return nil, fmt.Errorf("waiting for welcome: %w", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}
	if msg.Type != protocol.TypeWelcome {
		return nil, fmt.Errorf("%w: expected welcome, got %s", protocol.ErrInvalidMessage, msg.Type)
	}
	return msg, nil
}

// ID returns the identity the relay assigned to this participant.
func (c *Client) ID() string { return c.id }

// Room returns the joined room.
func (c *Client) Room() string { return c.room }

// Send stamps msg with this participant's identity, room and next sequence
// number and queues it for the relay.
func (c *Client) Send(ctx context.Context, msg protocol.Message) error {
	msg.From = c.id
	msg.Room = c.room
	msg.Seq = c.seq.Next()

	data, err := protocol.Encode(&msg)
	if err != nil {
		return err
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case data := <-c.out:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				util.LogError("relay write failed: %v", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Watch reads messages and hands them to h until the connection closes or
// ctx is cancelled. Malformed frames and replayed sequence numbers are
// dropped. A clean shutdown returns nil.
func (c *Client) Watch(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	last := make(map[string]uint32)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("relay read failed: %w", err)
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			util.Stats.AddDropped()
			util.LogWarning("room %s: %v", c.room, err)
			continue
		}
		if msg.Seq != 0 && msg.From != "" {
			if msg.Seq <= last[msg.From] {
				util.Stats.AddDropped()
				util.LogDebug("room %s: duplicate seq %d from %s", c.room, msg.Seq, msg.From)
				continue
			}
			last[msg.From] = msg.Seq
		}
		h.Deliver(*msg)
	}
}

// Close leaves the room. Safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.ws.Close()
	})
	return nil
}
