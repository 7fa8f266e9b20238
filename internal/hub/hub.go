package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendQueue  int
	Policy     Policy
	Limiter    *RateLimiter
}

type Hub struct {
	Registry *Registry
	opts     Options
}

func New(opts Options) *Hub {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.Policy == nil {
		opts.Policy = SimplePolicy{Action: KickConn}
	}
	return &Hub{Registry: NewRegistry(), opts: opts}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades an authenticated request. The party must already be set
// on the gin context under "party".
func (h *Hub) HandleWS(ctx context.Context, c *gin.Context) {
	party := domain.PartyID(c.GetString("party"))
	log.Info().Str("module", "hub").Str("party", string(party)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(h.opts.ReadLimit)

	conn := newWsConn(ws, h.opts.SendQueue)
	ctx, cancel := context.WithCancel(ctx)
	client := &Client{
		ID:     uuid.NewString(),
		Party:  party,
		Conn:   conn,
		Cancel: cancel,
	}
	h.Registry.Bind(client)
	h.send(client, Frame{Op: OpWelcome, From: string(party)})

	go h.writePump(ctx, conn)
	go h.readPump(ctx, client, conn)
}

func (h *Hub) writePump(ctx context.Context, c *WsConn) {
	ticker := time.NewTicker(h.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "hub").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "hub").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "hub").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, client *Client, c *WsConn) {
	defer func() {
		log.Info().Str("module", "hub").Str("conn", client.ID).Msg("readPump closing")
		client.Cancel()
		c.Close()
		if party, left := h.Registry.Unbind(client.ID); left == 0 {
			h.opts.Limiter.Forget(party)
		}
	}()

	pongWait := h.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "hub").Str("conn", client.ID).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			h.handleFrame(client, data)
		}
	}
}

func (h *Hub) handleFrame(client *Client, data []byte) {
	f, err := Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("conn", client.ID).Msg("bad frame")
		h.send(client, Frame{Op: OpError, Error: "bad frame"})
		return
	}

	switch f.Op {
	case OpSubscribe:
		if f.Channel == "" || f.Event == "" {
			h.send(client, Frame{Op: OpError, Error: "subscribe needs channel and event"})
			return
		}
		h.Registry.Subscribe(client.ID, f.Channel, f.Event)
		h.send(client, Frame{Op: OpSubscribed, Channel: f.Channel, Event: f.Event})
	case OpUnsubscribe:
		h.Registry.Unsubscribe(client.ID, f.Channel, f.Event)
	case OpPublish:
		if !h.opts.Limiter.Allow(client.Party) {
			log.Warn().Str("module", "hub").Str("party", string(client.Party)).Msg("publish rate limited")
			h.send(client, Frame{Op: OpError, Channel: f.Channel, Error: "rate limited"})
			return
		}
		if !senderMatches(client.Party, f.Payload) {
			log.Warn().Str("module", "hub").Str("party", string(client.Party)).Str("channel", f.Channel).Msg("publish with forged sender rejected")
			h.send(client, Frame{Op: OpError, Channel: f.Channel, Error: "sender mismatch"})
			return
		}
		h.Broadcast(client.Party, f)
	case OpPing:
		h.send(client, Frame{Op: OpPong})
	default:
		log.Warn().Str("module", "hub").Str("op", f.Op).Msg("unknown op")
		h.send(client, Frame{Op: OpError, Error: "unknown op"})
	}
}

// Broadcast delivers a publish frame to every subscriber of its channel,
// stamped with the sender. It returns the number of connections reached.
func (h *Hub) Broadcast(from domain.PartyID, f Frame) int {
	out := Frame{
		Op:      OpMessage,
		Channel: f.Channel,
		Event:   f.Event,
		Payload: f.Payload,
		From:    string(from),
	}
	data, err := Encode(out)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("encode frame")
		return 0
	}

	delivered := 0
	for _, member := range h.Registry.Members(f.Channel, f.Event) {
		if err := member.Conn.TrySend(data); err != nil {
			h.onSendError(f.Channel, member, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) send(client *Client, f Frame) {
	data, err := Encode(f)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("encode frame")
		return
	}
	if err := client.Conn.TrySend(data); err != nil {
		h.onSendError(f.Channel, client, err)
	}
}

func (h *Hub) onSendError(channel string, client *Client, err error) {
	if !errors.Is(err, ErrBackpressure) {
		return
	}
	switch h.opts.Policy.OnBackPressure(channel, client) {
	case KickConn:
		log.Warn().Str("module", "hub").Str("conn", client.ID).Str("party", string(client.Party)).Msg("slow connection kicked")
		h.Registry.Cancel(client.ID)
		client.Conn.Close()
	case DropFrame:
		log.Warn().Str("module", "hub").Str("conn", client.ID).Str("channel", channel).Msg("frame dropped")
	}
}
