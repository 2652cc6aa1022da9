package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tablesync/internal/hub"
	"github.com/DoyleJ11/tablesync/internal/protocol"
	"github.com/DoyleJ11/tablesync/internal/session"
)

var errHandshake = errors.New("expected NEW or JOIN")
var errNoSession = errors.New("no session")

type Config struct {
	// HandshakeTimeout bounds the wait for the first NEW/JOIN frame.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval paces websocket pings; each pong counts as a liveness
	// acknowledgement for the participant.
	PingInterval time.Duration
	// OutboxSize is how many messages may queue for a connection beyond
	// the join burst before it is dropped as a slow consumer.
	OutboxSize     int
	ReadLimit      int64
	OriginPatterns []string
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     3 * time.Second,
		PingInterval:     5 * time.Second,
		OutboxSize:       64,
		ReadLimit:        1 << 20,
	}
}

func Handler(h *hub.Hub, cfg Config, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: cfg.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		if cfg.ReadLimit > 0 {
			conn.SetReadLimit(cfg.ReadLimit)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		s, res, err := handshake(ctx, conn, h, cfg)
		if err != nil {
			log.Debug("handshake failed", zap.Error(err))
			conn.Close(websocket.StatusPolicyViolation, "handshake failed")
			return
		}
		defer s.Leave(res.PlayerID)

		plog := log.With(zap.String("game", s.Code()), zap.String("player", res.PlayerID))
		plog.Debug("connection joined")

		// Writer goroutine
		go func() {
			defer cancel()
			for msg := range res.Outbox {
				payload, err := json.Marshal(msg)
				if err != nil {
					plog.Error("encode failed", zap.Error(err))
					continue
				}
				wctx, wcancel := context.WithTimeout(ctx, cfg.WriteTimeout)
				err = conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					plog.Debug("write failed", zap.Error(err))
					return
				}
			}
			// Outbox closed: the session dropped us.
			conn.Close(websocket.StatusGoingAway, "removed from game")
		}()

		// Pinger goroutine
		go func() {
			defer cancel()
			ticker := time.NewTicker(cfg.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pctx, pcancel := context.WithTimeout(ctx, cfg.PingInterval)
					err := conn.Ping(pctx)
					pcancel()
					if err != nil {
						plog.Debug("ping failed", zap.Error(err))
						return
					}
					s.Touch(res.PlayerID)
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					plog.Debug("connection closed")
				default:
					plog.Debug("read failed", zap.Error(err))
				}
				return // s.Leave in defer
			}

			msg, err := protocol.DecodeClient(data)
			if err != nil {
				plog.Debug("dropping message", zap.Error(err))
				continue
			}
			switch msg.(type) {
			case protocol.New, protocol.Join:
				plog.Debug("dropping handshake message on joined connection")
				continue
			}
			if err := s.Deliver(ctx, res.PlayerID, msg); err != nil {
				return
			}
		}
	}
}

// handshake reads the first frame and joins the requested session. It does
// not touch any store unless the join succeeds.
func handshake(ctx context.Context, conn *websocket.Conn, h *hub.Hub, cfg Config) (*session.Session, session.JoinResult, error) {
	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	_, data, err := conn.Read(hctx)
	if err != nil {
		return nil, session.JoinResult{}, err
	}
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		return nil, session.JoinResult{}, err
	}

	var lookup func() (*session.Session, error)
	switch m := msg.(type) {
	case protocol.New:
		lookup = func() (*session.Session, error) { return h.Create(hctx) }
	case protocol.Join:
		lookup = func() (*session.Session, error) { return h.Ensure(hctx, m.GameID) }
	default:
		return nil, session.JoinResult{}, errHandshake
	}

	// A session can be evicted between lookup and join; the second lookup
	// then sees it gone and creates a fresh one.
	for attempt := 0; ; attempt++ {
		s, err := lookup()
		if err != nil {
			return nil, session.JoinResult{}, err
		}
		if s == nil {
			return nil, session.JoinResult{}, errNoSession
		}
		res, err := s.Join(hctx, cfg.OutboxSize)
		if errors.Is(err, session.ErrSessionClosed) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, session.JoinResult{}, err
		}
		return s, res, nil
	}
}
