package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tablesync/internal/session"
)

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

// CreateSession makes a session under a fresh, unused code.
type CreateSession struct {
	Reply chan *session.Session
}

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

// EnsureSession is the atomic get-or-create.
type EnsureSession struct {
	Code  string
	Reply chan *session.Session
}

// RemoveSession drops Code only while it still maps to Session, so a late
// eviction never removes the session that replaced it.
type RemoveSession struct {
	Code    string
	Session *session.Session
}

type CountSessions struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (CountSessions) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	cfg      session.Config
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, cfg session.Config, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		cfg:      cfg,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Create(ctx context.Context) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	return h.request(ctx, CreateSession{Reply: reply}, reply)
}

func (h *Hub) Get(ctx context.Context, code string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	return h.request(ctx, GetSession{Code: code, Reply: reply}, reply)
}

func (h *Hub) Ensure(ctx context.Context, code string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	return h.request(ctx, EnsureSession{Code: code, Reply: reply}, reply)
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, CountSessions{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.ctx.Done():
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Hub) Shutdown() {
	_ = h.send(context.Background(), ShutdownHub{})
}

func (h *Hub) request(ctx context.Context, m HubMsg, reply chan *session.Session) (*session.Session, error) {
	if err := h.send(ctx, m); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		return s, nil // May be nil for GetSession
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			// Sessions run under h.ctx and stop on their own.
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				code, err := h.unusedCode()
				if err != nil {
					h.log.Error("failed to generate game code", zap.Error(err))
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.open(code)

			case GetSession:
				msg.Reply <- h.sessions[msg.Code] // May be nil

			case EnsureSession:
				if s := h.sessions[msg.Code]; s != nil {
					msg.Reply <- s
					break
				}
				msg.Reply <- h.open(msg.Code)

			case RemoveSession:
				if h.sessions[msg.Code] == msg.Session {
					delete(h.sessions, msg.Code)
					h.log.Info("session removed", zap.String("game", msg.Code))
				}

			case CountSessions:
				msg.Reply <- len(h.sessions)

			case ShutdownHub:
				clear(h.sessions)
				h.cancel()
			}
		}
	}
}

func (h *Hub) open(code string) *session.Session {
	s := session.NewSession(h.ctx, code, h.cfg, h.log, h.evicted)
	h.sessions[code] = s
	h.log.Info("session created", zap.String("game", code))
	return s
}

// evicted runs on the evicted session's goroutine. The inbox is buffered and
// the hub loop never waits on a session, so this send does not deadlock.
func (h *Hub) evicted(s *session.Session) {
	select {
	case h.inbox <- RemoveSession{Code: s.Code(), Session: s}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) unusedCode() (string, error) {
	for {
		c, err := GenerateCode()
		if err != nil {
			return "", err
		}
		if h.sessions[c] == nil {
			return c, nil
		}
		h.log.Debug("collision on code, regenerating", zap.String("game", c))
	}
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
