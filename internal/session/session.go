// Package session hosts one game's replicated entry store and the
// participants connected to it.
//
// Every session runs a single goroutine that owns its store and roster;
// joins, leaves, client messages and liveness checks are applied one at a
// time in arrival order. Senders are never echoed their own accepted
// writes: they already applied them locally, so only peers receive the
// delta. A sender whose write was rejected instead receives a full
// snapshot that replaces whatever it applied speculatively.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tablesync/internal/observability"
	"github.com/DoyleJ11/tablesync/internal/protocol"
	"github.com/DoyleJ11/tablesync/internal/store"
)

var ErrSessionClosed = errors.New("session closed")
var ErrWriteProtected = errors.New("group is write protected")
var ErrNotParticipant = errors.New("perPlayer key is not a joined participant")

// OptionWriteProtected, when true on a group, rejects writes to that group
// from participants that have not authenticated.
const OptionWriteProtected = "writeProtected"

type Msg interface{ isSessionMsg() }

// Join registers a participant. The session allocates the outbox: the join
// burst plus Headroom further messages.
type Join struct {
	Headroom int
	Reply    chan JoinResult
}

type Leave struct{ PlayerID string }

type FromClient struct {
	PlayerID string
	Msg      protocol.ClientMessage
}

// Heartbeat is a liveness acknowledgement from the transport.
type Heartbeat struct{ PlayerID string }

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (Join) isSessionMsg()       {}
func (Leave) isSessionMsg()      {}
func (FromClient) isSessionMsg() {}
func (Heartbeat) isSessionMsg()  {}
func (GetState) isSessionMsg()   {}
func (Shutdown) isSessionMsg()   {}

type JoinResult struct {
	PlayerID string
	IsFirst  bool
	// Outbox is closed by the session when the participant is removed.
	Outbox <-chan protocol.ServerMessage
}

type View struct {
	Code       string                    `json:"code"`
	NumClients int                       `json:"numClients"`
	Entries    []store.Entry             `json:"entries"`
	Options    map[string]map[string]any `json:"options"`
}

type Session struct {
	code       string
	inbox      chan Msg
	store      *store.Store
	roster     *roster
	secret     string
	options    map[string]map[string]any
	dropped    []string // slow consumers waiting to be removed
	everJoined bool
	createdAt  time.Time
	closed     bool
	cfg        Config
	log        *zap.Logger
	onEvict    func(*Session)
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewSession starts the session goroutine. onEvict runs on the session
// goroutine once the last participant has left; it must not block.
func NewSession(parent context.Context, code string, cfg Config, log *zap.Logger, onEvict func(*Session)) *Session {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{
		code:      code,
		inbox:     make(chan Msg, 64),
		store:     store.New(),
		roster:    newRoster(),
		options:   map[string]map[string]any{},
		createdAt: time.Now(),
		cfg:       cfg.withDefaults(),
		log:       log.With(zap.String("game", code)),
		onEvict:   onEvict,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}

	observability.SessionOpened()
	go s.loop()
	return s
}

func (s *Session) Code() string { return s.code }

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Inbox accepts raw session messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Join registers a new participant. Its outbox always fits the JOINED
// message, the initial snapshot and one notice per set option; headroom
// is how many more messages may queue before it counts as a slow consumer.
func (s *Session) Join(ctx context.Context, headroom int) (JoinResult, error) {
	reply := make(chan JoinResult, 1)
	if err := s.send(ctx, Join{Headroom: headroom, Reply: reply}); err != nil {
		return JoinResult{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-s.ctx.Done():
		select {
		case r := <-reply:
			return r, nil
		default:
			return JoinResult{}, ErrSessionClosed
		}
	case <-ctx.Done():
		// The join may still land; nobody will read that outbox.
		go func() {
			select {
			case r := <-reply:
				s.Leave(r.PlayerID)
			case <-s.ctx.Done():
			}
		}()
		return JoinResult{}, ctx.Err()
	}
}

func (s *Session) Leave(playerID string) {
	_ = s.send(context.Background(), Leave{PlayerID: playerID})
}

func (s *Session) Deliver(ctx context.Context, playerID string, msg protocol.ClientMessage) error {
	return s.send(ctx, FromClient{PlayerID: playerID, Msg: msg})
}

func (s *Session) Touch(playerID string) {
	_ = s.send(context.Background(), Heartbeat{PlayerID: playerID})
}

func (s *Session) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.ctx.Done():
		return View{}, ErrSessionClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (s *Session) Shutdown() {
	_ = s.send(context.Background(), Shutdown{})
}

func (s *Session) send(ctx context.Context, m Msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) loop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer observability.SessionClosed()

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-ticker.C:
			s.reap()

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.join(msg)

			case Leave:
				s.leave(msg.PlayerID, "leave")

			case Heartbeat:
				if p, ok := s.roster.get(msg.PlayerID); ok {
					p.lastSeen = s.now()
				}

			case FromClient:
				s.onMessage(msg.PlayerID, msg.Msg)

			case GetState:
				// consistent read of the loop-owned state
				msg.Reply <- s.view()

			case Shutdown:
				s.shutdown()
			}
		}

		s.dropSlow()
		if s.closed {
			return
		}
	}
}

func (s *Session) join(msg Join) {
	notices := s.optionNotices()
	outbox := make(chan protocol.ServerMessage, 2+len(notices)+max(msg.Headroom, 0))
	p := &participant{
		id:       uuid.NewString(),
		isFirst:  s.roster.len() == 0,
		lastSeen: s.now(),
		outbox:   outbox,
	}
	secret := ""
	if p.isFirst {
		if s.secret == "" {
			s.secret = uuid.NewString()
		}
		secret = s.secret
		p.isAuthed = true
	}

	s.roster.add(p)
	s.everJoined = true
	observability.ParticipantJoined()
	s.log.Info("participant joined", zap.String("player", p.id), zap.Bool("first", p.isFirst))

	s.send1(p, protocol.NewJoined(s.code, p.id, p.isFirst, secret))
	s.send1(p, protocol.NewUpdate(s.store.Snapshot(), true))
	for _, notice := range notices {
		s.send1(p, notice)
	}

	msg.Reply <- JoinResult{PlayerID: p.id, IsFirst: p.isFirst, Outbox: outbox}
}

func (s *Session) leave(id, reason string) {
	p, ok := s.roster.remove(id)
	if !ok {
		return
	}
	close(p.outbox) // the transport closes the connection
	observability.ParticipantLeft(reason)
	s.log.Info("participant left", zap.String("player", id), zap.String("reason", reason))

	for _, group := range s.store.Constraints().PerPlayerGroups() {
		if _, live := s.store.Get(group, id); !live {
			continue
		}
		tomb := store.Entry{Group: group, Key: id}
		_ = s.store.Apply(tomb)
		s.broadcast(protocol.NewUpdate([]store.Entry{tomb}, false), "")
	}

	if s.roster.len() == 0 {
		s.evict()
	}
}

func (s *Session) onMessage(id string, cm protocol.ClientMessage) {
	p, ok := s.roster.get(id)
	if !ok {
		// Already removed; late frames from its reader are dropped.
		return
	}
	p.lastSeen = s.now()

	switch m := cm.(type) {
	case protocol.Update:
		s.update(p, m.Entries)
	case protocol.Auth:
		s.auth(p, m.Password)
	case protocol.SetOption:
		s.setOption(p, m)
	default:
		s.log.Debug("dropping unexpected message", zap.String("player", id))
	}
}

func (s *Session) update(p *participant, entries []store.Entry) {
	accepted, rejected := s.store.ApplyBatch(entries, s.writeGuard(p), s.playerGuard)
	observability.RecordEntries(len(accepted), len(entries)-len(accepted))
	swept := s.sweepPerPlayer(accepted)

	if rejected {
		// The sender applied the batch optimistically; overwrite it with the
		// authoritative state. Peers never saw the rejected entries.
		observability.RecordResync()
		s.log.Debug("write rejected, resyncing sender",
			zap.String("player", p.id), zap.Int("accepted", len(accepted)), zap.Int("entries", len(entries)))
		s.send1(p, protocol.NewUpdate(s.store.Snapshot(), true))
		if len(swept) > 0 {
			s.broadcast(protocol.NewUpdate(swept, false), p.id)
		}
		return
	}
	if len(accepted) > 0 {
		s.broadcast(protocol.NewUpdate(accepted, false), p.id)
	}
	if len(swept) > 0 {
		s.broadcast(protocol.NewUpdate(swept, false), "")
	}
}

// playerGuard keeps the keys of perPlayer groups within the roster.
func (s *Session) playerGuard(e store.Entry) error {
	if e.IsTombstone() || !s.store.Constraints().IsPerPlayer(e.Group) {
		return nil
	}
	if _, ok := s.roster.get(e.Key); !ok {
		return ErrNotParticipant
	}
	return nil
}

// sweepPerPlayer tombstones keys of newly declared perPlayer groups that
// belong to nobody in the roster.
func (s *Session) sweepPerPlayer(accepted []store.Entry) []store.Entry {
	var swept []store.Entry
	for _, e := range accepted {
		if e.Group != store.GroupPerPlayer || !s.store.Constraints().IsPerPlayer(e.Key) {
			continue
		}
		for _, key := range s.store.Keys(e.Key) {
			if _, ok := s.roster.get(key); ok {
				continue
			}
			tomb := store.Entry{Group: e.Key, Key: key}
			_ = s.store.Apply(tomb)
			swept = append(swept, tomb)
		}
	}
	return swept
}

func (s *Session) writeGuard(p *participant) store.Check {
	return func(e store.Entry) error {
		if !p.isAuthed && s.option(e.Group, OptionWriteProtected) == true {
			return ErrWriteProtected
		}
		return nil
	}
}

func (s *Session) auth(p *participant, password string) {
	ok := s.secret != "" && subtle.ConstantTimeCompare([]byte(password), []byte(s.secret)) == 1
	if ok {
		p.isAuthed = true
	}
	s.log.Debug("auth attempt", zap.String("player", p.id), zap.Bool("ok", ok))
	s.send1(p, protocol.NewAuthed(ok))
}

func (s *Session) setOption(p *participant, m protocol.SetOption) {
	if !p.isAuthed {
		s.log.Debug("dropping option change from unauthenticated participant",
			zap.String("player", p.id), zap.String("group", m.Group))
		return
	}

	if m.Value == nil {
		delete(s.options[m.Group], m.Name)
		if len(s.options[m.Group]) == 0 {
			delete(s.options, m.Group)
		}
	} else {
		if s.options[m.Group] == nil {
			s.options[m.Group] = map[string]any{}
		}
		s.options[m.Group][m.Name] = m.Value
	}
	s.broadcast(protocol.NewOptionNotice(m.Group, m.Name, m.Value), "")
}

func (s *Session) option(group, name string) any {
	return s.options[group][name]
}

// optionNotices lists every set option, sorted by group then name.
func (s *Session) optionNotices() []protocol.ServerMessage {
	groups := make([]string, 0, len(s.options))
	for g := range s.options {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var out []protocol.ServerMessage
	for _, g := range groups {
		names := make([]string, 0, len(s.options[g]))
		for n := range s.options[g] {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, protocol.NewOptionNotice(g, n, s.options[g][n]))
		}
	}
	return out
}

// reap removes participants whose transport stopped acknowledging, and
// sessions nobody ever joined.
func (s *Session) reap() {
	now := s.now()
	for _, id := range s.roster.stale(now, s.cfg.DeadAfter) {
		s.leave(id, "timeout")
	}
	if !s.everJoined && !s.closed && now.Sub(s.createdAt) > s.cfg.DeadAfter {
		s.log.Info("evicting unused session")
		s.evict()
	}
}

func (s *Session) broadcast(msg protocol.ServerMessage, except string) {
	for _, p := range s.roster.list() {
		if p.id == except {
			continue
		}
		s.send1(p, msg)
	}
}

// send1 delivers to one participant; a full outbox marks it for removal.
func (s *Session) send1(p *participant, msg protocol.ServerMessage) {
	if !deliver(p, msg) {
		s.dropped = append(s.dropped, p.id)
	}
}

// dropSlow removes slow consumers through the normal leave path. Leaving
// can broadcast and mark more consumers, so loop until none remain.
func (s *Session) dropSlow() {
	for len(s.dropped) > 0 {
		id := s.dropped[0]
		s.dropped = s.dropped[1:]
		s.leave(id, "slow")
	}
}

func (s *Session) evict() {
	if s.closed {
		return
	}
	s.closed = true
	s.log.Info("session evicted")
	if s.onEvict != nil {
		s.onEvict(s)
	}
	s.cancel()
}

func (s *Session) shutdown() {
	for _, p := range s.roster.list() {
		s.roster.remove(p.id)
		close(p.outbox)
		observability.ParticipantLeft("shutdown")
	}
	s.dropped = nil
	s.closed = true
	s.cancel()
}

func (s *Session) view() View {
	opts := make(map[string]map[string]any, len(s.options))
	for g, names := range s.options {
		opts[g] = make(map[string]any, len(names))
		for n, v := range names {
			opts[g][n] = v
		}
	}
	return View{
		Code:       s.code,
		NumClients: s.roster.len(),
		Entries:    s.store.Snapshot(),
		Options:    opts,
	}
}
