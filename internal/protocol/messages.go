// Package protocol defines the JSON messages exchanged over a game socket.
//
// Client -> Server
//
//	NEW:     {}                                        create a game and join it
//	JOIN:    gameId                                    join (or create) a game by id
//	UPDATE:  entries: [[group, key, value|null]], full (ignored)
//	AUTH:    password
//	OPTIONS: group, optionName, optionValue
//
// Server -> Client
//
//	JOINED:  gameId, playerId, isFirst, secret (creator only)
//	UPDATE:  entries, full (true for initial sync and corrective resync)
//	AUTHED:  isAuthed
//	OPTIONS: group, optionName, optionValue
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/tablesync/internal/store"
)

var ErrUnknownType = errors.New("unknown message type")
var ErrMalformed = errors.New("malformed message")

const (
	TypeNew     = "NEW"
	TypeJoin    = "JOIN"
	TypeJoined  = "JOINED"
	TypeUpdate  = "UPDATE"
	TypeAuth    = "AUTH"
	TypeAuthed  = "AUTHED"
	TypeOptions = "OPTIONS"
)

type ClientMessage interface{ isClientMsg() }

type New struct{}

type Join struct {
	GameID string `json:"gameId"`
}

type Auth struct {
	Password string `json:"password"`
}

func (New) isClientMsg()       {}
func (Join) isClientMsg()      {}
func (Update) isClientMsg()    {}
func (Auth) isClientMsg()      {}
func (SetOption) isClientMsg() {}

type ServerMessage interface{ isServerMsg() }

type Joined struct {
	Type     string `json:"type"`
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	IsFirst  bool   `json:"isFirst"`
	Secret   string `json:"secret,omitempty"`
}

type Authed struct {
	Type     string `json:"type"`
	IsAuthed bool   `json:"isAuthed"`
}

func (Joined) isServerMsg()    {}
func (Update) isServerMsg()    {}
func (Authed) isServerMsg()    {}
func (SetOption) isServerMsg() {}

// Update travels both ways. Full is only meaningful server -> client.
type Update struct {
	Type    string        `json:"type"`
	Entries []store.Entry `json:"entries"`
	Full    bool          `json:"full"`
}

// SetOption is both the client's option change request and the server's
// options-changed notice.
type SetOption struct {
	Type  string `json:"type"`
	Group string `json:"group"`
	Name  string `json:"optionName"`
	Value any    `json:"optionValue"`
}

func NewJoined(gameID, playerID string, isFirst bool, secret string) Joined {
	return Joined{Type: TypeJoined, GameID: gameID, PlayerID: playerID, IsFirst: isFirst, Secret: secret}
}

// NewUpdate never encodes a null entry list.
func NewUpdate(entries []store.Entry, full bool) Update {
	if entries == nil {
		entries = []store.Entry{}
	}
	return Update{Type: TypeUpdate, Entries: entries, Full: full}
}

func NewAuthed(ok bool) Authed {
	return Authed{Type: TypeAuthed, IsAuthed: ok}
}

func NewOptionNotice(group, name string, value any) SetOption {
	return SetOption{Type: TypeOptions, Group: group, Name: name, Value: value}
}

// DecodeClient parses one client frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg ClientMessage
	switch env.Type {
	case TypeNew:
		return New{}, nil
	case TypeJoin:
		var m Join
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.GameID == "" {
			return nil, fmt.Errorf("%w: missing gameId", ErrMalformed)
		}
		msg = m
	case TypeUpdate:
		var m Update
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg = m
	case TypeAuth:
		var m Auth
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg = m
	case TypeOptions:
		var m SetOption
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.Group == "" || m.Name == "" {
			return nil, fmt.Errorf("%w: missing group or optionName", ErrMalformed)
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return msg, nil
}
