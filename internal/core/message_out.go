package core

import (
	"encoding/json"

	"github.com/dkeye/Airwave/internal/domain"
)

type BroadcastStarted struct {
	Type        Kind             `json:"type"`
	Broadcaster domain.Identity  `json:"broadcaster"`
	StreamID    domain.SessionID `json:"stream_id"`
	Title       string           `json:"title"`
}

func NewBroadcastStarted(s domain.Session) BroadcastStarted {
	return BroadcastStarted{Type: KindBroadcastStarted, Broadcaster: s.Owner, StreamID: s.ID, Title: s.Title}
}

type BroadcastStopped struct {
	Type        Kind            `json:"type"`
	Broadcaster domain.Identity `json:"broadcaster"`
}

func NewBroadcastStopped(who domain.Identity) BroadcastStopped {
	return BroadcastStopped{Type: KindBroadcastStopped, Broadcaster: who}
}

type BroadcastersList struct {
	Type         Kind              `json:"type"`
	Broadcasters []domain.Identity `json:"broadcasters"`
}

func NewBroadcastersList(ids []domain.Identity) BroadcastersList {
	if ids == nil {
		ids = []domain.Identity{}
	}
	return BroadcastersList{Type: KindBroadcastersList, Broadcasters: ids}
}

type ViewerCountUpdate struct {
	Type        Kind            `json:"type"`
	Broadcaster domain.Identity `json:"broadcaster"`
	Count       int             `json:"count"`
}

func NewViewerCountUpdate(who domain.Identity, count int) ViewerCountUpdate {
	return ViewerCountUpdate{Type: KindViewerCountUpdate, Broadcaster: who, Count: count}
}

type UsernameChanged struct {
	Type        Kind            `json:"type"`
	OldUsername domain.Identity `json:"old_username"`
	NewUsername domain.Identity `json:"new_username"`
}

func NewUsernameChanged(oldName, newName domain.Identity) UsernameChanged {
	return UsernameChanged{Type: KindUsernameChanged, OldUsername: oldName, NewUsername: newName}
}

type Pong struct {
	Type Kind `json:"type"`
}

func NewPong() Pong { return Pong{Type: KindPong} }

// RelayedSignal is an offer/answer/ice-candidate tagged with its sender.
type RelayedSignal struct {
	Type    Kind
	Payload json.RawMessage
	From    domain.Identity
}

func NewRelayedSignal(m Relay, from domain.Identity) RelayedSignal {
	return RelayedSignal{Type: m.Type, Payload: m.Payload, From: from}
}

func (r RelayedSignal) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":              r.Type,
		relayFields[r.Type]: r.Payload,
		"from":              r.From,
	})
}

// Encode marshals an outbound message into a frame.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
