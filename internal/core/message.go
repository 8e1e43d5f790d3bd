package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Airwave/internal/domain"
)

// Kind is the envelope "type" field.
type Kind string

// Inbound kinds.
const (
	KindStartBroadcast  Kind = "start_broadcast"
	KindStopBroadcast   Kind = "stop_broadcast"
	KindViewerJoined    Kind = "viewer_joined"
	KindViewerLeft      Kind = "viewer_left"
	KindOffer           Kind = "offer"
	KindAnswer          Kind = "answer"
	KindICECandidate    Kind = "ice-candidate"
	KindGetBroadcasters Kind = "get_broadcasters"
	KindPing            Kind = "ping"
)

// Produced-only kinds. Relayed offer/answer/ice-candidate reuse the inbound kind.
const (
	KindBroadcastStarted  Kind = "broadcast_started"
	KindBroadcastStopped  Kind = "broadcast_stopped"
	KindBroadcastersList  Kind = "broadcasters_list"
	KindViewerCountUpdate Kind = "viewer_count_update"
	KindUsernameChanged   Kind = "username_changed"
	KindPong              Kind = "pong"
)

// Handler has one method per inbound kind. Every Inbound dispatches to
// exactly one of them, so a new kind cannot be added without a handler.
type Handler interface {
	OnStartBroadcast(from domain.Identity, m StartBroadcast)
	OnStopBroadcast(from domain.Identity, m StopBroadcast)
	OnViewerJoined(from domain.Identity, m ViewerJoined)
	OnViewerLeft(from domain.Identity, m ViewerLeft)
	OnRelay(from domain.Identity, m Relay)
	OnGetBroadcasters(from domain.Identity, m GetBroadcasters)
	OnPing(from domain.Identity, m Ping)
}

// Inbound is a decoded client message. The set of implementations is closed.
type Inbound interface {
	Kind() Kind
	Dispatch(h Handler, from domain.Identity)
	sealed()
}

type StartBroadcast struct {
	Title string
}

type StopBroadcast struct{}

type ViewerJoined struct {
	Target domain.Identity
}

type ViewerLeft struct {
	Target domain.Identity
}

// Relay is an offer, answer or ice-candidate addressed to one peer.
// Payload is forwarded verbatim.
type Relay struct {
	Type    Kind
	Target  domain.Identity
	Payload json.RawMessage
}

type GetBroadcasters struct{}

type Ping struct{}

func (StartBroadcast) Kind() Kind  { return KindStartBroadcast }
func (StopBroadcast) Kind() Kind   { return KindStopBroadcast }
func (ViewerJoined) Kind() Kind    { return KindViewerJoined }
func (ViewerLeft) Kind() Kind      { return KindViewerLeft }
func (m Relay) Kind() Kind         { return m.Type }
func (GetBroadcasters) Kind() Kind { return KindGetBroadcasters }
func (Ping) Kind() Kind            { return KindPing }

func (m StartBroadcast) Dispatch(h Handler, from domain.Identity)  { h.OnStartBroadcast(from, m) }
func (m StopBroadcast) Dispatch(h Handler, from domain.Identity)   { h.OnStopBroadcast(from, m) }
func (m ViewerJoined) Dispatch(h Handler, from domain.Identity)    { h.OnViewerJoined(from, m) }
func (m ViewerLeft) Dispatch(h Handler, from domain.Identity)      { h.OnViewerLeft(from, m) }
func (m Relay) Dispatch(h Handler, from domain.Identity)           { h.OnRelay(from, m) }
func (m GetBroadcasters) Dispatch(h Handler, from domain.Identity) { h.OnGetBroadcasters(from, m) }
func (m Ping) Dispatch(h Handler, from domain.Identity)            { h.OnPing(from, m) }

func (StartBroadcast) sealed()  {}
func (StopBroadcast) sealed()   {}
func (ViewerJoined) sealed()    {}
func (ViewerLeft) sealed()      {}
func (Relay) sealed()           {}
func (GetBroadcasters) sealed() {}
func (Ping) sealed()            {}

// relayFields maps a relayed kind to the name of its payload field.
var relayFields = map[Kind]string{
	KindOffer:        "offer",
	KindAnswer:       "answer",
	KindICECandidate: "candidate",
}

type decodeFunc func(fields map[string]json.RawMessage) (Inbound, error)

var decoders = map[Kind]decodeFunc{
	KindStartBroadcast: func(f map[string]json.RawMessage) (Inbound, error) {
		var title string
		if raw, ok := f["title"]; ok && !isNull(raw) {
			if err := json.Unmarshal(raw, &title); err != nil {
				return nil, fmt.Errorf("title: %w", err)
			}
		}
		return StartBroadcast{Title: domain.NormalizeTitle(title)}, nil
	},
	KindStopBroadcast: func(map[string]json.RawMessage) (Inbound, error) { return StopBroadcast{}, nil },
	KindViewerJoined: func(f map[string]json.RawMessage) (Inbound, error) {
		target, err := decodeTarget(f)
		if err != nil {
			return nil, err
		}
		return ViewerJoined{Target: target}, nil
	},
	KindViewerLeft: func(f map[string]json.RawMessage) (Inbound, error) {
		target, err := decodeTarget(f)
		if err != nil {
			return nil, err
		}
		return ViewerLeft{Target: target}, nil
	},
	KindOffer:           decodeRelay(KindOffer, validateDescription),
	KindAnswer:          decodeRelay(KindAnswer, validateDescription),
	KindICECandidate:    decodeRelay(KindICECandidate, validateCandidate),
	KindGetBroadcasters: func(map[string]json.RawMessage) (Inbound, error) { return GetBroadcasters{}, nil },
	KindPing:            func(map[string]json.RawMessage) (Inbound, error) { return Ping{}, nil },
}

// Parse decodes one inbound envelope. Every failure wraps domain.ErrMalformedMessage.
func Parse(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, err)
	}
	var kind Kind
	if err := json.Unmarshal(fields["type"], &kind); err != nil {
		return nil, fmt.Errorf("%w: type: %w", domain.ErrMalformedMessage, err)
	}
	decode, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedMessage, kind)
	}
	msg, err := decode(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrMalformedMessage, kind, err)
	}
	return msg, nil
}

func decodeTarget(f map[string]json.RawMessage) (domain.Identity, error) {
	raw, ok := f["target"]
	if !ok || isNull(raw) {
		return "", errors.New("missing target")
	}
	var target string
	if err := json.Unmarshal(raw, &target); err != nil {
		return "", fmt.Errorf("target: %w", err)
	}
	return domain.NewIdentity(target)
}

func decodeRelay(kind Kind, validate func(json.RawMessage) error) decodeFunc {
	field := relayFields[kind]
	return func(f map[string]json.RawMessage) (Inbound, error) {
		target, err := decodeTarget(f)
		if err != nil {
			return nil, err
		}
		payload, ok := f[field]
		if !ok || !isObject(payload) {
			return nil, fmt.Errorf("missing %s object", field)
		}
		if err := validate(payload); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return Relay{Type: kind, Target: target, Payload: payload}, nil
	}
}

func validateDescription(raw json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return err
	}
	if desc.SDP == "" {
		return errors.New("empty sdp")
	}
	return nil
}

func validateCandidate(raw json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	return json.Unmarshal(raw, &cand)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{"))
}
