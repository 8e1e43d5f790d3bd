package domain

import (
	"strings"
	"time"
)

const (
	MaxTitleLen  = 100
	DefaultTitle = "Untitled Stream"
)

type SessionID string

// Session is one broadcast's lifecycle record.
type Session struct {
	ID          SessionID  `json:"id"`
	Owner       Identity   `json:"broadcaster"`
	Title       string     `json:"title"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	Active      bool       `json:"is_active"`
	ViewerCount int        `json:"viewer_count"`
}

// SessionUpdate carries the fields to change; nil fields are left untouched.
type SessionUpdate struct {
	Owner       *Identity
	EndedAt     *time.Time
	Active      *bool
	ViewerCount *int
}

// Apply writes the set fields of u onto s.
func (u SessionUpdate) Apply(s *Session) {
	if u.Owner != nil {
		s.Owner = *u.Owner
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		s.EndedAt = &t
	}
	if u.Active != nil {
		s.Active = *u.Active
	}
	if u.ViewerCount != nil {
		s.ViewerCount = *u.ViewerCount
	}
}

type SessionFilter int

const (
	FilterActive SessionFilter = iota
	FilterEnded
)

func (f SessionFilter) String() string {
	if f == FilterEnded {
		return "ended"
	}
	return "active"
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Page is skip/limit pagination as used by the listing endpoints.
type Page struct {
	Skip  int
	Limit int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// NormalizeTitle applies the default and length cap to a broadcast title.
func NormalizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if title == "" {
		return DefaultTitle
	}
	if r := []rune(title); len(r) > MaxTitleLen {
		title = string(r[:MaxTitleLen])
	}
	return title
}
