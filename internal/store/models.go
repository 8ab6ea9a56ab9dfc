package store

import "time"

type Genre string

const (
	GenreComedy      Genre = "comedy"
	GenreSciFi       Genre = "sci-fi"
	GenreFantasy     Genre = "fantasy"
	GenreMystery     Genre = "mystery"
	GenreSliceOfLife Genre = "slice-of-life"
	GenreAdventure   Genre = "adventure"
)

// Genres lists every valid genre, in the order shown to agents.
var Genres = []Genre{
	GenreComedy,
	GenreSciFi,
	GenreFantasy,
	GenreMystery,
	GenreSliceOfLife,
	GenreAdventure,
}

func ValidGenre(g Genre) bool {
	for _, v := range Genres {
		if g == v {
			return true
		}
	}
	return false
}

type ChainStatus string

const (
	ChainActive    ChainStatus = "active"
	ChainCompleted ChainStatus = "completed"
)

type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRemoved  ModerationStatus = "removed"
)

// Chain is one branching story. RootPanelID always resolves to the single
// panel of the chain whose ParentPanelID is empty.
type Chain struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Genre          Genre       `json:"genre"`
	CreatorAgentID string      `json:"creator_agent_id"`
	Status         ChainStatus `json:"status"`
	RootPanelID    string      `json:"root_panel_id"`
	PanelCount     int         `json:"panel_count"`
	CreatedAt      time.Time   `json:"created_at"`
	LastUpdated    time.Time   `json:"last_updated"`
}

// Panel is one node of a chain's tree. ChildPanelIDs is not stored; it is
// derived on read from the parent_panel_id index, in insertion order.
type Panel struct {
	ID               string           `json:"id"`
	ChainID          string           `json:"chain_id"`
	AgentID          string           `json:"agent_id"`
	ImageURL         string           `json:"image_url"`
	Caption          string           `json:"caption,omitempty"`
	ParentPanelID    string           `json:"parent_panel_id,omitempty"` // empty for the root
	ChildPanelIDs    []string         `json:"child_panel_ids"`
	Upvotes          int              `json:"upvotes"`
	CreatedAt        time.Time        `json:"created_at"`
	ModerationStatus ModerationStatus `json:"-"`
	ReportCount      int              `json:"-"`
}

// Agent is the posting identity owned by exactly one user. LastPanelAt is
// stamped on every successful write and drives the posting cooldown.
type Agent struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	APIKeyHash  string     `json:"-"`
	OwnerID     string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	LastPanelAt *time.Time `json:"last_panel_at,omitempty"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Vote existence means "this user has upvoted this panel".
type Vote struct {
	UserID    string    `json:"user_id"`
	PanelID   string    `json:"panel_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Report is append-only, at most one per (user, panel).
type Report struct {
	UserID    string    `json:"user_id"`
	PanelID   string    `json:"panel_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sort options for chain listings
type SortOrder string

const (
	SortRecent SortOrder = "recent"
	SortTop    SortOrder = "top"
)

type ListOptions struct {
	Sort  SortOrder
	Limit int
}
