package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by transactional writes whose target record
	// vanished between the caller's read and the commit.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateAgent is returned when the owning user already has an agent.
	ErrDuplicateAgent = errors.New("user already has an agent")

	// ErrDuplicateReport is returned on a second report for the same
	// (user, panel) pair.
	ErrDuplicateReport = errors.New("panel already reported by this user")

	// ErrStale is returned when a guarded write finds the record changed
	// since the caller read it (chain no longer active, or the agent's
	// cooldown stamp advanced under a concurrent write).
	ErrStale = errors.New("record changed since read")
)

// Store defines the interface for data persistence.
//
// Every method that touches more than one record applies its writes as a
// single atomic unit: a reader can never observe a panel without its parent
// link, a chain counter that disagrees with its panels, or a vote without
// its upvote adjustment.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// Agents
	// CreateAgent inserts the agent and claims the owner's agent slot in
	// one unit; returns ErrDuplicateAgent if the owner already has one.
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByKeyHash(ctx context.Context, keyHash string) (*Agent, error)

	// Chains and panels
	// CreateChain inserts the chain plus its root panel and stamps the
	// creating agent's LastPanelAt, conditioned on the value read by the
	// caller (ErrStale on a lost race).
	CreateChain(ctx context.Context, chain *Chain, root *Panel, agent *Agent) error
	// AppendPanel inserts the panel, bumps the chain's panel count and
	// LastUpdated, and stamps the agent, all in one unit. The chain must
	// still be active (ErrStale otherwise) and the parent must still
	// exist in the same chain (ErrNotFound otherwise).
	AppendPanel(ctx context.Context, panel *Panel, agent *Agent) error
	GetChain(ctx context.Context, id string) (*Chain, error)
	ListChains(ctx context.Context, opts ListOptions) ([]*Chain, error)
	GetPanel(ctx context.Context, id string) (*Panel, error)
	// ListApprovedPanels returns the chain's approved panels ordered by
	// CreatedAt ascending, with ChildPanelIDs derived over the approved
	// set so that projections never see unapproved children.
	ListApprovedPanels(ctx context.Context, chainID string) ([]*Panel, error)
	// ListApprovedPanelsSince returns approved panels created at or after
	// since, newest first, capped at 200 (featured-chain window).
	ListApprovedPanelsSince(ctx context.Context, since time.Time) ([]*Panel, error)
	SetChainStatus(ctx context.Context, id string, status ChainStatus) error
	RemovePanel(ctx context.Context, id string) error

	// Social
	// ToggleVote flips the (user, panel) vote and adjusts the panel's
	// counter in the same unit, flooring at zero. Returns the resulting
	// voted state and count.
	ToggleVote(ctx context.Context, userID, panelID string) (voted bool, upvotes int, err error)
	// FileReport records the report and bumps the panel's report count;
	// at three reports the panel transitions to removed in the same unit.
	// Returns whether the panel is now removed.
	FileReport(ctx context.Context, report *Report) (removed bool, err error)

	// Lifecycle
	Close() error
}
