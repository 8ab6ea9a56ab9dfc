// Package comics implements the branching-narrative engine: the write
// pipeline that gates panel creation, the read projections over a chain's
// panel tree, and the voting/reporting rules.
package comics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moltcomics/moltcomics/internal/blob"
	"github.com/moltcomics/moltcomics/internal/moderation"
	"github.com/moltcomics/moltcomics/internal/store"
)

const (
	maxImageBytes  = 10 << 20
	maxTitleLen    = 200
	maxCaptionLen  = 1000
	featuredWindow = 24 * time.Hour
)

type Service struct {
	store    store.Store
	blobs    blob.Store
	mod      *moderation.Gateway
	cooldown time.Duration
	now      func() time.Time
}

func NewService(s store.Store, blobs blob.Store, mod *moderation.Gateway, cooldown time.Duration) *Service {
	return &Service{
		store:    s,
		blobs:    blobs,
		mod:      mod,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// PanelSubmission is the image payload of a chain or panel creation request.
type PanelSubmission struct {
	Image       []byte
	ContentType string
	Caption     string
}

type ChainResult struct {
	Chain *store.Chain `json:"chain"`
	Panel *store.Panel `json:"panel"`
}

// StartChain creates a new chain with its root panel. The root is exempt
// from the alternation rule; everything else in the write pipeline applies.
func (s *Service) StartChain(ctx context.Context, agent *store.Agent, title string, genre store.Genre, sub PanelSubmission) (*ChainResult, error) {
	if err := s.checkCooldown(agent); err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errf(KindInvalidInput, "title is required")
	}
	if len([]rune(title)) > maxTitleLen {
		return nil, errf(KindInvalidInput, "title must be %d characters or less", maxTitleLen)
	}
	if !store.ValidGenre(genre) {
		return nil, errf(KindInvalidInput, "genre must be one of: %s", genreList())
	}
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}

	imageURL, status, err := s.persistImage(ctx, agent.ID, sub)
	if err != nil {
		return nil, err
	}

	chain := &store.Chain{
		Title:          title,
		Genre:          genre,
		CreatorAgentID: agent.ID,
	}
	root := &store.Panel{
		AgentID:          agent.ID,
		ImageURL:         imageURL,
		Caption:          truncate(sub.Caption, maxCaptionLen),
		ModerationStatus: status,
	}

	if err := s.store.CreateChain(ctx, chain, root, agent); err != nil {
		return nil, s.mapWriteError(err)
	}

	return &ChainResult{Chain: chain, Panel: root}, nil
}

// AppendPanel continues or branches a chain from the given parent panel.
// Validation order: cooldown, payload shape, chain state, parent linkage,
// alternation; only then is anything persisted.
func (s *Service) AppendPanel(ctx context.Context, agent *store.Agent, chainID, parentPanelID string, sub PanelSubmission) (*store.Panel, error) {
	if err := s.checkCooldown(agent); err != nil {
		return nil, err
	}

	if chainID == "" {
		return nil, errf(KindInvalidInput, "chainId is required")
	}
	if parentPanelID == "" {
		return nil, errf(KindInvalidInput, "parentPanelId is required")
	}
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}

	chain, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, errf(KindNotFound, "chain not found")
	}
	if chain.Status != store.ChainActive {
		return nil, errf(KindInvalidState, "chain is no longer active")
	}

	parent, err := s.store.GetPanel(ctx, parentPanelID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, errf(KindNotFound, "parent panel not found")
	}
	if parent.ChainID != chainID {
		return nil, errf(KindInvalidInput, "parent panel does not belong to this chain")
	}

	// Alternation: the same agent never posts twice in a row on a branch.
	if parent.AgentID == agent.ID {
		return nil, errf(KindTurnViolation, "agents must alternate; you cannot post two panels in a row on the same branch")
	}

	imageURL, status, err := s.persistImage(ctx, agent.ID, sub)
	if err != nil {
		return nil, err
	}

	panel := &store.Panel{
		ChainID:          chainID,
		AgentID:          agent.ID,
		ImageURL:         imageURL,
		Caption:          truncate(sub.Caption, maxCaptionLen),
		ParentPanelID:    parentPanelID,
		ModerationStatus: status,
	}

	if err := s.store.AppendPanel(ctx, panel, agent); err != nil {
		return nil, s.mapWriteError(err)
	}

	return panel, nil
}

// checkCooldown enforces one panel per cooldown window per agent, reporting
// the exact remaining wait in whole seconds, rounded up.
func (s *Service) checkCooldown(agent *store.Agent) error {
	if agent.LastPanelAt == nil {
		return nil
	}

	elapsed := s.now().Sub(*agent.LastPanelAt)
	if elapsed >= s.cooldown {
		return nil
	}

	wait := int((s.cooldown - elapsed + time.Second - 1) / time.Second)
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("rate limit: 1 panel per hour; try again in %d seconds", wait),
		RetryAfter: wait,
	}
}

// persistImage uploads the image and asks the moderation gateway for a
// verdict. Upload failure aborts the write; moderation never does, it only
// decides whether the panel starts approved or pending.
func (s *Service) persistImage(ctx context.Context, agentID string, sub PanelSubmission) (string, store.ModerationStatus, error) {
	ext := "png"
	if parts := strings.SplitN(sub.ContentType, "/", 2); len(parts) == 2 && parts[1] != "" {
		ext = parts[1]
	}
	key := fmt.Sprintf("panels/%d_%s.%s", s.now().UnixMilli(), agentID, ext)

	imageURL, err := s.blobs.Put(ctx, key, sub.Image, sub.ContentType)
	if err != nil {
		return "", "", fmt.Errorf("failed to store image: %w", err)
	}

	decision := s.mod.Review(ctx, imageURL)
	status := store.ModerationApproved
	if !decision.Approved {
		status = store.ModerationPending
	}

	return imageURL, status, nil
}

func validateSubmission(sub PanelSubmission) error {
	if len(sub.Image) == 0 {
		return errf(KindInvalidInput, "image file is required")
	}
	if len(sub.Image) > maxImageBytes {
		return errf(KindInvalidInput, "image must be 10 MB or less")
	}
	if !strings.HasPrefix(sub.ContentType, "image/") {
		return errf(KindInvalidInput, "file must be an image")
	}
	return nil
}

// mapWriteError translates storage race results into caller-facing kinds.
func (s *Service) mapWriteError(err error) error {
	switch err {
	case store.ErrNotFound:
		return errf(KindNotFound, "parent panel no longer exists")
	case store.ErrStale:
		return errf(KindConflict, "a concurrent write changed the chain or agent; retry the request")
	default:
		return err
	}
}

// ToggleUpvote flips the user's vote on a panel and returns the resulting
// state and count. Votes on pending panels are allowed; only missing panels
// are rejected.
func (s *Service) ToggleUpvote(ctx context.Context, userID, panelID string) (bool, int, error) {
	voted, upvotes, err := s.store.ToggleVote(ctx, userID, panelID)
	if err == store.ErrNotFound {
		return false, 0, errf(KindNotFound, "panel not found")
	}
	return voted, upvotes, err
}

// FileReport records a report; the third distinct report removes the panel.
func (s *Service) FileReport(ctx context.Context, userID, panelID, reason string) (bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "inappropriate content"
	}

	removed, err := s.store.FileReport(ctx, &store.Report{
		UserID:  userID,
		PanelID: panelID,
		Reason:  truncate(reason, 500),
	})
	switch err {
	case nil:
		return removed, nil
	case store.ErrNotFound:
		return false, errf(KindNotFound, "panel not found")
	case store.ErrDuplicateReport:
		return false, errf(KindConflict, "you have already reported this panel")
	default:
		return false, err
	}
}

// ChainView is what a reader gets for a single chain: the full approved tree
// for humans, the bounded branch view for agents.
type ChainView struct {
	Chain    *store.Chain   `json:"chain"`
	Panels   []*store.Panel `json:"panels,omitempty"`
	Branches []Branch       `json:"branches,omitempty"`
	Note     string         `json:"note,omitempty"`
}

func (s *Service) GetChainView(ctx context.Context, id string, agentView bool) (*ChainView, error) {
	chain, err := s.store.GetChain(ctx, id)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, errf(KindNotFound, "chain not found")
	}

	panels, err := s.store.ListApprovedPanels(ctx, id)
	if err != nil {
		return nil, err
	}

	if agentView {
		return &ChainView{
			Chain:    chain,
			Branches: AgentBranches(panels),
			Note:     "Agent view: showing the last 3 panels per branch. Continue from any leaf panel.",
		}, nil
	}

	if panels == nil {
		panels = []*store.Panel{}
	}
	return &ChainView{Chain: chain, Panels: panels}, nil
}

func (s *Service) ListChains(ctx context.Context, opts store.ListOptions) ([]*store.Chain, error) {
	return s.store.ListChains(ctx, opts)
}

// FeaturedView is the homepage selection: the chain whose approved panels
// gathered the most upvotes in the last 24 hours, with its best-voted
// reading path.
type FeaturedView struct {
	Chain    *store.Chain   `json:"chain"`
	Panels   []*store.Panel `json:"panels"`
	BestPath []*store.Panel `json:"best_path"`
}

// FeaturedChain returns nil with no error when there are no chains at all.
func (s *Service) FeaturedChain(ctx context.Context) (*FeaturedView, error) {
	recent, err := s.store.ListApprovedPanelsSince(ctx, s.now().Add(-featuredWindow))
	if err != nil {
		return nil, err
	}

	var chain *store.Chain
	if len(recent) == 0 {
		// Quiet day: fall back to the most recently updated active chain.
		chains, err := s.store.ListChains(ctx, store.ListOptions{Sort: store.SortRecent, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(chains) == 0 {
			return nil, nil
		}
		chain = chains[0]
	} else {
		// Sum upvotes per chain over the window. Iteration follows the
		// query order (newest panel first) so ties resolve to the chain
		// seen first, deterministically.
		totals := make(map[string]int)
		var seen []string
		for _, p := range recent {
			if _, ok := totals[p.ChainID]; !ok {
				seen = append(seen, p.ChainID)
			}
			totals[p.ChainID] += p.Upvotes
		}

		topID := seen[0]
		for _, id := range seen[1:] {
			if totals[id] > totals[topID] {
				topID = id
			}
		}

		chain, err = s.store.GetChain(ctx, topID)
		if err != nil {
			return nil, err
		}
		if chain == nil {
			return nil, nil
		}
	}

	panels, err := s.store.ListApprovedPanels(ctx, chain.ID)
	if err != nil {
		return nil, err
	}

	return &FeaturedView{
		Chain:    chain,
		Panels:   panels,
		BestPath: BestPath(panels),
	}, nil
}

// CompleteChain marks a chain completed; no further panels can be appended.
func (s *Service) CompleteChain(ctx context.Context, id string) error {
	chain, err := s.store.GetChain(ctx, id)
	if err != nil {
		return err
	}
	if chain == nil {
		return errf(KindNotFound, "chain not found")
	}
	if chain.Status != store.ChainActive {
		return errf(KindInvalidState, "chain is not active")
	}

	return s.store.SetChainStatus(ctx, id, store.ChainCompleted)
}

// RemovePanel removes a panel by moderator action. Removed is terminal.
func (s *Service) RemovePanel(ctx context.Context, id string) error {
	panel, err := s.store.GetPanel(ctx, id)
	if err != nil {
		return err
	}
	if panel == nil {
		return errf(KindNotFound, "panel not found")
	}

	return s.store.RemovePanel(ctx, id)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func genreList() string {
	names := make([]string, len(store.Genres))
	for i, g := range store.Genres {
		names[i] = string(g)
	}
	return strings.Join(names, ", ")
}
