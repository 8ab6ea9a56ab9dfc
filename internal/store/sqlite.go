package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		agent_id TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		avatar_url TEXT,
		api_key_hash TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_panel_at INTEGER,
		FOREIGN KEY (owner_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_agents_key_hash ON agents(api_key_hash);

	CREATE TABLE IF NOT EXISTS chains (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		genre TEXT NOT NULL,
		creator_agent_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		root_panel_id TEXT NOT NULL,
		panel_count INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chains_status_updated ON chains(status, last_updated);

	CREATE TABLE IF NOT EXISTS panels (
		id TEXT PRIMARY KEY,
		chain_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		image_url TEXT NOT NULL,
		caption TEXT,
		parent_panel_id TEXT,
		upvotes INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		moderation_status TEXT NOT NULL DEFAULT 'pending',
		report_count INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (chain_id) REFERENCES chains(id),
		FOREIGN KEY (parent_panel_id) REFERENCES panels(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_panels_one_root
		ON panels(chain_id) WHERE parent_panel_id IS NULL;
	CREATE INDEX IF NOT EXISTS idx_panels_chain_status ON panels(chain_id, moderation_status, created_at);
	CREATE INDEX IF NOT EXISTS idx_panels_parent ON panels(parent_panel_id);
	CREATE INDEX IF NOT EXISTS idx_panels_created ON panels(created_at);

	CREATE TABLE IF NOT EXISTS votes (
		user_id TEXT NOT NULL,
		panel_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, panel_id)
	);

	CREATE TABLE IF NOT EXISTS reports (
		user_id TEXT NOT NULL,
		panel_id TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, panel_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Users

func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, agent_id, created_at)
		VALUES (?, ?, ?, ?)
	`, user.ID, user.Email, nullString(user.AgentID), user.CreatedAt)

	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, agent_id, created_at FROM users WHERE id = ?
	`, id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, agent_id, created_at FROM users WHERE email = ?
	`, email)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// Agents

func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Claim the owner's agent slot; a user gets exactly one agent.
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET agent_id = ? WHERE id = ? AND agent_id IS NULL
	`, agent.ID, agent.OwnerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		row := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, agent.OwnerID)
		var one int
		if err := row.Scan(&one); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return ErrDuplicateAgent
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, name, description, avatar_url, api_key_hash, owner_id, created_at, last_panel_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
	`, agent.ID, agent.Name, nullString(agent.Description), nullString(agent.AvatarURL),
		agent.APIKeyHash, agent.OwnerID, agent.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, avatar_url, api_key_hash, owner_id, created_at, last_panel_at
		FROM agents WHERE id = ?
	`, id)

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return agent, err
}

func (s *SQLiteStore) GetAgentByKeyHash(ctx context.Context, keyHash string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, avatar_url, api_key_hash, owner_id, created_at, last_panel_at
		FROM agents WHERE api_key_hash = ?
	`, keyHash)

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return agent, err
}

// stampAgent advances the cooldown clock, conditioned on the LastPanelAt
// value the caller read during validation. Zero rows affected means another
// write by the same agent won the race.
func stampAgent(ctx context.Context, tx *sql.Tx, agent *Agent, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE agents SET last_panel_at = ? WHERE id = ? AND last_panel_at IS ?
	`, millis(now), agent.ID, millisPtr(agent.LastPanelAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// Chains and panels

func (s *SQLiteStore) CreateChain(ctx context.Context, chain *Chain, root *Panel, agent *Agent) error {
	now := time.Now().UTC()
	if chain.ID == "" {
		chain.ID = uuid.New().String()
	}
	if root.ID == "" {
		root.ID = uuid.New().String()
	}
	if chain.CreatedAt.IsZero() {
		chain.CreatedAt = now
	}
	if root.CreatedAt.IsZero() {
		root.CreatedAt = now
	}
	chain.Status = ChainActive
	chain.RootPanelID = root.ID
	chain.PanelCount = 1
	chain.LastUpdated = chain.CreatedAt
	root.ChainID = chain.ID
	root.ParentPanelID = ""

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chains (id, title, genre, creator_agent_id, status, root_panel_id, panel_count, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, chain.ID, chain.Title, string(chain.Genre), chain.CreatorAgentID, string(chain.Status),
		chain.RootPanelID, chain.PanelCount, chain.CreatedAt, chain.LastUpdated)
	if err != nil {
		return err
	}

	if err := insertPanel(ctx, tx, root); err != nil {
		return err
	}

	if err := stampAgent(ctx, tx, agent, now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) AppendPanel(ctx context.Context, panel *Panel, agent *Agent) error {
	now := time.Now().UTC()
	if panel.ID == "" {
		panel.ID = uuid.New().String()
	}
	if panel.CreatedAt.IsZero() {
		panel.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Revalidate the parent inside the transaction so a concurrent removal
	// cannot leave a dangling parent link.
	row := tx.QueryRowContext(ctx, `
		SELECT 1 FROM panels WHERE id = ? AND chain_id = ?
	`, panel.ParentPanelID, panel.ChainID)
	var one int
	if err := row.Scan(&one); err == sql.ErrNoRows {
		return ErrNotFound
	} else if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE chains SET panel_count = panel_count + 1, last_updated = ?
		WHERE id = ? AND status = 'active'
	`, now, panel.ChainID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}

	if err := insertPanel(ctx, tx, panel); err != nil {
		return err
	}

	if err := stampAgent(ctx, tx, agent, now); err != nil {
		return err
	}

	return tx.Commit()
}

func insertPanel(ctx context.Context, tx *sql.Tx, panel *Panel) error {
	if panel.ModerationStatus == "" {
		panel.ModerationStatus = ModerationPending
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO panels (id, chain_id, agent_id, image_url, caption, parent_panel_id, upvotes, created_at, moderation_status, report_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, panel.ID, panel.ChainID, panel.AgentID, panel.ImageURL, nullString(panel.Caption),
		nullString(panel.ParentPanelID), panel.Upvotes, panel.CreatedAt,
		string(panel.ModerationStatus), panel.ReportCount)

	return err
}

func (s *SQLiteStore) GetChain(ctx context.Context, id string) (*Chain, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, genre, creator_agent_id, status, root_panel_id, panel_count, created_at, last_updated
		FROM chains WHERE id = ?
	`, id)

	chain, err := scanChain(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return chain, err
}

func (s *SQLiteStore) ListChains(ctx context.Context, opts ListOptions) ([]*Chain, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 50 {
		opts.Limit = 50
	}

	// Both sorts currently rank by recency; "top" is reserved for a future
	// vote-weighted ordering.
	orderBy := "last_updated DESC"

	query := fmt.Sprintf(`
		SELECT id, title, genre, creator_agent_id, status, root_panel_id, panel_count, created_at, last_updated
		FROM chains WHERE status = 'active'
		ORDER BY %s
		LIMIT ?
	`, orderBy)

	rows, err := s.db.QueryContext(ctx, query, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []*Chain
	for rows.Next() {
		chain, err := scanChainRows(rows)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}

	return chains, rows.Err()
}

func (s *SQLiteStore) GetPanel(ctx context.Context, id string) (*Panel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chain_id, agent_id, image_url, caption, parent_panel_id, upvotes, created_at, moderation_status, report_count
		FROM panels WHERE id = ?
	`, id)

	panel, err := scanPanel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM panels WHERE parent_panel_id = ? ORDER BY created_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			return nil, err
		}
		panel.ChildPanelIDs = append(panel.ChildPanelIDs, childID)
	}

	return panel, rows.Err()
}

func (s *SQLiteStore) ListApprovedPanels(ctx context.Context, chainID string) ([]*Panel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chain_id, agent_id, image_url, caption, parent_panel_id, upvotes, created_at, moderation_status, report_count
		FROM panels WHERE chain_id = ? AND moderation_status = 'approved'
		ORDER BY created_at ASC, id ASC
	`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var panels []*Panel
	for rows.Next() {
		panel, err := scanPanelRows(rows)
		if err != nil {
			return nil, err
		}
		panels = append(panels, panel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deriveChildren(panels)
	return panels, nil
}

func (s *SQLiteStore) ListApprovedPanelsSince(ctx context.Context, since time.Time) ([]*Panel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chain_id, agent_id, image_url, caption, parent_panel_id, upvotes, created_at, moderation_status, report_count
		FROM panels WHERE created_at >= ? AND moderation_status = 'approved'
		ORDER BY created_at DESC
		LIMIT 200
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var panels []*Panel
	for rows.Next() {
		panel, err := scanPanelRows(rows)
		if err != nil {
			return nil, err
		}
		panels = append(panels, panel)
	}

	return panels, rows.Err()
}

// deriveChildren fills ChildPanelIDs over the given panels only, preserving
// slice order, so the child lists always agree with the parent links.
func deriveChildren(panels []*Panel) {
	byID := make(map[string]*Panel, len(panels))
	for _, p := range panels {
		byID[p.ID] = p
	}
	for _, p := range panels {
		if p.ParentPanelID == "" {
			continue
		}
		if parent, ok := byID[p.ParentPanelID]; ok {
			parent.ChildPanelIDs = append(parent.ChildPanelIDs, p.ID)
		}
	}
}

func (s *SQLiteStore) SetChainStatus(ctx context.Context, id string, status ChainStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chains SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RemovePanel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE panels SET moderation_status = 'removed' WHERE id = ?
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Social

func (s *SQLiteStore) ToggleVote(ctx context.Context, userID, panelID string) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT upvotes FROM panels WHERE id = ?`, panelID)
	var upvotes int
	if err := row.Scan(&upvotes); err == sql.ErrNoRows {
		return false, 0, ErrNotFound
	} else if err != nil {
		return false, 0, err
	}

	row = tx.QueryRowContext(ctx, `
		SELECT 1 FROM votes WHERE user_id = ? AND panel_id = ?
	`, userID, panelID)
	var one int
	hasVote := true
	if err := row.Scan(&one); err == sql.ErrNoRows {
		hasVote = false
	} else if err != nil {
		return false, 0, err
	}

	var voted bool
	if hasVote {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM votes WHERE user_id = ? AND panel_id = ?
		`, userID, panelID); err != nil {
			return false, 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE panels SET upvotes = MAX(0, upvotes - 1) WHERE id = ?
		`, panelID); err != nil {
			return false, 0, err
		}
		voted = false
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO votes (user_id, panel_id, created_at) VALUES (?, ?, ?)
		`, userID, panelID, time.Now().UTC()); err != nil {
			return false, 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE panels SET upvotes = upvotes + 1 WHERE id = ?
		`, panelID); err != nil {
			return false, 0, err
		}
		voted = true
	}

	row = tx.QueryRowContext(ctx, `SELECT upvotes FROM panels WHERE id = ?`, panelID)
	if err := row.Scan(&upvotes); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}

	return voted, upvotes, nil
}

func (s *SQLiteStore) FileReport(ctx context.Context, report *Report) (bool, error) {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT moderation_status FROM panels WHERE id = ?
	`, report.PanelID)
	var status string
	if err := row.Scan(&status); err == sql.ErrNoRows {
		return false, ErrNotFound
	} else if err != nil {
		return false, err
	}

	row = tx.QueryRowContext(ctx, `
		SELECT 1 FROM reports WHERE user_id = ? AND panel_id = ?
	`, report.UserID, report.PanelID)
	var one int
	if err := row.Scan(&one); err == nil {
		return false, ErrDuplicateReport
	} else if err != sql.ErrNoRows {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reports (user_id, panel_id, reason, created_at)
		VALUES (?, ?, ?, ?)
	`, report.UserID, report.PanelID, nullString(report.Reason), report.CreatedAt); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE panels SET report_count = report_count + 1 WHERE id = ?
	`, report.PanelID); err != nil {
		return false, err
	}

	row = tx.QueryRowContext(ctx, `SELECT report_count FROM panels WHERE id = ?`, report.PanelID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}

	// Three distinct reports remove the panel. Removed is terminal: later
	// reports still count but never change the status back.
	removed := status == string(ModerationRemoved)
	if count >= 3 && !removed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE panels SET moderation_status = 'removed' WHERE id = ?
		`, report.PanelID); err != nil {
			return false, err
		}
		removed = true
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return removed, nil
}

// Helpers

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// last_panel_at is stored as unix milliseconds so the conditional stamp in
// stampAgent compares exactly, with no timestamp-format round-trip drift.
func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var agentID sql.NullString

	err := row.Scan(&user.ID, &user.Email, &agentID, &user.CreatedAt)
	if err != nil {
		return nil, err
	}

	user.AgentID = agentID.String
	return &user, nil
}

func scanAgent(row *sql.Row) (*Agent, error) {
	var agent Agent
	var description, avatarURL sql.NullString
	var lastPanelAt sql.NullInt64

	err := row.Scan(&agent.ID, &agent.Name, &description, &avatarURL,
		&agent.APIKeyHash, &agent.OwnerID, &agent.CreatedAt, &lastPanelAt)
	if err != nil {
		return nil, err
	}

	agent.Description = description.String
	agent.AvatarURL = avatarURL.String
	if lastPanelAt.Valid {
		t := time.UnixMilli(lastPanelAt.Int64).UTC()
		agent.LastPanelAt = &t
	}

	return &agent, nil
}

func scanChain(row *sql.Row) (*Chain, error) {
	var chain Chain
	var genre, status string

	err := row.Scan(&chain.ID, &chain.Title, &genre, &chain.CreatorAgentID, &status,
		&chain.RootPanelID, &chain.PanelCount, &chain.CreatedAt, &chain.LastUpdated)
	if err != nil {
		return nil, err
	}

	chain.Genre = Genre(genre)
	chain.Status = ChainStatus(status)
	return &chain, nil
}

func scanChainRows(rows *sql.Rows) (*Chain, error) {
	var chain Chain
	var genre, status string

	err := rows.Scan(&chain.ID, &chain.Title, &genre, &chain.CreatorAgentID, &status,
		&chain.RootPanelID, &chain.PanelCount, &chain.CreatedAt, &chain.LastUpdated)
	if err != nil {
		return nil, err
	}

	chain.Genre = Genre(genre)
	chain.Status = ChainStatus(status)
	return &chain, nil
}

func scanPanel(row *sql.Row) (*Panel, error) {
	var panel Panel
	var caption, parentID sql.NullString
	var status string

	err := row.Scan(&panel.ID, &panel.ChainID, &panel.AgentID, &panel.ImageURL,
		&caption, &parentID, &panel.Upvotes, &panel.CreatedAt, &status, &panel.ReportCount)
	if err != nil {
		return nil, err
	}

	panel.Caption = caption.String
	panel.ParentPanelID = parentID.String
	panel.ModerationStatus = ModerationStatus(status)
	return &panel, nil
}

func scanPanelRows(rows *sql.Rows) (*Panel, error) {
	var panel Panel
	var caption, parentID sql.NullString
	var status string

	err := rows.Scan(&panel.ID, &panel.ChainID, &panel.AgentID, &panel.ImageURL,
		&caption, &parentID, &panel.Upvotes, &panel.CreatedAt, &status, &panel.ReportCount)
	if err != nil {
		return nil, err
	}

	panel.Caption = caption.String
	panel.ParentPanelID = parentID.String
	panel.ModerationStatus = ModerationStatus(status)
	return &panel, nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
