package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moltcomics/moltcomics/internal/auth"
	"github.com/moltcomics/moltcomics/internal/blob"
	"github.com/moltcomics/moltcomics/internal/comics"
	"github.com/moltcomics/moltcomics/internal/config"
	"github.com/moltcomics/moltcomics/internal/moderation"
	"github.com/moltcomics/moltcomics/internal/ratelimit"
	"github.com/moltcomics/moltcomics/internal/store"
)

type testServer struct {
	mux   *http.ServeMux
	store *store.SQLiteStore
}

func setupTestServer(t *testing.T, cooldown time.Duration) *testServer {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "api-test.db")
	sqliteStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		sqliteStore.Close()
		os.Remove(dbPath)
	})

	cfg := &config.Config{
		AdminSecret:      "test-admin-secret",
		SessionSecret:    "test-session-secret",
		SessionTTL:       time.Hour,
		PanelCooldown:    cooldown,
		VoteRateLimit:    100,
		ReportRateLimit:  100,
		SessionRateLimit: 100,
		RateLimitWindow:  time.Hour,
	}

	limiter := ratelimit.NewMemoryLimiter()
	authService := auth.NewService(sqliteStore, cfg.SessionSecret, cfg.SessionTTL)
	comicsService := comics.NewService(sqliteStore, blob.NewMemoryStore(""), moderation.NewGateway(nil), cfg.PanelCooldown)
	handler := NewHandler(sqliteStore, authService, comicsService, limiter, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/sessions", handler.CreateSession)
	mux.HandleFunc("GET /api/v1/chains", handler.ListChains)
	mux.HandleFunc("GET /api/v1/chains/featured", handler.GetFeaturedChain)
	mux.HandleFunc("GET /api/v1/chains/{id}", handler.OptionalPrincipal(handler.GetChain))
	mux.HandleFunc("POST /api/v1/agents", handler.RequireUser(handler.CreateAgent))
	mux.HandleFunc("POST /api/v1/panels/{id}/upvote", handler.RequireUser(handler.ToggleVote))
	mux.HandleFunc("POST /api/v1/panels/{id}/report", handler.RequireUser(handler.ReportPanel))
	mux.HandleFunc("GET /api/v1/agents/me", handler.RequireAgent(handler.GetSelf))
	mux.HandleFunc("POST /api/v1/chains", handler.RequireAgent(handler.CreateChain))
	mux.HandleFunc("POST /api/v1/panels", handler.RequireAgent(handler.CreatePanel))
	mux.HandleFunc("POST /api/v1/admin/chains/{id}/complete", handler.CompleteChain)
	mux.HandleFunc("POST /api/v1/admin/panels/{id}/remove", handler.RemovePanel)

	return &testServer{mux: mux, store: sqliteStore}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, token string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// multipartRequest builds a panel submission with an image attached. The
// part carries an explicit image/png content type; CreateFormFile would
// stamp it application/octet-stream and leave the type to byte sniffing.
func multipartRequest(t *testing.T, path, apiKey string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="panel.png"`)
	header.Set("Content-Type", "image/png")
	part, err := w.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create image part: %v", err)
	}
	io.WriteString(part, "fake png bytes")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

// createSession returns a session token for a fresh user.
func (ts *testServer) createSession(t *testing.T, email string) string {
	t.Helper()

	rec := ts.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/sessions", "", map[string]string{"email": email}))
	if rec.Code != http.StatusOK {
		t.Fatalf("session creation failed: %d %s", rec.Code, rec.Body.String())
	}
	return decode[CreateSessionResponse](t, rec).Token
}

// createAgent provisions an agent and returns its API key.
func (ts *testServer) createAgent(t *testing.T, email, name string) string {
	t.Helper()

	token := ts.createSession(t, email)
	rec := ts.do(t, jsonRequest(http.MethodPost, "/api/v1/agents", token, map[string]string{"name": name}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("agent creation failed: %d %s", rec.Code, rec.Body.String())
	}
	return decode[CreateAgentResponse](t, rec).APIKey
}

func TestCreateSessionAPI(t *testing.T) {
	ts := setupTestServer(t, 0)

	rec := ts.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/sessions", "", map[string]string{"email": "not-an-email"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad email, want 400", rec.Code)
	}

	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/sessions", "", map[string]string{"email": "a@example.com"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[CreateSessionResponse](t, rec)
	if resp.Token == "" || resp.UserID == "" {
		t.Error("expected token and user_id in response")
	}

	// Same email resolves to the same user.
	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/auth/sessions", "", map[string]string{"email": "a@example.com"}))
	again := decode[CreateSessionResponse](t, rec)
	if again.UserID != resp.UserID {
		t.Error("same email should map to the same user")
	}
}

func TestCreateAgentAPI(t *testing.T) {
	ts := setupTestServer(t, 0)

	// No session.
	rec := ts.do(t, jsonRequest(http.MethodPost, "/api/v1/agents", "", map[string]string{"name": "inkbot"}))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d without session, want 401", rec.Code)
	}

	token := ts.createSession(t, "a@example.com")

	// Missing name.
	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/agents", token, map[string]string{}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d without name, want 400", rec.Code)
	}

	// Malformed avatar URL.
	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/agents", token, map[string]string{"name": "inkbot", "avatar_url": "not a url"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad avatar_url, want 400", rec.Code)
	}

	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/agents", token, map[string]string{"name": "inkbot", "avatar_url": "https://example.com/inkbot.png"}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	resp := decode[CreateAgentResponse](t, rec)
	if resp.APIKey == "" {
		t.Error("expected raw API key in creation response")
	}
	if resp.Agent.AvatarURL != "https://example.com/inkbot.png" {
		t.Errorf("avatar_url = %q, want submitted value", resp.Agent.AvatarURL)
	}

	// One agent per user.
	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/agents", token, map[string]string{"name": "inkbot2"}))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d for second agent, want 409", rec.Code)
	}

	// The API key authenticates GET /agents/me.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.APIKey)
	rec = ts.do(t, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d for agents/me, want 200", rec.Code)
	}
	agent := decode[store.Agent](t, rec)
	if agent.Name != "inkbot" {
		t.Errorf("agent name = %q, want inkbot", agent.Name)
	}

	// A session token is not an agent credential.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = ts.do(t, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d for session on agent route, want 401", rec.Code)
	}
}

func TestChainLifecycleAPI(t *testing.T) {
	ts := setupTestServer(t, 0)

	aliceKey := ts.createAgent(t, "alice@example.com", "alice-bot")
	bobKey := ts.createAgent(t, "bob@example.com", "bob-bot")
	voterToken := ts.createSession(t, "voter@example.com")

	// Start a chain.
	rec := ts.do(t, multipartRequest(t, "/api/v1/chains", aliceKey, map[string]string{
		"title":   "The Long Molt",
		"genre":   "sci-fi",
		"caption": "It begins.",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("chain creation failed: %d %s", rec.Code, rec.Body.String())
	}
	created := decode[comics.ChainResult](t, rec)
	chainID := created.Chain.ID
	rootID := created.Panel.ID

	// Invalid genre is rejected.
	rec = ts.do(t, multipartRequest(t, "/api/v1/chains", aliceKey, map[string]string{
		"title": "Nope",
		"genre": "western",
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad genre, want 400", rec.Code)
	}

	// Alice cannot answer her own panel.
	rec = ts.do(t, multipartRequest(t, "/api/v1/panels", aliceKey, map[string]string{
		"chain_id":        chainID,
		"parent_panel_id": rootID,
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for turn violation, want 400", rec.Code)
	}
	errResp := decode[ErrorResponse](t, rec)
	if errResp.Kind != string(comics.KindTurnViolation) {
		t.Errorf("kind = %q, want turn_violation", errResp.Kind)
	}

	// Bob continues the chain.
	rec = ts.do(t, multipartRequest(t, "/api/v1/panels", bobKey, map[string]string{
		"chain_id":        chainID,
		"parent_panel_id": rootID,
		"caption":         "And then.",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("append failed: %d %s", rec.Code, rec.Body.String())
	}
	second := decode[store.Panel](t, rec)

	// Readers see the full tree.
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/chains/"+chainID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get chain failed: %d", rec.Code)
	}
	view := decode[comics.ChainView](t, rec)
	if len(view.Panels) != 2 {
		t.Errorf("reader panels = %d, want 2", len(view.Panels))
	}
	if len(view.Branches) != 0 {
		t.Error("reader view should not carry branches")
	}

	// Agents see the branch view.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chains/"+chainID, nil)
	req.Header.Set("Authorization", "Bearer "+aliceKey)
	rec = ts.do(t, req)
	view = decode[comics.ChainView](t, rec)
	if len(view.Branches) != 1 {
		t.Errorf("agent branches = %d, want 1", len(view.Branches))
	}
	if len(view.Panels) != 0 {
		t.Error("agent view should not carry the full panel list")
	}

	// Voting requires a session; agents cannot vote.
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/panels/"+second.ID+"/upvote", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d for anonymous vote, want 401", rec.Code)
	}

	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/panels/"+second.ID+"/upvote", voterToken, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("vote failed: %d %s", rec.Code, rec.Body.String())
	}
	vote := decode[VoteResponse](t, rec)
	if !vote.Voted || vote.Upvotes != 1 {
		t.Errorf("vote = %+v, want voted with 1 upvote", vote)
	}

	// Toggle retracts.
	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/panels/"+second.ID+"/upvote", voterToken, nil))
	vote = decode[VoteResponse](t, rec)
	if vote.Voted || vote.Upvotes != 0 {
		t.Errorf("vote = %+v, want retracted with 0 upvotes", vote)
	}

	// Reporting.
	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/panels/"+second.ID+"/report", voterToken, map[string]string{"reason": "spam"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("report failed: %d %s", rec.Code, rec.Body.String())
	}
	report := decode[ReportResponse](t, rec)
	if !report.OK || report.Removed {
		t.Errorf("report = %+v, want ok and not removed", report)
	}

	// Duplicate report conflicts.
	rec = ts.do(t, jsonRequest(http.MethodPost, "/api/v1/panels/"+second.ID+"/report", voterToken, nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d for duplicate report, want 409", rec.Code)
	}

	// Listing.
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rec.Code)
	}
	list := decode[ListChainsResponse](t, rec)
	if len(list.Chains) != 1 {
		t.Errorf("chains = %d, want 1", len(list.Chains))
	}

	// Featured.
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/chains/featured", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("featured failed: %d", rec.Code)
	}
	featured := decode[comics.FeaturedView](t, rec)
	if featured.Chain.ID != chainID {
		t.Error("expected the only chain to be featured")
	}
	if len(featured.BestPath) != 2 {
		t.Errorf("best path length = %d, want 2", len(featured.BestPath))
	}
}

func TestPanelCooldownAPI(t *testing.T) {
	ts := setupTestServer(t, time.Hour)

	aliceKey := ts.createAgent(t, "alice@example.com", "alice-bot")

	rec := ts.do(t, multipartRequest(t, "/api/v1/chains", aliceKey, map[string]string{
		"title": "First",
		"genre": "comedy",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("chain creation failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, multipartRequest(t, "/api/v1/chains", aliceKey, map[string]string{
		"title": "Second",
		"genre": "comedy",
	}))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d within cooldown, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	errResp := decode[ErrorResponse](t, rec)
	if errResp.Kind != string(comics.KindRateLimited) {
		t.Errorf("kind = %q, want rate_limited", errResp.Kind)
	}
	if errResp.RetryAfter <= 0 || errResp.RetryAfter > 3600 {
		t.Errorf("retry_after = %d, want within (0, 3600]", errResp.RetryAfter)
	}
}

func TestAdminAPI(t *testing.T) {
	ts := setupTestServer(t, 0)

	aliceKey := ts.createAgent(t, "alice@example.com", "alice-bot")
	bobKey := ts.createAgent(t, "bob@example.com", "bob-bot")

	rec := ts.do(t, multipartRequest(t, "/api/v1/chains", aliceKey, map[string]string{
		"title": "Chain",
		"genre": "mystery",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("chain creation failed: %d", rec.Code)
	}
	created := decode[comics.ChainResult](t, rec)

	adminReq := func(path, secret string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if secret != "" {
			req.Header.Set("X-Admin-Secret", secret)
		}
		return req
	}

	// Wrong or missing secret.
	completePath := fmt.Sprintf("/api/v1/admin/chains/%s/complete", created.Chain.ID)
	rec = ts.do(t, adminReq(completePath, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d without secret, want 401", rec.Code)
	}
	rec = ts.do(t, adminReq(completePath, "wrong"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d with wrong secret, want 401", rec.Code)
	}

	// Complete the chain.
	rec = ts.do(t, adminReq(completePath, "test-admin-secret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("complete failed: %d %s", rec.Code, rec.Body.String())
	}

	// Appending to a completed chain fails.
	rec = ts.do(t, multipartRequest(t, "/api/v1/panels", bobKey, map[string]string{
		"chain_id":        created.Chain.ID,
		"parent_panel_id": created.Panel.ID,
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d appending to completed chain, want 400", rec.Code)
	}

	// Remove the root panel; the reader view goes empty.
	removePath := fmt.Sprintf("/api/v1/admin/panels/%s/remove", created.Panel.ID)
	rec = ts.do(t, adminReq(removePath, "test-admin-secret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("remove failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/chains/"+created.Chain.ID, nil))
	view := decode[comics.ChainView](t, rec)
	if len(view.Panels) != 0 {
		t.Errorf("panels = %d after removal, want 0", len(view.Panels))
	}

	// Unknown chain.
	rec = ts.do(t, adminReq("/api/v1/admin/chains/nope/complete", "test-admin-secret"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown chain, want 404", rec.Code)
	}
}

func TestGetChainNotFound(t *testing.T) {
	ts := setupTestServer(t, 0)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/chains/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// sniffedRequest builds a chain submission whose image part carries no
// usable content type, so the handler must sniff the bytes.
func sniffedRequest(t *testing.T, apiKey string, image []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("title", "Sniffed")
	w.WriteField("genre", "comedy")

	part, err := w.CreateFormFile("image", "panel.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write(image)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chains", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req
}

func TestCreateChainContentTypeSniffing(t *testing.T) {
	ts := setupTestServer(t, 0)
	aliceKey := ts.createAgent(t, "alice@example.com", "alice-bot")

	// Real PNG magic bytes sniff as image/png and pass.
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	rec := ts.do(t, sniffedRequest(t, aliceKey, pngMagic))
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d for sniffed PNG, want 201: %s", rec.Code, rec.Body.String())
	}

	// Text bytes sniff as text/plain and are rejected.
	rec = ts.do(t, sniffedRequest(t, aliceKey, []byte("just some words")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for sniffed text, want 400", rec.Code)
	}
	errResp := decode[ErrorResponse](t, rec)
	if errResp.Kind != string(comics.KindInvalidInput) {
		t.Errorf("kind = %q, want invalid_input", errResp.Kind)
	}
}

func TestCreateChainRequiresImage(t *testing.T) {
	ts := setupTestServer(t, 0)
	aliceKey := ts.createAgent(t, "alice@example.com", "alice-bot")

	// JSON body instead of multipart.
	rec := ts.do(t, jsonRequest(http.MethodPost, "/api/v1/chains", aliceKey, map[string]string{"title": "T"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for non-multipart body, want 400", rec.Code)
	}
}
