package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconworks/agentrelay/internal/agents"
	"github.com/beaconworks/agentrelay/internal/platform"
	"github.com/beaconworks/agentrelay/internal/store"
)

// In-memory store fakes. All are mutex-guarded because the engine runs
// opportunistic discovery on a background goroutine.

type fakeBindingStore struct {
	mu   sync.Mutex
	rows map[string]*store.ChannelBinding
}

func newFakeBindingStore() *fakeBindingStore {
	return &fakeBindingStore{rows: make(map[string]*store.ChannelBinding)}
}

func bindingKey(platformName, channelID, workspaceID string) string {
	return platformName + "|" + channelID + "|" + workspaceID
}

func (s *fakeBindingStore) GetByChannel(_ context.Context, platformName, channelID, workspaceID string) (*store.ChannelBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[bindingKey(platformName, channelID, workspaceID)]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *fakeBindingStore) Upsert(_ context.Context, b *store.ChannelBinding) (*store.ChannelBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bindingKey(b.Platform, b.ChannelID, b.WorkspaceID)
	existing, ok := s.rows[key]
	if !ok {
		row := *b
		row.ID = store.GenNewID()
		row.CreatedAt = time.Now()
		row.UpdatedAt = row.CreatedAt
		s.rows[key] = &row
		cp := row
		return &cp, nil
	}
	if b.DisplayName != "" {
		existing.DisplayName = b.DisplayName
	}
	if b.AgentID != nil {
		id := *b.AgentID
		existing.AgentID = &id
	}
	if b.DMOwnerEmail != "" {
		existing.DMOwnerEmail = b.DMOwnerEmail
	}
	existing.UpdatedAt = time.Now()
	cp := *existing
	return &cp, nil
}

func (s *fakeBindingStore) DeleteStale(_ context.Context, platformName string, workspaceAliases, keepChannelIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := make(map[string]bool, len(keepChannelIDs))
	for _, id := range keepChannelIDs {
		keep[id] = true
	}
	aliases := make(map[string]bool, len(workspaceAliases))
	for _, a := range workspaceAliases {
		aliases[a] = true
	}
	var deleted int64
	for key, row := range s.rows {
		if row.Platform == platformName && aliases[row.WorkspaceID] && !row.IsDM && !keep[row.ChannelID] {
			delete(s.rows, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeBindingStore) CollapseAliases(_ context.Context, platformName string, workspaceAliases []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aliases := make(map[string]bool, len(workspaceAliases))
	for _, a := range workspaceAliases {
		aliases[a] = true
	}
	best := make(map[string]string) // channelID → row key
	var removed int64
	for key, row := range s.rows {
		if row.Platform != platformName || !aliases[row.WorkspaceID] {
			continue
		}
		prevKey, ok := best[row.ChannelID]
		if !ok {
			best[row.ChannelID] = key
			continue
		}
		prev := s.rows[prevKey]
		if prev.AgentID == nil && row.AgentID != nil {
			delete(s.rows, prevKey)
			best[row.ChannelID] = key
		} else {
			delete(s.rows, key)
		}
		removed++
	}
	return removed, nil
}

func (s *fakeBindingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeDedupStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	err  error
}

func newFakeDedupStore() *fakeDedupStore {
	return &fakeDedupStore{seen: make(map[string]time.Time)}
}

func (s *fakeDedupStore) TryMark(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.seen[messageID]; ok {
		return false, nil
	}
	s.seen[messageID] = time.Now()
	return true, nil
}

func (s *fakeDedupStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, id)
			n++
		}
	}
	return n, nil
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

type fakeCacheStore struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: make(map[string]cacheEntry)}
}

func (s *fakeCacheStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *fakeCacheStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

type fakeIdentityStore struct {
	mu     sync.Mutex
	users  map[string]*store.UserRecord // lower(email) → user
	admins map[uuid.UUID]bool
	access map[string]bool // userID|agentID
	err    error
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{
		users:  make(map[string]*store.UserRecord),
		admins: make(map[uuid.UUID]bool),
		access: make(map[string]bool),
	}
}

func (s *fakeIdentityStore) addUser(email string) *store.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &store.UserRecord{ID: store.GenNewID(), Email: email}
	s.users[strings.ToLower(email)] = u
	return u
}

func (s *fakeIdentityStore) grantAccess(userID, agentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access[userID.String()+"|"+agentID.String()] = true
}

func (s *fakeIdentityStore) UserByEmail(_ context.Context, _ uuid.UUID, email string) (*store.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeIdentityStore) IsAgentAdmin(_ context.Context, userID, _ uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.admins[userID], nil
}

func (s *fakeIdentityStore) HasAgentAccess(_ context.Context, userID, agentID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.access[userID.String()+"|"+agentID.String()], nil
}

type fakeAgentStore struct {
	mu      sync.Mutex
	agents  []store.AgentRecord
	listErr error
}

func (s *fakeAgentStore) ListByOrg(_ context.Context, orgID uuid.UUID) ([]store.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []store.AgentRecord
	for _, a := range s.agents {
		if a.OrganizationID == orgID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAgentStore) GetByID(_ context.Context, id uuid.UUID) (*store.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	requests []agents.ExecuteRequest
	result   agents.ExecuteResult
	err      error
}

func (f *fakeExecutor) Execute(_ context.Context, req agents.ExecuteRequest) (*agents.ExecuteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	res := f.result
	return &res, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeAdapter is a platform.Adapter backed by in-memory state.
type fakeAdapter struct {
	mu            sync.Mutex
	name          string
	workspaceID   string
	emails        map[string]string // senderID → email
	emailErr      error
	channels      []platform.ChannelInfo
	discoverErr   error
	discoverCalls int
	history       []platform.HistoryEntry
	historyErr    error
	replies       []platform.ReplyRequest
	cards         []platform.SelectionCardRequest
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		name:        "testchat",
		workspaceID: "W1",
		emails:      make(map[string]string),
	}
}

func (a *fakeAdapter) Name() string            { return a.name }
func (a *fakeAdapter) IsConfigured() bool      { return true }
func (a *fakeAdapter) IsSocketMode() bool      { return false }
func (a *fakeAdapter) WorkspaceID() string     { return a.workspaceID }
func (a *fakeAdapter) WorkspaceName() string   { return "Test Workspace" }
func (a *fakeAdapter) Initialize(context.Context) error { return nil }
func (a *fakeAdapter) Cleanup(context.Context) error    { return nil }

func (a *fakeAdapter) DiscoverChannels(context.Context) ([]platform.ChannelInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discoverCalls++
	if a.discoverErr != nil {
		return nil, a.discoverErr
	}
	return append([]platform.ChannelInfo(nil), a.channels...), nil
}

func (a *fakeAdapter) ParseNotification([]byte, http.Header) (*platform.IncomingMessage, error) {
	return nil, platform.ErrNotSupported
}

func (a *fakeAdapter) ParseInteractivePayload([]byte, http.Header) (*platform.AgentSelection, error) {
	return nil, platform.ErrNotSupported
}

func (a *fakeAdapter) ParseCommand([]byte, http.Header) (*platform.Command, error) {
	return nil, platform.ErrNotSupported
}

func (a *fakeAdapter) UserEmail(_ context.Context, senderID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.emailErr != nil {
		return "", a.emailErr
	}
	return a.emails[senderID], nil
}

func (a *fakeAdapter) ThreadHistory(context.Context, platform.ThreadHistoryRequest) ([]platform.HistoryEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	return append([]platform.HistoryEntry(nil), a.history...), nil
}

func (a *fakeAdapter) SendReply(_ context.Context, req platform.ReplyRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, req)
	return nil
}

func (a *fakeAdapter) SendSelectionCard(_ context.Context, req platform.SelectionCardRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cards = append(a.cards, req)
	return nil
}

func (a *fakeAdapter) lastReply() (platform.ReplyRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		return platform.ReplyRequest{}, false
	}
	return a.replies[len(a.replies)-1], true
}

func (a *fakeAdapter) replyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.replies)
}

func (a *fakeAdapter) cardCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cards)
}

func (a *fakeAdapter) discoverCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.discoverCalls
}

// testEnv bundles an engine with every fake behind it.
type testEnv struct {
	engine   *Engine
	entry    *platform.Entry
	adapter  *fakeAdapter
	bindings *fakeBindingStore
	dedup    *fakeDedupStore
	cache    *fakeCacheStore
	identity *fakeIdentityStore
	agents   *fakeAgentStore
	executor *fakeExecutor
	orgID    uuid.UUID
}

func newTestEnv() *testEnv {
	orgID := store.GenNewID()
	adapter := newFakeAdapter()
	registry := platform.NewRegistry()
	registry.Register(adapter, orgID)
	entry, _ := registry.Get(adapter.Name())

	env := &testEnv{
		entry:    entry,
		adapter:  adapter,
		bindings: newFakeBindingStore(),
		dedup:    newFakeDedupStore(),
		cache:    newFakeCacheStore(),
		identity: newFakeIdentityStore(),
		agents:   &fakeAgentStore{},
		executor: &fakeExecutor{result: agents.ExecuteResult{Text: "answer", InteractionID: store.GenNewID()}},
		orgID:    orgID,
	}
	env.engine = New(&store.Stores{
		Bindings: env.bindings,
		Dedup:    env.dedup,
		Cache:    env.cache,
		Identity: env.identity,
		Agents:   env.agents,
	}, registry, env.executor, Options{DiscoveryTTL: time.Minute})
	return env
}

// addAgent registers an agent in the fake org.
func (env *testEnv) addAgent(name string) store.AgentRecord {
	a := store.AgentRecord{ID: store.GenNewID(), OrganizationID: env.orgID, Name: name}
	env.agents.mu.Lock()
	env.agents.agents = append(env.agents.agents, a)
	env.agents.mu.Unlock()
	return a
}

// bindChannel writes a binding with the given agent assigned.
func (env *testEnv) bindChannel(channelID, workspaceID string, agentID uuid.UUID) {
	id := agentID
	_, err := env.bindings.Upsert(context.Background(), &store.ChannelBinding{
		OrganizationID: env.orgID,
		Platform:       env.adapter.Name(),
		ChannelID:      channelID,
		WorkspaceID:    workspaceID,
		DisplayName:    channelID,
		AgentID:        &id,
	})
	if err != nil {
		panic(fmt.Sprintf("bindChannel: %v", err))
	}
}

// registeredSender wires a sender ID to a registered user with team access to
// the agent.
func (env *testEnv) registeredSender(senderID, email string, agentID uuid.UUID) *store.UserRecord {
	env.adapter.mu.Lock()
	env.adapter.emails[senderID] = email
	env.adapter.mu.Unlock()
	u := env.identity.addUser(email)
	env.identity.grantAccess(u.ID, agentID)
	return u
}

func testUnboundBinding(env *testEnv, channelID, workspaceID string) *store.ChannelBinding {
	return &store.ChannelBinding{
		OrganizationID: env.orgID,
		Platform:       env.adapter.Name(),
		ChannelID:      channelID,
		WorkspaceID:    workspaceID,
		DisplayName:    channelID,
	}
}

func testMessage(channelID, senderID, text string) *platform.IncomingMessage {
	return &platform.IncomingMessage{
		MessageID:   store.GenNewID().String(),
		ChannelID:   channelID,
		WorkspaceID: "W1",
		SenderID:    senderID,
		SenderName:  "Sender",
		Text:        text,
		RawText:     text,
		Timestamp:   time.Now(),
	}
}
