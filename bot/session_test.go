package bot

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/quenby/streamwarden/generator"
	"github.com/quenby/streamwarden/platform"
	"github.com/quenby/streamwarden/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

// fakeStore is an in-memory Storage.
type fakeStore struct {
	mu       sync.Mutex
	cfg      *BotConfig
	conns    map[platform.ID]*PlatformConnection
	rules    []ModerationRule
	commands []Command
	currency *CurrencySettings
	balances map[string]int64
	giveaway *Giveaway
	entries  []string
	poll     *Poll
	votes    []int
	songs    []SongRequest
	trivia   *TriviaQuestion
	messages []MessageRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conns:    make(map[platform.ID]*PlatformConnection),
		balances: make(map[string]int64),
	}
}

func (f *fakeStore) GetBotConfig(ctx context.Context, userID string) (*BotConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, nil
}

func (f *fakeStore) UpdateBotConfig(ctx context.Context, cfg *BotConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

func (f *fakeStore) GetPlatformConnection(ctx context.Context, userID string, p platform.ID) (*PlatformConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[p], nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, rec *MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *rec)
	return nil
}

func (f *fakeStore) RecentMessages(ctx context.Context, userID string, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) ListCommands(ctx context.Context, userID string) ([]Command, error) {
	return f.commands, nil
}

func (f *fakeStore) ListModerationRules(ctx context.Context, userID string) ([]ModerationRule, error) {
	return f.rules, nil
}

func (f *fakeStore) GetCurrencySettings(ctx context.Context, userID string) (*CurrencySettings, error) {
	return f.currency, nil
}

func (f *fakeStore) GetBalance(ctx context.Context, userID string, p platform.ID, viewer string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[viewer], nil
}

func (f *fakeStore) AdjustBalance(ctx context.Context, userID string, p platform.ID, viewer string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[viewer] += delta
	return f.balances[viewer], nil
}

func (f *fakeStore) TopBalances(ctx context.Context, userID string, p platform.ID, limit int) ([]Balance, error) {
	return nil, nil
}

func (f *fakeStore) ActiveGiveaway(ctx context.Context, userID string) (*Giveaway, error) {
	return f.giveaway, nil
}

func (f *fakeStore) AddGiveawayEntry(ctx context.Context, giveawayID string, p platform.ID, viewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, viewer)
	return nil
}

func (f *fakeStore) ActivePoll(ctx context.Context, userID string) (*Poll, error) {
	return f.poll, nil
}

func (f *fakeStore) AddPollVote(ctx context.Context, pollID string, option int, p platform.ID, viewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, option)
	return nil
}

func (f *fakeStore) AddSongRequest(ctx context.Context, req *SongRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.songs = append(f.songs, *req)
	return nil
}

func (f *fakeStore) NextSongs(ctx context.Context, userID string, limit int) ([]SongRequest, error) {
	return f.songs, nil
}

func (f *fakeStore) RandomTriviaQuestion(ctx context.Context, userID string) (*TriviaQuestion, error) {
	return f.trivia, nil
}

func (f *fakeStore) RecordViewerSample(ctx context.Context, userID string, p platform.ID, count int, at time.Time) error {
	return nil
}

func (f *fakeStore) TouchHeartbeat(ctx context.Context, userID string, at time.Time) error {
	return nil
}

type modCall struct {
	action platform.ModAction
	user   string
}

// fakeConnector is an in-memory platform.Connector.
type fakeConnector struct {
	p platform.ID

	mu          sync.Mutex
	sent        []string
	moderated   []modCall
	connectErr  error
	live        bool
	unsupported bool

	onMsg  func(platform.Message)
	onDrop func(error)
}

func (f *fakeConnector) Platform() platform.ID { return f.p }

func (f *fakeConnector) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeConnector) Disconnect() {}

func (f *fakeConnector) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeConnector) Moderate(ctx context.Context, action platform.ModAction, user, reason string, d time.Duration) error {
	if f.unsupported && action != platform.ActionWarn {
		return platform.ErrUnsupportedAction
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moderated = append(f.moderated, modCall{action: action, user: user})
	return nil
}

func (f *fakeConnector) Live(ctx context.Context) (bool, error) { return f.live, nil }

func (f *fakeConnector) Viewers(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeConnector) OnMessage(fn func(platform.Message)) { f.onMsg = fn }

func (f *fakeConnector) OnDisconnect(fn func(error)) { f.onDrop = fn }

func (f *fakeConnector) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeConnector) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

// fakeGen returns queued outputs in order, repeating the last one.
type fakeGen struct {
	mu      sync.Mutex
	outputs []string
	err     error
	calls   int
}

func (f *fakeGen) Generate(ctx context.Context, p generator.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.outputs) == 0 {
		return "generated content", nil
	}
	out := f.outputs[0]
	if len(f.outputs) > 1 {
		f.outputs = f.outputs[1:]
	}
	return out, nil
}

// eventSink collects observer events.
type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventSink) observe(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventSink) byType(t EventType) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type testRig struct {
	store   *fakeStore
	conn    *fakeConnector
	gen     *fakeGen
	sink    *eventSink
	session *Session
}

// noSchedule swallows timers so heartbeat/poller/scheduler never fire on
// their own during these tests.
func noSchedule(d time.Duration, fn func()) func() { return func() {} }

func newTestRig(t *testing.T, cfg *BotConfig) *testRig {
	t.Helper()
	store := newFakeStore()
	store.cfg = cfg
	store.conns[platform.Twitch] = &PlatformConnection{
		UserID:      "u1",
		Platform:    platform.Twitch,
		Username:    "streambot",
		ChannelID:   "quenby",
		Token:       "tok",
		IsConnected: true,
	}
	conn := &fakeConnector{p: platform.Twitch, live: true}
	gen := &fakeGen{}
	sink := &eventSink{}

	factory := func(pc *PlatformConnection, cfg *BotConfig) (platform.Connector, error) {
		return conn, nil
	}
	s := NewSession("u1", store, gen, factory, sink.observe, Options{
		Schedule: noSchedule,
		Chance:   func() float64 { return 1 }, // never random-chatter
		Intn:     func(n int) int { return 0 },
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	// Elevated mode uses the counted window instead of the inter-message
	// interval, so multi-send tests do not sleep.
	s.run(func() { s.limiter.SetElevated(platform.Twitch, true) })
	return &testRig{store: store, conn: conn, gen: gen, sink: sink, session: s}
}

func baseConfig() *BotConfig {
	return &BotConfig{
		UserID:       "u1",
		StreamerName: "quenby",
		FactKeywords: []string{"funfact"},
	}
}

func (r *testRig) dispatch(t *testing.T, msg platform.Message) {
	t.Helper()
	if ok := r.session.run(func() { r.session.dispatch(msg) }); !ok {
		t.Fatal("session not running")
	}
}

func viewerMsg(text string) platform.Message {
	return platform.Message{
		Platform: platform.Twitch,
		Channel:  "quenby",
		UserID:   "v1",
		Username: "viewer",
		Text:     text,
		At:       time.Now(),
	}
}

func TestStartWithoutConfig(t *testing.T) {
	store := newFakeStore()
	s := NewSession("u1", store, &fakeGen{}, nil, nil, Options{Schedule: noSchedule})
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Start = %v, want ErrNotConfigured", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	if err := rig.session.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := len(rig.sink.byType(EventStatusChanged)); got != 1 {
		t.Errorf("status_changed events = %d, want 1", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.session.Stop()
	rig.session.Stop()
	events := rig.sink.byType(EventStatusChanged)
	if len(events) != 2 {
		t.Fatalf("status_changed events = %d, want 2 (start + stop)", len(events))
	}
	if events[1].Data["active"] != false {
		t.Errorf("final status event data = %v", events[1].Data)
	}
}

func TestModerationBeforeCommand(t *testing.T) {
	cfg := baseConfig()
	rig := newTestRig(t, cfg)
	rig.session.run(func() {
		rig.session.rules = []ModerationRule{{Pattern: "badword", Action: platform.ActionTimeout, TimeoutSeconds: 60}}
		rig.session.commands = map[string]Command{"hello": {Name: "hello", Response: "hi!"}}
	})

	rig.dispatch(t, viewerMsg("!hello badword"))

	rig.conn.mu.Lock()
	mods, sends := len(rig.conn.moderated), len(rig.conn.sent)
	rig.conn.mu.Unlock()
	if mods != 1 {
		t.Fatalf("moderation calls = %d, want 1", mods)
	}
	if sends != 0 {
		t.Errorf("command executed despite moderation: %d sends", sends)
	}
	if got := len(rig.sink.byType(EventModerationAction)); got != 1 {
		t.Errorf("moderation_action events = %d, want 1", got)
	}
}

func TestModerationExemptsModerators(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.session.run(func() {
		rig.session.rules = []ModerationRule{{Pattern: "badword", Action: platform.ActionBan}}
	})
	msg := viewerMsg("badword")
	msg.Role.Moderator = true
	rig.dispatch(t, msg)
	rig.conn.mu.Lock()
	defer rig.conn.mu.Unlock()
	if len(rig.conn.moderated) != 0 {
		t.Error("moderator was moderated")
	}
}

func TestModerationDegradesToWarn(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.conn.unsupported = true
	rig.session.run(func() {
		rig.session.rules = []ModerationRule{{Pattern: "badword", Action: platform.ActionBan}}
	})
	rig.dispatch(t, viewerMsg("badword here"))
	rig.conn.mu.Lock()
	defer rig.conn.mu.Unlock()
	if len(rig.conn.moderated) != 1 || rig.conn.moderated[0].action != platform.ActionWarn {
		t.Fatalf("moderated = %+v, want one warn", rig.conn.moderated)
	}
}

func TestCustomCommandRoleGate(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.session.run(func() {
		rig.session.commands = map[string]Command{
			"secret": {Name: "secret", Response: "mods only", MinRole: "moderator"},
		}
	})

	rig.dispatch(t, viewerMsg("!secret"))
	if rig.conn.sentCount() != 0 {
		t.Fatal("role-gated command ran for a plain viewer")
	}

	msg := viewerMsg("!secret")
	msg.Role.Moderator = true
	rig.dispatch(t, msg)
	if rig.conn.lastSent() != "mods only" {
		t.Errorf("last sent = %q", rig.conn.lastSent())
	}
}

func TestCustomCommandCooldown(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.session.run(func() {
		rig.session.commands = map[string]Command{
			"hello": {Name: "hello", Response: "hi!", CooldownSeconds: 60},
		}
	})
	rig.dispatch(t, viewerMsg("!hello"))
	rig.dispatch(t, viewerMsg("!hello"))
	if got := rig.conn.sentCount(); got != 1 {
		t.Errorf("sends = %d, want 1 (second blocked by cooldown)", got)
	}
}

func TestTriviaRound(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.store.trivia = &TriviaQuestion{ID: "q1", Question: "capital of France?", Answer: "Paris", Reward: 50}

	rig.dispatch(t, viewerMsg("!trivia"))
	if got := rig.conn.sentCount(); got != 1 {
		t.Fatalf("question not posted, sends = %d", got)
	}

	rig.dispatch(t, viewerMsg("london"))
	if got := rig.conn.sentCount(); got != 1 {
		t.Fatalf("wrong answer produced output, sends = %d", got)
	}

	rig.dispatch(t, viewerMsg("paris"))
	if got := rig.conn.sentCount(); got != 2 {
		t.Fatalf("correct answer not announced, sends = %d", got)
	}
	rig.store.mu.Lock()
	reward := rig.store.balances["viewer"]
	rig.store.mu.Unlock()
	if reward != 50 {
		t.Errorf("reward = %d, want 50", reward)
	}
}

func TestGiveawayEntry(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.store.giveaway = &Giveaway{ID: "g1", Keyword: "!win", Prize: "a mug", Active: true}

	rig.dispatch(t, viewerMsg("!win"))

	if rig.conn.sentCount() != 0 {
		t.Error("giveaway entry produced chat output")
	}
	if got := len(rig.sink.byType(EventGiveawayEntry)); got != 1 {
		t.Errorf("giveaway_entry events = %d, want 1", got)
	}
	rig.store.mu.Lock()
	defer rig.store.mu.Unlock()
	if len(rig.store.entries) != 1 || rig.store.entries[0] != "viewer" {
		t.Errorf("entries = %v", rig.store.entries)
	}
}

func TestFactKeywordTrigger(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.gen.outputs = []string{"did you know that badgers are nocturnal?"}

	rig.dispatch(t, viewerMsg("give me a funfact please"))
	if rig.conn.sentCount() != 1 {
		t.Fatalf("fact not posted, sends = %d", rig.conn.sentCount())
	}
	if got := len(rig.sink.byType(EventNewMessage)); got != 1 {
		t.Errorf("new_message events = %d, want 1", got)
	}
}

func TestDedupeRegeneratesThenPostsAnyway(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.gen.outputs = []string{"same fact"}

	if err := rig.session.PostManualFact(nil); err != nil {
		t.Fatalf("first post: %v", err)
	}
	rig.gen.mu.Lock()
	rig.gen.calls = 0
	rig.gen.mu.Unlock()

	// Cooldowns would block a second fact; clear them to isolate dedup.
	rig.session.run(func() { rig.session.cooldowns.Reset() })

	if err := rig.session.PostManualFact(nil); err != nil {
		t.Fatalf("second post: %v", err)
	}
	rig.gen.mu.Lock()
	calls := rig.gen.calls
	rig.gen.mu.Unlock()
	if calls != DefaultGenerateRetries {
		t.Errorf("generator calls = %d, want %d (regenerate on collision)", calls, DefaultGenerateRetries)
	}
	if got := rig.conn.sentCount(); got != 2 {
		t.Errorf("sends = %d, want 2 (duplicate posted after retries)", got)
	}
}

func TestManualPostRespectsCooldown(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.gen.outputs = []string{"fact one", "fact two"}

	if err := rig.session.PostManualFact(nil); err != nil {
		t.Fatalf("first post: %v", err)
	}
	// Second post lands inside the cooldown window: nothing is sent, no
	// error either.
	if err := rig.session.PostManualFact(nil); err != nil {
		t.Fatalf("second post: %v", err)
	}
	if got := rig.conn.sentCount(); got != 1 {
		t.Errorf("sends = %d, want 1 (second blocked by cooldown)", got)
	}
}

func TestConversationOnQuestion(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.gen.outputs = []string{"great question!"}

	rig.dispatch(t, viewerMsg("what game is this?"))
	if rig.conn.sentCount() != 1 {
		t.Fatalf("no reply sent")
	}
	if got := rig.conn.lastSent(); got != "@viewer great question!" {
		t.Errorf("reply = %q", got)
	}
}

func TestOwnMessagesIgnored(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	msg := viewerMsg("what is this?")
	msg.Username = "streambot"
	rig.dispatch(t, msg)
	if rig.conn.sentCount() != 0 {
		t.Error("bot replied to itself")
	}
}

func TestStopClearsTrackerState(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.gen.outputs = []string{"fact one"}
	if err := rig.session.PostManualFact(nil); err != nil {
		t.Fatalf("post: %v", err)
	}

	if err := rig.session.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	// After restart the cooldown and dedup state are fresh: the same text
	// posts again immediately.
	rig.gen.mu.Lock()
	rig.gen.outputs = []string{"fact one"}
	rig.gen.calls = 0
	rig.gen.mu.Unlock()
	if err := rig.session.PostManualFact(nil); err != nil {
		t.Fatalf("post after restart: %v", err)
	}
	rig.gen.mu.Lock()
	calls := rig.gen.calls
	rig.gen.mu.Unlock()
	if calls != 1 {
		t.Errorf("generator calls after restart = %d, want 1 (no stale dedup entry)", calls)
	}
	if got := rig.conn.sentCount(); got != 2 {
		t.Errorf("sends = %d, want 2", got)
	}
}

func TestPostManualFactStoppedSession(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.session.Stop()
	if err := rig.session.PostManualFact(nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("PostManualFact = %v, want ErrNoSession", err)
	}
}

func TestPollVote(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.store.poll = &Poll{ID: "p1", Question: "next game?", Options: []string{"peggle", "doom"}, Active: true}

	rig.dispatch(t, viewerMsg("!vote 2"))
	rig.store.mu.Lock()
	votes := append([]int(nil), rig.store.votes...)
	rig.store.mu.Unlock()
	if len(votes) != 1 || votes[0] != 2 {
		t.Fatalf("votes = %v, want [2]", votes)
	}
}

func TestSongRequestQueue(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.dispatch(t, viewerMsg("!sr never gonna give you up"))
	rig.store.mu.Lock()
	songs := len(rig.store.songs)
	rig.store.mu.Unlock()
	if songs != 1 {
		t.Fatalf("queued songs = %d, want 1", songs)
	}
	rig.dispatch(t, viewerMsg("!songs"))
	if rig.conn.sentCount() != 2 {
		t.Errorf("sends = %d, want 2 (confirm + queue listing)", rig.conn.sentCount())
	}
}

func TestGambleSettlement(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	rig.store.balances["viewer"] = 100

	// Intn returns 0 in the rig: the wager is lost.
	rig.dispatch(t, viewerMsg("!gamble 40"))
	rig.store.mu.Lock()
	balance := rig.store.balances["viewer"]
	rig.store.mu.Unlock()
	if balance != 60 {
		t.Errorf("balance = %d, want 60", balance)
	}
}

func TestDuelTimesOutLoser(t *testing.T) {
	rig := newTestRig(t, baseConfig())
	// Intn 0 keeps the sender as winner; the target loses.
	rig.dispatch(t, viewerMsg("!duel @rival"))
	rig.conn.mu.Lock()
	defer rig.conn.mu.Unlock()
	if len(rig.conn.moderated) != 1 || rig.conn.moderated[0].user != "rival" ||
		rig.conn.moderated[0].action != platform.ActionTimeout {
		t.Fatalf("moderated = %+v, want rival timeout", rig.conn.moderated)
	}
}
