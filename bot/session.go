// Package bot implements per-user chat bot sessions: one Session owns the
// live platform connectors for a user, serializes every callback onto a
// session-local event loop, and routes inbound chat through the dispatch
// pipeline. Sessions for different users are fully independent.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quenby/streamwarden/cooldown"
	"github.com/quenby/streamwarden/dedupe"
	"github.com/quenby/streamwarden/generator"
	"github.com/quenby/streamwarden/platform"
	"github.com/quenby/streamwarden/ratelimit"
	"github.com/quenby/streamwarden/reconnect"
	"github.com/quenby/streamwarden/telemetry"
)

// storeTimeout bounds individual Storage calls made from the event loop.
const storeTimeout = 10 * time.Second

// Options tunes a Session. Zero values take defaults.
type Options struct {
	// MaxSendDelay bounds how long a send waits on the rate limiter
	// before failing with a ratelimit.Error instead.
	MaxSendDelay       time.Duration
	ReconnectMaxTries  int
	ViewerPollInterval time.Duration
	HeartbeatInterval  time.Duration
	DedupeCapacity     int
	DedupeTTL          time.Duration

	// Now, Schedule, Chance, and Intn are injectable for tests.
	Now      func() time.Time
	Schedule reconnect.Schedule
	Chance   func() float64
	Intn     func(n int) int
}

func (o *Options) normalize() {
	if o.MaxSendDelay <= 0 {
		o.MaxSendDelay = 3 * time.Second
	}
	if o.ReconnectMaxTries <= 0 {
		o.ReconnectMaxTries = 5
	}
	if o.ViewerPollInterval <= 0 {
		o.ViewerPollInterval = time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Schedule == nil {
		o.Schedule = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	if o.Chance == nil {
		//nolint:gosec // G404: math/rand is sufficient for a reply-chance roll
		o.Chance = rand.Float64
	}
	if o.Intn == nil {
		//nolint:gosec // G404: math/rand is sufficient for game outcomes
		o.Intn = rand.Intn
	}
}

// Session is one user's bot worker. All connector callbacks, timers, and
// reconnect retries are serialized onto a single event loop, so the tracker
// state below needs no locking of its own.
type Session struct {
	userID   string
	store    Storage
	gen      ContentGenerator
	factory  ConnectorFactory
	observer Observer
	opts     Options
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	tasks   chan func()
	quit    chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	// Event-loop-owned state; touched only from the loop goroutine.
	cfg          *BotConfig
	rules        []ModerationRule
	commands     map[string]Command
	currency     *CurrencySettings
	connectors   map[platform.ID]platform.Connector
	channels     map[platform.ID]string
	botNames     map[platform.ID]string
	supervisors  map[platform.ID]*reconnect.Supervisor
	ready        map[platform.ID]bool
	limiter      *ratelimit.Limiter
	cooldowns    *cooldown.Tracker
	cmdCooldowns *cooldown.Commands
	dedupe       *dedupe.Cache
	poster       *ScheduledPoster
	cancelTimers []func()
	trivia       map[platform.ID]*triviaRound
}

// NewSession builds a session; Start brings it up.
func NewSession(userID string, store Storage, gen ContentGenerator, factory ConnectorFactory, observer Observer, opts Options) *Session {
	opts.normalize()
	if observer == nil {
		observer = func(Event) {}
	}
	return &Session{
		userID:   userID,
		store:    store,
		gen:      gen,
		factory:  factory,
		observer: observer,
		opts:     opts,
		log:      slog.Default().With(slog.String("component", "bot"), slog.String("user", userID)),
	}
}

// Running reports whether the session is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start loads configuration and brings up a connector for every platform
// whose stored connection is marked connected. A platform that fails to
// connect goes under reconnect supervision; the session itself becomes
// active as long as configuration exists, which also covers the degraded
// manual-posting mode when no platform came up. Start on a running session
// is a no-op.
func (s *Session) Start(ctx context.Context) error {
	if s.Running() {
		return nil
	}

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.cfg = cfg
	s.tasks = make(chan func(), 256)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	go s.loop()
	s.mu.Unlock()

	s.run(func() { s.setup() })
	telemetry.ActiveSessions.Inc()
	return nil
}

// Stop tears the session down: cancels every timer, disconnects every
// connector, and clears all tracker state. Idempotent; no timer fires
// after Stop returns.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	done := s.done
	s.mu.Unlock()

	<-done
	telemetry.ActiveSessions.Dec()
}

// Restart is Stop followed by Start.
func (s *Session) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// Status is a point-in-time snapshot for the admin surface.
type Status struct {
	UserID    string        `json:"user_id"`
	Active    bool          `json:"active"`
	Platforms []platform.ID `json:"platforms"`
}

// SessionStatus reports which platforms are currently ready.
func (s *Session) SessionStatus() Status {
	st := Status{UserID: s.userID}
	ok := s.run(func() {
		st.Active = true
		for _, p := range platform.All() {
			if s.ready[p] {
				st.Platforms = append(st.Platforms, p)
			}
		}
	})
	if !ok {
		st.Active = false
	}
	return st
}

// PostManualFact generates one piece of content and posts it to the given
// platforms immediately, bypassing the scheduler's liveness gate but still
// subject to rate limits and cooldowns. Empty targets means every ready
// platform.
func (s *Session) PostManualFact(targets []platform.ID) error {
	var err error
	ok := s.run(func() { err = s.generateAndPost(targets, "") })
	if !ok {
		return ErrNoSession
	}
	return err
}

// loopChans snapshots the loop channels; ok is false when not running.
func (s *Session) loopChans() (tasks chan func(), quit, done chan struct{}, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, nil, nil, false
	}
	return s.tasks, s.quit, s.done, true
}

// post hands fn to the event loop without waiting. Tasks submitted after
// Stop are dropped.
func (s *Session) post(fn func()) {
	tasks, quit, _, ok := s.loopChans()
	if !ok {
		return
	}
	select {
	case tasks <- fn:
	case <-quit:
	}
}

// run hands fn to the event loop and waits for it to finish. Returns false
// if the session is stopped.
func (s *Session) run(fn func()) bool {
	tasks, quit, done, ok := s.loopChans()
	if !ok {
		return false
	}
	doneCh := make(chan struct{})
	select {
	case tasks <- func() { fn(); close(doneCh) }:
	case <-quit:
		return false
	}
	select {
	case <-doneCh:
		return true
	case <-done:
		return false
	}
}

func (s *Session) loop() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			s.teardown()
			close(s.done)
			return
		}
	}
}

// loadConfig fetches and normalizes the user's bot config.
func (s *Session) loadConfig(ctx context.Context) (*BotConfig, error) {
	ctx, cancelLoad := context.WithTimeout(ctx, storeTimeout)
	defer cancelLoad()
	cfg, err := s.store.GetBotConfig(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("load bot config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNotConfigured
	}
	cfg.Normalize()
	return cfg, nil
}

// setup runs on the event loop right after Start: builds trackers, loads
// dispatch snapshots, starts connectors, and arms the timers.
func (s *Session) setup() {
	s.limiter = ratelimit.New(ratelimit.DefaultPolicies())
	s.cooldowns = cooldown.NewTracker(cooldown.DefaultDurations())
	s.cmdCooldowns = cooldown.NewCommands(0)
	s.dedupe = dedupe.New(s.opts.DedupeCapacity, s.opts.DedupeTTL)
	s.connectors = make(map[platform.ID]platform.Connector)
	s.channels = make(map[platform.ID]string)
	s.botNames = make(map[platform.ID]string)
	s.supervisors = make(map[platform.ID]*reconnect.Supervisor)
	s.ready = make(map[platform.ID]bool)
	s.trivia = make(map[platform.ID]*triviaRound)
	s.cancelTimers = nil

	s.loadDispatchState()

	for _, p := range platform.All() {
		s.startConnector(p)
	}

	s.poster = NewScheduledPoster(s.cfg, s.opts.Schedule, func() {
		s.post(func() { s.scheduledFire() })
	})
	s.poster.Start()
	s.armRepeating(s.opts.HeartbeatInterval, s.heartbeat)
	s.armRepeating(s.opts.ViewerPollInterval, s.pollViewers)

	s.emit(EventStatusChanged, "", map[string]any{
		"active":    true,
		"platforms": s.readyPlatforms(),
	})
}

func (s *Session) loadDispatchState() {
	ctx, cancelLoad := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelLoad()

	rules, err := s.store.ListModerationRules(ctx, s.userID)
	if err != nil {
		s.log.Error("load moderation rules", slog.Any("err", err))
	}
	s.rules = rules

	cmds, err := s.store.ListCommands(ctx, s.userID)
	if err != nil {
		s.log.Error("load commands", slog.Any("err", err))
	}
	s.commands = make(map[string]Command, len(cmds))
	for _, c := range cmds {
		s.commands[strings.ToLower(c.Name)] = c
	}

	cur, err := s.store.GetCurrencySettings(ctx, s.userID)
	if err != nil {
		s.log.Error("load currency settings", slog.Any("err", err))
	}
	if cur == nil {
		cur = &CurrencySettings{Name: "points", GambleMin: 1, GambleMax: 1000}
	}
	s.currency = cur
}

// startConnector builds and connects one platform if the user has an
// active connection for it, and places it under reconnect supervision.
func (s *Session) startConnector(p platform.ID) {
	ctx, cancelLoad := context.WithTimeout(s.ctx, storeTimeout)
	conn, err := s.store.GetPlatformConnection(ctx, s.userID, p)
	cancelLoad()
	if err != nil {
		s.log.Error("load platform connection", slog.String("platform", string(p)), slog.Any("err", err))
		return
	}
	if conn == nil || !conn.IsConnected {
		return
	}

	c, err := s.factory(conn, s.cfg)
	if err != nil {
		s.log.Error("build connector", slog.String("platform", string(p)), slog.Any("err", err))
		s.emit(EventError, p, map[string]any{"error": err.Error(), "stage": "build"})
		return
	}

	sup := reconnect.New(p, s.opts.ReconnectMaxTries,
		s.opts.Schedule,
		func() { s.post(func() { s.tryConnect(p) }) },
		func(p platform.ID, attempts int) {
			telemetry.ReconnectsExhausted.WithLabelValues(string(p)).Inc()
			s.emit(EventError, p, map[string]any{
				"error":    "reconnect attempts exhausted",
				"attempts": attempts,
				"terminal": true,
			})
		},
	)

	c.OnMessage(func(msg platform.Message) {
		s.post(func() { s.dispatch(msg) })
	})
	c.OnDisconnect(func(err error) {
		s.post(func() { s.connectorDropped(p, err) })
	})
	if en, ok := c.(interface{ OnElevated(func(bool)) }); ok {
		en.OnElevated(func(elevated bool) {
			s.post(func() { s.limiter.SetElevated(p, elevated) })
		})
	}

	s.connectors[p] = c
	s.botNames[p] = strings.ToLower(conn.Username)
	if conn.ChannelID != "" {
		s.channels[p] = strings.ToLower(conn.ChannelID)
	} else {
		s.channels[p] = strings.ToLower(s.cfg.StreamerName)
	}
	s.supervisors[p] = sup
	s.tryConnect(p)
}

// tryConnect runs one connect attempt and reports the outcome to the
// platform's supervisor.
func (s *Session) tryConnect(p platform.ID) {
	c := s.connectors[p]
	sup := s.supervisors[p]
	if c == nil || sup == nil {
		return
	}
	telemetry.ReconnectAttempts.WithLabelValues(string(p)).Inc()
	if err := c.Connect(s.ctx); err != nil {
		s.ready[p] = false
		telemetry.ConnectorsReady.WithLabelValues(string(p)).Set(0)
		s.log.Warn("connect failed", slog.String("platform", string(p)), slog.Any("err", err))
		s.emit(EventError, p, map[string]any{"error": err.Error(), "stage": "connect"})
		sup.ConnectFailed(err)
		return
	}
	s.ready[p] = true
	telemetry.ConnectorsReady.WithLabelValues(string(p)).Set(1)
	sup.ConnectSucceeded()
}

// connectorDropped handles an unexpected disconnect while the session is
// active; explicit disconnects during teardown never reach here.
func (s *Session) connectorDropped(p platform.ID, err error) {
	s.ready[p] = false
	telemetry.ConnectorsReady.WithLabelValues(string(p)).Set(0)
	s.emit(EventError, p, map[string]any{"error": fmt.Sprintf("connection lost: %v", err)})
	if sup := s.supervisors[p]; sup != nil {
		sup.ConnectFailed(err)
	}
}

// teardown runs on the event loop when Stop is requested. Order matters:
// timers first so nothing re-enters, then connectors, then state.
func (s *Session) teardown() {
	if s.poster != nil {
		s.poster.Stop()
	}
	for _, cancelTimer := range s.cancelTimers {
		cancelTimer()
	}
	s.cancelTimers = nil
	for _, sup := range s.supervisors {
		sup.Stop()
	}
	for p, c := range s.connectors {
		c.Disconnect()
		telemetry.ConnectorsReady.WithLabelValues(string(p)).Set(0)
	}
	s.connectors = nil
	s.channels = nil
	s.botNames = nil
	s.supervisors = nil
	s.ready = nil
	if s.limiter != nil {
		s.limiter.Reset()
	}
	if s.cooldowns != nil {
		s.cooldowns.Reset()
	}
	if s.cmdCooldowns != nil {
		s.cmdCooldowns.Reset()
	}
	if s.dedupe != nil {
		s.dedupe.Reset()
	}
	s.trivia = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.emit(EventStatusChanged, "", map[string]any{"active": false})
	s.log.Info("session stopped")
}

// armRepeating schedules fn on a repeating interval; the chain is broken
// by teardown cancelling the pending timer.
func (s *Session) armRepeating(interval time.Duration, fn func()) {
	idx := len(s.cancelTimers)
	s.cancelTimers = append(s.cancelTimers, func() {})
	var arm func()
	arm = func() {
		cancelTimer := s.opts.Schedule(interval, func() {
			s.post(func() {
				fn()
				arm()
			})
		})
		s.cancelTimers[idx] = cancelTimer
	}
	arm()
}

func (s *Session) heartbeat() {
	ctx, cancelOp := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelOp()
	if err := s.store.TouchHeartbeat(ctx, s.userID, s.opts.Now()); err != nil {
		s.log.Warn("heartbeat", slog.Any("err", err))
	}
}

// pollViewers samples viewer counts from every ready connector.
func (s *Session) pollViewers() {
	for p, c := range s.connectors {
		if !s.ready[p] {
			continue
		}
		count, err := c.Viewers(s.ctx)
		if err != nil {
			s.log.Warn("viewer poll", slog.String("platform", string(p)), slog.Any("err", err))
			continue
		}
		ctx, cancelOp := context.WithTimeout(s.ctx, storeTimeout)
		if err := s.store.RecordViewerSample(ctx, s.userID, p, count, s.opts.Now()); err != nil {
			s.log.Warn("record viewer sample", slog.Any("err", err))
		}
		cancelOp()
	}
}

// scheduledFire is the ScheduledPoster callback: posts generated content to
// every ready platform where the streamer is live.
func (s *Session) scheduledFire() {
	targets := s.livePlatforms()
	if len(targets) == 0 {
		s.log.Debug("scheduled post skipped, streamer offline")
		return
	}
	if err := s.generateAndPost(targets, ""); err != nil {
		s.log.Warn("scheduled post", slog.Any("err", err))
	}
}

// livePlatforms returns the ready platforms whose liveness signal says the
// streamer is currently live.
func (s *Session) livePlatforms() []platform.ID {
	var out []platform.ID
	for p, c := range s.connectors {
		if !s.ready[p] {
			continue
		}
		live, err := c.Live(s.ctx)
		if err != nil {
			// An established connector is itself a liveness signal when
			// the status API is unavailable.
			s.log.Warn("liveness check", slog.String("platform", string(p)), slog.Any("err", err))
			continue
		}
		if live {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) readyPlatforms() []string {
	var out []string
	for _, p := range platform.All() {
		if s.ready[p] {
			out = append(out, string(p))
		}
	}
	return out
}

// sendText delivers one outbound line, waiting out a short rate-limit
// delay or failing with ratelimit.Error when the wait is too long. On
// success the send is recorded in the rate window and audit log.
func (s *Session) sendText(p platform.ID, text, kind string) error {
	c := s.connectors[p]
	if c == nil || !s.ready[p] {
		return &platform.ConnError{Platform: p, Op: "send", Err: fmt.Errorf("platform not ready")}
	}
	d := s.limiter.Check(p)
	if !d.Allowed {
		if d.Wait > s.opts.MaxSendDelay {
			telemetry.SendsRateLimited.WithLabelValues(string(p)).Inc()
			return &ratelimit.Error{Platform: p, Wait: d.Wait}
		}
		time.Sleep(d.Wait)
	}
	if err := c.Send(s.ctx, text); err != nil {
		s.recordMessage(p, kind, text, err)
		return err
	}
	s.limiter.Record(p)
	telemetry.MessagesSent.WithLabelValues(string(p)).Inc()
	s.recordMessage(p, kind, text, nil)
	s.emit(EventNewMessage, p, map[string]any{"text": text, "kind": kind})
	return nil
}

func (s *Session) recordMessage(p platform.ID, kind, text string, sendErr error) {
	rec := &MessageRecord{
		ID:       uuid.NewString(),
		UserID:   s.userID,
		Platform: p,
		Kind:     kind,
		Text:     text,
		PostedAt: s.opts.Now(),
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	ctx, cancelOp := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelOp()
	if err := s.store.CreateMessage(ctx, rec); err != nil {
		s.log.Warn("record message", slog.Any("err", err))
	}
}

// generateAndPost produces one piece of content and posts it to targets,
// regenerating a bounded number of times on dedup collisions and posting
// anyway if the last attempt still collides. Cooldowns gate each platform
// separately. Empty targets means every ready platform.
func (s *Session) generateAndPost(targets []platform.ID, topic string) error {
	if len(targets) == 0 {
		for _, p := range platform.All() {
			if s.ready[p] {
				targets = append(targets, p)
			}
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("no platform ready")
	}

	text, err := s.generateFresh(topic)
	if err != nil {
		telemetry.GenerationFailures.Inc()
		s.emit(EventError, "", map[string]any{"error": err.Error(), "stage": "generate"})
		s.recordMessage(targets[0], "fact", "", err)
		return err
	}

	var firstErr error
	posted := false
	for _, p := range targets {
		if !s.ready[p] {
			continue
		}
		if cd := s.cooldowns.Check(p, s.channelOf(p)); !cd.Allowed {
			s.log.Debug("post on cooldown", slog.String("platform", string(p)), slog.Duration("wait", cd.Wait))
			continue
		}
		if err := s.sendText(p, text, "fact"); err != nil {
			s.log.Warn("fact post failed", slog.String("platform", string(p)), slog.Any("err", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.cooldowns.Record(p, s.channelOf(p))
		telemetry.FactsPosted.WithLabelValues(string(p)).Inc()
		posted = true
	}
	if posted {
		s.dedupe.Record(text)
	}
	if !posted && firstErr != nil {
		return firstErr
	}
	return nil
}

// generateFresh calls the generator, retrying on failure or a dedup hit up
// to the configured cap, then keeps the last result even if duplicated.
func (s *Session) generateFresh(topic string) (string, error) {
	recent := s.recentForDedup()
	prompt := generator.Prompt{
		Kind:     "fact",
		Streamer: s.cfg.StreamerName,
		Topic:    s.cfg.Topic,
		Recent:   recent,
	}
	if topic != "" {
		prompt.Topic = topic
	}

	var text string
	var lastErr error
	for attempt := 0; attempt < s.cfg.GenerateRetries; attempt++ {
		out, err := s.generate(prompt)
		if err != nil {
			lastErr = err
			continue
		}
		text = out
		if !s.dedupe.IsDuplicate(text) {
			return text, nil
		}
		telemetry.DedupeHits.Inc()
	}
	if text == "" {
		if lastErr == nil {
			lastErr = fmt.Errorf("generator returned nothing")
		}
		return "", fmt.Errorf("content generation: %w", lastErr)
	}
	// Still a duplicate after every retry; post it rather than loop.
	s.log.Info("posting duplicate content after retries", slog.Int("retries", s.cfg.GenerateRetries))
	return text, nil
}

func (s *Session) generate(prompt generator.Prompt) (string, error) {
	var out string
	var err error
	telemetry.TimeFunc(telemetry.GenerationDuration, func() {
		out, err = s.gen.Generate(s.ctx, prompt)
	})
	return out, err
}

func (s *Session) recentForDedup() []string {
	ctx, cancelOp := context.WithTimeout(s.ctx, storeTimeout)
	defer cancelOp()
	recent, err := s.store.RecentMessages(ctx, s.userID, 10)
	if err != nil {
		s.log.Warn("load recent messages", slog.Any("err", err))
	}
	return recent
}

// channelOf names the channel a platform posts to; platforms carry one
// channel per connection.
func (s *Session) channelOf(p platform.ID) string {
	if ch := s.channels[p]; ch != "" {
		return ch
	}
	return strings.ToLower(s.cfg.StreamerName)
}

func (s *Session) emit(typ EventType, p platform.ID, data map[string]any) {
	s.observer(newEvent(typ, s.userID, p, s.opts.Now(), data))
}

// storeCtx derives a bounded context for one Storage call.
func (s *Session) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, storeTimeout)
}
