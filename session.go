package relay

import "context"

// Session wires the full client stack together: the REST client, a realtime
// connection, the timeline store, presence tracker, assistant session, the
// router feeding inbound events into them, and the dispatcher for outbound
// actions. Most applications construct one Session per logged-in user and
// keep it for the lifetime of the login.
type Session struct {
	API      *Client
	Realtime *RealtimeClient
	Timeline *Timeline
	Presence *Tracker
	Bot      *BotSession
	Actions  *Dispatcher

	router *Router
	bound  bool
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	pageSize int
	notifier Notifier
}

// WithHistoryPageSize sets the page size used for timeline history fetches.
func WithHistoryPageSize(n int) SessionOption {
	return func(c *sessionConfig) { c.pageSize = n }
}

// WithSessionNotifier installs a sink for user-facing router notices.
func WithSessionNotifier(n Notifier) SessionOption {
	return func(c *sessionConfig) { c.notifier = n }
}

// NewSession assembles a session for the user named in config. The realtime
// connection is not opened until Start.
func NewSession(api *Client, config *RealtimeConfig, opts ...SessionOption) *Session {
	var sc sessionConfig
	for _, opt := range opts {
		opt(&sc)
	}

	var tlOpts []TimelineOption
	if sc.pageSize > 0 {
		tlOpts = append(tlOpts, WithPageSize(sc.pageSize))
	}

	s := &Session{
		API:      api,
		Realtime: api.Realtime(config),
		Timeline: NewTimeline(api.Messages, tlOpts...),
		Presence: NewTracker(),
		Bot:      NewBotSession(),
	}
	s.Actions = NewDispatcher(api, s.Realtime, s.Timeline, s.Bot, config.UserID)

	var rOpts []RouterOption
	if sc.notifier != nil {
		rOpts = append(rOpts, WithNotifier(sc.notifier))
	}
	s.router = NewRouter(s.Timeline, s.Presence, s.Bot, rOpts...)
	return s
}

// Start binds the router and opens the realtime connection. Binding happens
// on every Start because Close clears all registered handlers.
func (s *Session) Start(ctx context.Context) error {
	if !s.bound {
		s.router.Bind(s.Realtime)
		s.bound = true
	}
	return s.Realtime.Connect(ctx)
}

// Close tears down the realtime connection and unregisters all handlers.
// Local timeline, presence, and assistant state are left intact for
// inspection; construct a new Session to reconnect with fresh state.
func (s *Session) Close() error {
	s.bound = false
	return s.Realtime.Disconnect()
}
