package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/ContactPipe/internal/events"
	"github.com/BTreeMap/ContactPipe/internal/models"
	"github.com/BTreeMap/ContactPipe/internal/store"
)

// FindLimit caps the results of the find command.
const FindLimit = 5

// Commands understood by the engine.
const (
	CommandStart  = "start"
	CommandHelp   = "help"
	CommandAdd    = "add"
	CommandCancel = "cancel"
	CommandFind   = "find"
)

// Records is the remote record store.
type Records interface {
	Create(ctx context.Context, draft models.Draft) (models.RecordRef, error)
	Update(ctx context.Context, pageID string, draft models.Draft) (models.RecordRef, error)
	Search(ctx context.Context, query string, limit int) ([]models.MatchCandidate, error)
}

// DuplicateFinder looks up existing records similar to a draft.
type DuplicateFinder interface {
	FindCandidates(ctx context.Context, email, name, city string) ([]models.MatchCandidate, error)
}

// Stats are the engine counters exposed on /metrics.
type Stats struct {
	Creations          int64 `json:"creations"`
	Updates            int64 `json:"updates"`
	DuplicatesDetected int64 `json:"duplicates_detected"`
	Searches           int64 `json:"searches"`
	Errors             int64 `json:"errors"`
	Cancellations      int64 `json:"cancellations"`
	Unauthorized       int64 `json:"unauthorized"`
	ActiveSessions     int   `json:"active_sessions"`
}

type counters struct {
	creations, updates, duplicates, searches, errors, cancellations, unauthorized atomic.Int64
}

// EngineOpts holds optional collaborators of the Engine.
type EngineOpts struct {
	Region    string
	AllowList []string
	Audit     store.AuditRepo
	Publisher events.Publisher
}

// EngineOption configures the Engine.
type EngineOption func(*EngineOpts)

// WithRegion sets the default phone region.
func WithRegion(region string) EngineOption {
	return func(o *EngineOpts) { o.Region = region }
}

// WithAllowList sets the user ids allowed to use the bot.
func WithAllowList(ids []string) EngineOption {
	return func(o *EngineOpts) { o.AllowList = ids }
}

// WithAudit records every remote write in repo.
func WithAudit(repo store.AuditRepo) EngineOption {
	return func(o *EngineOpts) { o.Audit = repo }
}

// WithPublisher publishes record events through p.
func WithPublisher(p events.Publisher) EngineOption {
	return func(o *EngineOpts) { o.Publisher = p }
}

// Engine runs conversations: it gates access, serializes events per user,
// drives the Machine and executes the effects it requests.
type Engine struct {
	machine   *Machine
	sessions  SessionStore
	resolver  DuplicateFinder
	records   Records
	audit     store.AuditRepo
	publisher events.Publisher
	allowed   map[string]bool

	// userLocks holds one mutex per user id. The allow-list bounds its size.
	userLocks sync.Map
	stats     counters
}

// NewEngine creates an Engine. An empty allow-list refuses everyone.
func NewEngine(sessions SessionStore, resolver DuplicateFinder, records Records, opts ...EngineOption) *Engine {
	var cfg EngineOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &Engine{
		machine:   NewMachine(cfg.Region),
		sessions:  sessions,
		resolver:  resolver,
		records:   records,
		audit:     cfg.Audit,
		publisher: cfg.Publisher,
		allowed:   make(map[string]bool),
	}
	if e.publisher == nil {
		e.publisher = events.NopPublisher{}
	}
	for _, id := range cfg.AllowList {
		if id = strings.TrimSpace(id); id != "" {
			e.allowed[id] = true
		}
	}
	slog.Debug("Engine created", "allowed_users", len(e.allowed), "region", e.machine.region)
	return e
}

// IsAllowed reports whether userID may use the bot.
func (e *Engine) IsAllowed(userID string) bool {
	return e.allowed[userID]
}

// Handle processes one inbound event and returns the replies to send.
// Events of the same user are processed one at a time, except the cancel
// command which never waits.
func (e *Engine) Handle(ctx context.Context, ev models.Event) []models.Reply {
	if !e.IsAllowed(ev.UserID) {
		e.stats.unauthorized.Add(1)
		slog.Warn("Engine Handle: unauthorized user", "user_id", ev.UserID, "user_name", ev.UserName, "kind", ev.Kind)
		return []models.Reply{{ChatID: ev.ChatID, Text: MsgAccessDenied}}
	}

	if ev.Kind == models.EventCommand && ev.Command == CommandCancel {
		return e.cancel(ctx, ev)
	}

	unlock := e.lockUser(ev.UserID)
	defer unlock()

	if ev.Kind == models.EventCommand {
		return e.command(ctx, ev)
	}
	return e.step(ctx, ev)
}

func (e *Engine) lockUser(userID string) func() {
	v, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) cancel(ctx context.Context, ev models.Event) []models.Reply {
	if err := e.sessions.Delete(ctx, ev.UserID); err != nil {
		slog.Error("Engine cancel: failed to delete session", "user_id", ev.UserID, "error", err)
	}
	e.stats.cancellations.Add(1)
	slog.Info("Engine cancel: session cleared", "user_id", ev.UserID)
	return []models.Reply{textReply(ev.ChatID, msgCancelled)}
}

func (e *Engine) command(ctx context.Context, ev models.Event) []models.Reply {
	slog.Debug("Engine command", "user_id", ev.UserID, "command", ev.Command)
	switch ev.Command {
	case CommandStart:
		return []models.Reply{textReply(ev.ChatID, msgWelcome)}
	case CommandHelp:
		return []models.Reply{textReply(ev.ChatID, msgHelp)}
	case CommandAdd:
		out := e.machine.Begin(ev)
		if err := e.sessions.Put(ctx, out.Session); err != nil {
			slog.Error("Engine add: failed to store session", "user_id", ev.UserID, "error", err)
			e.stats.errors.Add(1)
			return []models.Reply{textReply(ev.ChatID, msgCreateFailed)}
		}
		slog.Info("Engine add: conversation started", "user_id", ev.UserID, "session_id", out.Session.ID)
		return out.Replies
	case CommandFind:
		return e.find(ctx, ev)
	default:
		return []models.Reply{textReply(ev.ChatID, msgUnknownCommand)}
	}
}

func (e *Engine) find(ctx context.Context, ev models.Event) []models.Reply {
	query := strings.TrimSpace(ev.Args)
	if query == "" {
		return []models.Reply{textReply(ev.ChatID, msgFindUsage)}
	}
	e.stats.searches.Add(1)
	results, err := e.records.Search(ctx, query, FindLimit)
	if err != nil {
		e.stats.errors.Add(1)
		slog.Error("Engine find: search failed", "user_id", ev.UserID, "query", query, "error", err)
		return []models.Reply{textReply(ev.ChatID, msgFindFailed)}
	}
	slog.Info("Engine find", "user_id", ev.UserID, "query", query, "results", len(results))
	return []models.Reply{textReply(ev.ChatID, findResults(query, results))}
}

func (e *Engine) step(ctx context.Context, ev models.Event) []models.Reply {
	sess, err := e.sessions.Get(ctx, ev.UserID)
	if errors.Is(err, ErrSessionNotFound) {
		if ev.Kind == models.EventSelection {
			return []models.Reply{textReply(ev.ChatID, msgExpired)}
		}
		return []models.Reply{textReply(ev.ChatID, msgNoSession)}
	}
	if err != nil {
		slog.Error("Engine step: failed to load session", "user_id", ev.UserID, "error", err)
		e.stats.errors.Add(1)
		return []models.Reply{textReply(ev.ChatID, msgExpired)}
	}

	prev := sess.State
	out := e.machine.Step(sess, ev)
	e.logWarnings(ev, out.Warnings)
	slog.Debug("Engine step", "user_id", ev.UserID, "from", prev, "to", out.Session.State, "end", out.End)

	replies := out.Replies
	for out.Command.Kind != CommandNone && !out.End {
		stored, err := e.sessions.Replace(ctx, out.Session)
		if err != nil {
			slog.Error("Engine step: failed to store session", "user_id", ev.UserID, "error", err)
		} else if !stored {
			slog.Info("Engine step: session no longer active, command skipped", "user_id", ev.UserID, "session_id", out.Session.ID, "command", out.Command.Kind)
			return replies
		}
		var ok bool
		out, ok = e.run(ctx, ev, out)
		if !ok {
			return replies
		}
		replies = append(replies, out.Replies...)
	}
	e.save(ctx, out)
	return replies
}

// run executes the command of out and feeds its result back to the machine.
// It returns false when the session was cancelled or restarted meanwhile;
// the late result is then dropped.
func (e *Engine) run(ctx context.Context, ev models.Event, out Outcome) (Outcome, bool) {
	s := out.Session
	switch out.Command.Kind {
	case CommandCheckDuplicates:
		f := s.Fields
		candidates, err := e.resolver.FindCandidates(ctx, f.Get(models.FieldEmail), f.Get(models.FieldName), f.Get(models.FieldCity))
		if err != nil {
			e.stats.errors.Add(1)
			slog.Error("Engine duplicate check failed", "user_id", s.UserID, "error", err)
		} else if len(candidates) > 0 {
			e.stats.duplicates.Add(1)
			slog.Info("Engine duplicate detected", "user_id", s.UserID, "candidates", len(candidates), "match_id", candidates[0].ID)
		}
		if !e.current(ctx, s) {
			slog.Info("Engine duplicate check result ignored: session no longer active", "user_id", s.UserID, "session_id", s.ID)
			return out, false
		}
		return e.machine.AfterDuplicateCheck(s, candidates, err), true

	case CommandSubmit:
		action := out.Command.Action
		draft := e.machine.Draft(s)
		var ref models.RecordRef
		var err error
		if action == ActionUpdate {
			ref, err = e.records.Update(ctx, out.Command.MatchID, draft)
		} else {
			ref, err = e.records.Create(ctx, draft)
		}
		e.recordSubmission(ctx, s, action, ref, err)
		if !e.current(ctx, s) {
			slog.Info("Engine submit result ignored: session no longer active", "user_id", s.UserID, "session_id", s.ID, "action", action, "error", err)
			return out, false
		}
		return e.machine.AfterSubmit(s, ev, action, ref, err), true
	}
	return Outcome{Session: s}, true
}

// current reports whether s is still the user's active session.
func (e *Engine) current(ctx context.Context, s *Session) bool {
	now, err := e.sessions.Get(ctx, s.UserID)
	return err == nil && now.ID == s.ID
}

func (e *Engine) save(ctx context.Context, out Outcome) {
	s := out.Session
	if out.End {
		if err := e.sessions.Remove(ctx, s); err != nil {
			slog.Error("Engine: failed to delete session", "user_id", s.UserID, "error", err)
		}
		slog.Debug("Engine: session closed", "user_id", s.UserID, "session_id", s.ID)
		return
	}
	stored, err := e.sessions.Replace(ctx, s)
	if err != nil {
		slog.Error("Engine: failed to store session", "user_id", s.UserID, "error", err)
	} else if !stored {
		slog.Info("Engine: session no longer active, not stored", "user_id", s.UserID, "session_id", s.ID)
	}
}

func (e *Engine) recordSubmission(ctx context.Context, s *Session, action Action, ref models.RecordRef, err error) {
	title := s.Fields.Get(models.FieldName)
	sub := store.Submission{
		UserID: s.UserID,
		Action: string(action),
		PageID: ref.ID,
		URL:    ref.URL,
		Title:  title,
	}
	if err != nil {
		e.stats.errors.Add(1)
		sub.Error = err.Error()
		slog.Error("Engine submit failed", "user_id", s.UserID, "action", action, "error", err)
	} else {
		if action == ActionUpdate {
			e.stats.updates.Add(1)
		} else {
			e.stats.creations.Add(1)
		}
		slog.Info("Engine submit succeeded", "user_id", s.UserID, "action", action, "page_id", ref.ID, "url", ref.URL)
	}

	if e.audit != nil {
		if aerr := e.audit.SaveSubmission(sub); aerr != nil {
			slog.Error("Engine: failed to audit submission", "user_id", s.UserID, "error", aerr)
		}
	}
	if err != nil {
		return
	}
	evAction := events.ActionCreated
	if action == ActionUpdate {
		evAction = events.ActionUpdated
	}
	rec := events.RecordEvent{
		Action:     evAction,
		PageID:     ref.ID,
		URL:        ref.URL,
		Name:       title,
		City:       s.Fields.Get(models.FieldCity),
		Source:     s.Fields.Get(models.FieldSource),
		UserID:     s.UserID,
		OccurredAt: time.Now().UTC(),
	}
	if perr := e.publisher.Publish(ctx, rec); perr != nil {
		slog.Warn("Engine: failed to publish record event", "page_id", ref.ID, "error", perr)
	}
}

func (e *Engine) logWarnings(ev models.Event, warnings []string) {
	for _, w := range warnings {
		slog.Warn("Engine step: advisory warning", "user_id", ev.UserID, "warning", w)
	}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	st := Stats{
		Creations:          e.stats.creations.Load(),
		Updates:            e.stats.updates.Load(),
		DuplicatesDetected: e.stats.duplicates.Load(),
		Searches:           e.stats.searches.Load(),
		Errors:             e.stats.errors.Load(),
		Cancellations:      e.stats.cancellations.Load(),
		Unauthorized:       e.stats.unauthorized.Load(),
	}
	if c, ok := e.sessions.(interface{ Count() int }); ok {
		st.ActiveSessions = c.Count()
	}
	return st
}

func textReply(chatID, text string) models.Reply {
	return models.Reply{ChatID: chatID, Text: text, Markdown: true}
}
