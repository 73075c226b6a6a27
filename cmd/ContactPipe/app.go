package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ContactPipe/internal/api"
	"github.com/BTreeMap/ContactPipe/internal/config"
	"github.com/BTreeMap/ContactPipe/internal/dedup"
	"github.com/BTreeMap/ContactPipe/internal/events"
	"github.com/BTreeMap/ContactPipe/internal/flow"
	"github.com/BTreeMap/ContactPipe/internal/messaging"
	"github.com/BTreeMap/ContactPipe/internal/notion"
	"github.com/BTreeMap/ContactPipe/internal/scheduler"
	"github.com/BTreeMap/ContactPipe/internal/store"
)

// app holds the transport-independent parts of the bot.
type app struct {
	cfg       config.Config
	records   *notion.RecordStore
	store     store.Store
	publisher events.Publisher
	engine    *flow.Engine
}

func newRecordStore(cfg config.Config) *notion.RecordStore {
	var opts []notion.Option
	if cfg.NotionAPIURL != "" {
		opts = append(opts, notion.WithBaseURL(cfg.NotionAPIURL))
	}
	client := notion.NewClient(cfg.NotionToken, opts...)
	return notion.NewRecordStore(client, cfg.NotionDBID, notion.DefaultMapping())
}

// verifySchema checks the remote database against the field mapping. Each
// mismatch is logged and a *notion.SchemaError is returned.
func verifySchema(ctx context.Context, records *notion.RecordStore) error {
	mismatches, err := records.VerifySchema(ctx)
	if err != nil {
		return err
	}
	if len(mismatches) == 0 {
		return nil
	}
	for _, m := range mismatches {
		slog.Error("Notion schema mismatch", "kind", m.Kind, "property", m.Property, "expected", m.Expected, "actual", m.Actual)
	}
	return &notion.SchemaError{Mismatches: mismatches}
}

// newApp verifies the Notion schema and wires the conversation engine.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	records := newRecordStore(cfg)
	if err := verifySchema(ctx, records); err != nil {
		return nil, fmt.Errorf("notion database %s: %w", cfg.NotionDBID, err)
	}

	st, err := store.New(store.WithDSN(cfg.DatabaseURL)...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSToken, slog.Default())
		if err != nil {
			st.Close()
			return nil, err
		}
		publisher = p
		slog.Info("ContactPipe: publishing record events", "nats_url", cfg.NATSURL)
	}

	engine := flow.NewEngine(
		flow.NewCacheSessionStore(cfg.SessionTTL),
		dedup.NewResolver(records, records.Mapping()),
		records,
		flow.WithRegion(cfg.PhoneRegion),
		flow.WithAllowList(cfg.AllowedUserIDs),
		flow.WithAudit(st),
		flow.WithPublisher(publisher),
	)
	return &app{cfg: cfg, records: records, store: st, publisher: publisher, engine: engine}, nil
}

func (a *app) Close() {
	a.publisher.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("ContactPipe: failed to close store", "error", err)
	}
}

// serverOptions mounts the audit endpoint when an API token is configured.
func (a *app) serverOptions() []api.Option {
	opts := []api.Option{api.WithAddr(a.cfg.Addr())}
	if a.cfg.APIToken != "" {
		opts = append(opts, api.WithSubmissions(a.store, a.cfg.APIToken))
	}
	return opts
}

// run drives svc until ctx is cancelled: inbound events go through the
// dispatcher to the engine while the HTTP server answers webhooks and health
// checks.
func (a *app) run(ctx context.Context, svc messaging.Service, server *api.Server) error {
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	dispatcher := messaging.NewDispatcher(svc, a.engine, messaging.WithDedup(a.store))
	dispatcher.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.SchedulePrune(a.cfg.PruneSchedule, a.store, a.cfg.DedupRetention); err != nil {
		slog.Error("ContactPipe: inbound id cleanup not scheduled", "error", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	slog.Info("ContactPipe running", "transport", a.cfg.Transport, "addr", a.cfg.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("ContactPipe shutting down")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	if err := server.Shutdown(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("ContactPipe: server shutdown", "error", err)
	}
	if err := svc.Stop(); err != nil {
		slog.Warn("ContactPipe: transport stop", "error", err)
	}
	dispatcher.Close()
	dispatcher.Wait()
	slog.Info("ContactPipe stopped", "stats", a.engine.Stats())
	return runErr
}
