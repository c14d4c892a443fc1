package cli

import (
	"context"
	"fmt"

	"github.com/AnTengye/contractdesk/config"
	"github.com/AnTengye/contractdesk/model"
	"github.com/AnTengye/contractdesk/pkg/push"
	"github.com/AnTengye/contractdesk/service"
)

// session is one command's view of the backend: the HTTP client, the local
// registry and, once connected, the live progress channel.
type session struct {
	cfg      *config.Config
	client   *service.BackendService
	store    *service.ContractStore
	uploader *service.Uploader

	hub     *push.Hub
	subs    *service.SubscriptionManager
	tracker *service.Tracker
	watcher *service.Watcher
}

func newSession(cfg *config.Config) *session {
	client := service.NewBackendService(&cfg.Backend)
	store := service.NewContractStore(&cfg.Store)
	return &session{
		cfg:      cfg,
		client:   client,
		store:    store,
		uploader: service.NewUploader(client, store, &cfg.Upload),
	}
}

// connect opens the push channel and starts routing events into the registry.
func (s *session) connect() error {
	if s.tracker != nil {
		return nil
	}
	s.hub = push.NewHub(push.Options{
		ReconnectInterval:    s.cfg.Push.ReconnectInterval(),
		MaxReconnectAttempts: s.cfg.Push.MaxReconnectAttempts,
		WriteTimeout:         s.cfg.Push.WriteTimeout(),
	})
	conn, err := s.hub.Connect(s.cfg.Push.URL)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.cfg.Push.URL, err)
	}
	s.subs = service.NewSubscriptionManager(conn, s.cfg.Push.ResubscribeEnabled())
	s.tracker = service.NewTracker(s.store, s.subs, s.uploader, s.client)
	s.watcher = s.subs.NewWatcher()
	return nil
}

func (s *session) close() {
	if s.tracker != nil {
		s.watcher.Close()
		s.tracker.Close()
		s.subs.Close()
		s.hub.Close()
	}
}

// waitForTerminal blocks until record id completes or fails, calling update
// for every change of its progress.
func waitForTerminal(ctx context.Context, store *service.ContractStore, id string, update func(model.Contract)) (model.Contract, error) {
	signal := make(chan struct{}, 1)
	stop := store.OnChange(func(ch service.Change) {
		if ch.ID != id {
			return
		}
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	defer stop()

	last := -1
	for {
		c, ok := store.Get(id)
		if !ok {
			return model.Contract{}, fmt.Errorf("%w: %s", service.ErrNotFound, id)
		}
		if c.Progress != last || c.Terminal() {
			last = c.Progress
			if update != nil {
				update(c)
			}
		}
		if c.Terminal() {
			return c, nil
		}

		select {
		case <-ctx.Done():
			return c, ctx.Err()
		case <-signal:
		}
	}
}
