// Command roomsim runs a simulated chat room over in-process channels.
//
// It wires the five canonical feature contributors (messages, presence,
// reactions, occupancy, typing) to memchannel transports, drives the room
// lifecycle manager against them, and exposes an HTTP surface for
// inspection and fault injection. A cron schedule can inject periodic
// channel flaps and suspensions for soak runs.
//
// Usage:
//
//	roomsim [-config room.yaml] [-addr :8090] [-inject "@every 45s"]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/roomkit"
	"github.com/GoCodeAlone/roomkit/config"
	"github.com/GoCodeAlone/roomkit/memchannel"
)

type feature struct {
	name        string
	channel     *memchannel.Channel
	contributor *roomkit.SimpleContributor
}

func main() {
	configPath := flag.String("config", "", "path to a yaml or toml options file")
	addr := flag.String("addr", ":8090", "http listen address")
	injectSpec := flag.String("inject", "", "cron spec for periodic fault injection, e.g. \"@every 45s\"")
	flag.Parse()

	logger := roomkit.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	if err := run(*configPath, *addr, *injectSpec, logger); err != nil {
		logger.Error("roomsim exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, addr, injectSpec string, logger roomkit.Logger) error {
	options, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load options: %w", err)
	}

	features := buildFeatures(logger)
	contributors := make([]roomkit.Contributor, 0, len(features))
	for _, f := range features {
		contributors = append(contributors, f.contributor)
	}

	registry := prometheus.NewRegistry()
	metrics := roomkit.NewMetrics(registry, options.MetricsNamespace)

	status := roomkit.NewRoomStatus(logger)
	managerOpts := []roomkit.ManagerOption{
		roomkit.WithRoomID(options.RoomID),
		roomkit.WithTransientDetachTimeout(options.TransientDetachTimeout.AsDuration()),
		roomkit.WithMetrics(metrics),
	}
	if options.EmitEvents {
		managerOpts = append(managerOpts, roomkit.WithEventSink(func(event cloudevents.Event) {
			logger.Info("lifecycle event", "type", event.Type(), "data", string(event.Data()))
		}))
	}

	manager, err := roomkit.NewRoomLifecycleManager(status, contributors, logger, managerOpts...)
	if err != nil {
		return err
	}
	defer manager.Release()

	if configPath != "" {
		watcher := config.NewWatcher(configPath, func(reloaded config.Options) {
			logger.Info("options reloaded", "transientDetachTimeout", reloaded.TransientDetachTimeout.AsDuration())
		}, func(watchErr error) {
			logger.Warn("options reload failed", "error", watchErr)
		})
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch options file: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	scheduler := cron.New()
	if injectSpec != "" {
		if _, err := scheduler.AddFunc(injectSpec, func() { injectFault(features, logger) }); err != nil {
			return fmt.Errorf("invalid inject spec %q: %w", injectSpec, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(manager, features, registry, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("roomsim listening", "addr", addr, "room", options.RoomID)
		errCh <- server.ListenAndServe()
	}()

	if err := manager.Attach(ctx); err != nil {
		logger.Error("initial attach failed", "error", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildFeatures(logger roomkit.Logger) []*feature {
	specs := []struct {
		name           string
		attachmentCode int
		detachmentCode int
	}{
		{"messages", roomkit.CodeMessagesAttachmentFailed, roomkit.CodeMessagesDetachmentFailed},
		{"presence", roomkit.CodePresenceAttachmentFailed, roomkit.CodePresenceDetachmentFailed},
		{"reactions", roomkit.CodeReactionsAttachmentFailed, roomkit.CodeReactionsDetachmentFailed},
		{"occupancy", roomkit.CodeOccupancyAttachmentFailed, roomkit.CodeOccupancyDetachmentFailed},
		{"typing", roomkit.CodeTypingAttachmentFailed, roomkit.CodeTypingDetachmentFailed},
	}

	features := make([]*feature, 0, len(specs))
	for _, spec := range specs {
		spec := spec
		channel := memchannel.New(spec.name)
		contributor := roomkit.NewSimpleContributor(channel, spec.attachmentCode, spec.detachmentCode, func(reason *roomkit.ErrorInfo) {
			logger.Warn("feature discontinuity", "feature", spec.name, "reason", reason)
		})
		features = append(features, &feature{name: spec.name, channel: channel, contributor: contributor})
	}
	return features
}

// injectFault flaps a random channel; roughly one in four injections is a
// suspension instead, which exercises the recovery cycle.
func injectFault(features []*feature, logger roomkit.Logger) {
	target := features[rand.Intn(len(features))]
	reason := roomkit.NewErrorInfo(roomkit.CodeRoomLifecycleError, "injected fault on "+target.name)

	if rand.Intn(4) == 0 {
		logger.Warn("injecting suspension", "feature", target.name)
		target.channel.ServerTransition(roomkit.ChannelStateSuspended, false, reason)
		go func() {
			time.Sleep(2 * time.Second)
			target.channel.ServerTransition(roomkit.ChannelStateAttached, false, reason)
		}()
		return
	}

	logger.Warn("injecting transient flap", "feature", target.name)
	target.channel.ServerTransition(roomkit.ChannelStateDetached, false, reason)
	go func() {
		time.Sleep(250 * time.Millisecond)
		target.channel.ServerTransition(roomkit.ChannelStateAttached, true, nil)
	}()
}

func newRouter(manager *roomkit.RoomLifecycleManager, features []*feature, registry *prometheus.Registry, logger roomkit.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		status := manager.Status()
		payload := map[string]any{"state": status.Current()}
		if err := status.Error(); err != nil {
			payload["error"] = map[string]any{"code": err.Code, "message": err.Message}
		}
		writeJSON(w, http.StatusOK, payload)
	})

	router.Get("/contributors", func(w http.ResponseWriter, r *http.Request) {
		states := make([]map[string]any, 0, len(features))
		for _, f := range features {
			entry := map[string]any{"name": f.name, "state": f.channel.State()}
			if reason := f.channel.ErrorReason(); reason != nil {
				entry["error"] = reason.Message
			}
			states = append(states, entry)
		}
		writeJSON(w, http.StatusOK, states)
	})

	router.Post("/attach", func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Attach(r.Context()); err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": manager.Status().Current()})
	})

	router.Post("/detach", func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Detach(r.Context()); err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": manager.Status().Current()})
	})

	router.Post("/inject/{feature}/{fault}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "feature")
		fault := chi.URLParam(r, "fault")
		for _, f := range features {
			if f.name != name {
				continue
			}
			reason := roomkit.NewErrorInfo(roomkit.CodeRoomLifecycleError, "injected "+fault+" on "+name)
			switch fault {
			case "detach":
				f.channel.ServerTransition(roomkit.ChannelStateDetached, false, reason)
			case "suspend":
				f.channel.ServerTransition(roomkit.ChannelStateSuspended, false, reason)
			case "fail":
				f.channel.ServerTransition(roomkit.ChannelStateFailed, false, reason)
			case "reattach":
				f.channel.ServerTransition(roomkit.ChannelStateAttached, false, reason)
			default:
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown fault " + fault})
				return
			}
			logger.Info("fault injected", "feature", name, "fault", fault)
			writeJSON(w, http.StatusOK, map[string]any{"feature": name, "fault": fault})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown feature " + name})
	})

	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return router
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
