// riftd is the companion daemon: it discovers the running game client,
// tracks match phase, drives the three phase advisors, paces all cloud
// API traffic, and feeds strategic calls to the overlay windows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/willckim/rift-architect/pkg/advisor"
	"github.com/willckim/rift-architect/pkg/config"
	"github.com/willckim/rift-architect/pkg/gameflow"
	"github.com/willckim/rift-architect/pkg/keystore"
	"github.com/willckim/rift-architect/pkg/lcu"
	"github.com/willckim/rift-architect/pkg/livegame"
	"github.com/willckim/rift-architect/pkg/metrics"
	"github.com/willckim/rift-architect/pkg/overlay"
	"github.com/willckim/rift-architect/pkg/scheduler"
	"github.com/willckim/rift-architect/pkg/triggers"
)

// keyPropagationDelay is how long a freshly reloaded API key needs to
// propagate before advisors resume issuing calls.
const keyPropagationDelay = 5 * time.Second

// rateLimitPauseFloor is the minimum advisor pause after a final 429.
const rateLimitPauseFloor = 2 * time.Minute

func main() {
	configPath := flag.String("config", "riftd.yaml", "path to configuration file")
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := godotenv.Load(*envPath); err != nil {
		slog.Info("No .env file loaded, using existing environment", "path", *envPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Configuration invalid", "error", err)
		os.Exit(1)
	}

	store, err := keystore.Open(cfg.Keystore.Path)
	if err != nil {
		slog.Error("Keystore open failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, store, *envPath); err != nil {
		slog.Error("Daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, store *keystore.Store, envPath string) error {
	m := metrics.New()

	// Overlay boundary: the broadcast server doubles as the Sink every
	// producer writes to.
	overlaySrv := overlay.NewServer()
	overlaySrv.OnConnections = func(n int) { m.OverlayConnections.Set(float64(n)) }
	sink := overlay.Sink(overlaySrv)

	// Cloud API scheduler. The key capability reads the store (env
	// wins) at dispatch time, so rotation needs no queue flush.
	d := &daemonSignals{sink: sink}
	sched := scheduler.New(scheduler.Config{
		Spacing:       cfg.Scheduler.Spacing(),
		WindowCeiling: cfg.Scheduler.WindowCeiling,
		SoftPauseFor:  cfg.Scheduler.SoftPause(),
	}, &http.Client{}, store.APIKey, d)
	m.RegisterSchedulerGauges(
		func() float64 { return float64(sched.Pending()) },
		sched.WindowUsage,
	)

	// Advisors.
	invoker := advisor.NewInvoker(newHTTPLLM())
	discovery, bus, identity := buildDiscovery(cfg)
	clientFn := advisor.ClientProvider(discovery.Client)

	runtime := advisor.NewRuntime(store)
	draft := advisor.NewDraftAdvisor(clientFn, invoker, sink)
	live := advisor.NewLiveAdvisor(invoker, sink)
	post := advisor.NewPostAdvisor(clientFn, store, identity.PUUID, invoker, sink)
	runtime.Register(gameflow.PhaseChampSelect, draft)
	runtime.Register(gameflow.PhaseInGame, live)
	runtime.Register(gameflow.PhasePostGame, post)
	d.runtime = runtime

	// Trigger engine and telemetry.
	engine := triggers.NewEngine(sink, live.HandleTriggers)
	engine.OnDispatch = func(kind string) {
		m.TriggerDispatches.WithLabelValues(kind).Inc()
	}
	poller := livegame.NewPoller(cfg.Telemetry.BaseURL, lcu.NewLoopbackHTTPClient(4*time.Second))

	// Phase machine: one callback fans out to overlay, metrics, the
	// advisor runtime, and per-match resets.
	machine := gameflow.NewMachine(func(from, to gameflow.Phase) {
		m.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
		sink.Send(overlay.ChannelGamePhaseChanged, overlay.PhaseChange{
			From: string(from), To: string(to),
		})
		if to == gameflow.PhaseInGame {
			engine.Reset()
			poller.Reset()
		}
		runtime.OnTransition(from, to)
	})

	// Event bus: gameflow phase updates push into the machine.
	bus.Subscribe(gameflowPhaseURI, func(ev lcu.BusEvent) {
		var raw string
		if err := json.Unmarshal(ev.Data, &raw); err != nil {
			return
		}
		machine.Ingest(raw)
	})

	// Discovery edges.
	discovery.SetHooks(lcu.Hooks{
		OnConnected: func(client *lcu.Client) {
			sink.Send(overlay.ChannelStatusUpdate, overlay.StatusUpdate{Text: "Client connected"})
			go identity.refresh(ctx, client)
			go seedPhase(ctx, client, machine)
		},
		OnDisconnected: func() {
			sink.Send(overlay.ChannelStatusUpdate, overlay.StatusUpdate{Text: "Waiting for client"})
			runtime.DeactivateAll()
			machine.Reset()
			identity.clear()
		},
	})

	// Local HTTP surface.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	overlaySrv.Register(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"connected":      discovery.Connected(),
			"phase":          machine.Current(),
			"active_advisor": runtime.Active(),
			"scheduler": gin.H{
				"pending":      sched.Pending(),
				"window_usage": sched.WindowUsage(),
				"paused":       sched.IsPaused(),
			},
		})
	})
	httpSrv := &http.Server{Addr: cfg.Overlay.Listen, Handler: router}

	// Supervision.
	g, gctx := errgroup.WithContext(ctx)

	sched.Start(gctx)
	discovery.Start(gctx)
	poller.Start(gctx)
	sink.Send(overlay.ChannelStatusUpdate, overlay.StatusUpdate{Text: "Waiting for client"})

	g.Go(func() error {
		// Telemetry pump: one goroutine serializes snapshot and event
		// callbacks, keeping the trigger state single-writer.
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap := <-poller.Snapshots():
				engine.OnSnapshot(snap)
			case evs := <-poller.Events():
				engine.OnEvents(evs)
			}
		}
	})

	g.Go(func() error {
		// Credential recovery: a rewritten .env reloads the key, waits
		// out propagation, and resumes advisors.
		return config.WatchFile(gctx, envPath, func() {
			if err := godotenv.Overload(envPath); err != nil {
				slog.Warn("Reloading .env failed", "error", err)
				return
			}
			if store.APIKey() == "" {
				return
			}
			sched.ReloadKey()
			sink.Send(overlay.ChannelStatusUpdate, overlay.StatusUpdate{Text: "API key updated"})
			time.AfterFunc(keyPropagationDelay, runtime.ResumeAdvisors)
		})
	})

	g.Go(func() error {
		slog.Info("Local HTTP surface listening", "addr", cfg.Overlay.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		discovery.Stop()
		poller.Stop()
		runtime.DeactivateAll()
		sched.Stop()
		return nil
	})

	return g.Wait()
}

// daemonSignals is the scheduler observer: it translates quota and
// credential failures into advisor pauses and user-visible status.
type daemonSignals struct {
	sink    overlay.Sink
	runtime *advisor.Runtime
}

func (d *daemonSignals) OnKeyExpired() {
	d.sink.Send(overlay.ChannelStatusUpdate, overlay.StatusUpdate{Text: "API KEY EXPIRED"})
	if d.runtime != nil {
		d.runtime.PauseAdvisors()
	}
}

func (d *daemonSignals) OnRateLimited(retryAfter time.Duration) {
	pause := retryAfter
	if pause < rateLimitPauseFloor {
		pause = rateLimitPauseFloor
	}
	d.sink.Send(overlay.ChannelStatusUpdate, overlay.StatusUpdate{
		Text: "Rate Limited — pausing 2 min",
	})
	if d.runtime == nil {
		return
	}
	d.runtime.PauseAdvisors()
	time.AfterFunc(pause, d.runtime.ResumeAdvisors)
}
