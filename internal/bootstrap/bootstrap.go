package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"github.com/Lucke514/ImageConverter/internal/domain/batch"
	"github.com/Lucke514/ImageConverter/internal/domain/eventbus"
	"github.com/Lucke514/ImageConverter/internal/domain/image"
	"github.com/Lucke514/ImageConverter/internal/domain/session"
	platformconfig "github.com/Lucke514/ImageConverter/internal/platform/config"
	platformerrors "github.com/Lucke514/ImageConverter/internal/platform/errors"
	platformlogging "github.com/Lucke514/ImageConverter/internal/platform/logging"
	platformobservability "github.com/Lucke514/ImageConverter/internal/platform/observability"
	httptransport "github.com/Lucke514/ImageConverter/internal/transport/http"
	httpwebapi "github.com/Lucke514/ImageConverter/internal/transport/http/webapi"
	"github.com/Lucke514/ImageConverter/internal/transport/ws"
)

const shutdownTimeout = 15 * time.Second

// Options tunes Run.
type Options struct {
	// ConfigPath points at a YAML file; empty means config.yaml or $IMGCONV_CONFIG.
	ConfigPath string
	// OnReady is called with the listen address once the server accepts requests.
	OnReady func(addr string)
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	configPath            string
	config                *platformconfig.Config
	logger                *platformlogging.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc

	converter *image.Converter
	bus       *eventbus.AsyncEventBus
	processor *batch.Processor
	hub       *ws.Hub
	store     *session.Store
}

// close releases everything the init steps created, in reverse order.
func (s *appState) close() {
	if s.hub != nil {
		s.hub.CloseAll(nil)
	}
	if s.store != nil {
		_ = s.store.Close(context.Background())
	}
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.observabilityShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(ctx); err != nil && s.logger != nil {
			s.logger.WarnTag("BOOT", "observability did not shut down cleanly: %v", err)
		}
		cancel()
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}

// Run loads configuration, wires the conversion pipeline and serves the drop
// page until ctx is cancelled or the process receives SIGINT/SIGTERM.
func Run(ctx context.Context, opts Options) error {
	state := &appState{configPath: opts.ConfigPath}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.close()
		return err
	}
	defer state.close()

	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	addr, err := startHTTPServer(state, group, groupCtx)
	if err != nil {
		cancel()
		return err
	}
	logger.InfoTag("BOOT", "services started")
	if opts.OnReady != nil {
		opts.OnReady(addr)
	}

	return waitForShutdown(signalCtx, groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("BOOT", "init graph")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("BOOT", "  %s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag("BOOT", "  %s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the init steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "convert:init-pipeline",
			Title:     "Initialise conversion pipeline",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initPipelineStep,
		},
		{
			ID:        "session:init-store",
			Title:     "Initialise session store",
			DependsOn: []string{"convert:init-pipeline"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initSessionStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	res, err := platformconfig.NewLoader().WithPath(state.configPath).Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = res.Config
	state.configPath = res.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()
	logger.InfoTag("BOOT", "logging ready [%s] config from %s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initPipelineStep(_ context.Context, state *appState) error {
	const op = "convert:init-pipeline"
	if state.logger == nil || state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, op, "config/logger not initialised")
	}
	cc := state.config.Convert

	converter, err := image.NewConverter(image.ConverterOptions{
		Logger:           state.logger,
		MaxSourcePixels:  cc.MaxSourcePixels,
		MaxSurfacePixels: cc.MaxSurfacePixels,
		PrepassMaxBytes:  cc.PrepassMaxBytes,
	})
	if err != nil {
		return err
	}
	state.converter = converter

	bus := eventbus.NewAsyncEventBus(1, state.logger)
	bus.Start()
	state.bus = bus
	if err := eventbus.NewLogHandler(state.logger).Register(bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, op, "failed to register event handlers", err)
	}

	hub := ws.NewHub(state.logger)
	if err := hub.Attach(bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, op, "failed to attach stream hub", err)
	}
	state.hub = hub

	processor, err := batch.NewProcessor(batch.Options{
		Converter: converter,
		Logger:    state.logger,
		Workers:   state.config.Batch.Workers,
		Events:    bus,
	})
	if err != nil {
		return err
	}
	state.processor = processor

	if vm, err := mem.VirtualMemory(); err == nil {
		state.logger.InfoTag("BOOT", "pipeline ready: %d workers, %d MiB of %d MiB memory free",
			processor.Workers(), vm.Available>>20, vm.Total>>20)
	} else {
		state.logger.InfoTag("BOOT", "pipeline ready: %d workers", processor.Workers())
	}
	return nil
}

func initSessionStep(_ context.Context, state *appState) error {
	if state.logger == nil || state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "session:init-store", "config/logger not initialised")
	}
	state.store = session.NewMemory(session.Config{
		TTL:    state.config.Batch.SessionTTL,
		Logger: state.logger,
	})
	return nil
}

// checkOrigin accepts stream upgrades from the configured origins. An empty
// list or a request without Origin is accepted.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		if origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// startHTTPServer binds the listener synchronously so that address errors
// surface before Run reports readiness.
func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (string, error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return "", err
	}
	router := httpRouter.Engine

	streams := ws.NewRouter(state.hub, logger, ws.RouterOptions{
		CheckOrigin: checkOrigin(config.Server.AllowOrigins),
		OnMessage:   httpwebapi.CancelOnMessage(state.store),
	})

	webapiService, err := httpwebapi.NewService(httpwebapi.Options{
		Config:    config,
		Logger:    logger,
		Store:     state.store,
		Processor: state.processor,
		Streams:   streams,
	})
	if err != nil {
		logger.ErrorTag("HTTP", "webapi service init failed: %v", err)
		return "", platformerrors.Wrap(platformerrors.KindTransport, "webapi:new-service", "failed to create webapi service", err)
	}
	webapiService.Register(httpRouter.API, router)

	index := filepath.Join(config.Server.StaticDir, "index.html")
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			httptransport.RespondError(c, http.StatusNotFound, "api not found", gin.H{})
			return
		}
		if _, err := os.Stat(index); err != nil {
			httptransport.RespondError(c, http.StatusNotFound, "not found", gin.H{})
			return
		}
		c.File(index)
	})

	addr := net.JoinHostPort(config.Server.IP, strconv.Itoa(config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindTransport, "http:listen", "failed to bind "+addr, err)
	}

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "drop page listening on http://%s", listener.Addr())

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			state.hub.CloseAll(nil)
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "http shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "http server stopped")
			}
		}()

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "http server failed: %v", err)
			return err
		}
		return nil
	})

	return listener.Addr().String(), nil
}

func waitForShutdown(
	ctx context.Context,
	groupCtx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	select {
	case <-ctx.Done():
		logger.InfoTag("BOOT", "shutting down: %v", context.Cause(ctx))
	case <-groupCtx.Done():
		logger.WarnTag("BOOT", "a service stopped, shutting down")
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("BOOT", "shutdown timed out")
		return platformerrors.New(platformerrors.KindBootstrap, "shutdown", "shutdown timed out")
	}
	return nil
}
