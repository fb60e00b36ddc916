package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	server "atrium/server"
	servernet "atrium/server/internal/net"
	"atrium/server/internal/schema"
	"atrium/server/logging"
	loggingsinks "atrium/server/logging/sinks"
)

// RunConfig carries the knobs the CLI resolves before handing off.
type RunConfig struct {
	ConfigPath string
	Addr       string
	Logger     *log.Logger
}

// Run wires the whole server: config, schema registry, logging router, room
// and HTTP surface. It blocks until the listener fails or ctx is done.
func Run(ctx context.Context, runCfg RunConfig) error {
	logger := runCfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	cfg, err := LoadConfigFile(resolveConfigPath(runCfg.ConfigPath))
	if err != nil {
		return err
	}
	if runCfg.Addr != "" {
		cfg.Addr = runCfg.Addr
	}
	if raw := os.Getenv("ATRIUM_ADDR"); raw != "" {
		cfg.Addr = raw
	}
	if raw := os.Getenv("ATRIUM_SCHEMA_OVERLAY"); raw != "" {
		cfg.SchemaOverlay = raw
	}

	// Registry construction is the one loud failure: a broken template
	// declaration is a packaging bug and must never degrade into silent
	// denials at message time.
	templates := append([]schema.Template(nil), schema.BuiltInTemplates...)
	overlay, err := schema.LoadOverlayFile(cfg.SchemaOverlay)
	if err != nil {
		return err
	}
	templates = append(templates, overlay...)
	registry, err := schema.NewRegistry(templates)
	if err != nil {
		return err
	}

	logConfig := logging.DefaultConfig()
	logConfig.EnabledSinks = cfg.Logging.Sinks
	if cfg.Logging.Debug {
		logConfig.MinimumSeverity = logging.SeverityDebug
	}
	logConfig.Fields = map[string]any{"room": cfg.Room.ID}

	var namedSinks []logging.NamedSink
	if logConfig.HasSink("console") {
		namedSinks = append(namedSinks, logging.NamedSink{Name: "console", Sink: loggingsinks.NewConsoleSink(os.Stdout)})
	}
	if logConfig.HasSink("json") && cfg.Logging.JSONPath != "" {
		f, err := os.OpenFile(cfg.Logging.JSONPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("app: open json log %s: %w", cfg.Logging.JSONPath, err)
		}
		defer f.Close()
		namedSinks = append(namedSinks, logging.NamedSink{Name: "json", Sink: loggingsinks.NewJSONSink(f, logConfig.JSON.FlushInterval)})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, namedSinks)
	if err != nil {
		return fmt.Errorf("app: construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	roomCfg := server.RoomConfig{
		ID:                 cfg.Room.ID,
		DefaultPermissions: cfg.Room.Permissions,
		Scene:              cfg.Room.Scene,
		IntakeQueueSize:    cfg.Room.QueueSize,
		Logger:             logger,
		Publisher:          router,
	}
	room, err := server.NewRoom(registry, roomCfg)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	go room.Run(stop)
	defer close(stop)

	handler := servernet.NewHTTPHandler(room, servernet.HTTPHandlerConfig{Logger: logger})
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Printf("atrium server listening on %s (room %s)", cfg.Addr, room.ID())

	select {
	case <-ctx.Done():
		shutdownErr := srv.Shutdown(context.Background())
		<-errCh
		return shutdownErr
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
}

func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv("ATRIUM_CONFIG")
}
