// meshbridge-core stands in for the vendor cloud endpoint on the LAN: it
// terminates the mesh-lighting devices' TLS sessions, tracks every device
// and group in an in-memory registry backed by SQLite, and bridges both
// onto MQTT as Home-Assistant-discovered entities.
//
// For the wire protocol, session lifecycle, and MQTT bridging semantics
// this implements, see SPEC_FULL.md.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/meshbridge-core/internal/api"
	"github.com/nerrad567/meshbridge-core/internal/dispatcher"
	"github.com/nerrad567/meshbridge-core/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge-core/internal/infrastructure/database"
	"github.com/nerrad567/meshbridge-core/internal/infrastructure/logging"
	infmqtt "github.com/nerrad567/meshbridge-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshbridge-core/internal/mqttbridge"
	"github.com/nerrad567/meshbridge-core/internal/registry"
	"github.com/nerrad567/meshbridge-core/internal/session"
	"github.com/nerrad567/meshbridge-core/internal/timing"
	_ "github.com/nerrad567/meshbridge-core/migrations"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/meshbridge/config.yaml", "path to config.yaml")
	flag.Parse()

	fmt.Printf("meshbridge-core %s (%s) built %s\n", version, commit, date)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// core bundles every long-lived collaborator so shutdown can unwind them
// in reverse wiring order (spec §5 "Graceful shutdown").
type core struct {
	logger     *logging.Logger
	db         *database.DB
	mqttClient *infmqtt.Client
	bridge     *mqttbridge.Bridge
	sessions   *session.Server
	api        *api.Server

	shutdownTimeout time.Duration
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting meshbridge-core", "version", version, "commit", commit)

	c, err := wire(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialising: %w", err)
	}

	errs := make(chan error, 2)
	go func() {
		logger.Info("device TLS listener starting", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.DevicePort))
		errs <- c.sessions.ListenAndServe(ctx)
	}()
	go func() {
		logger.Info("lifecycle HTTP listener starting", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.IngressPort))
		errs <- c.api.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("listener failed", "error", err)
		}
	}

	c.shutdown(logger)
	logger.Info("meshbridge-core stopped")
	return nil
}

// wire constructs every collaborator in dependency order: database,
// registry (with the MQTT bridge as its Notifier), device TLS server,
// dispatcher, MQTT bridge, lifecycle API (spec §9 "break the reference
// cycle": the registry and bridge only see each other through interfaces).
func wire(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*core, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	mqttClient, err := infmqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", err)
	}
	mqttClient.SetLogger(logger)

	metrics := timing.NewMetrics()
	topics := infmqtt.Topics{Base: cfg.MQTT.Topic, Discovery: cfg.MQTT.DiscoveryTopic, Status: cfg.MQTT.StatusTopic}

	bridge := mqttbridge.New(mqttbridge.Config{
		Client:    mqttClient,
		Topics:    topics,
		QoS:       byte(cfg.MQTT.QoS),
		MinKelvin: cfg.Registry.MinKelvin,
		MaxKelvin: cfg.Registry.MaxKelvin,
		Logger:    logger,
	})

	reg := registry.New(registry.Config{
		Store:     registry.NewSQLiteStore(db.DB),
		Notifier:  bridge,
		Logger:    logger,
		MinKelvin: cfg.Registry.MinKelvin,
		MaxKelvin: cfg.Registry.MaxKelvin,
	})
	if err := loadHomes(ctx, reg, cfg.Homes); err != nil {
		return nil, fmt.Errorf("loading configured homes: %w", err)
	}
	if err := reg.LoadFromStore(ctx); err != nil {
		return nil, fmt.Errorf("loading registry from store: %w", err)
	}

	tlsConfig, err := loadDeviceTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("loading device TLS certificate: %w", err)
	}

	sessions := session.NewServer(session.ServerConfig{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.DevicePort),
		TLSConfig:      tlsConfig,
		MaxConnections: cfg.Server.MaxTCPConnections,
		Allowlist:      cfg.Server.TCPWhitelist,
		BlackholeDelay: cfg.Server.TCPBlackholeDelay,
		Sink:           reg,
		Metrics:        metrics,
		Timeouts:       timing.DefaultTimeoutConfig(),
		Retry:          timing.DefaultRetryPolicy(),
		Logger:         logger,
	})

	disp := dispatcher.New(dispatcher.Config{
		Sessions:       dispatcher.NewSessionProvider(sessions),
		Registry:       reg,
		Metrics:        metrics,
		Logger:         logger,
		Broadcasts:     cfg.Dispatcher.CmdBroadcasts,
		BroadcastDelay: cfg.Dispatcher.BroadcastDelay,
	})

	bridge.Attach(reg, disp)

	if err := bridge.Start(); err != nil {
		return nil, fmt.Errorf("starting mqtt bridge: %w", err)
	}

	apiServer := api.New(api.Config{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.IngressPort),
		Checks: []api.ReadinessChecker{
			dbReadiness{db},
			mqttReadiness{mqttClient},
		},
		Logger:  logger,
		Version: version,
	})

	return &core{
		logger:          logger,
		db:              db,
		mqttClient:      mqttClient,
		bridge:          bridge,
		sessions:        sessions,
		api:             apiServer,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	}, nil
}

// loadHomes upserts every device and group declared in the config file,
// which stays authoritative at boot (spec §6: "the YAML config stays
// authoritative on boot; [the store] is a runtime cache").
func loadHomes(ctx context.Context, reg *registry.Registry, homes []config.HomeConfig) error {
	for _, home := range homes {
		for _, d := range home.Devices {
			caps := make([]registry.Capability, len(d.Capabilities))
			for i, c := range d.Capabilities {
				caps[i] = registry.Capability(c)
			}
			if _, err := reg.UpsertDevice(ctx, home.ID, d.CyncID, registry.DeviceAttrs{
				Name:            d.Name,
				TypeCode:        d.TypeCode,
				Capabilities:    caps,
				MAC:             d.MAC,
				FirmwareVersion: d.FirmwareVersion,
			}); err != nil {
				return fmt.Errorf("home %s device %s: %w", home.ID, d.CyncID, err)
			}
		}
		for _, g := range home.Groups {
			if _, err := reg.UpsertGroup(ctx, home.ID, g.GroupID, registry.GroupAttrs{
				Name:      g.Name,
				MemberIDs: g.MemberIDs,
			}); err != nil {
				return fmt.Errorf("home %s group %s: %w", home.ID, g.GroupID, err)
			}
		}
	}
	return nil
}

// loadDeviceTLSConfig builds the TLS server config the mesh devices
// handshake against (spec §3 "TLS termination").
func loadDeviceTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// shutdown unwinds every collaborator in reverse wiring order. One timeout
// (shutdownTimeout, default 10s) bounds the whole sequence; the steps have
// no timeouts of their own here, apart from the lifecycle API's own Close
// bound.
func (c *core) shutdown(logger *logging.Logger) {
	timeout := c.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		if err := c.api.Close(); err != nil {
			logger.Warn("closing lifecycle api", "error", err)
		}

		c.sessions.Shutdown("server shutting down")

		if err := c.mqttClient.Close(); err != nil {
			logger.Warn("closing mqtt client", "error", err)
		}

		if err := c.db.Close(); err != nil {
			logger.Warn("closing database", "error", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("shutdown timed out, exiting anyway", "timeout", timeout)
	}
}

type dbReadiness struct{ db *database.DB }

func (d dbReadiness) Ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return d.db.HealthCheck(ctx)
}

type mqttReadiness struct{ client *infmqtt.Client }

func (m mqttReadiness) Ready() error {
	if !m.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	return nil
}
