package hub

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/homie-hub/internal/api"
	"github.com/nerrad567/homie-hub/internal/audit"
	"github.com/nerrad567/homie-hub/internal/codec"
	"github.com/nerrad567/homie-hub/internal/device"
	"github.com/nerrad567/homie-hub/internal/hass"
	"github.com/nerrad567/homie-hub/internal/homie"
	"github.com/nerrad567/homie-hub/internal/infrastructure/config"
	"github.com/nerrad567/homie-hub/internal/infrastructure/database"
	"github.com/nerrad567/homie-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/homie-hub/internal/infrastructure/logging"
	"github.com/nerrad567/homie-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/homie-hub/internal/platform"
	"github.com/nerrad567/homie-hub/internal/publish"
	"github.com/nerrad567/homie-hub/internal/settings"
	"github.com/nerrad567/homie-hub/internal/state"
	"github.com/nerrad567/homie-hub/migrations"
)

// Broker is the MQTT client surface the hub drives. *mqtt.Client
// satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	HealthCheck(ctx context.Context) error
	Close() error
}

var (
	_ api.Controller = (*Hub)(nil)
	_ Broker         = (*mqtt.Client)(nil)
)

// Options overrides collaborators New would otherwise build from config.
type Options struct {
	Version string
	Logger  *logging.Logger

	// Platform defaults to the devices file named in config.
	Platform platform.Platform

	// Broker defaults to a background-connecting paho client.
	Broker Broker
}

// Hub owns every long-lived component of the bridge.
type Hub struct {
	cfg     *config.Config
	log     *logging.Logger
	version string
	qos     byte

	db        *database.DB
	store     *settings.SQLiteRepository
	platform  platform.Platform
	registry  *device.Registry
	broker    Broker
	metrics   *prometheus.Registry
	queue     *publish.Queue
	homie     *homie.Dispatcher
	legacy    *state.DeviceDispatcher
	system    *state.SystemReporter
	discovery *hass.Discovery
	influx    *influxdb.Client
	api       *api.Server

	platformSub platform.Subscription

	// applyMu serialises settings and enablement changes.
	applyMu sync.Mutex

	mu        sync.RWMutex
	settings  homie.Settings
	started   bool
	closeOnce sync.Once
}

// New builds the hub. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Hub, error) {
	log := opts.Logger
	if log == nil {
		log = logging.New(cfg.Logging, opts.Version)
	}

	h := &Hub{
		cfg:      cfg,
		log:      log,
		version:  opts.Version,
		qos:      byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		platform: opts.Platform,
		broker:   opts.Broker,
		metrics:  prometheus.NewRegistry(),
	}

	if err := h.build(ctx); err != nil {
		h.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}
	return h, nil
}

func (h *Hub) build(ctx context.Context) error {
	if err := h.openStore(ctx); err != nil {
		return err
	}

	if h.platform == nil {
		mem, err := platform.LoadFile(h.cfg.Platform.DevicesFile)
		if err != nil {
			return fmt.Errorf("loading platform devices: %w", err)
		}
		h.platform = mem
		h.log.Info("platform devices loaded", "path", h.cfg.Platform.DevicesFile, "devices", mem.Len())
	}

	h.registry = device.NewRegistry()
	h.registry.SetLogger(h.log.Component("registry"))
	applyEnablement(h.registry, h.settings.Devices)
	if err := h.registry.Sync(ctx, h.platform); err != nil {
		return fmt.Errorf("syncing device registry: %w", err)
	}

	if err := h.connectBroker(); err != nil {
		return err
	}

	h.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	h.queue = publish.NewQueue(publish.QueueConfig{
		Publisher: h.broker,
		Delay:     h.cfg.GetQueueDelay(),
		Metrics:   publish.NewMetrics(h.metrics),
	})
	h.queue.SetLogger(h.log.Component("queue"))

	if h.cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(ctx, h.cfg.InfluxDB, h.cfg.Hub.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetLogger(h.log.Component("history"))
		h.influx = client
		h.log.Info("InfluxDB connected", "url", h.cfg.InfluxDB.URL, "bucket", h.cfg.InfluxDB.Bucket)
	}

	if h.cfg.Homie.Enabled {
		h.homie = homie.New(homie.Config{
			Registry:  h.registry,
			Platform:  h.platform,
			Queue:     h.queue,
			Transport: h.broker,
			QoS:       h.qos,
		})
		h.homie.SetLogger(h.log.Component("homie"))
		if _, err := h.homie.Init(ctx, h.settings); err != nil {
			return fmt.Errorf("initialising homie tree: %w", err)
		}
	}

	if h.cfg.Legacy.Enabled {
		style, _ := codec.ParseOnOffStyle(h.cfg.Legacy.OnOff)
		legacyCfg := state.DeviceConfig{
			Registry:   h.registry,
			Platform:   h.platform,
			Queue:      h.queue,
			Subscriber: h.broker,
			Root:       h.cfg.Legacy.Root,
			OnOff:      style,
			QoS:        h.qos,
		}
		if h.influx != nil {
			legacyCfg.Recorder = h.influx
		}
		h.legacy = state.NewDeviceDispatcher(legacyCfg)
		h.legacy.SetLogger(h.log.Component("legacy"))
	}

	systemCfg := state.SystemConfig{
		HubID:     h.cfg.Hub.ID,
		Version:   h.version,
		Root:      h.cfg.Legacy.Root,
		Interval:  h.cfg.GetSystemInterval(),
		Publisher: h.broker,
		Devices:   h.registry,
		Queue:     h.queue,
	}
	if h.influx != nil {
		systemCfg.Recorder = h.influx
	}
	h.system = state.NewSystemReporter(systemCfg)
	h.system.SetLogger(h.log.Component("system"))

	if h.cfg.HomeAssistant.Enabled && h.homie != nil {
		h.discovery = hass.New(hass.Config{
			Source: h.homie,
			Queue:  h.queue,
			Prefix: h.cfg.HomeAssistant.Prefix,
			QoS:    h.qos,
		})
		h.discovery.SetLogger(h.log.Component("hass"))
	}

	if h.cfg.API.Enabled {
		health := map[string]api.HealthChecker{
			"database": h.db,
			"mqtt":     h.broker,
		}
		if h.influx != nil {
			health["influxdb"] = h.influx
		}
		srv, err := api.New(api.Deps{
			Config:     h.cfg.API,
			Logger:     h.log.Component("api"),
			Registry:   h.registry,
			Controller: h,
			Gatherer:   h.metrics,
			Registerer: h.metrics,
			Health:     health,
			Changes:    audit.NewSQLiteRepository(h.db.DB),
			Version:    h.version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		h.api = srv
	}

	return nil
}

// openStore opens the database and resolves the starting settings:
// settings saved through the API win over the config file.
func (h *Hub) openStore(ctx context.Context) error {
	db, err := database.Open(h.cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	h.db = db
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	h.store = settings.NewSQLiteRepository(db.DB)

	fromConfig := homie.SettingsFromConfig(h.cfg.Homie, h.cfg.Devices)

	stored, err := h.store.LoadHomie(ctx)
	switch {
	case err == nil && stored.Validate() == nil:
		h.settings = stored
		h.log.Info("homie settings loaded from store", "base", stored.Base())
		return nil
	case err == nil:
		h.log.Warn("stored homie settings invalid, using config", "error", stored.Validate())
	case !errors.Is(err, settings.ErrNotFound):
		return fmt.Errorf("loading homie settings: %w", err)
	}

	overrides, err := h.store.DeviceOverrides(ctx)
	if err != nil {
		return fmt.Errorf("loading device overrides: %w", err)
	}
	if fromConfig.Devices == nil {
		fromConfig.Devices = make(map[string]bool, len(overrides))
	}
	maps.Copy(fromConfig.Devices, overrides)
	h.settings = fromConfig
	return nil
}

func (h *Hub) connectBroker() error {
	if h.broker != nil {
		return nil
	}
	client, err := mqtt.Connect(h.cfg.MQTT,
		mqtt.WithWill(h.settings.Will(h.qos)),
		mqtt.WithLogger(h.log.Component("mqtt")),
		mqtt.WithBackgroundConnect(),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	h.broker = client
	h.log.Info("MQTT client created",
		"broker", fmt.Sprintf("%s:%d", h.cfg.MQTT.Broker.Host, h.cfg.MQTT.Broker.Port),
		"client_id", client.ClientID(),
	)
	return nil
}

// Start begins following platform events, inbound commands and broker
// connection changes, and starts the API server.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	if h.homie != nil {
		if err := h.homie.Start(ctx); err != nil {
			return fmt.Errorf("starting homie dispatcher: %w", err)
		}
	}
	if h.legacy != nil {
		if err := h.legacy.Start(ctx); err != nil {
			return fmt.Errorf("starting legacy dispatcher: %w", err)
		}
		h.system.Start(ctx)
	}
	if h.discovery != nil {
		h.discovery.Start()
	}

	h.platformSub = h.platform.SubscribeDevices(func(ch device.Change) {
		if err := h.registry.HandleChange(ctx, h.platform, ch); err != nil {
			h.log.Warn("applying platform change", "device_id", ch.DeviceID, "kind", ch.Kind, "error", err)
		}
	})

	h.broker.SetOnConnect(h.handleConnect)
	h.broker.SetOnDisconnect(h.handleDisconnect)
	if h.broker.IsConnected() {
		h.handleConnect()
	}

	if h.api != nil {
		if err := h.api.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
	}

	h.log.Info("hub started",
		"devices", h.registry.Len(),
		"enabled", h.registry.EnabledCount(),
		"homie", h.homie != nil,
		"legacy", h.legacy != nil,
		"homeassistant", h.discovery != nil,
	)
	return nil
}

func (h *Hub) handleConnect() {
	h.log.Info("MQTT connected")
	// Enqueue the announcements before draining so each topic is sent once.
	if h.homie != nil {
		h.homie.Announce()
	}
	if h.discovery != nil {
		h.discovery.Republish()
	}
	h.queue.Start()
	if h.legacy != nil {
		if err := h.system.PublishNow(); err != nil {
			h.log.Warn("publishing system state", "error", err)
		}
	}
}

func (h *Hub) handleDisconnect(err error) {
	h.log.Warn("MQTT disconnected, pausing publish queue", "error", err, "pending", h.queue.Len())
	h.queue.Stop()
}

// Close tears everything down in reverse order of construction. Retained
// state stays on the broker; the Homie device is marked disconnected.
func (h *Hub) Close() error {
	var errs []error
	h.closeOnce.Do(func() {
		if h.api != nil {
			if err := h.api.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if h.platformSub != nil {
			h.platformSub.Destroy()
		}
		if h.discovery != nil {
			h.discovery.Stop(false)
		}
		if h.legacy != nil {
			h.system.Stop()
			h.legacy.Stop()
		}
		if h.homie != nil {
			if err := h.homie.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing homie dispatcher: %w", err))
			}
		}
		if h.queue != nil {
			h.queue.Close()
		}
		if h.broker != nil {
			h.log.Info("disconnecting from MQTT")
			if err := h.broker.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing MQTT: %w", err))
			}
		}
		if h.influx != nil {
			h.log.Info("closing InfluxDB connection")
			if err := h.influx.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing InfluxDB: %w", err))
			}
		}
		if h.db != nil {
			h.log.Info("closing database")
			if err := h.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing database: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

// HealthCheck verifies the database, the broker and InfluxDB if enabled.
func (h *Hub) HealthCheck(ctx context.Context) error {
	if err := h.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := h.broker.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if h.influx != nil {
		if err := h.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// Registry returns the device registry.
func (h *Hub) Registry() *device.Registry {
	return h.registry
}

// LegacyDispatcher returns the legacy state dispatcher, or nil when the
// legacy convention is disabled.
func (h *Hub) LegacyDispatcher() *state.DeviceDispatcher {
	return h.legacy
}

// applyEnablement makes the registry match desired, with devices that
// have no entry reverting to enabled.
func applyEnablement(r *device.Registry, desired map[string]bool) {
	changes := r.ComputeChanges(desired)
	for _, id := range changes.Enabled {
		r.SetEnabled(id, true)
	}
	for _, id := range changes.Disabled {
		r.SetEnabled(id, false)
	}
}
