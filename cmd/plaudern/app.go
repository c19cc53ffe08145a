package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/plaudern/plaudern/internal/alert"
	"github.com/plaudern/plaudern/internal/cache"
	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/config"
	"github.com/plaudern/plaudern/internal/connectivity"
	"github.com/plaudern/plaudern/internal/db"
	"github.com/plaudern/plaudern/internal/logging"
	"github.com/plaudern/plaudern/internal/remote"
	"github.com/plaudern/plaudern/internal/roomsync"
)

// pingChannel is a remote channel that can also report reachability.
type pingChannel interface {
	remote.Channel
	Ping(ctx context.Context) error
}

// app bundles the collaborators a room command needs. It is built once per
// command invocation and passed to whatever needs it.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	cache   *cache.BadgerStore
	channel pingChannel
	monitor *connectivity.Monitor
	user    chat.Sender
	closers []func() error
}

// loadConfig reads the config and builds the logger.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// openCache opens the local snapshot cache, creating its directory.
func openCache(cfg *config.Config, log zerolog.Logger) (*cache.BadgerStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return cache.OpenBadger(cache.BadgerOpts{Path: cfg.Cache.Path, Logger: log})
}

// openSQL connects to the SQL remote store selected by cfg.
func openSQL(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Remote.Driver {
	case config.DriverSQLite:
		return db.OpenSQLite(cfg.Remote.SQLitePath)
	case config.DriverMySQL:
		m := cfg.Remote.MySQL
		return db.ConnectMySQL(db.MySQLOpts{
			Host:     m.Host,
			Port:     m.Port,
			User:     m.User,
			Password: m.Password,
			Database: m.Database,
		})
	default:
		return nil, fmt.Errorf("remote driver %q is not a SQL store", cfg.Remote.Driver)
	}
}

// newApp wires config, logging, cache, remote channel, identity and the
// connectivity monitor.
func newApp(cmd *cobra.Command, configPath string) (*app, error) {
	cfg, log, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	store, err := openCache(cfg, log)
	if err != nil {
		return nil, err
	}
	a.cache = store
	a.closers = append(a.closers, store.Close)

	if err := a.openChannel(); err != nil {
		a.Close()
		return nil, err
	}

	a.user = chat.Sender{ID: cfg.User.ID, Name: cfg.User.Name}
	if a.user.ID == "" {
		id, err := store.Identity()
		if err != nil {
			a.Close()
			return nil, err
		}
		a.user.ID = id
	}

	monitor, err := connectivity.NewMonitor(connectivity.MonitorOpts{
		Prober:   a.prober(),
		Schedule: cfg.Connectivity.Schedule,
		Timeout:  cfg.Connectivity.Timeout,
		Alerter:  a.alerter(cmd),
		Logger:   log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.monitor = monitor
	return a, nil
}

func (a *app) openChannel() error {
	cfg := a.cfg
	if cfg.Remote.Driver == config.DriverRedis {
		opts, err := redis.ParseURL(cfg.Remote.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		ch, err := remote.NewRedisChannel(remote.RedisChannelOpts{
			Client:         client,
			Room:           cfg.Room,
			ResyncInterval: cfg.Remote.ResyncInterval,
			Logger:         a.log,
		})
		if err != nil {
			return err
		}
		a.channel = ch
		return nil
	}

	gormDB, err := openSQL(cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { return db.Close(gormDB) })
	if cfg.Remote.Driver == config.DriverSQLite {
		if err := db.AutoMigrate(gormDB); err != nil {
			return err
		}
	}
	ch, err := remote.NewSQLChannel(remote.SQLChannelOpts{
		DB:           gormDB,
		Room:         cfg.Room,
		PollInterval: cfg.Remote.PollInterval,
		Logger:       a.log,
	})
	if err != nil {
		return err
	}
	a.channel = ch
	return nil
}

func (a *app) prober() connectivity.Prober {
	if a.cfg.Connectivity.Probe == config.ProbeTCP {
		return connectivity.TCPProber{Address: a.cfg.Connectivity.Address}
	}
	return connectivity.ProbeFunc(a.channel.Ping)
}

// alerter always reports to the terminal and, when configured, to Slack and
// Discord.
func (a *app) alerter(cmd *cobra.Command) alert.Alerter {
	alerters := alert.Multi{alert.Writer{Out: cmd.ErrOrStderr(), Color: isTerminal(cmd.ErrOrStderr())}}
	if url := a.cfg.Alerts.SlackWebhookURL; url != "" {
		alerters = append(alerters, alert.Slack{WebhookURL: url, Room: a.cfg.Room})
	}
	if id := a.cfg.Alerts.DiscordWebhookID; id != "" {
		d, err := alert.NewDiscord(id, a.cfg.Alerts.DiscordWebhookToken, a.cfg.Room)
		if err != nil {
			a.log.Warn().Err(err).Msg("discord alerts disabled")
		} else {
			alerters = append(alerters, d)
		}
	}
	return alerters
}

// startController determines connectivity once, starts background probing
// and starts a controller for the configured room.
func (a *app) startController(ctx context.Context, probe bool) (*roomsync.Controller, error) {
	a.monitor.Check(ctx)
	if probe {
		go a.monitor.Run(ctx)
	}

	ctrl, err := roomsync.New(roomsync.Options{
		Room:         a.cfg.Room,
		User:         a.user,
		Display:      roomsync.Display{Color: a.cfg.User.Color},
		Channel:      a.channel,
		Cache:        a.cache,
		Connectivity: a.monitor,
		CacheTimeout: a.cfg.Cache.Timeout,
		Logger:       a.log,
	})
	if err != nil {
		return nil, err
	}
	if err := ctrl.Start(ctx); err != nil {
		return nil, err
	}
	return ctrl, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
