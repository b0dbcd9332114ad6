package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hwplanner/internal/config"
	"hwplanner/internal/engine"
	appLog "hwplanner/internal/log"
	"hwplanner/internal/notify"
	"hwplanner/internal/render"
	"hwplanner/internal/scheduler"
	"hwplanner/internal/session"
	"hwplanner/internal/store"
	"hwplanner/internal/telegram"
	"hwplanner/internal/web"
)

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
}

func main() {
	appLog.Info("hwplanner starting", "version", "0.3.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		appLog.Error("failed to read environment", err, "env_file", flags.envFile)
		os.Exit(1)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"max_lessons", conf.MaxLessons,
		"horizon_days", conf.HorizonDays,
		"maintenance_cron", conf.MaintenanceCron,
		"storage", conf.Storage.Backend,
		"telegram", conf.Telegram.Enabled,
		"once", flags.once,
	)

	if err := run(conf, flags.once); err != nil {
		appLog.Error("hwplanner stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("hwplanner exiting")
}

func run(conf *config.Config, once bool) error {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(conf.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			appLog.Error("failed to close store", err)
		}
	}()

	loc := conf.Location()
	eng := engine.New(st, engine.Options{
		MaxLessons: conf.MaxLessons,
		Horizon:    conf.HorizonDays,
		Location:   loc,
		Render:     render.Options{ShowEmptySlots: conf.ShowEmptySlots},
	})
	mgr := session.NewManager(eng, conf.SessionTTL(), nil)

	var (
		bot    *telegram.Bot
		sender notify.Sender = notify.LogSender{}
	)
	if conf.Telegram.Enabled {
		bot, err = telegram.New(conf.Telegram.Token, mgr)
		if err != nil {
			return err
		}
		sender = bot.Notifier()
	}

	daily := scheduler.DailyMaintenance(eng, sender)
	if once {
		daily(ctx)
		return nil
	}

	sched := scheduler.New(ctx, loc)
	if err := sched.Add("daily-maintenance", conf.MaintenanceCron, daily); err != nil {
		return err
	}
	if err := sched.Add("session-sweep", scheduler.SweepSpec, func(context.Context) {
		if n := mgr.Sweep(); n > 0 {
			appLog.Debug("expired conversations evicted", "count", n)
		}
	}); err != nil {
		return err
	}
	sched.Start()

	var wg sync.WaitGroup
	if bot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bot.Run(ctx); err != nil {
				appLog.Error("telegram bot stopped", err)
			}
		}()
	}

	serveErr := web.NewServer(conf, eng, sender).Serve(ctx)
	// The server also returns on listen errors; bring the rest down too.
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	wg.Wait()
	return serveErr
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/hwplanner/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional dotenv file with secrets")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run the daily prune and reminder pass once and exit")

	flag.Parse()

	return cfg
}
