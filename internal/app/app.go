package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"trackbot/internal/commands"
	"trackbot/internal/config"
	"trackbot/internal/notifier"
	"trackbot/internal/osu"
	"trackbot/internal/poller"
	"trackbot/internal/runtime/supervisor"
	"trackbot/internal/storage"
	"trackbot/internal/tracking"
	kit "trackbot/internal/transport"
	telegram "trackbot/internal/transport/telegram/adapter"
	logx "trackbot/pkg/logx"
)

// pollerMaxRestarts bounds poller crash loops; past it the supervisor
// reports the error and the app stops.
const pollerMaxRestarts = 20

// App wires the tracker, its polling loop and the Telegram surface together.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	tracker *tracking.Tracker
	osu     *osu.Client
	adapter *telegram.Adapter
	notif   *notifier.Service
	poller  *poller.Poller
	router  *commands.Router
	report  *cron.Cron

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Logger{})
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg), nil)
	cfgm.SetLogger(log)

	ad, err := telegram.New(mapTelegram(cfg), log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(logx.SenderFunc(func(ctx context.Context, chatID int64, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
		return err
	}))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg); err != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = ad.Stop(sctx)
		cancel()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// build assembles the components. On error the store, if opened, is closed.
func (a *App) build(cfg *config.Config) (err error) {
	log := a.logs.Logger()
	defer func() {
		if err != nil && a.store != nil {
			_ = a.store.Close()
		}
	}()

	topts := append(trackerOptions(cfg), tracking.WithLogger(log.With(logx.String("comp", "tracker"))))
	if sc, ok := mapStorage(cfg); ok {
		st, err := storage.Open(sc, log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		topts = append(topts, tracking.WithGateway(st))
	} else {
		a.log.Warn("storage disabled; tracked players are lost on restart")
	}
	a.tracker = tracking.NewTracker(topts...)
	if a.store != nil {
		n, err := a.tracker.Load(context.Background(), a.store)
		if err != nil {
			return err
		}
		a.log.Info("tracked players loaded", logx.Int("count", n))
	}

	oc, err := osu.NewClient(mapOsu(cfg), log.With(logx.String("comp", "osu")))
	if err != nil {
		return err
	}
	a.osu = oc

	a.notif = notifier.New(mapNotifier(cfg), a.adapter, log.With(logx.String("comp", "notifier")),
		notifier.WithChatGone(a.dropChat))
	a.poller = poller.New(a.tracker, oc, a.notif, log.With(logx.String("comp", "poller")))

	a.router = commands.NewRouter(a.adapter, cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "commands")))
	a.router.SetBotName(cfg.Telegram.BotName)
	trk := &commands.Tracking{
		Tracker:      a.tracker,
		Players:      oc,
		DefaultLimit: defaultLimit(cfg),
		StatsExtra: func() []string {
			return statsLines(a.poller, func() *supervisor.Supervisor { return a.sup })
		},
	}
	a.router.Register(trk.Commands()...)
	a.router.Register(a.router.HelpCommand())

	a.report, err = newStatsReport(cfg.Tracking.StatsReport, log.With(logx.String("comp", "report")), a.tracker, a.poller)
	return err
}

// dropChat forgets every subscription of a chat the bot can no longer reach.
func (a *App) dropChat(ctx context.Context, chatID int64) {
	n, err := a.tracker.RemoveChannel(ctx, tracking.ChannelID(chatID), nil)
	if err != nil {
		a.log.Warn("drop unreachable chat", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	if n > 0 {
		a.log.Info("unreachable chat dropped", logx.Int64("chat_id", chatID), logx.Int("removed", n))
	}
}

func (a *App) Tracker() *tracking.Tracker { return a.tracker }

// Done is closed once the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	a.notif.Start(c)

	a.sup.GoRestart("poller", a.poller.Run,
		supervisor.WithRestartBackoff(time.Second, time.Minute),
		supervisor.WithMaxRestarts(pollerMaxRestarts),
		supervisor.WithStopOnCleanExit(true),
	)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Dispatch(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.Menu()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})
	if a.report != nil {
		a.report.Start()
	}

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log, func() bool { return a.sup.Err() == nil })
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Int("tracked", a.tracker.Stats().Entities),
		logx.Duration("interval", a.tracker.Interval()),
		logx.Bool("paused", a.tracker.Paused()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	keep := func(err error) error {
		if err != nil {
			errs = append(errs, err)
		}
		return err
	}
	step := a.stepper(ctx)
	step("report", time.Second, func(context.Context) error {
		if a.report != nil {
			<-a.report.Stop().Done()
		}
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return keep(a.adapter.Stop(c)) })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return keep(a.sup.Wait(c)) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return keep(a.store.Close())
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
