// Package app wires configuration, the scheduling core and the notification
// job into one runnable worker.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mailworker/internal/config"
	"mailworker/internal/eventbus"
	"mailworker/internal/jobs/sendmail"
	"mailworker/internal/mailer"
	"mailworker/internal/metrics"
	"mailworker/internal/observability/diag"
	rtsup "mailworker/internal/runtime/supervisor"
	"mailworker/internal/storage"
	"mailworker/internal/task/catalog"
	"mailworker/internal/task/dispatch"
	"mailworker/internal/task/engine"
	"mailworker/internal/task/trigger"
	logx "mailworker/pkg/logx"
)

// MainTriggerID identifies the trigger built from the Schedule setting.
const MainTriggerID = "main"

type App struct {
	cfgm     *config.Manager
	settings *config.Settings

	sup  *rtsup.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	diag    *diag.Service

	sender   mailer.Sender
	catalog  *catalog.Catalog
	engine   *engine.Service
	dispatch *dispatch.Service

	unsubEvents func()
}

type options struct {
	environ func() []string
	sender  mailer.Sender
}

type Option func(*options)

// WithEnviron replaces the process environment used for MAILWORKER_* overrides.
func WithEnviron(fn func() []string) Option { return func(o *options) { o.environ = fn } }

// WithSender replaces the SMTP sender.
func WithSender(s mailer.Sender) Option { return func(o *options) { o.sender = s } }

// New reads the configuration at cfgPath and builds every component.
// Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	if o.environ != nil {
		cfgm.SetEnviron(o.environ)
	}
	settings, warns, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(settings))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	cfgm.LogWarnings(warns)
	cfgm.Commit(settings)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled := mapStorageConfig(settings); enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, errors.Wrap(err, "open storage")
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(metrics.Namespace, reg)

	engineSvc := engine.New(mapEngineConfig(settings), root.With(logx.String("comp", "taskengine")), bus)
	metrics.RegisterEngine(metrics.Namespace, reg, engineSvc.Snapshot)

	cat := catalog.New()
	dispatchSvc := dispatch.New(dispatch.Config{Timeout: settings.JobTimeout}, cat, engineSvc,
		root.With(logx.String("comp", "dispatch")), bus)

	sender := o.sender
	if sender == nil {
		sender = mailer.NewSMTPSender(mapMailerConfig(settings), root.With(logx.String("comp", "mailer")))
	}

	a := &App{
		cfgm:     cfgm,
		settings: settings,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		reg:      reg,
		metrics:  m,
		sender:   sender,
		catalog:  cat,
		engine:   engineSvc,
		dispatch: dispatchSvc,
	}
	a.diag = diag.New(mapDiagConfig(settings), reg, a.health, root.With(logx.String("comp", "diag")))
	return a, nil
}

func (a *App) Settings() *config.Settings { return a.cfgm.Get() }

func (a *App) Dispatch() *dispatch.Service { return a.dispatch }

func (a *App) Catalog() *catalog.Catalog { return a.catalog }

func (a *App) Engine() *engine.Service { return a.engine }

func (a *App) Registry() *prometheus.Registry { return a.reg }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Executions already handed to a worker complete even when the app context
	// is canceled; Stop bounds how long we wait for them.
	a.engine.Start(context.WithoutCancel(a.sup.Context()))

	a.sup.Go("dispatch.loop", a.dispatch.Run)

	// The recorder outlives the app context so outcomes of executions finishing
	// during Stop are still recorded; Stop closes the subscription.
	events, unsub := a.bus.Subscribe(recorderBuffer)
	a.unsubEvents = unsub
	a.sup.Go0("eventbus.record", func(context.Context) { a.record(events) })

	s := a.settings
	if err := a.registerJob(s); err != nil {
		return err
	}
	if err := a.schedule(s); err != nil {
		return err
	}
	if s.RunImmediately {
		if err := a.dispatch.TriggerNow(s.JobName); err != nil {
			a.log.Warn("immediate run not started", logx.String("job", s.JobName), logx.Err(err))
		} else {
			a.log.Info("immediate run requested", logx.String("job", s.JobName))
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: apply only the latest settings.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applySettings(c, next)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.diag.Start(a.sup.Context())

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) registerJob(s *config.Settings) error {
	if strings.TrimSpace(s.Email) == "" || strings.TrimSpace(s.EmailUsername) == "" || strings.TrimSpace(s.EmailPassword) == "" {
		a.log.Warn("email settings incomplete; the job will run as a no-op",
			logx.Bool("email_set", s.Email != ""), logx.Bool("username_set", s.EmailUsername != ""), logx.Bool("password_set", s.EmailPassword != ""))
	}
	def, err := sendmail.Register(a.catalog, s.JobName, s.Payload(), a.sender, a.log.With(logx.String("comp", "job")))
	if err != nil {
		return errors.Wrapf(err, "register job %q", s.JobName)
	}
	a.log.Debug("job registered", logx.String("job", def.Name), logx.Int("version", def.Version))
	return nil
}

func (a *App) schedule(s *config.Settings) error {
	spec, err := trigger.ParseSchedule(s.Schedule, s.Location())
	if err != nil {
		return errors.Wrap(err, "schedule")
	}
	tr, err := a.dispatch.ScheduleID(MainTriggerID, s.JobName, spec)
	if err != nil {
		return errors.Wrapf(err, "schedule job %q", s.JobName)
	}
	a.log.Info("job scheduled",
		logx.String("job", s.JobName),
		logx.String("schedule", spec.String()),
		logx.Time("next", tr.NextFireTime),
	)
	return nil
}

// applySettings applies a reloaded configuration.
func (a *App) applySettings(ctx context.Context, next *config.Settings) {
	prev := a.settings
	changed, attrs := config.Diff(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.settings = next

	a.logs.Apply(mapLogConfig(next))
	if sa, ok := a.sender.(interface{ Apply(mailer.Config) }); ok {
		sa.Apply(mapMailerConfig(next))
	}

	// The new payload wins on the next fire.
	if err := a.registerJob(next); err != nil {
		a.log.Error("job re-register failed", logx.Err(err))
	}
	if config.ScheduleChanged(prev, next) {
		if err := a.schedule(next); err != nil {
			a.log.Error("reschedule failed; keeping previous trigger", logx.Err(err))
		} else if prev.JobName != next.JobName {
			a.catalog.Remove(prev.JobName)
		}
	}

	var restart []string
	for _, name := range changed {
		if restartOnly[name] {
			restart = append(restart, name)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("keys", strings.Join(restart, ",")))
	}

	a.diag.Reconfigure(ctx, mapDiagConfig(next))
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: changed})

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// health backs the /healthz endpoint.
func (a *App) health() (bool, any) {
	detail := map[string]any{
		"triggers": a.dispatch.List(),
	}
	ok := true
	if a.sup != nil {
		detail["supervisor"] = a.sup.Snapshot()
		ok = a.sup.Err() == nil
	}
	es := a.engine.Snapshot()
	es.History = nil
	detail["engine"] = es
	return ok, detail
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stops the dispatch loop and the config watcher.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("taskengine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	if a.unsubEvents != nil {
		a.unsubEvents()
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("events_dropped", eventbus.Dropped(a.bus)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
