// Ccgate is the session gateway for the Crisis Cleanup platform: filtered
// searches, cached models, recent worksites and current-incident state over
// one HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/ccgate/internal/authmw"
	"github.com/linnemanlabs/ccgate/internal/ccapi"
	vc "github.com/linnemanlabs/ccgate/internal/cfg"
	"github.com/linnemanlabs/ccgate/internal/gateapi"
	"github.com/linnemanlabs/ccgate/internal/gateway"
	"github.com/linnemanlabs/ccgate/internal/i18n"
	"github.com/linnemanlabs/ccgate/internal/incident"
	"github.com/linnemanlabs/ccgate/internal/model"
	"github.com/linnemanlabs/ccgate/internal/modelcache"
	"github.com/linnemanlabs/ccgate/internal/notify"
	"github.com/linnemanlabs/ccgate/internal/notify/slack"
	"github.com/linnemanlabs/ccgate/internal/realtime"
	"github.com/linnemanlabs/ccgate/internal/recent"
)

const appName = "ccgate"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    vc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// env vars with prefix CCGATE_ fill in anything not set on the command line
	cfg.FillFromEnv(flag.CommandLine, "CCGATE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"backend_url", appCfg.BackendURL,
		"realtime", appCfg.WSURL != "",
		"locale", appCfg.Locale,
		"storage", appCfg.StorageBackend(),
		"enable_tracing", traceCfg.EnableTracing,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"auth", appCfg.GatewayToken != "",
	)

	// profiling first so we get profiles from the whole app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	kv, closeStore, err := openLocalStore(ctx, &appCfg, m.Registry(), L)
	if err != nil {
		return err
	}
	defer closeStore()

	api, err := ccapi.New(appCfg.BackendURL, appCfg.APIToken, nil)
	if err != nil {
		return fmt.Errorf("backend client: %w", err)
	}

	// toasts; error toasts also go to slack when configured
	toastOpts := notify.Options{Logger: L.With("subsystem", "notify")}
	if appCfg.SlackWebhookURL != "" {
		toastOpts.Forwarder = slack.New(appCfg.SlackWebhookURL, v.AppName, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	toasts := notify.New(toastOpts)

	// model caches share metrics and report failures as toasts
	cacheOpts := modelcache.Options{
		Logger:   L.With("subsystem", "modelcache"),
		Reporter: toasts,
		Hooks:    modelcache.NewMetrics(m.Registry()).Hooks(),
	}
	worksites := modelcache.New(model.Worksites, api.GetWorksite, cacheOpts)
	incidents := modelcache.New(model.Incidents, api.GetIncident, cacheOpts)
	users := modelcache.New(model.Users, api.GetUser, cacheOpts)
	teams := modelcache.New(model.Teams, api.GetTeam, cacheOpts)
	roles := modelcache.New(model.Roles, api.GetRole, cacheOpts)
	models := modelcache.NewRegistry(worksites, incidents, users, teams, roles)

	recentStore, err := recent.Open(ctx, kv, recent.Options{
		Limit:  appCfg.RecentLimit,
		Logger: L.With("subsystem", "recent"),
	})
	if err != nil {
		return fmt.Errorf("recent worksites: %w", err)
	}

	resolver := incident.NewResolver(api, incident.Options{
		Logger:   L.With("subsystem", "incident"),
		Reporter: toasts,
	})
	me := func(ctx context.Context) (int64, error) {
		u, err := api.GetMe(ctx)
		if err != nil {
			return 0, err
		}
		users.Put(u.ID, u)
		return u.ID, nil
	}
	currentUser := incident.NewCurrentUser(me, users, resolver, toasts)

	catalog, err := i18n.New(kv, api, appCfg.Locale, i18n.Options{Logger: L.With("subsystem", "i18n")})
	if err != nil {
		return fmt.Errorf("localizations: %w", err)
	}

	// realtime feed invalidates cached models; optional
	var (
		svc      *gateway.Service
		rt       *realtime.Client
		rtStatus gateway.Realtime
	)
	if appCfg.WSURL != "" {
		rt, err = realtime.New(realtime.Options{
			BaseURL: appCfg.WSURL,
			Path:    appCfg.WSPath,
			Token:   appCfg.APIToken,
			Logger:  L.With("subsystem", "realtime"),
			Hooks:   realtime.NewMetrics(m.Registry()).Hooks(),
		}, func(ctx context.Context, msg realtime.Message) {
			svc.HandleRealtime(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("realtime client: %w", err)
		}
		rtStatus = rt
	}

	svc, err = gateway.NewService(gateway.Deps{
		Backend:     api,
		Models:      models,
		Worksites:   worksites,
		Users:       users,
		Recent:      recentStore,
		Resolver:    resolver,
		CurrentUser: currentUser,
		Toasts:      toasts,
		Catalog:     catalog,
		Metrics:     gateway.NewMetrics(m.Registry()),
		Realtime:    rtStatus,
		Logger:      L.With("subsystem", "gateway"),
	})
	if err != nil {
		return fmt.Errorf("gateway service: %w", err)
	}
	svc.Start(ctx)

	stopRealtime := func(context.Context) error { return nil }
	if rt != nil {
		rtCtx, rtCancel := context.WithCancel(ctx)
		rtDone := make(chan struct{})
		go func() {
			defer close(rtDone)
			if err := rt.Run(rtCtx); err != nil {
				L.Error(rtCtx, err, "realtime client stopped")
			}
		}()
		stopRealtime = func(sctx context.Context) error {
			rtCancel()
			select {
			case <-rtDone:
				return nil
			case <-sctx.Done():
				return sctx.Err()
			}
		}
		defer rtCancel()
	}

	// readiness fails while draining so the load balancer stops routing here
	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 1024))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// api routes sit behind the gateway token; health stays open
	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerToken(appCfg.GatewayToken))
		gateapi.New(L, svc).RegisterRoutes(r)
	})

	// outermost wrapper sees the raw request first and the response last
	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		if err := apiHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills us after its timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")
	shutdownGate.Set("draining")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// background work (cache loads, preference writes, slack forwards) runs
	// detached from request contexts, so it is waited for explicitly
	waitBackground := func(sctx context.Context) error {
		done := make(chan struct{})
		go func() {
			models.Wait()
			resolver.Wait()
			toasts.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	}

	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"realtime client", stopRealtime},
		{"background work", waitBackground},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd, unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
