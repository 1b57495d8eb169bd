package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/lucasnoah/aelitaqueue/internal/adapters"
	"github.com/lucasnoah/aelitaqueue/internal/adapters/buildbotci"
	"github.com/lucasnoah/aelitaqueue/internal/adapters/githubci"
	"github.com/lucasnoah/aelitaqueue/internal/adapters/githubui"
	"github.com/lucasnoah/aelitaqueue/internal/adapters/gitvcs"
	"github.com/lucasnoah/aelitaqueue/internal/adapters/permcache"
	"github.com/lucasnoah/aelitaqueue/internal/config"
	"github.com/lucasnoah/aelitaqueue/internal/dispatch"
	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/log"
	"github.com/lucasnoah/aelitaqueue/internal/queuestore"
	"github.com/lucasnoah/aelitaqueue/internal/ratelimit"
	"github.com/lucasnoah/aelitaqueue/internal/statusview"
)

// runDaemon is the single long-running command body: it opens the
// configured Queue Store, builds every pipeline's adapter bindings, and
// runs the Event Dispatcher and the read-only status view until the
// process receives SIGINT/SIGTERM.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, slog.LevelInfo)

	store, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening queue store: %w", err)
	}
	defer store.Close()

	limiter := ratelimit.New()
	perms := permcache.New()

	fleet, err := buildFleet(cfg.Pipelines, limiter, perms, logger)
	if err != nil {
		return fmt.Errorf("building pipeline adapters: %w", err)
	}

	d := dispatch.New(store, fleet.bindings, fleet.sources, limiter, logger)

	var wg sync.WaitGroup
	runErrs := make(chan error, len(fleet.servers)+len(fleet.listeners)+len(fleet.runners)+2)

	for _, srv := range fleet.servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				runErrs <- fmt.Errorf("webhook listener %s: %w", srv.Addr, err)
			}
		}(srv)
	}
	for _, l := range fleet.listeners {
		wg.Add(1)
		go func(l listenJob) {
			defer wg.Done()
			lis, err := net.Listen("tcp", l.addr)
			if err != nil {
				runErrs <- fmt.Errorf("ci listener %s: %w", l.addr, err)
				return
			}
			go func() {
				<-ctx.Done()
				lis.Close()
			}()
			if err := l.adapter.Listen(lis); err != nil && ctx.Err() == nil {
				runErrs <- fmt.Errorf("ci listener %s: %w", l.addr, err)
			}
		}(l)
	}
	for _, r := range fleet.runners {
		wg.Add(1)
		go func(r *gitvcs.Adapter) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	for _, r := range fleet.uiRunners {
		wg.Add(1)
		go func(r *githubui.Adapter) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}

	statusSrv := &http.Server{Addr: cfg.StatusAddr, Handler: statusview.NewServer(store, cfg.Pipelines, logger).Handler()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErrs <- fmt.Errorf("status view %s: %w", cfg.StatusAddr, err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			runErrs <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-runErrs:
		logger.Error("fatal component error, shutting down", "error", err.Error())
		stop()
	}

	for _, srv := range fleet.servers {
		_ = srv.Close()
	}
	_ = statusSrv.Close()
	wg.Wait()

	select {
	case err := <-runErrs:
		return err
	default:
		return nil
	}
}

func openStore(cfg config.StoreConfig) (queuestore.Store, error) {
	switch cfg.Backend {
	case "file":
		return queuestore.NewFileStore(cfg.Path)
	case "sqlite":
		return queuestore.OpenSQLite(cfg.Path)
	case "postgres":
		return queuestore.OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unrecognized store backend %q", cfg.Backend)
	}
}

type listenJob struct {
	addr    string
	adapter *buildbotci.Adapter
}

type fleet struct {
	bindings  map[ids.PipelineID]dispatch.Binding
	sources   []adapters.EventSource
	servers   []*http.Server
	listeners []listenJob
	runners   []*gitvcs.Adapter
	uiRunners []*githubui.Adapter
}

// buildFleet constructs every configured pipeline's Ui/Vcs/Ci adapters and
// groups their transport-level plumbing (HTTP servers, a raw TCP listener
// per buildbot channel, the gitvcs worker loop) for runDaemon to start.
func buildFleet(pipelines []config.PipelineConfig, limiter *ratelimit.Limiter, perms *permcache.Cache, logger *log.Logger) (*fleet, error) {
	f := &fleet{bindings: make(map[ids.PipelineID]dispatch.Binding)}
	mux := make(map[string]*http.ServeMux)

	handlerFor := func(addr string) *http.ServeMux {
		m, ok := mux[addr]
		if !ok {
			m = http.NewServeMux()
			mux[addr] = m
		}
		return m
	}

	for _, p := range pipelines {
		pid := ids.PipelineID(p.ID)

		ui, err := buildUi(pid, p.Ui, limiter, perms, handlerFor)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q ui: %w", p.Name, err)
		}
		f.sources = append(f.sources, ui)
		f.uiRunners = append(f.uiRunners, ui)

		vcs, err := buildVcs(p.Vcs, limiter)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q vcs: %w", p.Name, err)
		}
		f.runners = append(f.runners, vcs)
		f.sources = append(f.sources, vcs)

		ciMap := make(map[ids.CiID]adapters.Ci)
		var ciChannels []ids.CiID
		for _, ciCfg := range p.Ci {
			ciID := ids.CiID(ciCfg.ID)
			ciAdapter, err := buildCi(pid, ciID, ciCfg, f, handlerFor, logger)
			if err != nil {
				return nil, fmt.Errorf("pipeline %q ci[%d]: %w", p.Name, ciCfg.ID, err)
			}
			ciMap[ciID] = ciAdapter
			ciChannels = append(ciChannels, ciID)
			if src, ok := ciAdapter.(adapters.EventSource); ok {
				f.sources = append(f.sources, src)
			}
		}

		f.bindings[pid] = dispatch.Binding{
			Pipeline:   pid,
			Ui:         ui,
			Vcs:        vcs,
			Ci:         ciMap,
			CiChannels: ciChannels,
		}
	}

	for addr, m := range mux {
		f.servers = append(f.servers, &http.Server{Addr: addr, Handler: m})
	}
	return f, nil
}

func buildUi(pid ids.PipelineID, cfg config.AdapterConfig, limiter *ratelimit.Limiter, perms *permcache.Cache, handlerFor func(string) *http.ServeMux) (*githubui.Adapter, error) {
	if cfg.Type != "github" {
		return nil, fmt.Errorf("unsupported ui type %q", cfg.Type)
	}
	a := githubui.New(pid, []byte(cfg.Secret), &githubui.ExecRunner{}, limiter)
	a.SetPermissions(perms)
	if cfg.Token != "" {
		os.Setenv("GH_TOKEN", cfg.Token)
	}
	if cfg.Listen != "" {
		handlerFor(cfg.Listen).Handle("/webhooks/ui/"+pid.String(), a)
	}
	return a, nil
}

func buildVcs(cfg config.AdapterConfig, limiter *ratelimit.Limiter) (*gitvcs.Adapter, error) {
	if cfg.Type != "git" {
		return nil, fmt.Errorf("unsupported vcs type %q", cfg.Type)
	}
	return gitvcs.New(&gitvcs.ExecGit{}, cfg.RepoDir, cfg.StagingBranch, cfg.MasterBranch, cfg.Remote, limiter), nil
}

func buildCi(pid ids.PipelineID, ciID ids.CiID, cfg config.CiChannelConfig, f *fleet, handlerFor func(string) *http.ServeMux, logger *log.Logger) (adapters.Ci, error) {
	switch cfg.Type {
	case "github":
		a := githubci.New(pid, ciID, cfg.Context)
		if cfg.Listen != "" {
			handlerFor(cfg.Listen).Handle(fmt.Sprintf("/webhooks/ci/%s/%s", pid.String(), ciID.String()), a)
		}
		return a, nil
	case "buildbot":
		a := buildbotci.New(pid, ciID, logger)
		if cfg.Listen != "" {
			f.listeners = append(f.listeners, listenJob{addr: cfg.Listen, adapter: a})
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported ci type %q", cfg.Type)
	}
}
