// Package main is the entry point for the paperbase tool.
//
// paperbase manages a content-addressable asset store for a multi-tenant
// document workspace: deduplicated per-owner blobs, quota accounting,
// garbage collection, and container duplication across owners. The blob
// root can be served read-only over HTTP under the /assets/ prefix.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/ksid"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/paperbase/paperbase/internal/config"
	"github.com/paperbase/paperbase/internal/dup"
	"github.com/paperbase/paperbase/internal/storage/assets"
	"github.com/paperbase/paperbase/internal/storage/content"
	"github.com/paperbase/paperbase/internal/storage/identity"
)

const usageText = `usage: paperbase [flags] <command> [args]

Commands:
  owners                                    List owners with tier and usage
  owner-create <name> [capped|uncapped]     Create an owner
  usage <owner>                             Report an owner's usage and cap
  stats                                     Report usage across all owners
  gc <owner>                                Collect unreferenced assets
  dup <owner> <container> <target> [parent] Duplicate a container tree
  serve                                     Serve the blob root over HTTP
`

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "paperbase: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	httpAddr := flag.String("http", "localhost:8080", "Address the serve command listens on")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg, err := config.Load(*dataDir)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := setLogLevel(ll, cfg.LogLevel); err != nil {
		return err
	}

	app, err := newApp(*dataDir, cfg)
	if err != nil {
		return err
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "owners":
		return app.cmdOwners(rest)
	case "owner-create":
		return app.cmdOwnerCreate(rest)
	case "usage":
		return app.cmdUsage(rest)
	case "stats":
		return app.cmdStats(rest)
	case "gc":
		return app.cmdGC(rest)
	case "dup":
		return app.cmdDup(ctx, rest)
	case "serve":
		return app.cmdServe(ctx, *dataDir, *httpAddr, ll)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %q", cmd)
	}
}

func setLogLevel(ll *slog.LevelVar, level string) error {
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info", "":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", level)
	}
	return nil
}

// app bundles the wired services behind the CLI commands.
type app struct {
	owners     *identity.Directory
	containers *content.FileStore
	store      *assets.Store
	ledger     *assets.Ledger
	collector  *assets.Collector
	engine     *dup.Engine
}

func newApp(dataDir string, cfg *config.Config) (*app, error) {
	owners, err := identity.NewDirectory(filepath.Join(dataDir, "db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize owner directory: %w", err)
	}
	containers, err := content.NewFileStore(filepath.Join(dataDir, "containers"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container store: %w", err)
	}
	norm := &assets.Normalizer{
		MaxDimension: cfg.Assets.MaxDimension,
		JPEGQuality:  cfg.Assets.JPEGQuality,
	}
	store, err := assets.NewStore(filepath.Join(dataDir, "assets"), norm)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize asset store: %w", err)
	}
	ledger := assets.NewLedger(owners, cfg.Quotas)
	collector := assets.NewCollector(store, ledger, containers, cfg.GC.MinIntervalSeconds)
	engine := dup.NewEngine(containers, store, ledger, collector)
	engine.SetLimits(cfg.Duplication.MaxDepth, cfg.Duplication.MaxEntities)
	return &app{
		owners:     owners,
		containers: containers,
		store:      store,
		ledger:     ledger,
		collector:  collector,
		engine:     engine,
	}, nil
}

func (a *app) cmdOwners(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown arguments: %v", args)
	}
	for o := range a.owners.Iter() {
		fmt.Printf("%s  %-8s  %-10d  %s\n", o.ID, o.Tier, o.BytesUsed, o.Name)
	}
	return nil
}

func (a *app) cmdOwnerCreate(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: owner-create <name> [capped|uncapped]")
	}
	tier := identity.TierCapped
	if len(args) == 2 {
		tier = identity.Tier(args[1])
	}
	o, err := a.owners.Create(&identity.Owner{Name: args[0], Tier: tier})
	if err != nil {
		return err
	}
	fmt.Println(o.ID)
	return nil
}

func (a *app) cmdUsage(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: usage <owner>")
	}
	owner, err := ksid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid owner ID: %w", err)
	}
	usage, err := a.ledger.Usage(owner)
	if err != nil {
		return err
	}
	limit, err := a.ledger.Cap(owner)
	if err != nil {
		return err
	}
	containers, err := a.containers.CountContainers(owner)
	if err != nil {
		return err
	}
	fmt.Printf("usage:      %d bytes\n", usage)
	if limit > 0 {
		fmt.Printf("cap:        %d bytes\n", limit)
	} else {
		fmt.Printf("cap:        unlimited\n")
	}
	fmt.Printf("on disk:    %d bytes\n", a.store.TotalOwnerBytes(owner))
	fmt.Printf("containers: %d\n", containers)
	return nil
}

func (a *app) cmdStats(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown arguments: %v", args)
	}
	var totalUsage, totalDisk int64
	for o := range a.owners.Iter() {
		disk := a.store.TotalOwnerBytes(o.ID)
		totalUsage += o.BytesUsed
		totalDisk += disk
		fmt.Printf("%s  usage=%-12d disk=%-12d %s\n", o.ID, o.BytesUsed, disk, o.Name)
	}
	fmt.Printf("total: usage=%d disk=%d\n", totalUsage, totalDisk)
	return nil
}

func (a *app) cmdGC(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: gc <owner>")
	}
	owner, err := ksid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid owner ID: %w", err)
	}
	deleted, freed, err := a.collector.Collect(owner)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d assets, freed %d bytes\n", deleted, freed)
	return nil
}

func (a *app) cmdDup(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: dup <owner> <container> <target-owner> [target-parent]")
	}
	owner, err := ksid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid owner ID: %w", err)
	}
	id, err := ksid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid container ID: %w", err)
	}
	target, err := ksid.Parse(args[2])
	if err != nil {
		return fmt.Errorf("invalid target owner ID: %w", err)
	}
	var parent ksid.ID
	if len(args) == 4 {
		if parent, err = ksid.Parse(args[3]); err != nil {
			return fmt.Errorf("invalid target parent ID: %w", err)
		}
	}
	mode := dup.ModeTransfer
	if owner == target {
		mode = dup.ModeDuplicate
	}
	res, err := a.engine.DuplicateTree(ctx, owner, id, target, parent, mode)
	if err != nil {
		return err
	}
	fmt.Printf("created %s, charged %d bytes\n", res.Container.ID, res.BytesCharged)
	if res.EdgesDropped > 0 || res.AttachmentsDropped > 0 || res.AssetsSkipped > 0 || res.SubtreesAborted > 0 {
		fmt.Printf("skipped: %d edges, %d attachments, %d assets, %d subtrees\n",
			res.EdgesDropped, res.AttachmentsDropped, res.AssetsSkipped, res.SubtreesAborted)
	}
	return nil
}

// cmdServe exposes the blob root read-only under the /assets/ URL prefix.
// The config file is watched so the log level can be changed at runtime.
func (a *app) cmdServe(ctx context.Context, dataDir, httpAddr string, ll *slog.LevelVar) error {
	err := config.Watch(ctx, dataDir, func(cfg *config.Config) {
		if err := setLogLevel(ll, cfg.LogLevel); err != nil {
			slog.WarnContext(ctx, "Ignoring config change", "error", err)
			return
		}
		slog.InfoContext(ctx, "Reloaded config", "logLevel", cfg.LogLevel)
	})
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}

	addr := httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+assets.URLPrefix+"{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, _, _, err := assets.ParseBlobName(name); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(a.store.Root(), name))
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Serving assets", "addr", addr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("paperbase %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
