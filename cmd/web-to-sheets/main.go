package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/alert"
	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/export"
	applog "github.com/Sriram-PR/web-to-sheets/pkg/log"
	"github.com/Sriram-PR/web-to-sheets/pkg/metrics"
	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/orchestrate"
	"github.com/Sriram-PR/web-to-sheets/pkg/runner"
	"github.com/Sriram-PR/web-to-sheets/pkg/storage"
	"github.com/Sriram-PR/web-to-sheets/pkg/watch"
)

const version = "0.4.0"

// shutdownGrace bounds how long a cancelled run may take before a forced exit.
const shutdownGrace = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("web-to-sheets %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `web-to-sheets - Scrape configured sites into CSV and Google Sheets

Usage:
  web-to-sheets <command> [options]

Commands:
  run         Run one site, a list of sites, or all sites
  watch       Re-run sites on a schedule
  validate    Validate site definitions
  list-sites  List available site names
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Exit codes:
  0  success
  2  insufficient new rows
  3  configuration error
  4  site or export error

Run 'web-to-sheets <command> -h' for command-specific help.`)
}

// runFlags holds the options shared by run and watch.
type runFlags struct {
	configDir   string
	site        string
	sites       string
	all         bool
	demo        bool
	store       string
	stateDir    string
	logDir      string
	logLevel    string
	metricsAddr string
	pprofAddr   string
	parallel    int
}

func (f *runFlags) register(fs *flag.FlagSet) {
	f.registerCommon(fs)
	fs.StringVar(&f.site, "site", "", "Site name (watch accepts a comma-separated list)")
	fs.StringVar(&f.sites, "sites", "", "Comma-separated site names")
	fs.BoolVar(&f.all, "all", false, "Run every configured site")
	fs.BoolVar(&f.demo, "demo", false, "Use the local demo fixture and an in-memory dedupe store")
	fs.StringVar(&f.pprofAddr, "pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	fs.IntVar(&f.parallel, "parallel", orchestrate.DefaultParallel, "Sites run concurrently when running several")
}

// registerCommon adds the flags every long-running command accepts.
func (f *runFlags) registerCommon(fs *flag.FlagSet) {
	fs.StringVar(&f.configDir, "config-dir", config.DefaultSitesDir, "Directory holding <site>.yaml definitions")
	fs.StringVar(&f.store, "store", string(storage.KindSQLite), "Dedupe store (sqlite, badger, memory)")
	fs.StringVar(&f.stateDir, "state-dir", storage.DefaultStateDir, "Directory for dedupe and watch state")
	fs.StringVar(&f.logDir, "log-dir", "logs", "Directory for per-run log files (empty disables)")
	fs.StringVar(&f.logLevel, "loglevel", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL or info")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}

// siteNames merges -sites and -site. An empty list means every configured site.
func (f *runFlags) siteNames() []string {
	var names []string
	for _, s := range strings.Split(f.sites+","+f.site, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			names = append(names, s)
		}
	}
	return names
}

// runRun handles the run subcommand
func runRun(args []string) {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	f.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: web-to-sheets run [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  web-to-sheets run -site quotes\n")
		fmt.Fprintf(os.Stderr, "  web-to-sheets run -site quotes -demo\n")
		fmt.Fprintf(os.Stderr, "  web-to-sheets run -all -parallel 4 -store badger\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if !f.all && len(f.siteNames()) == 0 {
		fmt.Fprintln(os.Stderr, "Error: one of -site, -sites, or -all is required")
		fs.Usage()
		os.Exit(int(models.ExitConfigError))
	}

	os.Exit(doRun(f, os.Stdout, os.Stderr))
}

// doRun executes the selected sites and returns the process exit code: the
// runner's code for a single site, the highest code for several.
func doRun(f runFlags, stdout, stderr io.Writer) int {
	logger := applog.New(applog.ResolveLevel(f.logLevel), stderr)

	names, err := resolveSites(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(models.ExitConfigError)
	}
	base, err := baseOptions(f, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(models.ExitConfigError)
	}

	ctx, stop := signalContext(logger)
	defer stop()
	startMetricsServer(ctx, f.metricsAddr, base.Metrics, logger)
	startPprof(f.pprofAddr, logger)

	var results []models.RunResult
	if len(names) == 1 {
		opts := base
		opts.Site = names[0]
		results = []models.RunResult{runner.Run(ctx, opts)}
	} else {
		orch := orchestrate.NewOrchestrator(base, f.parallel, logger.WithField("component", "orchestrate"))
		results = orch.RunSites(ctx, names)
	}

	printResults(stdout, results)
	return int(orchestrate.MaxExitCode(results))
}

// resolveSites expands -all and checks every name has a definition.
func resolveSites(f runFlags) ([]string, error) {
	names := f.siteNames()
	if f.all || len(names) == 0 {
		all, err := config.ListSites(f.configDir)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return nil, fmt.Errorf("no site definitions found in %s", f.configDir)
		}
		return all, nil
	}
	if err := orchestrate.ValidateSiteNames(f.configDir, names); err != nil {
		return nil, err
	}
	return names, nil
}

// baseOptions builds the runner template shared by every site in the process.
func baseOptions(f runFlags, logger *logrus.Logger) (runner.Options, error) {
	kind, err := storage.ParseKind(f.store)
	if err != nil {
		return runner.Options{}, err
	}
	return runner.Options{
		ConfigDir: f.configDir,
		Demo:      f.demo,
		StoreKind: kind,
		StateDir:  f.stateDir,
		LogDir:    f.logDir,
		Logger:    logger,
		Metrics:   metrics.New(),
		Notifier:  alert.FromEnv(logger.WithField("component", "alert")),
		Sheets:    export.SheetsEnvFromOS(),
	}, nil
}

func printResults(w io.Writer, results []models.RunResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\texit=%d\tkept=%d\trun_id=%s\n", r.Site, r.Status, r.ExitCode, r.RecordsKept, r.RunID)
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configDir := fs.String("config-dir", config.DefaultSitesDir, "Directory holding <site>.yaml definitions")
	site := fs.String("site", "", "Site name to validate (validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: web-to-sheets validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configDir, *site, os.Stdout, os.Stderr))
}

// doValidate checks one site, or every site when name is empty.
// Returns 0 when all are valid and 3 otherwise.
func doValidate(configDir, name string, stdout, stderr io.Writer) int {
	if name != "" {
		if !validateOne(configDir, name, "", stdout) {
			return int(models.ExitConfigError)
		}
		return int(models.ExitOK)
	}

	names, err := config.ListSites(configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(models.ExitConfigError)
	}
	if len(names) == 0 {
		fmt.Fprintf(stderr, "Error: no site definitions found in %s\n", configDir)
		return int(models.ExitConfigError)
	}

	code := models.ExitOK
	for _, n := range names {
		if !validateOne(configDir, n, "["+n+"] ", stdout) {
			code = models.ExitConfigError
		}
	}
	return int(code)
}

func validateOne(configDir, name, prefix string, stdout io.Writer) bool {
	path := config.SitePath(configDir, name)
	if problems := config.ValidateFile(path); len(problems) > 0 {
		fmt.Fprintf(stdout, "%sInvalid:\n", prefix)
		for _, p := range problems {
			fmt.Fprintf(stdout, "  - %s\n", p)
		}
		return false
	}
	if site, err := config.Load(path); err == nil {
		warnings, _ := site.Validate()
		for _, w := range warnings {
			fmt.Fprintf(stdout, "%sWARN: %s\n", prefix, w)
		}
	}
	fmt.Fprintf(stdout, "%sValid\n", prefix)
	return true
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	var f runFlags
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	f.register(fs)
	interval := fs.String("interval", "24h", "Run interval (e.g., 30m, 1h, 24h, 7d)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: web-to-sheets watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  web-to-sheets watch -interval 24h\n")
		fmt.Fprintf(os.Stderr, "  web-to-sheets watch -site quotes,books -interval 6h\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doWatch(f, *interval, os.Stderr))
}

// doWatch runs the scheduler until SIGINT/SIGTERM.
func doWatch(f runFlags, intervalStr string, stderr io.Writer) int {
	logger := applog.New(applog.ResolveLevel(f.logLevel), stderr)

	interval, err := watch.ParseInterval(intervalStr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid interval: %v\n", err)
		return int(models.ExitConfigError)
	}
	names, err := resolveSites(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(models.ExitConfigError)
	}
	base, err := baseOptions(f, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(models.ExitConfigError)
	}
	logger.Infof("Watch interval: %s", watch.FormatInterval(interval))

	ctx, stop := signalContext(logger)
	defer stop()
	startMetricsServer(ctx, f.metricsAddr, base.Metrics, logger)
	startPprof(f.pprofAddr, logger)

	orch := orchestrate.NewOrchestrator(base, f.parallel, logger.WithField("component", "orchestrate"))
	scheduler := watch.NewScheduler(orch, names, interval, f.stateDir, logger.WithField("component", "watch"))
	if err := scheduler.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "Watch scheduler error: %v\n", err)
		return int(models.ExitConfigError)
	}

	logger.Info("Watch mode stopped")
	return int(models.ExitOK)
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configDir := fs.String("config-dir", config.DefaultSitesDir, "Directory holding <site>.yaml definitions")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: web-to-sheets list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListSites(*configDir, os.Stdout, os.Stderr))
}

// doListSites prints one site name per line.
func doListSites(configDir string, stdout, stderr io.Writer) int {
	names, err := config.ListSites(configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return int(models.ExitConfigError)
	}
	for _, n := range names {
		fmt.Fprintln(stdout, n)
	}
	return int(models.ExitOK)
}

// signalContext returns a context cancelled on the first SIGINT/SIGTERM.
// A second signal, or a stuck shutdown, forces the process to exit.
func signalContext(log *logrus.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(shutdownGrace):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// startMetricsServer serves /metrics on addr until ctx ends. Empty addr disables it.
func startMetricsServer(ctx context.Context, addr string, m *metrics.Metrics, log *logrus.Logger) {
	if addr == "" || m == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Infof("Serving metrics at http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}
