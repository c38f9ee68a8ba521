package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostprobe/hostprobe/pkg/engine"
	"github.com/hostprobe/hostprobe/pkg/hostfacts"
	"github.com/hostprobe/hostprobe/pkg/options"
	"github.com/hostprobe/hostprobe/pkg/registry"
	"github.com/hostprobe/hostprobe/pkg/stores"
	"github.com/hostprobe/hostprobe/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		concurrency   int
		perfImpactOK  bool
		domains       []string
		classes       []string
		only          []string
		excluded      []string
		params        []string
		moduleParams  []string
		dbPath        string
		metricsListen string
		traceExporter string
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the diagnostic modules",
		Long: `Execute a full diagnostic run.

Prediagnostic modules run first, one at a time; any failure aborts the run.
The remaining modules are pruned against the host facts and the supplied
arguments, partitioned into exclusive-aware batches, and executed on the
worker pool. Postdiagnostic modules run serially afterwards; their failures
are logged but never abort.`,
		Example: `  # Run every applicable module
  hostprobe run

  # Run only the net domain with a wider pool
  hostprobe run --domain net --concurrency 20

  # Run two modules by name and allow performance-impacting checks
  hostprobe run --only arpcache,tcprecycle --perf-impact-ok

  # Exclude a module and pass it an argument anyway
  hostprobe run --no xennetrocket --param period=5

  # Record run history and expose Prometheus metrics
  hostprobe run --db /var/lib/hostprobe/history.db --metrics-listen :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts, err := buildOptions(domains, classes, only, excluded, params, moduleParams)
			if err != nil {
				return err
			}

			prediags, err := loadStageRegistry(filepath.Join(modulesDir, "pre.d"))
			if err != nil {
				return err
			}
			mods, err := registry.Load(filepath.Join(modulesDir, "mod.d"), log.Logger)
			if err != nil {
				return fmt.Errorf("failed to load module directory: %w", err)
			}
			postdiags, err := loadStageRegistry(filepath.Join(modulesDir, "post.d"))
			if err != nil {
				return err
			}

			log.Info().
				Int("modules", mods.Len()).
				Strs("domains", opts.DomainsToRun).
				Strs("classes", opts.ClassesToRun).
				Msg("Starting diagnostic run")

			eng := engine.New(engine.Config{
				Concurrency:  concurrency,
				PerfImpactOK: perfImpactOK,
				Output:       os.Stdout,
			}, opts, hostfacts.NewCollector(log.Logger), log.Logger)

			if dbPath != "" {
				store, err := openStore(cmd, dbPath)
				if err != nil {
					return err
				}
				defer store.Close()
				eng.WithStore(store)
			}

			metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
				Enabled:       metricsListen != "",
				ListenAddress: metricsListen,
			})
			if err != nil {
				return fmt.Errorf("failed to set up metrics: %w", err)
			}
			if err := metrics.StartMetricsServer(); err != nil {
				return err
			}

			tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
				Enabled:  traceExporter != "",
				Exporter: traceExporter,
				Endpoint: traceEndpoint,
			}, "hostprobe", cmd.Root().Version)
			if err != nil {
				return fmt.Errorf("failed to set up tracing: %w", err)
			}
			defer tracer.Shutdown(ctx)

			events := telemetry.NewEventPublisher(log.Logger)
			if verbose {
				events.Subscribe(logEvent)
			}
			eng.WithTelemetry(metrics, tracer, events)

			summary, err := eng.Run(ctx, prediags, mods, postdiags)
			if err != nil {
				return err
			}
			summary.Render(os.Stdout)

			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", engine.DefaultConcurrency, "worker pool size")
	cmd.Flags().BoolVar(&perfImpactOK, "perf-impact-ok", false, "allow performance-impacting modules")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "restrict the run to these domains")
	cmd.Flags().StringSliceVar(&classes, "class", nil, "restrict the run to these classes")
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only these modules by name")
	cmd.Flags().StringSliceVar(&excluded, "no", nil, "exclude these modules by name")
	cmd.Flags().StringSliceVarP(&params, "param", "p", nil, "global arguments (key=value)")
	cmd.Flags().StringSliceVar(&moduleParams, "module-param", nil, "per-module arguments (module:key=value)")
	cmd.Flags().StringVar(&dbPath, "db", "", "record run history in this SQLite database")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "", "trace exporter (otlp, stdout)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")

	return cmd
}

// buildOptions layers the command-line selection over the optional options
// file. Flags win on conflict.
func buildOptions(domains, classes, only, excluded, params, moduleParams []string) (*options.Options, error) {
	opts := options.New()
	if configPath != "" {
		loaded, err := options.Load(configPath)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	if len(domains) > 0 {
		opts.DomainsToRun = domains
	}
	if len(classes) > 0 {
		opts.ClassesToRun = classes
	}
	if len(only) > 0 {
		opts.GlobalArgs["onlymodules"] = strings.Join(only, ",")
	}
	for _, name := range excluded {
		opts.GlobalArgs[name] = "False"
	}

	for _, param := range params {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --param %q, want key=value", param)
		}
		opts.GlobalArgs[key] = value
	}
	for _, param := range moduleParams {
		moduleName, rest, ok := strings.Cut(param, ":")
		if !ok {
			return nil, fmt.Errorf("malformed --module-param %q, want module:key=value", param)
		}
		key, value, ok := strings.Cut(rest, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --module-param %q, want module:key=value", param)
		}
		opts.SetModuleArg(moduleName, key, value)
	}

	return opts, nil
}

// loadStageRegistry loads an optional placement directory. A missing
// directory means the stage has no modules, not an error.
func loadStageRegistry(directory string) (*registry.Registry, error) {
	if _, err := os.Stat(directory); os.IsNotExist(err) {
		log.Debug().Str("directory", directory).Msg("Stage directory absent, skipping")
		return nil, nil
	}
	reg, err := registry.Load(directory, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage directory %s: %w", directory, err)
	}
	return reg, nil
}

// openStore opens and migrates the run-history database.
func openStore(cmd *cobra.Command, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(cmd.Context()); err != nil {
		return nil, err
	}
	if err := store.Migrate(cmd.Context()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// logEvent surfaces the run event stream in verbose mode.
func logEvent(_ context.Context, event telemetry.Event) {
	log.Info().
		Str("type", string(event.Type)).
		Str("run_id", event.RunID).
		Str("subject", event.Subject).
		Msg("Run event")
}
