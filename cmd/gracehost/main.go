package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/gracehost/internal/cliconfig"
	"github.com/bft-labs/gracehost/pkg/host"
	"github.com/bft-labs/gracehost/pkg/state"
	"github.com/bft-labs/gracehost/plugins/builtin"
)

const helpDescription = `
Run an application as a set of modules under one lifecycle.

The host loads configuration, sets up logging, decides whether this process
is a master, a worker or a singleton, connects the process mesh and loads
every module in order. SIGINT, SIGQUIT and SIGTERM stop it gracefully.
`

var exampleUsage = strings.TrimSpace(`
  gracehost run --root /srv/app --use status --use heartbeat
  gracehost run --cluster-max 4 --config default.toml --config prod.yaml
  gracehost status --root /srv/app
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func versionString() string {
	return fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH)
}

func main() {
	log := cliconfig.Logger()

	if err := newRootCommand(log).Execute(); err != nil {
		log.Error().Err(err).Msg("gracehost")
		os.Exit(1)
	}
}

func newRootCommand(log zerolog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "gracehost",
		Short:         "Lifecycle host for modular, multi-process applications",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(log), newStatusCommand(), newVersionCommand())
	return root
}

func newRunCommand(log zerolog.Logger) *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var masterModules bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host and run until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["master-modules"] {
				cfg.MasterModules = &masterModules
			}

			// Environment variables override defaults, flags override both.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log.Debug().Interface("config", cfg).Msg("configuration")

			mods, err := cfg.Modules()
			if err != nil {
				return err
			}

			h := host.New(hostOptions(cfg)...)
			for _, m := range mods {
				if err := h.Use(m.Name, m.Path); err != nil {
					return err
				}
			}

			if err := h.Start(cmd.Context(), nil); err != nil {
				return err
			}

			// The host exits the process once it has stopped.
			select {}
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Root, "root", cfg.Root, "application root directory")
	f.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "config directory, relative to the root")
	f.StringSliceVar(&cfg.ConfigFiles, "config", cfg.ConfigFiles, "config files in merge order (toml, yaml or json)")
	f.IntVar(&cfg.ClusterMax, "cluster-max", cfg.ClusterMax, "maximum number of workers, 0 disables clustering (default: from config)")
	f.BoolVar(&masterModules, "master-modules", false, "load modules in the master process as well")
	f.StringArrayVar(&cfg.Use, "use", nil, "module to load as name or name=path (repeatable)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (default: from config)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "time allowed for each shutdown task")

	return cmd
}

// hostOptions turns the CLI configuration into host options. Cluster, log
// and metrics settings are written over the loaded config files.
func hostOptions(cfg cliconfig.Config) []host.Option {
	opts := []host.Option{
		host.WithRoot(cfg.Root),
		host.WithConfig(cfg.ConfigDir, cfg.ConfigFiles...),
		host.WithBuiltinModules(builtin.Catalog()),
		host.WithShutdownTimeout(cfg.ShutdownTimeout),
	}
	if cfg.ClusterMax >= 0 {
		opts = append(opts, host.WithConfigValue("cluster.max", cfg.ClusterMax))
	}
	if cfg.MasterModules != nil {
		opts = append(opts, host.WithConfigValue("cluster.master_modules", *cfg.MasterModules))
	}
	if cfg.LogLevel != "" {
		opts = append(opts, host.WithConfigValue("log.level", strings.ToLower(cfg.LogLevel)))
	}
	if cfg.MetricsAddr != "" {
		opts = append(opts, host.WithConfigValue("metrics.addr", cfg.MetricsAddr))
	}
	return opts
}

func newStatusCommand() *cobra.Command {
	var (
		root   string
		dir    string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status files written by the status module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(root, dir)
			}
			all, err := state.List(dir)
			if err != nil {
				return fmt.Errorf("read status: %w", err)
			}
			if len(all) == 0 {
				return fmt.Errorf("no status files in %s", dir)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(all)
			}
			return printStatus(cmd.OutOrStdout(), all, alive)
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "application root directory")
	cmd.Flags().StringVar(&dir, "dir", "run", "status directory, relative to the root")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw status as JSON")
	return cmd
}

func printStatus(out io.Writer, all []state.Status, alive func(int) bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tWORKER\tPID\tPHASE\tSTATE\tUPTIME\tMODULES")
	for _, s := range all {
		worker := s.Worker
		if worker == "" {
			worker = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			s.Role, worker, s.Pid, s.Phase, processState(s, alive), uptime(s), strings.Join(s.Modules, ","))
	}
	return w.Flush()
}

func processState(s state.Status, alive func(int) bool) string {
	switch {
	case !s.Running():
		return "stopped"
	case alive(s.Pid):
		return "running"
	default:
		return "gone"
	}
}

func uptime(s state.Status) string {
	if s.StartedAt.IsZero() {
		return "-"
	}
	end := time.Now()
	if s.StoppedAt != nil {
		end = *s.StoppedAt
	}
	return end.Sub(s.StartedAt).Truncate(time.Second).String()
}

// alive reports whether a process with pid exists.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "gracehost", versionString())
		},
	}
}
