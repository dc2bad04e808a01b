package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ostwerk/cwatch/internal/buildinfo"
	"github.com/ostwerk/cwatch/pkg/config"
	"github.com/ostwerk/cwatch/pkg/dockerrun"
	"github.com/ostwerk/cwatch/pkg/fetch"
	"github.com/ostwerk/cwatch/pkg/journald"
	"github.com/ostwerk/cwatch/pkg/logbuf"
	"github.com/ostwerk/cwatch/pkg/report"
	"github.com/ostwerk/cwatch/pkg/runlog"
	"github.com/ostwerk/cwatch/pkg/tui"
	"github.com/ostwerk/cwatch/pkg/watcher"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// exitCode mirrors the watched command so cwatch behaves well in
// scripts and cron jobs.
var exitCode int

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "cwatch",
	Short: "Watch a command: capture its output, keep a leveled record log, report the outcome",
	Long: "cwatch runs a child command, captures every line it writes to stdout and\n" +
		"stderr into one leveled record buffer, echoes the lines live, and can\n" +
		"archive, journal and report the run.",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(versionCmd)
}

// --- Shared flags ---

var (
	configPath      string
	serviceFlag     string
	dirFlag         string
	envFlags        []string
	ignoreExitFlags []int
	noFailFlag      bool
	capacityFlag    int
	colorFlag       string
	logDirFlag      string
	journalFlag     bool
	reportFlag      bool
	imageFlag       string
	pullFlag        bool
)

func addRunFlags(cmd *cobra.Command) {
	// Flags after the command belong to the command.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&configPath, "config", "", "path to cwatch.yaml")
	cmd.Flags().StringVar(&serviceFlag, "service", "", "service name for reports and archives")
	cmd.Flags().StringVar(&dirFlag, "dir", "", "working directory for the command")
	cmd.Flags().StringArrayVar(&envFlags, "env", nil, "extra K=V environment for the command (repeatable)")
	cmd.Flags().IntSliceVar(&ignoreExitFlags, "ignore-exit", nil, "non-zero exit codes treated as success (repeatable)")
	cmd.Flags().BoolVar(&noFailFlag, "no-fail", false, "report OK even when the command exits non-zero")
	cmd.Flags().IntVar(&capacityFlag, "capacity", 0, "record buffer capacity")
	cmd.Flags().StringVar(&colorFlag, "color", "", "colorize output: auto, always or never")
	cmd.Flags().StringVar(&logDirFlag, "log-dir", "", "write a compressed run archive into this directory")
	cmd.Flags().BoolVar(&journalFlag, "journal", false, "mirror records into the systemd journal")
	cmd.Flags().BoolVar(&reportFlag, "report", false, "print a monitoring report after the run")
	cmd.Flags().StringVar(&imageFlag, "image", "", "run the command in this container image")
	cmd.Flags().BoolVar(&pullFlag, "pull", false, "pull the image before running")
}

// mergedConfig layers explicitly set flags over the file and
// environment configuration.
func mergedConfig(cmd *cobra.Command) (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Discover()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("service") {
		cfg.Service = serviceFlag
	}
	if flags.Changed("capacity") {
		cfg.Capacity = capacityFlag
	}
	if flags.Changed("color") {
		cfg.Color = colorFlag
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = logDirFlag
	}
	if flags.Changed("journal") {
		cfg.Journal = journalFlag
	}
	if flags.Changed("report") {
		cfg.Report = reportFlag
	}
	if noFailFlag {
		cfg.FailOnNonzero = false
	}

	if errs := config.Validate(&cfg); len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

// resolveArgv shell-lexes a single quoted command line and passes a
// multi-argument command through untouched.
func resolveArgv(args []string) ([]string, error) {
	argv := args
	if len(args) == 1 {
		var err error
		argv, err = watcher.SplitCommand(args[0])
		if err != nil {
			return nil, err
		}
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

func childEnv() []string {
	if len(envFlags) == 0 {
		return nil
	}
	return append(os.Environ(), envFlags...)
}

// buildMirror assembles the secondary record sinks: the run archive,
// the systemd journal and any extras (the TUI feed).
func buildMirror(cfg config.Config, meta runlog.Meta, extra ...func(logbuf.Record)) (func(logbuf.Record), *runlog.Writer, error) {
	var mirrors []func(logbuf.Record)
	var rl *runlog.Writer

	if cfg.LogDir != "" {
		var err error
		rl, err = runlog.Create(cfg.LogDir, meta)
		if err != nil {
			return nil, nil, err
		}
		mirrors = append(mirrors, rl.Mirror())
	}
	if cfg.Journal {
		if jm, ok := journald.New(cfg.Service); ok {
			mirrors = append(mirrors, jm.Hook())
		} else {
			logger.Warn("journal socket unavailable, skipping journal mirror")
		}
	}
	mirrors = append(mirrors, extra...)
	return combineMirrors(mirrors...), rl, nil
}

func combineMirrors(mirrors ...func(logbuf.Record)) func(logbuf.Record) {
	switch len(mirrors) {
	case 0:
		return nil
	case 1:
		return mirrors[0]
	}
	return func(r logbuf.Record) {
		for _, m := range mirrors {
			m(r)
		}
	}
}

// executeRun runs argv locally or, with --image, inside a container.
func executeRun(ctx context.Context, w *watcher.Watch, argv []string) (int, error) {
	if imageFlag != "" {
		runner, err := dockerrun.NewRunner(logger)
		if err != nil {
			return -1, err
		}
		defer runner.Close()

		w.AddProcess(fmt.Sprintf("%s (image %s)", strings.Join(argv, " "), imageFlag))
		code, err := runner.Run(ctx, dockerrun.Spec{
			Image: imageFlag,
			Args:  argv,
			Env:   envFlags,
			Dir:   dirFlag,
			Pull:  pullFlag,
		}, w.Buffer())
		if err != nil {
			return code, err
		}
		return code, w.Observe(argv, code, ignoreExitFlags)
	}

	p, err := w.Run(ctx, argv, watcher.RunOptions{
		Dir:             dirFlag,
		Env:             childEnv(),
		IgnoreExitCodes: ignoreExitFlags,
	})
	return p.ExitCode(), err
}

// finishRun sends the final report, closes the archive and maps the
// outcome onto the process exit code.
func finishRun(w *watcher.Watch, rl *runlog.Writer, cfg config.Config, code int, runErr error) error {
	if w != nil {
		status := report.StatusOK
		if code != 0 && cfg.FailOnNonzero && !slices.Contains(ignoreExitFlags, code) {
			status = report.StatusCritical
		}
		if _, err := w.FinalReport(status, report.Params{}); err != nil {
			logger.Warn("final report", "err", err)
		}
	}
	if rl != nil {
		if err := rl.Close(code); err != nil {
			logger.Warn("close archive", "err", err)
		} else {
			logger.Info("run archived", "path", rl.Path())
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			exitCode = 130
			return nil
		}
		return runErr
	}
	exitCode = code
	return nil
}

// --- Run ---

var runCmd = &cobra.Command{
	Use:          "run [flags] -- command [args...]",
	Short:        "Run a command and capture everything it prints",
	Long:         "Runs the command, echoes its output live with timestamps and levels,\nand exits with the command's exit code. A single quoted argument is\nsplit with shell rules: cwatch run \"sh -c 'echo hi'\".",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := mergedConfig(cmd)
		if err != nil {
			return err
		}
		argv, err := resolveArgv(args)
		if err != nil {
			return err
		}
		color, _ := logbuf.ParseColorMode(cfg.Color)
		hostname, _ := os.Hostname()

		mirror, rl, err := buildMirror(cfg, runlog.Meta{
			Service:  cfg.Service,
			Args:     argv,
			Hostname: hostname,
		})
		if err != nil {
			return err
		}

		var channels []report.Channel
		if cfg.Report {
			channels = append(channels, report.WriterChannel{W: os.Stdout, Body: true})
		}

		w := watcher.NewWatch(watcher.WatchConfig{
			Service:         cfg.Service,
			Channels:        channels,
			ContinueOnError: true,
			Buffer: logbuf.Options{
				Capacity: cfg.Capacity,
				Color:    color,
				Mirror:   mirror,
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			cancel()
		}()

		code, runErr := executeRun(ctx, w, argv)
		return finishRun(w, rl, cfg, code, runErr)
	},
}

func init() {
	addRunFlags(runCmd)
}

// --- Watch (TUI) ---

var watchCmd = &cobra.Command{
	Use:          "watch [flags] -- command [args...]",
	Short:        "Run a command with a live follow view",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := mergedConfig(cmd)
		if err != nil {
			return err
		}
		argv, err := resolveArgv(args)
		if err != nil {
			return err
		}
		hostname, _ := os.Hostname()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			cancel()
		}()

		app := tui.New(cfg.Service, strings.Join(argv, " "), cancel)
		prog := tea.NewProgram(app, tea.WithAltScreen())

		var (
			w      *watcher.Watch
			rl     *runlog.Writer
			code   int
			runErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() { prog.Send(tui.DoneMsg{Code: code, Err: runErr}) }()

			var mirror func(logbuf.Record)
			mirror, rl, runErr = buildMirror(cfg,
				runlog.Meta{Service: cfg.Service, Args: argv, Hostname: hostname},
				func(r logbuf.Record) { prog.Send(tui.RecordMsg(r)) },
			)
			if runErr != nil {
				code = -1
				return
			}
			var channels []report.Channel
			if cfg.Report {
				// The final report goes out after the TUI has released
				// the terminal.
				channels = append(channels, report.WriterChannel{W: os.Stdout, Body: true})
			}
			w = watcher.NewWatch(watcher.WatchConfig{
				Service:         cfg.Service,
				Channels:        channels,
				ContinueOnError: true,
				Buffer: logbuf.Options{
					Capacity: cfg.Capacity,
					Quiet:    true,
					Mirror:   mirror,
				},
			})
			code, runErr = executeRun(ctx, w, argv)
		}()

		_, teaErr := prog.Run()
		cancel()
		<-done

		if err := finishRun(w, rl, cfg, code, runErr); err != nil {
			return err
		}
		return teaErr
	},
}

func init() {
	addRunFlags(watchCmd)
}

// --- Show ---

var showCmd = &cobra.Command{
	Use:          "show [archive]",
	Short:        "Replay a recorded run archive",
	Long:         "Without an argument the newest archive in the configured log directory\nis replayed, with original timestamps and stream routing.",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := mergedConfig(cmd)
		if err != nil {
			return err
		}

		var path string
		if len(args) > 0 {
			path = args[0]
		} else {
			if cfg.LogDir == "" {
				return errors.New("no archive given and no log directory configured")
			}
			path, err = runlog.Latest(cfg.LogDir)
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("no archives in %s", cfg.LogDir)
			}
		}

		arch, err := runlog.Read(path)
		if err != nil {
			return err
		}

		fmt.Printf("Archive:  %s\n", path)
		fmt.Printf("Service:  %s\n", arch.Meta.Service)
		fmt.Printf("Host:     %s\n", arch.Meta.Hostname)
		fmt.Printf("Command:  %s\n", strings.Join(arch.Meta.Args, " "))
		fmt.Printf("Started:  %s\n", arch.Meta.Started.Format(time.RFC3339))
		if arch.Result != nil {
			fmt.Printf("Exit:     %d\n", arch.Result.ExitCode)
		} else {
			fmt.Println("Exit:     unknown (archive was not closed)")
		}
		fmt.Println()

		color, _ := logbuf.ParseColorMode(cfg.Color)
		buf := logbuf.New(logbuf.Options{Capacity: cfg.Capacity, Color: color})
		for _, r := range arch.Records {
			if err := buf.Append(r); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	showCmd.Flags().StringVar(&configPath, "config", "", "path to cwatch.yaml")
	showCmd.Flags().StringVar(&logDirFlag, "log-dir", "", "directory holding run archives")
	showCmd.Flags().StringVar(&colorFlag, "color", "", "colorize output: auto, always or never")
}

// --- Fetch ---

var fetchExecutable bool

var fetchCmd = &cobra.Command{
	Use:          "fetch URL DEST",
	Short:        "Download a script to watch",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(_ *cobra.Command, args []string) error {
		url, dest := args[0], args[1]
		if err := fetch.Download(context.Background(), url, dest); err != nil {
			return err
		}
		if fetchExecutable {
			if err := fetch.MakeExecutable(dest); err != nil {
				return err
			}
		}
		info, err := os.Stat(dest)
		if err != nil {
			return err
		}
		fmt.Printf("fetched %s (%d bytes)\n", dest, info.Size())
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchExecutable, "executable", false, "mark the downloaded file executable")
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("cwatch %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}
