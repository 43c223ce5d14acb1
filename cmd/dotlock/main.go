// Command dotlock resolves a package.json manifest into a
// package.lock.json holding a concrete, installable version of every
// transitive dependency.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/alexbecker/dotlock/internal/archive"
	"github.com/alexbecker/dotlock/internal/cache"
	"github.com/alexbecker/dotlock/internal/distinfo"
	"github.com/alexbecker/dotlock/internal/index"
	"github.com/alexbecker/dotlock/internal/lockfile"
	"github.com/alexbecker/dotlock/internal/manifest"
	"github.com/alexbecker/dotlock/internal/metadata"
	"github.com/alexbecker/dotlock/internal/pyenv"
	"github.com/alexbecker/dotlock/internal/resolver"
	"github.com/alexbecker/dotlock/internal/vcs"
)

var version = "0.0.0"

const (
	manifestPath = "package.json"
	envPath      = "env.json"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "dotlock",
		Short:         "A Python dependency resolver and lock file generator",
		Long:          "dotlock resolves the requirements in package.json into exact versions and records them in package.lock.json.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("python", "python3", "Python binary describing the target environment")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter package.json and env.json",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}

	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Resolve requirements and write package.lock.json",
		Args:  cobra.NoArgs,
		RunE:  runLock,
	}
	lockCmd.Flags().Bool("update", false, "Bypass cached candidate lists")
	lockCmd.Flags().String("cache-dir", "", "Metadata cache directory (default: user cache dir)")
	lockCmd.Flags().Int("jobs", 0, "Max concurrent metadata fetches (default: 10)")

	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Resolve requirements and print the dependency tree",
		Args:  cobra.NoArgs,
		RunE:  runGraph,
	}
	graphCmd.Flags().Bool("update", false, "Bypass cached candidate lists")
	graphCmd.Flags().String("cache-dir", "", "Metadata cache directory (default: user cache dir)")

	rootCmd.AddCommand(initCmd, lockCmd, graphCmd)

	return rootCmd.Execute()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadEnvironment builds the target environment descriptor: env.json if
// present, otherwise the detected local interpreter. When both are
// available the file wins and divergence is reported as warnings.
func loadEnvironment(ctx context.Context, pythonBin string, logger *slog.Logger) (*pyenv.Environment, error) {
	detected, detectErr := pyenv.Detect(ctx, pyenv.WithPythonBin(pythonBin))

	if _, err := os.Stat(envPath); err == nil {
		env, err := pyenv.LoadFile(envPath)
		if err != nil {
			return nil, err
		}

		if detectErr == nil {
			env.WarnOnDivergence(detected, logger)
		}

		return env, nil
	}

	if detectErr != nil {
		return nil, fmt.Errorf("no %s and environment detection failed: %w", envPath, detectErr)
	}

	return detected, nil
}

const starterManifest = `{
    // Base URLs of package indices, tried in order.
    "sources": [
        "https://pypi.org/pypi"
    ],
    "default": {},
    "extras": {}
}
`

func runInit(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	pythonBin, _ := cmd.Flags().GetString("python")
	logger := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("%s already exists", manifestPath)
	}

	if err := os.WriteFile(manifestPath, []byte(starterManifest), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", manifestPath, err)
	}

	env, err := pyenv.Detect(ctx, pyenv.WithPythonBin(pythonBin))
	if err != nil {
		return err
	}

	if err := env.WriteFile(envPath); err != nil {
		return err
	}

	logger.Info("initialized project",
		slog.String("manifest", manifestPath), slog.String("environment", envPath))

	return nil
}

// resolution is everything a resolve run produces.
type resolution struct {
	env     *pyenv.Environment
	defReqs []*resolver.Requirement
	extras  map[string][]*resolver.Requirement
}

func resolve(cmd *cobra.Command, logger *slog.Logger) (*resolution, error) {
	pythonBin, _ := cmd.Flags().GetString("python")
	update, _ := cmd.Flags().GetBool("update")
	cacheDir, _ := cmd.Flags().GetString("cache-dir")
	jobs, _ := cmd.Flags().GetInt("jobs")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	env, err := loadEnvironment(ctx, pythonBin, logger)
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(env.Tags, cache.WithDir(cacheDir), cache.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	client := index.New(m.Sources, env, index.WithLogger(logger))
	introspector := archive.New(
		archive.WithPythonBin(pythonBin),
		archive.WithLogger(logger),
	)

	provider := metadata.New(store, client, introspector,
		metadata.WithUpdate(update),
		metadata.WithVCS(vcs.New(vcs.WithLogger(logger))),
		metadata.WithLogger(logger),
	)

	res := &resolution{
		env:    env,
		extras: make(map[string][]*resolver.Requirement, len(m.Extras)),
	}

	// Default and extras resolve together so a shared dependency cannot
	// end up at two versions.
	var all []*resolver.Requirement

	res.defReqs = newRequirements(m.Default)
	all = append(all, res.defReqs...)

	for _, name := range m.ExtraNames {
		reqs := newRequirements(m.Extras[name])
		res.extras[name] = reqs
		all = append(all, reqs...)
	}

	svc := resolver.New(provider, env.Markers,
		resolver.WithConcurrency(jobs),
		resolver.WithLogger(logger),
	)

	if err := svc.Resolve(ctx, all); err != nil {
		return nil, err
	}

	return res, nil
}

func newRequirements(infos []distinfo.RequirementInfo) []*resolver.Requirement {
	reqs := make([]*resolver.Requirement, len(infos))
	for i, info := range infos {
		reqs[i] = resolver.NewRequirement(info)
	}

	return reqs
}

func runLock(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	res, err := resolve(cmd, logger)
	if err != nil {
		return err
	}

	lock := lockfile.Build(res.env.Tags, res.defReqs, res.extras)
	if err := lock.Write(lockfile.DefaultPath); err != nil {
		return err
	}

	logger.Info("wrote lock file",
		slog.String("path", lockfile.DefaultPath),
		slog.Int("candidates", len(lock.Default)))

	return nil
}

func runGraph(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	res, err := resolve(cmd, logger)
	if err != nil {
		return err
	}

	var all []*resolver.Requirement

	all = append(all, res.defReqs...)
	for _, reqs := range res.extras {
		all = append(all, reqs...)
	}

	resolver.Graph(os.Stdout, all)

	return nil
}
