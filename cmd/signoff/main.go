// Command signoff administers document acknowledgements: it records saves and
// sign-offs reported by the host, manages pattern rules and prints reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"signoff/internal/ack"
	"signoff/internal/assignee"
	"signoff/internal/config"
	"signoff/internal/search"
	"signoff/internal/store"
)

const usage = `usage: signoff [-config file.ini] <command> [flags]

commands:
  migrate                      apply database migrations
  save -id -lastmod            record a document save
  delete -id                   forget a document
  ack -id -user                acknowledge a document
  state -id -user              show a user's acknowledgement state of a document
  rules list|import -file      show or replace pattern rules
  report <kind>                pending|history|listing|document|pattern|recent
  index -file                  backfill the revision index and search index
  lookup -q                    look up documents or users
`

func main() {
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "signoff:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("signoff", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configFile := global.String("config", "", "overlay settings from this ini `file`")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return flag.ErrHelp
	}

	cfg := config.Load()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFile(*configFile, cfg); err != nil {
			return err
		}
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	command, rest := global.Arg(0), global.Args()[1:]
	if command == "migrate" {
		return runMigrate(ctx, cfg, rest, stdout, stderr)
	}

	env, err := newEnv(ctx, cfg, logger, stdout, stderr)
	if err != nil {
		return err
	}
	defer env.Close()

	switch command {
	case "save":
		return env.runSave(ctx, rest)
	case "delete":
		return env.runDelete(ctx, rest)
	case "ack":
		return env.runAck(ctx, rest)
	case "rules":
		return env.runRules(ctx, rest)
	case "report":
		return env.runReport(ctx, rest)
	case "index":
		return env.runIndex(ctx, rest)
	case "lookup":
		return env.runLookup(ctx, rest)
	case "state":
		return env.runState(ctx, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// env holds everything a command needs.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer

	closers []func()
	static  *assignee.StaticDirectory
	store   *store.SQLStore
	svc     *ack.Service
	search  *search.Service
}

func newEnv(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout, stderr io.Writer) (*env, error) {
	e := &env{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
	} else {
		e.closers = append(e.closers, func() { _ = db.Close() })
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			logger.Error("migrations failed", "error", err)
		} else {
			e.store = store.NewSQLStore(db)
		}
	}

	var dir assignee.Directory
	if cfg.DirectoryFile != "" {
		static, err := assignee.LoadStaticDirectory(cfg.DirectoryFile)
		if err != nil {
			e.Close()
			return nil, err
		}
		if !cfg.CaseSensitiveUsers {
			static = static.FoldCase()
		}
		e.static = static
		dir = static

		if strings.TrimSpace(cfg.RedisURL) != "" {
			ttl := time.Duration(cfg.DirectoryCacheSeconds) * time.Second
			cached, err := assignee.NewCachedDirectory(cfg.RedisURL, static, ttl)
			if err != nil {
				logger.Warn("redis unavailable, group lookups go to the directory file", "error", err)
			} else {
				e.closers = append(e.closers, func() { _ = cached.Close() })
				dir = cached
			}
		}
	}

	e.svc = ack.New(cfg, e.store, dir, logger)

	var users search.UserLister
	if e.static != nil {
		users = e.static
	}
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	e.search = search.NewService(meiliClient, search.NewFallback(e.store, users), logger)
	e.closers = append(e.closers, e.search.Close)
	e.svc.SetIndexer(e.search)

	return e, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// groupsOf returns explicit groups when given, otherwise the user's groups from the directory file.
func (e *env) groupsOf(user, explicit string) []string {
	if strings.TrimSpace(explicit) != "" {
		return assignee.Split(explicit)
	}
	if e.static == nil {
		return nil
	}
	return e.static.GroupsOf(user)
}

func runMigrate(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("migrate", stderr)
	dir := fs.String("dir", cfg.MigrationsDir, "migrations `directory`")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, *dir); err != nil {
		return err
	}
	applied, err := store.AppliedMigrations(ctx, db)
	if err != nil {
		return err
	}
	for _, version := range applied {
		fmt.Fprintln(stdout, version)
	}
	return nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
