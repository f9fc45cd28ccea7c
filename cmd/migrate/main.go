// Command migrate applies the sync engine's SQL migrations to PostgreSQL.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

var errUsage = errors.New("usage")

// env is what a command runs against. m is nil for commands that only touch files.
type env struct {
	dir  string
	args []string
	log  *zap.Logger
	m    *migration.Migrator
}

type command struct {
	usage  string
	needDB bool
	run    func(e *env) error
}

var commands = map[string]command{
	"up": {usage: "up", needDB: true, run: func(e *env) error { return e.m.Up() }},
	"down": {usage: "down -confirm", needDB: true, run: func(e *env) error {
		if !hasFlag(e.args, "confirm") {
			return fmt.Errorf("down drops every sync table, rerun as 'migrate down -confirm'")
		}
		return e.m.Down()
	}},
	"step": {usage: "step <n>", needDB: true, run: func(e *env) error {
		n, err := intArg(e.args)
		if err != nil {
			return err
		}
		return e.m.Steps(n)
	}},
	"goto": {usage: "goto <version>", needDB: true, run: func(e *env) error {
		v, err := intArg(e.args)
		if err != nil || v < 0 {
			return fmt.Errorf("%w: goto <version>", errUsage)
		}
		return e.m.GoTo(uint(v))
	}},
	"force": {usage: "force <version>", needDB: true, run: func(e *env) error {
		v, err := intArg(e.args)
		if err != nil {
			return err
		}
		return e.m.Force(v)
	}},
	"status": {usage: "status", needDB: true, run: status},
	"create": {usage: "create <name> [description]", run: create},
	"list":   {usage: "list", run: list},
}

func main() {
	dir := flag.String("path", "", "migrations directory (default ./migrations)")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	name := args[0]
	if name == "version" {
		name = "status"
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", TimeFormat: "2006-01-02 15:04:05"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	err = execute(cmd, *dir, args[1:], log)
	_ = logger.Sync(log)
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	case err != nil:
		log.Error("Migration command failed", zap.String("command", name), zap.Error(err))
		os.Exit(1)
	}
}

func execute(cmd command, dir string, args []string, log *zap.Logger) error {
	dir, err := resolveMigrationsPath(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}
	e := &env{dir: dir, args: args, log: log}
	log.Debug("Migration CLI started", zap.String("command", cmd.usage), zap.String("migrations_path", dir))

	if !cmd.needDB {
		return cmd.run(e)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("SQL migrations target postgres, got driver %q; sqlite databases are created by the server", cfg.Database.Driver)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	// The migrator owns db from here and closes it.
	e.m, err = migration.New(db, dir, log)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer e.m.Close()
	return cmd.run(e)
}

func status(e *env) error {
	st, err := e.m.Status(e.dir)
	if err != nil {
		return err
	}
	e.log.Info("Migration status",
		zap.Uint("version", st.Version),
		zap.Bool("dirty", st.Dirty),
		zap.Uint("latest", st.Latest),
		zap.Int("pending", st.Pending),
	)
	return nil
}

func create(e *env) error {
	if len(e.args) == 0 {
		return fmt.Errorf("%w: create <name> [description]", errUsage)
	}
	var desc string
	if len(e.args) > 1 {
		desc = e.args[1]
	}
	mf, err := migration.CreateMigration(e.dir, e.args[0], desc)
	if err != nil {
		return err
	}
	e.log.Info("Migration created",
		zap.Uint("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func list(e *env) error {
	files, err := migration.ListMigrations(e.dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("no migrations in", e.dir)
		return nil
	}
	for _, f := range files {
		note := ""
		if !f.HasDown {
			note = " (no down file)"
		}
		fmt.Printf("%06d  %s%s\n", f.Version, f.Name, note)
	}
	return nil
}

func intArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: missing number", errUsage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errUsage, args[0])
	}
	return n, nil
}

// resolveMigrationsPath uses path, then ./migrations, then the repository's
// migrations relative to the binary.
func resolveMigrationsPath(path string) (string, error) {
	if path != "" {
		return filepath.Abs(path)
	}
	candidates := []string{defaultMigrationsPath}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "..", "..", defaultMigrationsPath))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return filepath.Abs(c)
		}
	}
	return filepath.Abs(defaultMigrationsPath)
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == "-"+name || a == "--"+name {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Fprint(os.Stderr, `migrate applies sync engine schema migrations to PostgreSQL.

Usage:
  migrate [-path dir] [-log-level level] <command> [args]

Commands:
  up                           apply every pending migration
  down -confirm                roll back every migration
  step <n>                     apply n migrations, negative rolls back
  goto <version>               migrate up or down to version
  status                       show applied, latest and pending versions (alias: version)
  force <version>              set the version without running migrations
  create <name> [description]  write a new up/down pair
  list                         list migration files

The database comes from the same configuration as the server
(config.toml or SYNC_DATABASE_* variables).
`)
}
