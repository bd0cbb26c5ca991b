// Command migrate applies or inspects the embedded schema migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/golang-migrate/migrate/v4"

	"github.com/QWERTYjc/GradeOS-sub003/internal/config"
	"github.com/QWERTYjc/GradeOS-sub003/internal/migrations"
)

const envURL = "GRADEOS_DB_URL"

// action is one migrate operation; exactly one may be selected per run.
type action struct {
	name string
	run  func(m *migrate.Migrate, out io.Writer) error
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	url := fs.String("url", "", "database URL (default: $"+envURL+", then the service config)")

	act, err := parseAction(fs, args)
	if err != nil {
		return err
	}

	target, err := resolveURL(*url)
	if err != nil {
		return fmt.Errorf("resolve database url: %w", err)
	}

	m, err := migrations.New(target)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := act.run(m, out); err != nil {
		return fmt.Errorf("%s: %w", act.name, err)
	}
	return nil
}

// parseAction parses args and returns the single requested action.
func parseAction(fs *flag.FlagSet, args []string) (action, error) {
	up := fs.Bool("up", false, "apply all pending migrations")
	down := fs.Bool("down", false, "revert all migrations")
	steps := fs.Int("steps", 0, "apply N migrations (negative reverts)")
	version := fs.Bool("version", false, "print the current version")
	force := fs.Int("force", -1, "set the version without migrating, clearing the dirty flag")

	if err := fs.Parse(args); err != nil {
		return action{}, err
	}

	var picked []action
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "up":
			if *up {
				picked = append(picked, action{"up", func(m *migrate.Migrate, out io.Writer) error {
					return report(out, ignoreNoChange(m.Up()), "migrations applied")
				}})
			}
		case "down":
			if *down {
				picked = append(picked, action{"down", func(m *migrate.Migrate, out io.Writer) error {
					return report(out, ignoreNoChange(m.Down()), "migrations reverted")
				}})
			}
		case "steps":
			n := *steps
			picked = append(picked, action{"steps", func(m *migrate.Migrate, out io.Writer) error {
				return report(out, ignoreNoChange(m.Steps(n)), fmt.Sprintf("moved %d steps", n))
			}})
		case "version":
			if *version {
				picked = append(picked, action{"version", printVersion})
			}
		case "force":
			v := *force
			picked = append(picked, action{"force", func(m *migrate.Migrate, out io.Writer) error {
				return report(out, m.Force(v), fmt.Sprintf("forced to version %d", v))
			}})
		}
	})

	switch len(picked) {
	case 1:
		return picked[0], nil
	case 0:
		fs.Usage()
		return action{}, errors.New("no action given")
	default:
		return action{}, fmt.Errorf("choose one action, got %d", len(picked))
	}
}

func printVersion(m *migrate.Migrate, out io.Writer) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		_, err = fmt.Fprintln(out, "version: none")
		return err
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "version: %d, dirty: %v\n", v, dirty)
	return err
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func report(out io.Writer, err error, msg string) error {
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, msg)
	return err
}

// resolveURL prefers the flag, then GRADEOS_DB_URL, then the database
// section of the service config.
func resolveURL(flagURL string) (string, error) {
	if flagURL != "" {
		return flagURL, nil
	}
	if v := os.Getenv(envURL); v != "" {
		return v, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if !cfg.Persistent() {
		return "", fmt.Errorf("store is %q; nothing to migrate", cfg.Store)
	}
	return cfg.Database.URL(), nil
}
