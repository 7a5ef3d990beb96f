package main

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"

	appconfig "github.com/laserostop/booking-calendar/internal/config"
	appmigrations "github.com/laserostop/booking-calendar/migrations"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

type fakeMigrator struct {
	up      error
	steps   []int
	forced  []int
	stepErr error
}

func (f *fakeMigrator) Up() error { return f.up }

func (f *fakeMigrator) Steps(n int) error {
	f.steps = append(f.steps, n)
	return f.stepErr
}

func (f *fakeMigrator) Force(version int) error {
	f.forced = append(f.forced, version)
	return nil
}

func TestApplyCommands(t *testing.T) {
	logger := logging.New("error")

	t.Run("up tolerates no change", func(t *testing.T) {
		if err := apply(&fakeMigrator{up: migrate.ErrNoChange}, nil, logger); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("up failure", func(t *testing.T) {
		err := apply(&fakeMigrator{up: errors.New("dirty database")}, []string{"up"}, logger)
		if err == nil || !strings.Contains(err.Error(), "dirty database") {
			t.Fatalf("expected wrapped error, got %v", err)
		}
	})

	t.Run("down defaults to one step", func(t *testing.T) {
		m := &fakeMigrator{}
		if err := apply(m, []string{"down"}, logger); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(m.steps) != 1 || m.steps[0] != -1 {
			t.Fatalf("expected one step back, got %v", m.steps)
		}
	})

	t.Run("down n", func(t *testing.T) {
		m := &fakeMigrator{}
		if err := apply(m, []string{"down", "3"}, logger); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.steps[0] != -3 {
			t.Fatalf("expected -3, got %v", m.steps)
		}
		if err := apply(m, []string{"down", "zero"}, logger); err == nil {
			t.Fatalf("expected error for a bad step count")
		}
	})

	t.Run("force", func(t *testing.T) {
		m := &fakeMigrator{}
		if err := apply(m, []string{"force", "1"}, logger); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(m.forced) != 1 || m.forced[0] != 1 {
			t.Fatalf("expected forced version 1, got %v", m.forced)
		}
		if err := apply(m, []string{"force"}, logger); err == nil {
			t.Fatalf("expected error without a version")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if err := apply(&fakeMigrator{}, []string{"redo"}, logger); err == nil {
			t.Fatalf("expected error for an unknown command")
		}
	})
}

func TestRunRequiresDatabaseURL(t *testing.T) {
	if err := run(&appconfig.Config{}, nil, logging.New("error")); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, name := range []string{"0001_init.up.sql", "0001_init.down.sql"} {
		data, err := fs.ReadFile(appmigrations.FS, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(data) == 0 {
			t.Fatalf("%s is empty", name)
		}
	}
	up, _ := fs.ReadFile(appmigrations.FS, "0001_init.up.sql")
	for _, want := range []string{"bookings_no_overlap", "btree_gist", "app_settings", "outbox"} {
		if !strings.Contains(string(up), want) {
			t.Errorf("up migration missing %q", want)
		}
	}
}
