package server

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/internal/store"
)

func timeAgo(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}

func TestIsDueNoPreviousRun(t *testing.T) {
	for _, spec := range []string{"@daily", "@hourly", "0 6 * * *", "not a cron spec"} {
		if !isDue(spec, nil) {
			t.Errorf("spec %q: first run should fire immediately", spec)
		}
	}
}

func TestIsDueDaily(t *testing.T) {
	if isDue("@daily", timeAgo(2*time.Hour)) {
		t.Error("daily run fired twice in a day")
	}
	if !isDue("@daily", timeAgo(25*time.Hour)) {
		t.Error("daily run overdue but did not fire")
	}
}

func TestIsDueHourly(t *testing.T) {
	if isDue("@hourly", timeAgo(10*time.Minute)) {
		t.Error("hourly run fired twice in an hour")
	}
	if !isDue("@hourly", timeAgo(90*time.Minute)) {
		t.Error("hourly run overdue but did not fire")
	}
}

func TestIsDueCronExpression(t *testing.T) {
	// every minute: anything older than a minute is due
	if !isDue("* * * * *", timeAgo(5*time.Minute)) {
		t.Error("per-minute schedule overdue but did not fire")
	}
	// once a year, far in the future relative to a recent run
	if isDue("0 0 1 1 *", timeAgo(time.Minute)) {
		t.Error("yearly schedule fired right after a run")
	}
}

func TestIsDueInvalidSpecFallsBackToDaily(t *testing.T) {
	if isDue("someday maybe", timeAgo(time.Hour)) {
		t.Error("invalid spec should behave like @daily")
	}
	if !isDue("someday maybe", timeAgo(48*time.Hour)) {
		t.Error("invalid spec overdue but did not fire")
	}
}

func schedulerFixture(t *testing.T, rdb *redis.Client, launched *int) *Scheduler {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectQuery("SELECT id, categories").
		WillReturnRows(sqlmock.NewRows([]string{"id", "categories", "mode", "status", "error", "created_at", "finished_at"}))

	cfg := &config.Config{}
	cfg.Worker.CronSpec = "@hourly"
	cfg.Worker.Categories = []string{"habit"}
	cfg.Worker.Mode = "general"

	return &Scheduler{
		Cfg:   cfg,
		Store: &store.Store{DB: db},
		Rdb:   rdb,
		Launch: func(req research.Request) string {
			*launched++
			return "run-1"
		},
		logger: log.New(io.Discard, "", 0),
	}
}

func TestTickLockDedupesReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	launched := 0
	a := schedulerFixture(t, rdb, &launched)
	b := schedulerFixture(t, rdb, &launched)

	a.tick()
	b.tick()

	if launched != 1 {
		t.Fatalf("both replicas were due but %d runs launched, want 1", launched)
	}
	// the lock must outlive the launch, only its TTL releases it
	if !mr.Exists("alphy:sched:lock") {
		t.Fatal("lock released before its TTL expired")
	}
}

func TestRunWorkerRequiresCronConfig(t *testing.T) {
	if err := RunWorker(context.Background(), &config.Config{}); err == nil {
		t.Fatal("unconfigured worker must refuse to start")
	}
}
