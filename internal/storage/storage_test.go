package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"taskguidance/internal/activity"
	logx "taskguidance/pkg/logx"
)

func openTestStore(t *testing.T, driver string, max int) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger."+driver)
	st, err := Open(Config{Driver: driver, Path: path, MaxRecords: max}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want disabled", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestStoreRecentOldestFirst(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			st := openTestStore(t, driver, -1)
			ctx := context.Background()
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				a := activity.New("ActionJetton", fmt.Sprintf("event-%d", i), activity.LevelInfo).
					With("n", i).
					With("error", errors.New("boom"))
				a.Time = base.Add(time.Duration(i) * time.Second)
				if err := st.Append(ctx, FromActivity(a)); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			got, err := st.Recent(ctx, 3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("Recent returned %d records, want 3", len(got))
			}
			for i, r := range got {
				want := fmt.Sprintf("event-%d", i+2)
				if r.Event != want {
					t.Fatalf("record %d event = %q, want %q", i, r.Event, want)
				}
			}
			last := got[2]
			if last.Params["n"] != "4" || last.Params["error"] != "boom" {
				t.Fatalf("params = %v", last.Params)
			}
			if last.Level != "info" || !last.At.Equal(base.Add(4*time.Second)) {
				t.Fatalf("record = %+v", last)
			}
		})
	}
}

func TestStorePrunesToMaxRecords(t *testing.T) {
	st := openTestStore(t, "file", 10)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if err := st.Append(ctx, Record{Subject: "s", Event: fmt.Sprint(i), Level: "info"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := st.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) > 15 {
		t.Fatalf("ledger holds %d records, want pruning", len(got))
	}
	if got[len(got)-1].Event != "24" {
		t.Fatalf("newest record = %q, want 24", got[len(got)-1].Event)
	}
}

func TestAppendAfterClose(t *testing.T) {
	st := openTestStore(t, "file", 0)
	_ = st.Close()
	if err := st.Append(context.Background(), Record{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSinkPersistsAboveMinLevel(t *testing.T) {
	st := openTestStore(t, "file", 0)
	sink := NewSink(st, logx.Nop(), activity.LevelDebug, 16)

	sink.Log(activity.New("Engine", "verbose", activity.LevelVerbose))
	sink.Log(activity.New("Engine", "debug", activity.LevelDebug))
	sink.Log(activity.New("Engine", "error", activity.LevelError))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sink.Log(activity.New("Engine", "late", activity.LevelError))

	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Event != "debug" || got[1].Event != "error" {
		t.Fatalf("persisted = %+v", got)
	}
}
