package schedule

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"taskguidance/internal/action"
)

func TestParseSpec(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		kind  SpecKind
		expr  string
		every time.Duration
	}{
		{"*/5 * * * *", SpecCron, "*/5 * * * *", 0},
		{"@hourly", SpecCron, "@hourly", 0},
		{"cron: 0 0 * * *", SpecCron, "0 0 * * *", 0},
		{"every 30s", SpecInterval, "@every 30s", 30 * time.Second},
		{"Every: 2h", SpecInterval, "@every 2h0m0s", 2 * time.Hour},
		{"interval: 90s", SpecInterval, "@every 1m30s", 90 * time.Second},
		{"55m", SpecInterval, "@every 55m0s", 55 * time.Minute},
		{"02:30", SpecInterval, "@every 2h30m0s", 2*time.Hour + 30*time.Minute},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			ps, err := ParseSpec(tc.in)
			if err != nil {
				t.Fatalf("ParseSpec(%q): %v", tc.in, err)
			}
			if ps.Kind != tc.kind || ps.Expr() != tc.expr || ps.Every != tc.every {
				t.Fatalf("ParseSpec(%q) = %+v (expr %q), want kind=%v expr=%q every=%v",
					tc.in, ps, ps.Expr(), tc.kind, tc.expr, tc.every)
			}
		})
	}
}

func TestParseSpecRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", "cron:", "every", "every -5s", "01:75", "00:00", "soon"} {
		if _, err := ParseSpec(in); err == nil {
			t.Errorf("ParseSpec(%q) succeeded, want error", in)
		}
	}
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []string
	separate  []bool
	err       error
	ch        chan string
}

func (f *fakeSubmitter) QueueAction(a action.Action, separately bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, a.Name())
	f.separate = append(f.separate, separately)
	if f.ch != nil {
		select {
		case f.ch <- a.Name():
		default:
		}
	}
	return nil
}

func newRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, n := range names {
		n := n
		if err := reg.Register(n, func() action.Action { return action.NewFunc(n, nil) }); err != nil {
			t.Fatalf("Register(%q): %v", n, err)
		}
	}
	return reg
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, "b", "a")
	if got := strings.Join(reg.Names(), ","); got != "a,b" {
		t.Fatalf("Names = %q", got)
	}
	a1, err := reg.Build("a")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	a2, _ := reg.Build("a")
	if a1 == a2 {
		t.Fatal("Build returned the same action twice")
	}
	if _, err := reg.Build("missing"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("Build(missing) err = %v, want ErrUnknownAction", err)
	}
	if err := reg.Register(" ", func() action.Action { return nil }); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := reg.Register("nilfactory", nil); err == nil {
		t.Fatal("expected error for nil factory")
	}
}

func TestApplyValidatesAll(t *testing.T) {
	t.Parallel()
	s := New(&fakeSubmitter{}, newRegistry(t, "beat"))
	if err := s.Apply([]Def{{Name: "ok", Spec: "@hourly", Action: "beat"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	err := s.Apply([]Def{
		{Name: "ok2", Spec: "@daily", Action: "beat"},
		{Name: "bad-action", Spec: "@daily", Action: "nope"},
		{Name: "bad-spec", Spec: "61 * * * *", Action: "beat"},
		{Name: "bad-tz", Spec: "0 9 * * *", Action: "beat", Timezone: "Nowhere/City"},
	})
	if err == nil {
		t.Fatal("expected Apply error")
	}
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction in chain", err)
	}
	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Name != "ok" {
		t.Fatalf("schedules after failed Apply = %+v, want only ok", infos)
	}
}

func TestTimezoneApplied(t *testing.T) {
	t.Parallel()
	s := New(&fakeSubmitter{}, newRegistry(t, "beat"))
	if err := s.Apply([]Def{{Name: "tz", Spec: "0 9 * * *", Action: "beat", Timezone: "UTC"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := s.Schedules()[0].Spec; got != "CRON_TZ=UTC 0 9 * * *" {
		t.Fatalf("Spec = %q", got)
	}
}

func TestRunNow(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	s := New(sub, newRegistry(t, "beat"))
	if err := s.Apply([]Def{{Name: "n", Spec: "@daily", Action: "beat", Separate: true}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.RunNow("n"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(sub.submitted) != 1 || sub.submitted[0] != "beat" || !sub.separate[0] {
		t.Fatalf("submitted = %v separate = %v", sub.submitted, sub.separate)
	}
	if err := s.RunNow("missing"); !errors.Is(err, ErrUnknownSchedule) {
		t.Fatalf("RunNow(missing) err = %v", err)
	}

	sub.err = errors.New("not configured")
	if err := s.RunNow("n"); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("RunNow err = %v", err)
	}
}

func TestTriggersOnInterval(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{ch: make(chan string, 1)}
	s := New(sub, newRegistry(t, "beat"))
	if err := s.Apply([]Def{{Name: "fast", Spec: "every 1s", Action: "beat"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	select {
	case name := <-sub.ch:
		if name != "beat" {
			t.Fatalf("submitted %q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not trigger")
	}
	if info := s.Schedules()[0]; info.Next.IsZero() {
		t.Fatalf("Next not set while running: %+v", info)
	}
}

func TestApplyWhileRunningReplaces(t *testing.T) {
	t.Parallel()
	s := New(&fakeSubmitter{}, newRegistry(t, "a", "b"))
	s.Start()
	defer s.Stop(context.Background())
	if err := s.Apply([]Def{{Name: "one", Spec: "@hourly", Action: "a"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply([]Def{{Name: "two", Spec: "@daily", Action: "b"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Name != "two" || infos[0].Next.IsZero() {
		t.Fatalf("schedules = %+v", infos)
	}
}
