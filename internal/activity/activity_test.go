package activity

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	logx "taskguidance/pkg/logx"
)

func TestWithDoesNotAlias(t *testing.T) {
	t.Parallel()
	base := New("S", "E", LevelInfo).With("a", 1)
	x := base.With("b", 2)
	y := base.With("b", 3)
	if v, _ := x.Param("b"); v != 2 {
		t.Fatalf("x.b = %v, want 2", v)
	}
	if v, _ := y.Param("b"); v != 3 {
		t.Fatalf("y.b = %v, want 3", v)
	}
	if _, ok := base.Param("b"); ok {
		t.Fatal("base gained a param")
	}
}

func TestParamLastWins(t *testing.T) {
	t.Parallel()
	a := New("S", "E", LevelInfo).With("k", "old").With("k", "new")
	if v, ok := a.Param("k"); !ok || v != "new" {
		t.Fatalf("Param(k) = %v, %v", v, ok)
	}
}

func TestEmitStampsTimeAndToleratesNil(t *testing.T) {
	t.Parallel()
	Emit(nil, New("S", "E", LevelInfo))

	rec := &Recorder{}
	Emit(rec, New("S", "E", LevelInfo))
	got := rec.Activities()
	if len(got) != 1 || got[0].Time.IsZero() {
		t.Fatalf("recorded %+v", got)
	}
}

func TestMulti(t *testing.T) {
	t.Parallel()
	a, b := &Recorder{}, &Recorder{}
	if _, ok := Multi().(nop); !ok {
		t.Fatal("empty Multi should be Nop")
	}
	if Multi(nil, a) != Logger(a) {
		t.Fatal("single Multi should unwrap")
	}
	m := Multi(a, nil, b)
	m.Log(New("S", "E", LevelDebug))
	if len(a.Activities()) != 1 || len(b.Activities()) != 1 {
		t.Fatal("fanout missed a logger")
	}
}

func TestRecorderFilter(t *testing.T) {
	t.Parallel()
	rec := &Recorder{}
	rec.Log(New("A", "x", LevelInfo))
	rec.Log(New("B", "x", LevelInfo))
	rec.Log(New("A", "y", LevelInfo))
	if n := len(rec.Filter("A", "")); n != 2 {
		t.Fatalf("Filter(A) = %d", n)
	}
	if n := len(rec.Filter("", "x")); n != 2 {
		t.Fatalf("Filter(x) = %d", n)
	}
	if n := len(rec.Filter("A", "y")); n != 1 {
		t.Fatalf("Filter(A, y) = %d", n)
	}
}

func TestBus(t *testing.T) {
	t.Parallel()
	b := NewBus()
	ch, unsub := b.Subscribe(1)
	b.Log(New("S", "first", LevelInfo))
	b.Log(New("S", "dropped", LevelInfo)) // buffer full; never blocks

	select {
	case a := <-ch:
		if a.Event != "first" || a.Time.IsZero() {
			t.Fatalf("got %+v", a)
		}
	case <-time.After(time.Second):
		t.Fatal("no activity delivered")
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after unsubscribe")
	}
	b.Log(New("S", "after", LevelInfo))

	var nilBus *Bus
	nilBus.Log(New("S", "E", LevelInfo))
}

func TestLogSink(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sink := NewLogSink(logx.NewWriter(&buf, "debug"))

	sink.Log(New("Engine", "Dispatched", LevelDebug).
		Describe("run %s", "job").
		With("EventKey", "job/1").
		With("Error", errors.New("boom")))
	sink.Log(New("Engine", "Chatty", LevelVerbose))

	out := buf.String()
	for _, want := range []string{`"message":"Dispatched"`, `"subject":"Engine"`, `"desc":"run job"`, `"EventKey":"job/1"`, `"Error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Chatty") {
		t.Fatal("verbose activity written at debug level")
	}

	if _, ok := NewLogSink(logx.Logger{}).(nop); !ok {
		t.Fatal("zero logger should give Nop sink")
	}
}

func TestLevelString(t *testing.T) {
	t.Parallel()
	if LevelWarn.String() != "warn" || Level(42).String() != "level(42)" {
		t.Fatalf("unexpected level names: %s %s", LevelWarn, Level(42))
	}
}
