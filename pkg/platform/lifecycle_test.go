package platform

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func recordHook(calls *[]string, name string, err error) func(context.Context) error {
	return func(context.Context) error {
		*calls = append(*calls, name)
		return err
	}
}

func TestLifecycle_StartAndStop(t *testing.T) {
	lc := NewLifecycle()

	var calls []string
	lc.Append("store", recordHook(&calls, "start", nil), recordHook(&calls, "stop", nil))

	if err := lc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !lc.IsStarted() {
		t.Error("IsStarted() = false after Start()")
	}
	if err := lc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if lc.IsStarted() {
		t.Error("IsStarted() = true after Stop()")
	}
	if !slices.Equal(calls, []string{"start", "stop"}) {
		t.Errorf("calls = %v", calls)
	}
}

func TestLifecycle_StartAlreadyStarted(t *testing.T) {
	lc := NewLifecycle()
	_ = lc.Start(context.Background())

	if err := lc.Start(context.Background()); err == nil {
		t.Error("Start() expected error for already started")
	}
}

func TestLifecycle_StopNotStarted(t *testing.T) {
	lc := NewLifecycle()
	if err := lc.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v, expected nil for not started", err)
	}
}

func TestLifecycle_StartRollbackOnError(t *testing.T) {
	lc := NewLifecycle()

	var calls []string
	lc.Append("store", recordHook(&calls, "start-store", nil), recordHook(&calls, "stop-store", nil))
	lc.OnStop("sinks", recordHook(&calls, "stop-sinks", nil))
	lc.Append("http", recordHook(&calls, "start-http", errors.New("address in use")), recordHook(&calls, "stop-http", nil))
	lc.Append("never", recordHook(&calls, "start-never", nil), nil)

	err := lc.Start(context.Background())
	if err == nil {
		t.Fatal("Start() expected error")
	}
	if !strings.Contains(err.Error(), "starting http") {
		t.Errorf("error = %v, want component name", err)
	}

	want := []string{"start-store", "start-http", "stop-sinks", "stop-store"}
	if !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if lc.IsStarted() {
		t.Error("lifecycle should not be started after rollback")
	}
}

func TestLifecycle_StopInReverseOrder(t *testing.T) {
	lc := NewLifecycle()

	var calls []string
	for _, name := range []string{"store", "manager", "http"} {
		lc.OnStop(name, recordHook(&calls, name, nil))
	}

	_ = lc.Start(context.Background())
	_ = lc.Stop(context.Background())

	want := []string{"http", "manager", "store"}
	if !slices.Equal(calls, want) {
		t.Errorf("order = %v, want %v", calls, want)
	}
}

type mockCloser struct {
	closed bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return nil
}

func TestLifecycle_RegisterCloser(t *testing.T) {
	lc := NewLifecycle()
	closer := &mockCloser{}

	lc.RegisterCloser("db", closer)
	_ = lc.Start(context.Background())
	_ = lc.Stop(context.Background())

	if !closer.closed {
		t.Error("closer not closed")
	}
}

func TestLifecycle_StopJoinsErrors(t *testing.T) {
	lc := NewLifecycle()
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	var calls []string
	lc.OnStop("a", recordHook(&calls, "a", errA))
	lc.OnStop("b", recordHook(&calls, "b", errB))
	lc.OnStop("c", recordHook(&calls, "c", nil))

	_ = lc.Start(context.Background())
	err := lc.Stop(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Stop() error = %v, want both failures", err)
	}
	if len(calls) != 3 {
		t.Errorf("every stop callback should run, got %v", calls)
	}
}
