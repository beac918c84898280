package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type testComponent struct {
	name      string
	startErr  error
	stopErr   error
	events    *[]string
	startCall int
	stopCall  int
}

func (c *testComponent) Start(context.Context) error {
	c.startCall++
	if c.events != nil {
		*c.events = append(*c.events, "start:"+c.name)
	}
	return c.startErr
}

func (c *testComponent) Stop(context.Context) error {
	c.stopCall++
	if c.events != nil {
		*c.events = append(*c.events, "stop:"+c.name)
	}
	return c.stopErr
}

func newRuntime(components ...*testComponent) *Runtime {
	r := NewRuntime()
	for _, c := range components {
		r.Register(c.name, c)
	}
	return r
}

func TestRuntimeStartStopOrder(t *testing.T) {
	t.Parallel()

	events := make([]string, 0, 6)
	runtime := newRuntime(
		&testComponent{name: "metrics", events: &events},
		&testComponent{name: "worker", events: &events},
		&testComponent{name: "consumer", events: &events},
	)
	if err := runtime.Start(context.Background()); err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	if err := runtime.Stop(context.Background()); err != nil {
		t.Fatalf("stop runtime: %v", err)
	}

	expected := []string{
		"start:metrics",
		"start:worker",
		"start:consumer",
		"stop:consumer",
		"stop:worker",
		"stop:metrics",
	}
	if !reflect.DeepEqual(events, expected) {
		t.Fatalf("unexpected order: got %v want %v", events, expected)
	}
}

func TestRuntimeStartFailureStopsStartedComponents(t *testing.T) {
	t.Parallel()

	events := make([]string, 0, 4)
	startErr := errors.New("boom")
	c1 := &testComponent{name: "one", events: &events}
	c2 := &testComponent{name: "two", events: &events, startErr: startErr}
	c3 := &testComponent{name: "three", events: &events}

	runtime := newRuntime(c1, c2, c3)
	err := runtime.Start(context.Background())
	if !errors.Is(err, startErr) || !strings.Contains(err.Error(), "start two") {
		t.Fatalf("unexpected start error: %v", err)
	}
	if c1.stopCall != 1 || c2.stopCall != 0 || c3.stopCall != 0 {
		t.Fatalf("unexpected stop calls: c1=%d c2=%d c3=%d", c1.stopCall, c2.stopCall, c3.stopCall)
	}
	if c3.startCall != 0 {
		t.Fatal("component after the failure was started")
	}

	if err := runtime.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if c1.stopCall != 1 {
		t.Fatalf("component stopped twice")
	}
}

func TestRuntimeStopJoinsErrors(t *testing.T) {
	t.Parallel()

	errA, errB := errors.New("a"), errors.New("b")
	runtime := newRuntime(
		&testComponent{name: "a", stopErr: errA},
		&testComponent{name: "b", stopErr: errB},
	)
	if err := runtime.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := runtime.Stop(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both stop errors, got %v", err)
	}
}
