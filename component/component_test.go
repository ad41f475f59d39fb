package component

import (
	"context"
	"errors"
	"testing"
)

type fakeComponent struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(_ context.Context) error {
	*f.log = append(*f.log, "start:"+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(_ context.Context) error {
	*f.log = append(*f.log, "stop:"+f.name)
	return f.stopErr
}

func (f *fakeComponent) Health(_ context.Context) Health {
	return Health{Name: f.name, Status: StatusHealthy}
}

func TestRegistry_StartStopOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	if err := r.Register(&fakeComponent{name: "a", log: &log}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(&fakeComponent{name: "b", log: &log}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	var log []string
	r := NewRegistry()
	_ = r.Register(&fakeComponent{name: "a", log: &log})
	if err := r.Register(&fakeComponent{name: "a", log: &log}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistry_StartFailureStopsEarly(t *testing.T) {
	var log []string
	r := NewRegistry()
	_ = r.Register(&fakeComponent{name: "a", log: &log})
	_ = r.Register(&fakeComponent{name: "b", startErr: errors.New("boom"), log: &log})
	_ = r.Register(&fakeComponent{name: "c", log: &log})

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}

	// Only the started component is stopped.
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := log[len(log)-1]
	if last != "stop:a" {
		t.Fatalf("expected stop:a last, got %v", log)
	}
}

func TestRegistry_HealthAll(t *testing.T) {
	var log []string
	r := NewRegistry()
	_ = r.Register(&fakeComponent{name: "a", log: &log})

	healths := r.HealthAll(context.Background())
	if len(healths) != 1 || healths[0].Status != StatusHealthy {
		t.Fatalf("unexpected healths: %v", healths)
	}
}
