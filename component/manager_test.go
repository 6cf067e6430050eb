package component

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeComponent records lifecycle calls for ordering assertions.
type fakeComponent struct {
	name     string
	events   *[]string
	startErr error
	initErr  error
	running  bool
}

func (f *fakeComponent) Initialize() error {
	*f.events = append(*f.events, "init:"+f.name)
	return f.initErr
}

func (f *fakeComponent) Start(_ context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	*f.events = append(*f.events, "start:"+f.name)
	return nil
}

func (f *fakeComponent) Stop(_ time.Duration) error {
	f.running = false
	*f.events = append(*f.events, "stop:"+f.name)
	return nil
}

func (f *fakeComponent) Health() HealthStatus {
	return HealthStatus{Healthy: f.running, Status: "running"}
}

func (f *fakeComponent) Meta() Metadata {
	return Metadata{Name: f.name, Type: "processor"}
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	a := &fakeComponent{name: "a", events: &events}
	b := &fakeComponent{name: "b", events: &events}

	m := NewManager(nil)
	m.Add(a)
	m.Add(b)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := m.StopAll(time.Second); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}

	want := []string{"init:a", "start:a", "init:b", "start:b", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestManagerStartFailureRollsBack(t *testing.T) {
	var events []string
	a := &fakeComponent{name: "a", events: &events}
	b := &fakeComponent{name: "b", events: &events, startErr: errors.New("boom")}

	m := NewManager(nil)
	m.Add(a)
	m.Add(b)

	err := m.StartAll(context.Background())
	if err == nil {
		t.Fatal("StartAll() error = nil, want error")
	}
	if a.running {
		t.Error("component a still running after rollback")
	}
}

func TestManagerHealth(t *testing.T) {
	var events []string
	a := &fakeComponent{name: "gateway", events: &events}

	m := NewManager(nil)
	m.Add(a)
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	health := m.Health()
	status, ok := health["gateway"]
	if !ok {
		t.Fatalf("health missing gateway: %v", health)
	}
	if !status.Healthy {
		t.Error("gateway health = unhealthy, want healthy")
	}
}
