package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"Pixmux/core/artnet"
	"Pixmux/core/engine"
)

func TestKeys(t *testing.T) {
	if got := EngineStateKey("main"); got != "pixmux:engine:main:state" {
		t.Errorf("state key = %s", got)
	}
	if got := OutputStatsKey("main"); got != "pixmux:output:main:stats" {
		t.Errorf("stats key = %s", got)
	}
}

func TestNilClient(t *testing.T) {
	c := NewEngineCacheWithClient(nil, 0)
	ctx := context.Background()
	if c.ttl != defaultStateTTL {
		t.Errorf("ttl = %v", c.ttl)
	}

	if err := c.SaveEngineState(ctx, engine.Snapshot{Name: "main"}); !errors.Is(err, ErrRedisNotInitialized) {
		t.Errorf("save: %v", err)
	}
	if _, err := c.GetEngineState(ctx, "main"); !errors.Is(err, ErrRedisNotInitialized) {
		t.Errorf("get: %v", err)
	}
	if _, err := c.ListEngines(ctx); !errors.Is(err, ErrRedisNotInitialized) {
		t.Errorf("list: %v", err)
	}
	if err := c.SaveOutputStats(ctx, artnet.OutputStats{Engine: "main"}); !errors.Is(err, ErrRedisNotInitialized) {
		t.Errorf("stats: %v", err)
	}
}

func TestReporterWithoutRedis(t *testing.T) {
	r := NewStateReporter(NewEngineCacheWithClient(nil, time.Second), engine.NewRegistry(), nil, 0)
	if err := r.ReportOnce(context.Background()); !errors.Is(err, ErrRedisNotInitialized) {
		t.Errorf("err = %v", err)
	}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter with zero interval should return immediately")
	}
}

func TestReporterStopsOnCancel(t *testing.T) {
	r := NewStateReporter(NewEngineCacheWithClient(nil, time.Second), engine.NewRegistry(), nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
}
