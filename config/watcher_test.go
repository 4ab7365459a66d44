package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestNewWatcher(t *testing.T) {
	t.Run("valid config path", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		writeConfig(t, configPath, "app:\n  name: test\n")

		watcher, err := NewWatcher(configPath)
		if err != nil {
			t.Fatalf("NewWatcher failed: %v", err)
		}
		defer watcher.Stop()

		if watcher.ConfigPath() != configPath {
			t.Errorf("expected config path %s, got %s", configPath, watcher.ConfigPath())
		}
	})

	t.Run("empty config path", func(t *testing.T) {
		if _, err := NewWatcher(""); err == nil {
			t.Fatal("expected error for empty config path")
		}
	})

	t.Run("with debounce option", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		writeConfig(t, configPath, "app:\n  name: test\n")

		watcher, err := NewWatcher(configPath, WithDebounce(100*time.Millisecond))
		if err != nil {
			t.Fatalf("NewWatcher failed: %v", err)
		}
		defer watcher.Stop()

		if watcher.debounce != 100*time.Millisecond {
			t.Errorf("expected debounce 100ms, got %v", watcher.debounce)
		}
	})
}

func TestWatcher_Watch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\nmemory:\n  min_episodes: 3\n")

	watcher, err := NewWatcher(configPath, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer watcher.Stop()

	var mu sync.Mutex
	var received *Config
	watcher.OnChange(func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		received = cfg
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go watcher.Watch(ctx) //nolint:errcheck

	deadline := time.Now().Add(time.Second)
	for !watcher.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	writeConfig(t, configPath, "log:\n  level: debug\nmemory:\n  min_episodes: 6\n")

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		cfg := received
		mu.Unlock()
		if cfg != nil {
			if cfg.Log.Level != "debug" {
				t.Errorf("expected reloaded level 'debug', got '%s'", cfg.Log.Level)
			}
			if cfg.Memory.MinEpisodes != 6 {
				t.Errorf("expected reloaded min episodes 6, got %d", cfg.Memory.MinEpisodes)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("callback was not invoked after file change")
}

func TestWatcher_InvalidReloadReported(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	errCh := make(chan error, 4)
	watcher, err := NewWatcher(configPath,
		WithDebounce(50*time.Millisecond),
		WithErrorHandler(func(err error) { errCh <- err }),
	)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer watcher.Stop()

	called := make(chan struct{}, 1)
	watcher.OnChange(func(*Config) { called <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go watcher.Watch(ctx) //nolint:errcheck

	deadline := time.Now().Add(time.Second)
	for !watcher.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	writeConfig(t, configPath, "log:\n  level: verbose\n")

	select {
	case err := <-errCh:
		var details ValidationErrors
		if !errors.As(err, &details) {
			t.Errorf("expected ValidationErrors, got %v", err)
		}
	case <-called:
		t.Fatal("callback must not run for an invalid config")
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload error")
	}
}

func TestWatcher_CallbackPanicRecovered(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	var reported error
	watcher, err := NewWatcher(configPath, WithErrorHandler(func(err error) { reported = err }))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer watcher.Stop()

	var second bool
	watcher.OnChange(func(*Config) { panic("boom") })
	watcher.OnChange(func(*Config) { second = true })

	watcher.reload()

	if reported == nil {
		t.Error("expected panic to be reported")
	}
	if !second {
		t.Error("expected later callbacks to still run")
	}
}

func TestWatcher_ReloadsDoNotOverlap(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "log:\n  level: info\n")

	watcher, err := NewWatcher(configPath)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer watcher.Stop()

	var (
		inFlight int
		overlap  bool
		calls    int
	)
	watcher.OnChange(func(*Config) {
		// plain ints: the race detector flags overlapping callbacks
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		calls++
		time.Sleep(5 * time.Millisecond)
		inFlight--
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.reload()
		}()
	}
	wg.Wait()

	if overlap {
		t.Error("expected reloads to run one at a time")
	}
	if calls != 8 {
		t.Errorf("expected 8 callback calls, got %d", calls)
	}
}

func TestWatcher_Stop(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "app:\n  name: test\n")

	watcher, err := NewWatcher(configPath)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- watcher.Watch(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	if err := watcher.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error from Watch after Stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after Stop")
	}

	if watcher.IsRunning() {
		t.Error("expected watcher to not be running after Stop")
	}
}

func TestWatcher_NonExistentFile(t *testing.T) {
	watcher, err := NewWatcher("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer watcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := watcher.Watch(ctx); err == nil {
		t.Error("expected error when watching non-existent file")
	}
}

func TestHotReloadableConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "debug"
	cfg.Memory.MinEpisodes = 5
	cfg.Memory.ContextMinImportance = 0.25

	hot := ExtractHotReloadable(cfg)
	if hot.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got '%s'", hot.LogLevel)
	}
	if hot.MinEpisodes != 5 {
		t.Errorf("expected min episodes 5, got %d", hot.MinEpisodes)
	}
	if hot.ContextMinImportance != 0.25 {
		t.Errorf("expected context importance 0.25, got %v", hot.ContextMinImportance)
	}

	same := hot
	if hot.Changed(same) {
		t.Error("expected no change detected")
	}

	other := hot
	other.PruneMaxAgeHours = 24
	if !hot.Changed(other) {
		t.Error("expected change detected for prune age")
	}
}
