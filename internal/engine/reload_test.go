package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alberthild/vainplex-openclaw-sub002/internal/config"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestReloaderPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testPolicies), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, hash, err := config.LoadWithHash(path)
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(cfg, WithTrustStore(&memStore{}), WithConfigHash(hash))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop(context.Background())

	r, err := NewReloader(e, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if v := e.EvaluateRequest(execRequest("docker rm web")); v.Allowed() {
		t.Fatal("expected deny before change")
	}

	updated := []byte("fail_mode: open\npolicies: []\n")
	if err := os.WriteFile(path, updated, 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return e.ConfigHash() == config.Hash(updated) })

	if v := e.EvaluateRequest(execRequest("docker rm web")); !v.Allowed() {
		t.Errorf("expected allow after reload, got %s", v.Reason)
	}

	if err := os.WriteFile(path, []byte("fail_mode: sideways\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, failures := r.Stats()
		return failures > 0
	})
	if e.ConfigHash() != config.Hash(updated) {
		t.Error("invalid file must not replace the running configuration")
	}
}
