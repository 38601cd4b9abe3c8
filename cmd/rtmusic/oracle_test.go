package main

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/example/go-rtmusic/internal/config"
	"github.com/example/go-rtmusic/internal/oracle"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestServeOracle_RemoteRoundTrip(t *testing.T) {
	addr := freeAddr(t)
	cfg := config.DefaultConfig().Oracle
	cfg.Dimension = 16
	cfg.SampleRate = 8000

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveOracle(ctx, addr, cfg, time.Second) }()

	var remote *oracle.Remote
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), time.Second)
		remote, err = oracle.DialRemote(dialCtx, fmt.Sprintf("ws://%s/", addr))
		dialCancel()
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("DialRemote: %v", err)
	}

	if remote.Dimension() != 16 || remote.SampleRate() != 8000 {
		t.Errorf("remote reports dim %d rate %d; want 16, 8000", remote.Dimension(), remote.SampleRate())
	}

	vec, err := remote.EmbedText(context.Background(), "ambient")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(vec) != 16 {
		t.Errorf("len(embedding) = %d; want 16", len(vec))
	}
	_ = remote.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serveOracle() = %v; want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveOracle did not stop")
	}
}

func TestServeOracle_InvalidDimension(t *testing.T) {
	cfg := config.DefaultConfig().Oracle
	cfg.Dimension = 0

	if err := serveOracle(context.Background(), freeAddr(t), cfg, time.Second); err == nil {
		t.Fatal("expected error for zero dimension")
	}
}
