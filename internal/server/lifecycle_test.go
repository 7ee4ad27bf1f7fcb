package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu       sync.Mutex
	events   []string
	startErr error
	release  chan struct{}
}

func newFakeService(startErr error) *fakeService {
	return &fakeService{startErr: startErr, release: make(chan struct{})}
}

func (f *fakeService) record(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeService) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeService) Start() error {
	f.record("start")
	if f.startErr != nil {
		return f.startErr
	}
	<-f.release
	return http.ErrServerClosed
}

func (f *fakeService) Shutdown(context.Context) error {
	f.record("shutdown")
	close(f.release)
	return nil
}

func TestShutdownOnCancel(t *testing.T) {
	svc := newFakeService(nil)
	gs := NewGracefulServer(svc, &GracefulServerOptions{
		BeforeStop:   func() { svc.record("before") },
		ShutdownHook: func() { svc.record("hook") },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return len(svc.Events()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
	assert.Equal(t, []string{"start", "before", "shutdown", "hook"}, svc.Events())
}

func TestStartFailure(t *testing.T) {
	boom := errors.New("address in use")
	svc := newFakeService(boom)
	stopped := false
	gs := NewGracefulServer(svc, &GracefulServerOptions{BeforeStop: func() { stopped = true }})

	err := gs.ListenAndServe(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, stopped)
	assert.Equal(t, []string{"start"}, svc.Events())
}

func TestRunWithGracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunWithGracefulShutdown(ctx, srv, nil) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
