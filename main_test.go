package main

import (
	"testing"
	"time"

	"auction-service/internal/config"

	"github.com/stretchr/testify/require"
)

func TestRun_FailedTaskIsReturned(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:-1"
	cfg.Scheduler.Interval = time.Hour

	done := make(chan error, 1)
	go func() { done <- run(&cfg) }()

	select {
	case err := <-done:
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid port")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after the HTTP listener failed")
	}
}

func TestProducerConfig_ZeroRetriesDisablesRetry(t *testing.T) {
	cfg := config.Default()
	cfg.Producer.MaxRetries = 0
	require.Equal(t, -1, producerConfig(&cfg).MaxRetries)

	cfg.Producer.MaxRetries = 2
	require.Equal(t, 2, producerConfig(&cfg).MaxRetries)
	require.Equal(t, cfg.Broker.AuctionQueue, producerConfig(&cfg).Queue)
}
