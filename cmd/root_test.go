package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kizashi/subsidy-radar/internal/app"
	"github.com/kizashi/subsidy-radar/internal/config"
)

func memoryFactory(t *testing.T) appFactory {
	t.Helper()
	return func(ctx context.Context, _ string) (*app.App, error) {
		cfg := config.Config{
			UserAgent: config.DefaultUserAgent,
			Timezone:  "Asia/Tokyo",
			Server:    config.ServerConfig{Port: 8080, RequestTimeoutMS: 5000},
			Sources:   config.SourcesConfig{TimeoutMS: 5000},
			Details:   config.DetailsConfig{BatchSize: 10, TimeoutMS: 5000},
			Classify:  config.ClassifyConfig{BatchSize: 50},
			Retry:     config.RetryConfig{Strategy: "fixed"},
			Extract:   config.ExtractConfig{Parser: "regex"},
			Storage:   config.StorageConfig{Provider: "memory"},
			Blob:      config.BlobConfig{Provider: "memory"},
			Publisher: config.PublisherConfig{Provider: "memory", Topic: "digest"},
			Lock:      config.LockConfig{Provider: "memory", TTLSeconds: 60},
			Digest:    config.DigestConfig{Concurrency: 2},
		}
		return app.Build(ctx, cfg, app.WithLogger(zap.NewNop()))
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, closeApp := newRootCmd(memoryFactory(t))
	defer closeApp()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// TestBatchCommandsPrintSummaries confirms each batch job runs on an empty
// store and prints its JSON summary.
func TestBatchCommandsPrintSummaries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		args []string
		key  string
	}{
		{[]string{"collect-sources"}, "total"},
		{[]string{"collect-details", "--rounds", "2"}, "state"},
		{[]string{"classify"}, "processed"},
		{[]string{"compute-scores"}, "upserted"},
		{[]string{"compute-priority"}, "prefectures"},
		{[]string{"send-digest", "--dry-run"}, "dry_run"},
		{[]string{"seed-sources"}, "seeded"},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			t.Parallel()
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			var summary map[string]any
			require.NoError(t, json.Unmarshal([]byte(out), &summary), out)
			assert.Contains(t, summary, tt.key)
		})
	}
}

// TestSeedSourcesCount confirms the default catalogue covers every prefecture.
func TestSeedSourcesCount(t *testing.T) {
	t.Parallel()
	out, err := execute(t, "seed-sources")
	require.NoError(t, err)
	assert.JSONEq(t, `{"seeded": 47}`, out)
}

// TestFullRunReportsEveryStage confirms full-run chains all stages.
func TestFullRunReportsEveryStage(t *testing.T) {
	t.Parallel()
	out, err := execute(t, "full-run")
	require.NoError(t, err)
	var summary map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	for _, key := range []string{"sources", "details", "classify", "scores", "priority"} {
		assert.NotEqual(t, "null", string(summary[key]), key)
	}
}

// TestMigrateRequiresPostgres confirms migrate fails on the memory store.
func TestMigrateRequiresPostgres(t *testing.T) {
	t.Parallel()
	_, err := execute(t, "migrate")
	require.ErrorContains(t, err, "postgres")
}

// TestFactoryErrorStopsCommand confirms service init failures surface.
func TestFactoryErrorStopsCommand(t *testing.T) {
	t.Parallel()
	root, closeApp := newRootCmd(func(context.Context, string) (*app.App, error) {
		return nil, errors.New("db down")
	})
	defer closeApp()
	root.SetArgs([]string{"classify"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "db down")
}

// TestServeShutsDownOnCancel confirms serve returns cleanly once ctx ends.
func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
		ReadHeaderTimeout: time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, zap.NewNop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
