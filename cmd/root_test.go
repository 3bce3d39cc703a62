package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/app"
	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	"github.com/JakeFAU/affiliate-catalog/internal/config"
)

type fakeApp struct {
	syncErr    error
	resolveErr error
	synced     int
	resolved   []string
	closed     int
}

func (f *fakeApp) Sync(context.Context) (catalog.RunSummary, error) {
	f.synced++
	return catalog.RunSummary{RunID: "run-1"}, f.syncErr
}

func (f *fakeApp) Resolve(_ context.Context, rawURL string) (app.ResolveResult, error) {
	f.resolved = append(f.resolved, rawURL)
	if f.resolveErr != nil {
		return app.ResolveResult{}, f.resolveErr
	}
	return app.ResolveResult{ID: "601099512345678", Tier: "http", CanonicalURL: "https://shop.example/p/601099512345678"}, nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Close() { f.closed++ }

// withFakes swaps the factories for the duration of a test. Tests using it must not run in parallel.
func withFakes(t *testing.T, fake *fakeApp) *string {
	t.Helper()
	var gotPath string
	origLoad, origLogger, origApp := loadConfig, newLogger, newApp
	loadConfig = func(path string) (config.Config, error) {
		gotPath = path
		return config.Config{}, nil
	}
	newLogger = func(config.Config) (*zap.Logger, error) { return zap.NewNop(), nil }
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return fake, nil }
	t.Cleanup(func() {
		loadConfig, newLogger, newApp = origLoad, origLogger, origApp
	})
	return &gotPath
}

func TestSyncCommand(t *testing.T) {
	fake := &fakeApp{}
	gotPath := withFakes(t, fake)

	var out bytes.Buffer
	err := run(context.Background(), []string{"sync", "--config", "catalog.yaml"}, &out, &out)
	require.NoError(t, err)
	require.Equal(t, 1, fake.synced)
	require.Equal(t, 1, fake.closed)
	require.Equal(t, "catalog.yaml", *gotPath)
}

func TestSyncCommandFailureStillCloses(t *testing.T) {
	fake := &fakeApp{syncErr: errors.New("persist failed")}
	withFakes(t, fake)

	var out bytes.Buffer
	err := run(context.Background(), []string{"sync"}, &out, &out)
	require.ErrorContains(t, err, "persist failed")
	require.Equal(t, 1, fake.closed)
}

func TestResolveCommand(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, fake)

	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"resolve", "https://temu.to/k/abc"}, &out, &errOut)
	require.NoError(t, err)
	require.Equal(t, []string{"https://temu.to/k/abc"}, fake.resolved)

	var res app.ResolveResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Equal(t, catalog.ProductID("601099512345678"), res.ID)
	require.Equal(t, "http", res.Tier)
}

func TestResolveCommandRequiresURL(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, fake)

	var out bytes.Buffer
	err := run(context.Background(), []string{"resolve"}, &out, &out)
	require.Error(t, err)
	require.Empty(t, fake.resolved)
}

func TestConfigErrorAbortsBeforeApp(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, fake)
	loadConfig = func(string) (config.Config, error) { return config.Config{}, errors.New("source.csv_url is required") }
	built := false
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		built = true
		return fake, nil
	}

	var out bytes.Buffer
	err := run(context.Background(), []string{"sync"}, &out, &out)
	require.ErrorContains(t, err, "source.csv_url is required")
	require.False(t, built)
	require.Zero(t, fake.synced)
}
