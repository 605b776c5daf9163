package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/config"
	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/orchestrator"
	"github.com/JakeFAU/jobharvest/internal/schedule"
	"github.com/JakeFAU/jobharvest/internal/storage/memory"
)

type fakeApp struct {
	cfg     config.Config
	runner  *schedule.Runner
	store   *memory.JobStore
	started bool
	closed  bool
}

func (f *fakeApp) Config() config.Config           { return f.cfg }
func (f *fakeApp) Logger() *zap.Logger             { return zap.NewNop() }
func (f *fakeApp) Store() crawler.JobStore         { return f.store }
func (f *fakeApp) Runner() *schedule.Runner        { return f.runner }
func (f *fakeApp) Ready(context.Context) error     { return nil }
func (f *fakeApp) StartBackground(context.Context) { f.started = true }
func (f *fakeApp) Close(context.Context)           { f.closed = true }

func installFakeApp(t *testing.T, run schedule.RunFunc) *fakeApp {
	t.Helper()
	fake := &fakeApp{store: memory.NewJobStore()}
	fake.runner = schedule.NewRunner(run, nil)
	original := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() { newApp = original })
	return fake
}

func writeConfig(t *testing.T, port int) string {
	t.Helper()
	body := "server:\n  port: " + strconv.Itoa(port) + "\n" +
		"store:\n  driver: memory\n" +
		"storage:\n  backend: memory\n" +
		"schedule:\n  enabled: false\n" +
		"logging:\n  development: false\n"
	path := filepath.Join(t.TempDir(), "jobharvest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func sampleReport() schedule.Report {
	return schedule.Report{Scan: orchestrator.Summary{
		RunID: "7f0c1e5e-3c1b-4a7e-9d55-0c7c1c1f9a10",
		Targets: []orchestrator.TargetSummary{
			{Name: "acme", Kind: string(crawler.KindGreenhouse), Scanned: 4, Saved: 3, Reason: "exhausted"},
			{Name: "globex", Kind: string(crawler.KindWorkday), Failed: true, Reason: "error", Error: "boom"},
		},
		Totals: orchestrator.Totals{Scanned: 4, Kept: 3, Saved: 3, Failed: 1},
	}}
}

func TestRunCommandPrintsSummary(t *testing.T) {
	fake := installFakeApp(t, func(context.Context) (schedule.Report, error) {
		return sampleReport(), nil
	})

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--config", writeConfig(t, 8080)})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.Contains(t, out.String(), "4 scanned, 3 kept, 3 saved")
	require.Contains(t, out.String(), "failed: boom")
	require.True(t, fake.closed)
	require.Equal(t, "memory", fake.cfg.Store.Driver)
}

func TestRunCommandJSONAndError(t *testing.T) {
	installFakeApp(t, func(context.Context) (schedule.Report, error) {
		return sampleReport(), errors.New("post-scan: smtp down")
	})

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--json", "--config", writeConfig(t, 8080)})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "smtp down")

	var decoded schedule.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Equal(t, 3, decoded.Scan.Totals.Saved)
}

func TestMissingConfigFileFails(t *testing.T) {
	installFakeApp(t, func(context.Context) (schedule.Report, error) {
		return schedule.Report{}, nil
	})

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "absent.yaml")})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "load config")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	fake := installFakeApp(t, func(context.Context) (schedule.Report, error) {
		return schedule.Report{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", writeConfig(t, port)})
	require.NoError(t, root.ExecuteContext(ctx))
	require.True(t, fake.started)
	require.True(t, fake.closed)
}
