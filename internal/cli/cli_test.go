package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/minerctl/internal/audit"
	"github.com/nerrad567/minerctl/internal/auth"
	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/infrastructure/config"
	"github.com/nerrad567/minerctl/internal/infrastructure/logging"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of serve.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		configFlag = ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dev", "dev"},
		{"", ""},
		{"1.2.3", "v1.2.3"},
		{"v1.2.3", "v1.2.3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatVersion(tt.in), "formatVersion(%q)", tt.in)
	}
}

func TestPrintVersion(t *testing.T) {
	originalVersion, originalCommit, originalDate := version, commit, date
	defer SetVersionInfo(originalVersion, originalCommit, originalDate)

	SetVersionInfo("1.2.3", "abc1234", "2026-01-08T12:00:00Z")
	assert.Equal(t, "1.2.3", GetVersion())

	var buf bytes.Buffer
	printVersion(&buf, false)
	out := buf.String()
	assert.Contains(t, out, "minerctl v1.2.3")
	assert.Contains(t, out, "commit: abc1234")
	assert.Contains(t, out, "built: 2026-01-08T12:00:00Z")
	assert.Contains(t, out, "go: "+runtime.Version())
	assert.Contains(t, out, "os/arch: "+runtime.GOOS+"/"+runtime.GOARCH)

	buf.Reset()
	printVersion(&buf, true)
	assert.Equal(t, "1.2.3\n", buf.String())
}

func TestConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	configFlag = ""
	defer func() { configFlag = "" }()

	path, explicit := configPath()
	assert.Equal(t, defaultConfigPath, path)
	assert.False(t, explicit)

	t.Setenv(configEnv, "/etc/minerctl/rig.yaml")
	path, explicit = configPath()
	assert.Equal(t, "/etc/minerctl/rig.yaml", path)
	assert.True(t, explicit)

	configFlag = "flag.yaml"
	path, explicit = configPath()
	assert.Equal(t, "flag.yaml", path, "--config beats the environment")
	assert.True(t, explicit)
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	t.Setenv(configEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(configEnv, "")

	cfg, err := loadConfig()
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "bzminer"), cfg.Miner.Dir)
	assert.Equal(t, "kaspa", cfg.Miner.Algo)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := writeConfig(t, "tuning:\n  mode: bogus\n")
	t.Setenv(configEnv, path)

	_, err := loadConfig()
	require.Error(t, err)
}

func TestAlertPrinter_BlockPopupAndBell(t *testing.T) {
	var buf bytes.Buffer
	p := newAlertPrinter(&buf, config.AlertsConfig{BlockSound: true, BlockPopup: true})

	p.Handle(events.NewBlockFound("[SOLO] Block Found! height 12345", 3))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, terminalBell), "bell rings first")
	assert.Contains(t, out, "BLOCK FOUND")
	assert.Contains(t, out, "run #3")
	assert.Contains(t, out, "height 12345")
}

func TestAlertPrinter_BlockQuiet(t *testing.T) {
	var buf bytes.Buffer
	p := newAlertPrinter(&buf, config.AlertsConfig{})

	p.Handle(events.NewBlockFound("worker found a block", 1))

	out := buf.String()
	assert.NotContains(t, out, terminalBell)
	assert.NotContains(t, out, "BLOCK FOUND")
	assert.Contains(t, out, "worker found a block")
}

func TestAlertPrinter_OtherEvents(t *testing.T) {
	var buf bytes.Buffer
	p := newAlertPrinter(&buf, config.AlertsConfig{})

	p.Handle(events.StateChanged{From: "starting", To: "running", PID: 4242, Generation: 1})
	p.Handle(events.StateChanged{From: "running", To: "idle", Err: "exit status 1"})
	p.Handle(events.NewWarning(events.WarnNoGPU, "no GPU detected"))
	p.Handle(events.TuningResult{Phase: events.PhaseActive, Outcome: "failed", Profile: "Kaspa", Err: "tool not found"})
	p.Handle(events.SnapshotEvent{})
	p.Handle(events.LogLine{Line: "noise"})

	out := buf.String()
	assert.Contains(t, out, "starting -> ")
	assert.Contains(t, out, "pid 4242")
	assert.Contains(t, out, "exit status 1")
	assert.Contains(t, out, "[no_gpu] no GPU detected")
	assert.Contains(t, out, "active Kaspa on gpu 0: failed (tool not found)")
	assert.NotContains(t, out, "noise", "log lines are not printed")
}

func TestAlertPrinter_RunStopsOnBusClose(t *testing.T) {
	bus := events.NewBus()
	var buf syncBuffer
	p := newAlertPrinter(&buf, config.AlertsConfig{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), bus)
	}()

	// Subscribe happens inside Run; retry until the event lands.
	require.Eventually(t, func() bool {
		bus.Publish(events.NewWarning(events.WarnLogWrite, "disk full"))
		return strings.Contains(buf.String(), "disk full")
	}, 2*time.Second, 10*time.Millisecond)

	bus.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the bus closed")
	}
}

func TestParseCommand_JSON(t *testing.T) {
	log := strings.Join([]string{
		"[INFO] waiting for job",
		"| 00:12 | 5/1/0 | 61.2 mh | 82 % | 140 w | 60C/70C |",
		"[SOLO] Block Found! height 12345",
		"",
	}, "\n")
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte(log), 0o600))
	defer func() { parseJSON = false }()

	out, err := execute(t, "parse", "--json", path)
	require.NoError(t, err)

	var res parseResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 61.2, res.Snapshot.Hashrate, 0.001)
	assert.Equal(t, uint64(5), res.Snapshot.Accepted)
	assert.Equal(t, uint64(1), res.Snapshot.Rejected)
	assert.InDelta(t, 140, res.Snapshot.Power, 0.001)
	assert.Equal(t, []string{"[SOLO] Block Found! height 12345"}, res.Blocks)
}

func TestParseCommand_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiet.log")
	require.NoError(t, os.WriteFile(path, []byte("connecting to pool\n"), 0o600))

	out, err := execute(t, "parse", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no telemetry lines recognised")
	assert.Contains(t, out, "No blocks found.")
}

func TestParseCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "parse", filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	path := writeConfig(t, "security:\n  jwt:\n    secret: \""+secret+"\"\n")
	defer func() {
		tokenRole, tokenSubject, tokenTTL = string(auth.RoleViewer), "cli", 0
	}()

	out, err := execute(t, "--config", path, "token", "--role", "operator", "--subject", "grafana", "--ttl", "2h")
	require.NoError(t, err)

	claims, err := auth.ParseToken(strings.TrimSpace(out), secret)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOperator, claims.Role)
	assert.Equal(t, "grafana", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommand_Errors(t *testing.T) {
	defer func() {
		tokenRole, tokenSubject, tokenTTL = string(auth.RoleViewer), "cli", 0
	}()

	noSecret := writeConfig(t, "logging:\n  level: error\n")
	_, err := execute(t, "--config", noSecret, "token")
	require.ErrorIs(t, err, auth.ErrNoSecret)

	withSecret := writeConfig(t, "security:\n  jwt:\n    secret: \"0123456789abcdef0123456789abcdef\"\n")
	_, err = execute(t, "--config", withSecret, "token", "--role", "root")
	require.ErrorIs(t, err, auth.ErrInvalidRole)
}

func TestLogsCommand(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "miner.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line one\nBlock Found! height 7\nline three\n"), 0o600))
	path := writeConfig(t, "miner:\n  log_file: "+logPath+"\n")

	out, err := execute(t, "--config", path, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "line one")
	assert.Contains(t, out, "Block Found! height 7")
	assert.Contains(t, out, "line three")
}

func TestLogsCommand_NoLogYet(t *testing.T) {
	path := writeConfig(t, "miner:\n  log_file: "+filepath.Join(t.TempDir(), "absent.log")+"\n")

	out, err := execute(t, "--config", path, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "No miner output yet")
}

func TestTuningApply_Disabled(t *testing.T) {
	path := writeConfig(t, "tuning:\n  mode: none\n")

	out, err := execute(t, "--config", path, "tuning", "apply", "Kaspa")
	require.NoError(t, err)
	assert.Contains(t, out, "Tuning is disabled")
}

func TestTuningProfiles(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "OverdriveNTool.exe")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	ini := "[General]\nMain=1\n[Profile_0]\nName=Default\n[Profile_1]\nName=Kaspa\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "OverdriveNTool.ini"), []byte(ini), 0o600))
	path := writeConfig(t, "tuning:\n  mode: odnt\n  tool_path: "+tool+"\n")

	out, err := execute(t, "--config", path, "tuning", "profiles")
	require.NoError(t, err)
	assert.Contains(t, out, "Default")
	assert.Contains(t, out, "Kaspa")
}

// serveConfig returns a config for runServe with every network output off
// and a fake miner that prints telemetry and one block win.
func serveConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	script := filepath.Join(dir, "fake-miner")
	body := "#!/bin/sh\n" +
		"echo '| 00:12 | 5/1/0 | 61.2 mh | 82 % | 140 w | 60C/70C |'\n" +
		"echo '[SOLO] Block Found! height 12345'\n" +
		"exec sleep 30\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	cfg, err := config.Default(dir)
	require.NoError(t, err)
	cfg.Miner.Dir = dir
	cfg.Miner.Exe = script
	cfg.Miner.LogFile = filepath.Join(dir, "miner.log")
	cfg.Tuning.Mode = config.TuningModeNone
	cfg.Tuning.ReapplyDelay = 0
	cfg.Tuning.PreSpawnDelay = 0
	cfg.Database.Enabled = true
	cfg.Database.Path = filepath.Join(dir, "data", "minerctl.db")
	cfg.MQTT.Enabled = false
	cfg.InfluxDB.Enabled = false
	cfg.API.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Alerts = config.AlertsConfig{BlockPopup: true}
	cfg.Logging.Level = "error"
	return cfg
}

func TestRunServe_StartsMinerAndShutsDown(t *testing.T) {
	cfg := serveConfig(t)
	var out syncBuffer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(ctx, cfg, serveOptions{Start: true, Out: &out})
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "BLOCK FOUND")
	}, 10*time.Second, 20*time.Millisecond, "block banner printed")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("runServe did not return after cancel")
	}

	assert.Contains(t, out.String(), "-> ", "state changes printed")
	_, err := os.Stat(cfg.Database.Path)
	require.NoError(t, err, "database created")

	data, err := os.ReadFile(cfg.Miner.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Block Found! height 12345")
}

func TestRunServe_BadMinerLogPath(t *testing.T) {
	cfg := serveConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Miner.LogFile = filepath.Join(blocker, "miner.log")

	err := runServe(context.Background(), cfg, serveOptions{Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening miner log")
}

func TestOpenHistory_PrunesAuditLog(t *testing.T) {
	cfg := serveConfig(t)
	cfg.Database.Retention = 24 * time.Hour
	ctx := context.Background()

	db, _, repo, err := openHistory(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, repo.Record(ctx, &audit.Entry{
		Action: audit.ActionMinerStart, Source: audit.SourceAPI, CreatedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.Record(ctx, &audit.Entry{Action: audit.ActionMinerStop, Source: audit.SourceMQTT}))
	require.NoError(t, db.Close())

	db, _, repo, err = openHistory(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	defer db.Close()

	res, err := repo.List(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, audit.ActionMinerStop, res.Entries[0].Action)
}

func TestRunHealthChecks(t *testing.T) {
	ok := healthChecker{"ok", func(context.Context) error { return nil }}
	bad := healthChecker{"mqtt", func(context.Context) error { return assert.AnError }}

	require.NoError(t, runHealthChecks(context.Background(), nil))
	require.NoError(t, runHealthChecks(context.Background(), []healthChecker{ok}))

	err := runHealthChecks(context.Background(), []healthChecker{ok, bad})
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "mqtt")
}

func TestMinerConfig(t *testing.T) {
	cfg := serveConfig(t)
	mc := minerConfig(cfg)

	assert.Equal(t, cfg.MinerPath(), mc.Binary)
	assert.Equal(t, cfg.MinerArgs(), mc.Args)
	assert.Equal(t, cfg.Miner.Dir, mc.WorkDir)
	assert.Equal(t, "Kaspa", mc.ProfileActive)
	assert.Equal(t, "Default", mc.ProfileIdle)
	assert.Equal(t, cfg.Supervisor.StopGrace, mc.StopGrace)
}
