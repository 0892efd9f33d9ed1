package miner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nerrad567/minerctl/internal/events"
	"github.com/nerrad567/minerctl/internal/gpu"
	"github.com/nerrad567/minerctl/internal/rollinglog"
	"github.com/nerrad567/minerctl/internal/telemetry"
	"github.com/nerrad567/minerctl/internal/tuning"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 5 * time.Second

// minerScript writes an executable shell script standing in for the miner.
func minerScript(t *testing.T, body string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "fakeminer.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path, dir
}

func newSupervisor(t *testing.T, cfg Config, deps Deps) *Supervisor {
	t.Helper()
	s, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		s.Wait()
	})
	return s
}

type recordingTuner struct {
	mu    sync.Mutex
	calls []string
	res   tuning.Outcome
}

func (r *recordingTuner) Apply(_ context.Context, profile string, gpuIndex int) tuning.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, profile)
	res := tuning.Result{Outcome: r.res, Profile: profile, GPUIndex: gpuIndex}
	if r.res == tuning.OutcomeFailed {
		res.Err = tuning.ErrPrivilegeRequired
	}
	return res
}

func (r *recordingTuner) Profiles() ([]string, error) { return nil, nil }

func (r *recordingTuner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type emptyProber struct{}

func (emptyProber) Probe(context.Context) (gpu.Info, error) { return gpu.Info{}, nil }

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{Binary: "/bin/true", ReapplyDelay: -time.Second}, Deps{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := New(Config{Binary: "/bin/true"}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, DefaultReadBackoff, s.Config().ReadBackoff)
	assert.Equal(t, DefaultFailureMarker, s.Config().FailureMarker)
	assert.Equal(t, StateIdle, s.State())
}

func TestSupervisor_StartTwice(t *testing.T) {
	bin, dir := minerScript(t, "echo 'Miner HR: 10.5 MH'\nexec sleep 30\n")
	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Snapshot().Hashrate == 10.5 }, waitFor, 10*time.Millisecond)

	pid := s.PID()
	before := s.Snapshot()

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, before, s.Snapshot(), "telemetry untouched")
	assert.Equal(t, pid, s.PID())
	assert.Equal(t, uint64(1), s.Generation())
	assert.Equal(t, StateRunning, s.State())
}

func TestSupervisor_StopIdle(t *testing.T) {
	s := newSupervisor(t, Config{Binary: "/bin/true"}, Deps{})

	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, s.Generation())
}

func TestSupervisor_StopTwiceAfterRun(t *testing.T) {
	bin, dir := minerScript(t, "exec sleep 30\n")
	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, s.PID())
}

func TestSupervisor_RestartResets(t *testing.T) {
	// The first run reports counters; later runs stay silent.
	bin, dir := minerScript(t, `if [ -f ran ]; then exec sleep 30; fi
touch ran
echo 'A/R/I: 5/1/0'
echo 'Miner HR: 42.0 MH'
exec sleep 30
`)
	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Snapshot().Accepted == 5 && s.Snapshot().Hashrate == 42 },
		waitFor, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Start(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, telemetry.Shares{}, snap.Shares())
	assert.Zero(t, snap.Hashrate)
	assert.Equal(t, uint64(2), s.Generation())
}

func TestSupervisor_BlockFoundEvent(t *testing.T) {
	bin, dir := minerScript(t, "echo '[SOLO] Block found!'\nexec sleep 30\n")
	bus := events.NewBus()
	sub := bus.Subscribe(8, events.KindBlockFound)
	defer sub.Close()

	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{Sink: bus})
	require.NoError(t, s.Start(context.Background()))

	select {
	case e := <-sub.C():
		bf := e.(events.BlockFound)
		assert.Equal(t, "[SOLO] Block found!", bf.RawLine)
		assert.Equal(t, uint64(1), bf.Generation)
	case <-time.After(waitFor):
		t.Fatal("no block_found event")
	}

	select {
	case e := <-sub.C():
		t.Fatalf("unexpected second event %v", e)
	case <-time.After(200 * time.Millisecond):
	}

	assert.Equal(t, telemetry.Snapshot{}, s.Snapshot(), "block line carries no telemetry")
	assert.Equal(t, uint64(1), s.Stats().BlocksFound)
}

func TestSupervisor_SharesAtomic(t *testing.T) {
	bin, dir := minerScript(t, `i=1
while [ $i -le 500 ]; do
  echo "A/R/I: $i/$i/$i"
  i=$((i+1))
done
exec sleep 30
`)
	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{})
	require.NoError(t, s.Start(context.Background()))

	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		require.Equal(t, snap.Accepted, snap.Rejected, "torn share triple")
		require.Equal(t, snap.Accepted, snap.Invalid, "torn share triple")
		if snap.Accepted == 500 {
			return
		}
	}
	t.Fatal("never observed the final share count")
}

func TestSupervisor_StaleGenerationIgnored(t *testing.T) {
	bin, dir := minerScript(t, "exec sleep 30\n")
	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{})
	require.NoError(t, s.Start(context.Background()))

	s.handleLine(s.Generation()-1, "Miner HR: 99.0 MH")
	assert.Zero(t, s.Snapshot().Hashrate)

	s.handleLine(s.Generation(), "Miner HR: 12.0 MH")
	assert.Equal(t, 12.0, s.Snapshot().Hashrate)
}

func TestSupervisor_ExitOnItsOwn(t *testing.T) {
	bin, dir := minerScript(t, "echo 'Miner HR: 1.0 MH'\nexit 2\n")
	bus := events.NewBus()
	sub := bus.Subscribe(16, events.KindStateChanged)
	defer sub.Close()

	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{Sink: bus})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return s.State() == StateIdle }, waitFor, 10*time.Millisecond)
	assert.Contains(t, s.Stats().LastExit, "exit status 2")

	var last events.StateChanged
	for {
		select {
		case e := <-sub.C():
			last = e.(events.StateChanged)
			if last.To == "idle" && last.From == "running" {
				assert.Contains(t, last.Err, "exit status 2")
				return
			}
		case <-time.After(waitFor):
			t.Fatalf("no running->idle transition, last = %+v", last)
		}
	}
}

// processGone reports whether pid has exited. A zombie left for init to
// reap counts as gone.
func processGone(pid int) bool {
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	i := strings.LastIndexByte(string(stat), ')')
	return i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}

func TestSupervisor_ExitKillsLeftoverProcesses(t *testing.T) {
	// The miner backgrounds a helper that inherits the output pipe, then exits.
	bin, dir := minerScript(t, `sleep 30 &
echo $! > helper.pid
echo 'Miner HR: 1.0 MH'
exit 0
`)
	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.State() == StateIdle }, waitFor, 10*time.Millisecond)

	raw, err := os.ReadFile(filepath.Join(dir, "helper.pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return processGone(pid) }, waitFor, 10*time.Millisecond,
		"helper %d survived the miner's exit", pid)

	require.NoError(t, s.Stop(context.Background()))

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(waitFor):
		t.Fatal("Wait blocked; the output pipe is still held open")
	}
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	s := newSupervisor(t, Config{Binary: filepath.Join(t.TempDir(), "missing")}, Deps{})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, s.PID())
}

func TestSupervisor_TuningSequence(t *testing.T) {
	bin, dir := minerScript(t, "exec sleep 30\n")
	tuner := &recordingTuner{res: tuning.OutcomeSucceeded}
	bus := events.NewBus()
	sub := bus.Subscribe(16, events.KindTuning)
	defer sub.Close()

	s := newSupervisor(t, Config{
		Binary:        bin,
		WorkDir:       dir,
		ProfileActive: "Kaspa",
		ProfileIdle:   "Default",
		PreSpawnDelay: 10 * time.Millisecond,
		ReapplyDelay:  50 * time.Millisecond,
	}, Deps{Tuner: tuner, Sink: bus})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return len(tuner.Calls()) == 2 }, waitFor, 10*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, []string{"Kaspa", "Kaspa", "Default"}, tuner.Calls())

	var phases []string
	for range 3 {
		e := (<-sub.C()).(events.TuningResult)
		phases = append(phases, e.Phase)
	}
	assert.Equal(t, []string{events.PhaseActive, events.PhaseReapply, events.PhaseIdle}, phases)
}

func TestSupervisor_ReapplyCancelledByStop(t *testing.T) {
	bin, dir := minerScript(t, "exec sleep 30\n")
	tuner := &recordingTuner{res: tuning.OutcomeSucceeded}

	s := newSupervisor(t, Config{
		Binary:        bin,
		WorkDir:       dir,
		ProfileActive: "Kaspa",
		ProfileIdle:   "Default",
		ReapplyDelay:  300 * time.Millisecond,
	}, Deps{Tuner: tuner})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	time.Sleep(500 * time.Millisecond)

	assert.Equal(t, []string{"Kaspa", "Default"}, tuner.Calls())
}

func TestSupervisor_TuningFailureDoesNotAbort(t *testing.T) {
	bin, dir := minerScript(t, "exec sleep 30\n")
	tuner := &recordingTuner{res: tuning.OutcomeFailed}

	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir, ProfileActive: "Kaspa"}, Deps{Tuner: tuner})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())
}

func TestSupervisor_PreflightWarnings(t *testing.T) {
	bin, dir := minerScript(t, "exec sleep 30\n")
	logPath := filepath.Join(dir, "miner.log")
	require.NoError(t, os.WriteFile(logPath, []byte("init...\nERROR: CUDA not found\n"), 0o644))

	bus := events.NewBus()
	sub := bus.Subscribe(8, events.KindWarning)
	defer sub.Close()

	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir, LogPath: logPath},
		Deps{Sink: bus, Probe: emptyProber{}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())

	var codes []string
	for range 2 {
		select {
		case e := <-sub.C():
			codes = append(codes, e.(events.Warning).Code)
		case <-time.After(waitFor):
			t.Fatalf("warnings = %v, want two", codes)
		}
	}
	assert.ElementsMatch(t, []string{events.WarnNoGPU, events.WarnPriorFailure}, codes)
}

func TestSupervisor_WritesRollingLog(t *testing.T) {
	bin, dir := minerScript(t, "echo first\necho second >&2\nprintf 'no newline'\nexec sleep 30\n")
	logPath := filepath.Join(dir, "logs", "miner.log")
	w, err := rollinglog.Open(rollinglog.Options{Path: logPath})
	require.NoError(t, err)
	defer w.Close()

	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir}, Deps{Log: w})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(logPath)
		return strings.Contains(string(data), "first\nsecond\n")
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	s.Wait()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "no newline\n", "partial line flushed at EOF")
}

func TestSupervisor_SnapshotTicker(t *testing.T) {
	bin, dir := minerScript(t, "echo '85C/92C'\nexec sleep 30\n")
	bus := events.NewBus()
	sub := bus.Subscribe(64, events.KindSnapshot)
	defer sub.Close()

	s := newSupervisor(t, Config{Binary: bin, WorkDir: dir, SnapshotInterval: 20 * time.Millisecond}, Deps{Sink: bus})
	require.NoError(t, s.Start(context.Background()))

	deadline := time.After(waitFor)
	for {
		select {
		case e := <-sub.C():
			if e.(events.SnapshotEvent).Snapshot.Temperature == 85 {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot event with parsed temperature")
		}
	}
}

func TestLineReader(t *testing.T) {
	alive := true
	r := strings.NewReader("one\r\ntwo\npart")
	lr := newLineReader(r, func() bool { return alive })

	line, err := lr.next()
	require.NoError(t, err)
	assert.Equal(t, "one", line)

	line, err = lr.next()
	require.NoError(t, err)
	assert.Equal(t, "two", line)

	_, err = lr.next()
	assert.ErrorIs(t, err, errTransientEmpty, "partial line kept while writer alive")

	alive = false
	line, err = lr.next()
	require.NoError(t, err)
	assert.Equal(t, "part", line)

	_, err = lr.next()
	assert.ErrorIs(t, err, io.EOF)
}
