package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/trialmatch/internal/guard"
	"github.com/mattjoyce/trialmatch/internal/locator"
	"github.com/mattjoyce/trialmatch/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	goleak.VerifyTestMain(m)
}

// writeWorker creates an executable shell worker and returns a locator for it.
func writeWorker(t *testing.T, script string) (locator.Fixed, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "worker")
	require.NoError(t, os.MkdirAll(dir, 0755))
	body := "#!/bin/sh\n" + script + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte(body), 0755))
	return locator.Fixed{Anchor: root, Subpath: "worker/run.sh"}, dir
}

func newTestBridge(loc locator.Locator, limit int, opts Options) *Bridge {
	launcher := &ProcessLauncher{KillGrace: 200 * time.Millisecond, MaxOutputBytes: 1 << 20}
	return New(loc, launcher, guard.New(limit), opts)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Publish(eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestInvokeEchoRoundTrip(t *testing.T) {
	loc, _ := writeWorker(t, `printf '%s' "$1"`)
	notifier := &recordingNotifier{}
	b := newTestBridge(loc, 2, Options{Notifier: notifier})

	payload := map[string]any{
		"patient": map[string]any{"age": 61.0, "gender": "M", "muscle_weakness": true},
		"trials":  []any{map[string]any{"trial_id": 1.0, "trial_name": "ALS-α <phase 2>"}},
	}
	res, err := b.Invoke(context.Background(), Request{Payload: payload, CorrelationID: "corr-1"})
	require.NoError(t, err)

	assert.Equal(t, payload, res.Value)
	assert.Equal(t, "corr-1", res.CorrelationID)
	assert.True(t, json.Valid(res.Raw))
	assert.Equal(t, []string{"invocation.started", "invocation.completed"}, notifier.types())
	assert.Equal(t, 0, b.Guard().Running())
}

func TestInvokeRunsInWorkerDirectory(t *testing.T) {
	loc, dir := writeWorker(t, `printf '{"cwd":"%s"}' "$(pwd -P)"`)
	b := newTestBridge(loc, 1, Options{})

	res, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}})
	require.NoError(t, err)

	realDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, realDir, res.Value.(map[string]any)["cwd"])
}

func TestInvokeGeneratesCorrelationID(t *testing.T) {
	loc, _ := writeWorker(t, `echo '{}'`)
	b := newTestBridge(loc, 1, Options{})

	res, err := b.Invoke(context.Background(), Request{Payload: 1})
	require.NoError(t, err)
	assert.Len(t, res.CorrelationID, 36)
}

func TestInvokeNonZeroExit(t *testing.T) {
	loc, _ := writeWorker(t, `echo boom >&2; exit 3`)
	b := newTestBridge(loc, 1, Options{})

	_, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}, CorrelationID: "c-2"})
	require.Error(t, err)

	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindRuntime, berr.Kind)
	assert.Equal(t, 3, berr.ExitCode)
	assert.Contains(t, berr.Diagnostic, "boom")
	assert.Equal(t, "c-2", berr.CorrelationID)
	assert.Equal(t, 0, b.Guard().Running())
}

func TestInvokeNonZeroExitWithoutStderr(t *testing.T) {
	loc, _ := writeWorker(t, `exit 1`)
	b := newTestBridge(loc, 1, Options{})

	_, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}})
	assert.True(t, IsKind(err, KindRuntime))
	assert.Contains(t, err.Error(), "status 1")
}

func TestInvokeMalformedOutput(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "not json", script: `echo not-json`, want: "not-json"},
		{name: "empty", script: `exit 0`, want: "no output"},
		{name: "two documents", script: `echo '{"a":1}'; echo '{"b":2}'`, want: "more than one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, _ := writeWorker(t, tt.script)
			b := newTestBridge(loc, 1, Options{})

			_, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}})
			var berr *Error
			require.ErrorAs(t, err, &berr)
			assert.Equal(t, KindParse, berr.Kind)
			assert.Equal(t, 0, berr.ExitCode)
			assert.Contains(t, berr.Diagnostic, tt.want)
		})
	}
}

func TestInvokeOutputOverflow(t *testing.T) {
	loc, _ := writeWorker(t, `printf '"%0100d"' 0`)
	launcher := &ProcessLauncher{KillGrace: 100 * time.Millisecond, MaxOutputBytes: 16}
	b := New(loc, launcher, guard.New(1), Options{})

	_, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}})
	require.True(t, IsKind(err, KindParse), "got %v", err)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
}

func TestInvokeSuccessKeepsStderr(t *testing.T) {
	loc, _ := writeWorker(t, `echo "warming model" >&2; echo '{"ok":true}'`)
	b := newTestBridge(loc, 1, Options{})

	res, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}})
	require.NoError(t, err)
	assert.Contains(t, res.Stderr, "warming model")
}

func TestInvokeLargeOutputDrained(t *testing.T) {
	// Larger than a pipe buffer on both streams.
	loc, _ := writeWorker(t, `
i=0
printf '['
while [ $i -lt 20000 ]; do printf '%d,' $i; echo "noise $i" >&2; i=$((i+1)); done
printf '0]'`)
	b := newTestBridge(loc, 1, Options{})

	res, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}, Timeout: 20 * time.Second})
	require.NoError(t, err)
	assert.Len(t, res.Value.([]any), 20001)
	assert.LessOrEqual(t, len(res.Stderr), maxStderrBytes)
}

func TestInvokeBoundedConcurrency(t *testing.T) {
	// Each worker registers itself in a shared directory and reports how many
	// workers it could see running.
	loc, _ := writeWorker(t, `
mkdir -p running
touch running/$$
n=$(ls running | wc -l)
sleep 0.2
rm -f running/$$
printf '{"seen":%d}' $n`)
	b := newTestBridge(loc, 2, Options{})

	var wg sync.WaitGroup
	results := make([]*Result, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Invoke(context.Background(), Request{Payload: i, Timeout: 10 * time.Second})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i], "invocation %d", i)
		seen := results[i].Value.(map[string]any)["seen"].(float64)
		assert.LessOrEqual(t, seen, 2.0, "invocation %d saw too many workers", i)
	}
	assert.LessOrEqual(t, b.Guard().Peak(), 2)
	assert.Equal(t, 0, b.Guard().Running())
}

// pidAlive treats zombies as dead: orphaned grandchildren may wait on a
// container init that never reaps them.
func pidAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		return syscall.Kill(pid, 0) == nil
	}
	// Format: pid (comm) state ...
	rest := string(data)
	if i := strings.LastIndexByte(rest, ')'); i >= 0 && i+2 < len(rest) {
		return rest[i+2] != 'Z' && rest[i+2] != 'X'
	}
	return true
}

func readPid(t *testing.T, path string) int {
	t.Helper()
	var data []byte
	require.Eventually(t, func() bool {
		var err error
		data, err = os.ReadFile(path)
		return err == nil && len(strings.TrimSpace(string(data))) > 0
	}, 2*time.Second, 10*time.Millisecond)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	return pid
}

func TestInvokeTimeoutKillsWorker(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{
			name:   "exits on SIGTERM",
			script: `echo $$ > pid; sleep 30 & echo $! > child; wait`,
		},
		{
			name:   "ignores SIGTERM",
			script: `trap '' TERM; echo $$ > pid; sleep 30 & echo $! > child; wait`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, dir := writeWorker(t, tt.script)
			notifier := &recordingNotifier{}
			b := newTestBridge(loc, 1, Options{Notifier: notifier})

			start := time.Now()
			_, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}, Timeout: 300 * time.Millisecond})
			elapsed := time.Since(start)

			var berr *Error
			require.ErrorAs(t, err, &berr)
			assert.Equal(t, KindTimeout, berr.Kind)
			assert.Equal(t, -1, berr.ExitCode)
			assert.Less(t, elapsed, 5*time.Second)

			pid := readPid(t, filepath.Join(dir, "pid"))
			child := readPid(t, filepath.Join(dir, "child"))
			assert.False(t, pidAlive(pid), "worker %d still alive after timeout", pid)
			// The backgrounded child shares the process group and is killed too;
			// it is reparented, so allow a moment for init to reap it.
			assert.Eventually(t, func() bool { return !pidAlive(child) }, 2*time.Second, 20*time.Millisecond)

			assert.Equal(t, 0, b.Guard().Running())
			assert.Equal(t, []string{"invocation.started", "invocation.completed"}, notifier.types())
		})
	}
}

func TestInvokeTimeoutWhileQueued(t *testing.T) {
	loc, _ := writeWorker(t, `echo '{}'`)
	b := newTestBridge(loc, 1, Options{})

	held, err := b.Guard().Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	_, err = b.Invoke(context.Background(), Request{Payload: map[string]any{}, Timeout: 50 * time.Millisecond})
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindTimeout, berr.Kind)
	assert.Contains(t, berr.Diagnostic, "waiting for a worker slot")
	assert.Equal(t, 1, b.Guard().Running())
}

func TestInvokeCallerCancellation(t *testing.T) {
	loc, _ := writeWorker(t, `sleep 30`)
	b := newTestBridge(loc, 1, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := b.Invoke(ctx, Request{Payload: map[string]any{}, Timeout: 10 * time.Second})
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindTimeout, berr.Kind)
	assert.Contains(t, berr.Diagnostic, "cancelled")
	assert.Equal(t, 0, b.Guard().Running())
}

func TestInvokePathResolutionFailure(t *testing.T) {
	b := newTestBridge(locator.Fixed{Anchor: t.TempDir(), Subpath: "missing/run.sh"}, 1, Options{})

	_, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}})
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindPathResolution, berr.Kind)
	assert.Contains(t, berr.Diagnostic, "worker not found")

	var rerr *locator.ResolutionError
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, 0, b.Guard().Running())
}

type staticLocator struct{ loc locator.Location }

func (s staticLocator) Resolve(ctx context.Context) (locator.Location, error) { return s.loc, nil }

func TestInvokeSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	b := newTestBridge(staticLocator{locator.Location{Path: filepath.Join(dir, "vanished"), Dir: dir}}, 1, Options{})

	_, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}})
	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, KindSpawn, berr.Kind)
	assert.Equal(t, 0, b.Guard().Running())
}

func TestInvokeUnserializablePayload(t *testing.T) {
	loc, _ := writeWorker(t, `echo '{}'`)
	b := newTestBridge(loc, 1, Options{})

	_, err := b.Invoke(context.Background(), Request{Payload: map[string]any{"f": func() {}}})
	assert.True(t, IsKind(err, KindSpawn))
	assert.Equal(t, 0, b.Guard().Peak(), "no slot should be taken for an unencodable payload")
}

type fixedOutputLauncher struct {
	out *Output
}

func (f fixedOutputLauncher) Launch(ctx context.Context, req LaunchRequest) (*Output, error) {
	return f.out, nil
}

func TestInvokeLauncherWithoutStartedCallback(t *testing.T) {
	b := New(nil, fixedOutputLauncher{&Output{Stdout: []byte(`{"x":1}`)}}, guard.New(1), Options{})

	res, err := b.Invoke(context.Background(), Request{Payload: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.0}, res.Value)
}

func TestInvokeArgumentIsSingleJSONString(t *testing.T) {
	loc, _ := writeWorker(t, `printf '{"argc":%d,"arg":%s}' $# "$1"`)
	b := newTestBridge(loc, 1, Options{})

	res, err := b.Invoke(context.Background(), Request{Payload: map[string]any{"note": "two words; $HOME `x`"}})
	require.NoError(t, err)
	v := res.Value.(map[string]any)
	assert.Equal(t, 1.0, v["argc"])
	assert.Equal(t, map[string]any{"note": "two words; $HOME `x`"}, v["arg"])
}

func ExampleKindOf() {
	err := error(&Error{Kind: KindTimeout})
	fmt.Println(KindOf(err))
	// Output: timeout
}
