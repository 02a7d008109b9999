package detector

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSleep starts a short-lived sleep process and reaps it on cleanup.
func startSleep(t *testing.T, dur string) int {
	t.Helper()
	cmd := exec.Command("sleep", dur)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	// allow the process to appear in the proc table
	time.Sleep(20 * time.Millisecond)
	return cmd.Process.Pid
}

func writeRecord(t *testing.T, lines ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "demo.pid")
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")), 0o600))
	return p
}

func TestPIDFileDetector_MissingRecord(t *testing.T) {
	d := PIDFileDetector{PIDFile: filepath.Join(t.TempDir(), "none.pid")}
	alive, err := d.Alive()
	require.NoError(t, err)
	assert.False(t, alive)

	_, _, err = d.ReadPID()
	assert.ErrorIs(t, err, ErrNoPID)
	assert.NoError(t, d.Remove())
}

func TestPIDFileDetector_GarbageIsNotRunning(t *testing.T) {
	for _, content := range []string{"", "not-a-number", "-5", "0", "\n\n{}"} {
		d := PIDFileDetector{PIDFile: writeRecord(t, content)}
		alive, err := d.Alive()
		require.NoError(t, err, content)
		assert.False(t, alive, content)
	}
}

func TestPIDFileDetector_PlainPID(t *testing.T) {
	pid := startSleep(t, "5")
	d := PIDFileDetector{PIDFile: writeRecord(t, strconv.Itoa(pid), "")}
	got, ok := d.LivePID()
	require.True(t, ok)
	assert.Equal(t, pid, got)
	assert.Equal(t, "pidfile:"+d.PIDFile, d.Describe())
}

func TestPIDFileDetector_DeadPID(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	d := PIDFileDetector{PIDFile: writeRecord(t, strconv.Itoa(cmd.Process.Pid))}
	alive, err := d.Alive()
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestPIDFileDetector_StartTimeMeta(t *testing.T) {
	pid := startSleep(t, "5")
	start := ProcStartUnix(pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}

	match, _ := json.Marshal(pidMeta{StartUnix: start})
	d := PIDFileDetector{PIDFile: writeRecord(t, strconv.Itoa(pid), string(match))}
	alive, err := d.Alive()
	require.NoError(t, err)
	assert.True(t, alive, "matching start time")

	reused, _ := json.Marshal(pidMeta{StartUnix: start + 12345})
	d = PIDFileDetector{PIDFile: writeRecord(t, strconv.Itoa(pid), string(reused))}
	alive, err = d.Alive()
	require.NoError(t, err)
	assert.False(t, alive, "mismatched start time means the PID was reused")
}

func TestPIDFileDetector_WriteAndRemove(t *testing.T) {
	pid := startSleep(t, "5")
	d := PIDFileDetector{PIDFile: filepath.Join(t.TempDir(), "run", "w.pid")}
	require.NoError(t, d.Write(pid))

	got, start, err := d.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, pid, got)
	assert.Equal(t, ProcStartUnix(pid), start)

	alive, err := d.Alive()
	require.NoError(t, err)
	assert.True(t, alive)

	require.NoError(t, d.Remove())
	_, err = os.Stat(d.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDAlive(t *testing.T) {
	assert.False(t, PIDAlive(0))
	assert.False(t, PIDAlive(-1))
	assert.True(t, PIDAlive(os.Getpid()))
	// pid 1 belongs to another user when not running as root: EPERM still means alive
	assert.True(t, PIDAlive(1))
}

// Fuzz the record parser with arbitrary content; it must never panic.
func FuzzPIDFileDetector_Alive(f *testing.F) {
	f.Add("123\n")
	f.Add("not-a-number\n")
	f.Add("\n\n{}\n{\"start_unix\":1}\n")
	f.Fuzz(func(t *testing.T, content string) {
		pf := filepath.Join(t.TempDir(), "fuzz.pid")
		_ = os.WriteFile(pf, []byte(content), 0o600)
		_, _ = (PIDFileDetector{PIDFile: pf}).Alive()
	})
}

func TestPIDAlive_ZombieIsDead(t *testing.T) {
	if _, err := os.Stat("/proc/self/status"); err != nil {
		t.Skip("procfs unavailable")
	}
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	defer func() { _ = cmd.Wait() }()
	pid := cmd.Process.Pid
	// not reaped yet: the child stays a zombie until Wait
	require.Eventually(t, func() bool { return !PIDAlive(pid) }, 2*time.Second, 20*time.Millisecond)
}
