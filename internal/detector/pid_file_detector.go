//go:build !windows

package detector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrNoPID reports a PID record that is missing or does not hold a usable PID.
var ErrNoPID = errors.New("no pid record")

// startSkew is the tolerated difference, in seconds, between the recorded and
// the observed process start time.
const startSkew = 1

// PIDAlive returns true if a process with the given pid exists. A probe
// rejected with EPERM still proves the process exists. Zombies are dead.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	return !isZombie(pid)
}

// isZombie reports a process that exited but was not yet reaped (Linux only).
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// PIDFileDetector detects an application through its PID record. The first
// line holds the PID; a later line may hold {"start_unix": N} so a recycled
// PID is not mistaken for the application.
type PIDFileDetector struct {
	PIDFile string
}

// ReadPID returns the recorded PID and start time (0 when not recorded).
// Missing or unparsable records yield an error wrapping ErrNoPID.
func (d PIDFileDetector) ReadPID() (int, int64, error) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, ErrNoPID
		}
		return 0, 0, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid pid in %s", ErrNoPID, d.PIDFile)
	}
	var start int64
	for _, l := range lines[1:] {
		var m pidMeta
		if json.Unmarshal([]byte(strings.TrimSpace(l)), &m) == nil && m.StartUnix > 0 {
			start = m.StartUnix
			break
		}
	}
	return pid, start, nil
}

// LivePID returns the recorded PID if that process is still running.
func (d PIDFileDetector) LivePID() (int, bool) {
	pid, start, err := d.ReadPID()
	if err != nil {
		return 0, false
	}
	if start > 0 {
		cur := ProcStartUnix(pid)
		if cur > 0 && (cur-start > startSkew || start-cur > startSkew) {
			return 0, false // PID reused; not our process
		}
	}
	if !PIDAlive(pid) {
		return 0, false
	}
	return pid, true
}

// Alive implements Detector. Absent or malformed records mean not running.
func (d PIDFileDetector) Alive() (bool, error) {
	if _, _, err := d.ReadPID(); err != nil && !errors.Is(err, ErrNoPID) {
		return false, err
	}
	_, ok := d.LivePID()
	return ok, nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// Remove deletes the PID record. A record that is already gone is not an error.
func (d PIDFileDetector) Remove() error {
	if err := os.Remove(d.PIDFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Write records pid together with its start time, when the platform exposes it.
func (d PIDFileDetector) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(d.PIDFile), 0o750); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(pid))
	b.WriteByte('\n')
	if st := ProcStartUnix(pid); st > 0 {
		meta, _ := json.Marshal(pidMeta{StartUnix: st})
		b.Write(meta)
		b.WriteByte('\n')
	}
	return os.WriteFile(d.PIDFile, []byte(b.String()), 0o600)
}
