package detector

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

// startSleep starts a short-lived sleep process and returns the started *exec.Cmd.
func startSleep(t *testing.T, dur string) *exec.Cmd {
	t.Helper()
	// #nosec G204
	cmd := exec.Command("/bin/sh", "-c", "sleep "+dur)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	return cmd
}

func TestBuildShellAwareCommand(t *testing.T) {
	requireUnix(t)
	// empty -> /bin/true
	c := buildShellAwareCommand("")
	if !strings.Contains(c.String(), "/bin/true") {
		t.Fatalf("expected /bin/true, got %q", c.String())
	}
	// simple no metachar -> direct exec
	c = buildShellAwareCommand("echo hello")
	if len(c.Args) == 0 || c.Args[0] != "echo" {
		t.Fatalf("expected direct exec echo, got %#v", c.Args)
	}
	// with shell meta -> sh -c
	c = buildShellAwareCommand("echo hi | cat")
	if len(c.Args) < 2 || c.Args[0] != "/bin/sh" || c.Args[1] != "-c" {
		t.Fatalf("expected /bin/sh -c, got %#v", c.Args)
	}
}

func TestCommandDetectorAliveAndDescribe(t *testing.T) {
	requireUnix(t)
	d := CommandDetector{Command: "true"}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("true should be alive, got alive=%v err=%v", alive, err)
	}
	if d.Describe() != "cmd:true" {
		t.Fatalf("Describe mismatch: %q", d.Describe())
	}

	d = CommandDetector{Command: "sh -c 'exit 3'"}
	alive, err = d.Alive()
	if err != nil || alive {
		t.Fatalf("non-zero exit expected false,nil, got alive=%v err=%v", alive, err)
	}

	d = CommandDetector{Command: "__definitely_not_exists__"}
	alive, err = d.Alive()
	if err == nil || alive {
		t.Fatalf("missing binary expected error, got alive=%v err=%v", alive, err)
	}
}

func TestProcessDetector(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t, "2")
	defer func() { _ = cmd.Process.Kill() }()

	d := ProcessDetector{PID: cmd.Process.Pid}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("running sleep should be alive, got alive=%v err=%v", alive, err)
	}

	if alive, _ := (ProcessDetector{PID: 0}).Alive(); alive {
		t.Fatal("pid 0 must not be alive")
	}

	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		alive, _ = d.Alive()
		if !alive {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if alive {
		t.Fatal("killed process still reported alive")
	}
}

func TestPIDFileDetector(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "app.pid")

	d := PIDFileDetector{PIDFile: pidfile}
	// Missing file -> not alive, no error
	alive, err := d.Alive()
	if err != nil || alive {
		t.Fatalf("missing pidfile expected false,nil got alive=%v err=%v", alive, err)
	}

	cmd := startSleep(t, "2")
	defer func() { _ = cmd.Process.Kill() }()
	if err := os.WriteFile(pidfile, []byte(strconv.Itoa(cmd.Process.Pid)+"\n"), 0o600); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	alive, err = d.Alive()
	if err != nil || !alive {
		t.Fatalf("live pid expected true got alive=%v err=%v", alive, err)
	}

	// Garbage content -> error
	if err := os.WriteFile(pidfile, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	if _, err := d.Alive(); err == nil {
		t.Fatal("expected error for invalid pid content")
	}
}
