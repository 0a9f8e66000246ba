package launcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeSSH writes a shell script standing in for the ssh binary: it records
// its argv and exits 0, so LaunchRemotePrograms can be exercised without a
// real network hop.
func fakeSSH(t *testing.T, recordPath string) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "ssh")
	body := "#!/bin/sh\necho \"$@\" >> " + recordPath + "\nexit 0\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake ssh: %v", err)
	}
	return script
}

func TestLaunchRemoteProgramsInvokesSSHWithHostAndCommand(t *testing.T) {
	record := filepath.Join(t.TempDir(), "calls")
	l := New(Config{SSHBinary: fakeSSH(t, record)})

	err := l.LaunchRemotePrograms(context.Background(), "worker-1.internal", []string{"python", "slave.py", "-b"}, "/srv/veles", "/opt/py")
	if err != nil {
		t.Fatalf("LaunchRemotePrograms: %v", err)
	}

	out, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	got := string(out)
	if !strings.Contains(got, "worker-1.internal") {
		t.Errorf("expected call to reference host, got %q", got)
	}
	if !strings.Contains(got, "slave.py") {
		t.Errorf("expected call to reference command, got %q", got)
	}
}

func TestLaunchRemoteProgramsRejectsEmptyCommand(t *testing.T) {
	l := New(Config{SSHBinary: fakeSSH(t, filepath.Join(t.TempDir(), "calls"))})
	if err := l.LaunchRemotePrograms(context.Background(), "host", nil, "", ""); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestLogIDIsStableAcrossCalls(t *testing.T) {
	l := New(Config{})
	first := l.LogID()
	second := l.LogID()
	if first != second {
		t.Errorf("LogID changed between calls: %q != %q", first, second)
	}
	if first == "" {
		t.Error("expected non-empty LogID")
	}
}

func TestRemoteCommandLineQuotesAndBackgrounds(t *testing.T) {
	line := remoteCommandLine([]string{"python", "slave.py"}, "/srv/it's a path", "/opt/py")
	if !strings.Contains(line, "nohup") || !strings.Contains(line, "&") {
		t.Errorf("expected backgrounded nohup invocation, got %q", line)
	}
	if !strings.Contains(line, `'\''`) {
		t.Errorf("expected embedded quote to be escaped, got %q", line)
	}
}
