// Package launcher provides the concrete workflow.Launcher used to respawn
// disconnected workers over SSH. The respawn policy itself (when to retry,
// backoff, command reconstruction) lives in pkg/dispatcher; this package only
// knows how to actually run a command on a remote host.
package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veles-go/master/pkg/log"
)

// Config configures the SSH launcher.
type Config struct {
	// SSHBinary is the ssh executable to invoke. Defaults to "ssh".
	SSHBinary string
	// User, if set, is passed as -l to ssh.
	User string
	// IdentityFile, if set, is passed as -i to ssh.
	IdentityFile string
	// ConnectTimeout bounds the SSH connection attempt itself, separate
	// from the ctx deadline governing the whole remote command.
	ConnectTimeout time.Duration
}

// Launcher shells out to ssh to start a worker process on a remote host. It
// satisfies workflow.Launcher.
type Launcher struct {
	cfg    Config
	logID  string
	logger zerolog.Logger
}

// New creates a Launcher. logID is handed back to workers in handshake
// responses (§6.2) so the worker's own log lines can be correlated to a
// single master run.
func New(cfg Config) *Launcher {
	if cfg.SSHBinary == "" {
		cfg.SSHBinary = "ssh"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Launcher{
		cfg:    cfg,
		logID:  uuid.New().String(),
		logger: log.WithComponent("launcher"),
	}
}

// LogID implements workflow.Launcher.
func (l *Launcher) LogID() string { return l.logID }

// LaunchRemotePrograms implements workflow.Launcher: it runs command on host
// over SSH, in cwd, with pythonPath exported into PYTHONPATH ahead of it
// (§4.5 "Respawn"). It returns once the remote process has been started in
// the background (ssh exits after forking it there), not once it finishes.
func (l *Launcher) LaunchRemotePrograms(ctx context.Context, host string, command []string, cwd, pythonPath string) error {
	if len(command) == 0 {
		return fmt.Errorf("launcher: empty command")
	}

	remote := remoteCommandLine(command, cwd, pythonPath)

	args := []string{"-o", fmt.Sprintf("ConnectTimeout=%d", int(l.cfg.ConnectTimeout.Seconds()))}
	if l.cfg.IdentityFile != "" {
		args = append(args, "-i", l.cfg.IdentityFile)
	}
	if l.cfg.User != "" {
		args = append(args, "-l", l.cfg.User)
	}
	args = append(args, host, remote)

	cmd := exec.CommandContext(ctx, l.cfg.SSHBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	l.logger.Info().Str("host", host).Strs("command", command).Msg("launching remote program")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("launcher: ssh %s: %w: %s", host, err, stderr.String())
	}
	return nil
}

// Stop implements workflow.Launcher. There is no persistent connection or
// background goroutine to tear down; respawn attempts are one-shot ssh
// invocations already bounded by ctx.
func (l *Launcher) Stop() {}

// remoteCommandLine assembles the shell command run on the remote end: cd
// into cwd if given, export PYTHONPATH if given, then the worker command
// backgrounded with nohup so it survives the SSH session closing.
func remoteCommandLine(command []string, cwd, pythonPath string) string {
	var b bytes.Buffer
	if cwd != "" {
		fmt.Fprintf(&b, "cd %s && ", shellQuote(cwd))
	}
	if pythonPath != "" {
		fmt.Fprintf(&b, "PYTHONPATH=%s ", shellQuote(pythonPath))
	}
	b.WriteString("nohup")
	for _, arg := range command {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	b.WriteString(" >/dev/null 2>&1 &")
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
