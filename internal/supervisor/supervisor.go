// Package supervisor spawns the engine's batch-mode subprocess and enforces
// timeout discipline with signal escalation (spec §4.5). It is grounded on
// the teacher's cli/internal/process.Child: a cancellation channel instead
// of a polling loop, and an exit-code extraction path that preserves the
// 128+signal shell convention.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// KillGracePeriod is how long the supervisor waits after SIGTERM before
// escalating to SIGKILL (spec §4.5).
const KillGracePeriod = 5 * time.Second

// LogPollInterval is the default streaming-hook polling interval (spec
// §4.5 "Verbosity modes").
const LogPollInterval = 100 * time.Millisecond

// ArgEnvPrefix namespaces per-argument environment variables passed to the
// engine child (spec §6: "one per task argument (PREFIX_ARG_NAME=value,
// name uppercased)").
const ArgEnvPrefix = "STACY_ARG_"

// SearchPathEnvVar is the environment variable the engine consults for its
// package search path.
const SearchPathEnvVar = "STATA_ADO_PATH"

// Input configures one supervised run.
type Input struct {
	EngineBinary string
	ScriptPath   string
	// Args become ArgEnvPrefix+NAME environment variables, uppercased.
	Args map[string]string
	// SearchPath, if non-empty, is exported as SearchPathEnvVar.
	SearchPath string
	WorkDir    string
	Timeout    time.Duration
	Logger     hclog.Logger
	// OnLogLine, if set, is called for each line appended to the log file
	// while the child runs (spec §4.5 streaming hook).
	OnLogLine func(line string)
}

// Result is the outcome of one supervised run (spec §4.5).
type Result struct {
	ExitCode  int
	LogPath   string
	Duration  time.Duration
	Completed bool
}

// Run spawns the engine, waits for it to exit (or the timeout to elapse),
// and returns the result. ctx cancellation is honored in addition to the
// configured timeout.
func Run(ctx context.Context, in Input) (*Result, error) {
	if in.EngineBinary == "" {
		return nil, fmt.Errorf("supervisor: missing engine binary")
	}
	logger := in.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("supervisor")

	stem := strings.TrimSuffix(filepath.Base(in.ScriptPath), filepath.Ext(in.ScriptPath))
	logPath := filepath.Join(in.WorkDir, stem+".log")

	cmd := exec.CommandContext(ctx, in.EngineBinary, batchModeArgs(in.ScriptPath)...)
	cmd.Dir = in.WorkDir
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = buildEnv(in)
	setpgid(cmd)

	var stopOnce sync.Once
	stopStream := make(chan struct{})
	var streamWg sync.WaitGroup
	if in.OnLogLine != nil {
		streamWg.Add(1)
		go streamLog(logPath, in.OnLogLine, stopStream, &streamWg)
	}
	defer func() {
		stopOnce.Do(func() { close(stopStream) })
		streamWg.Wait()
	}()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine: %w", err)
	}

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if in.Timeout > 0 {
		timer := time.NewTimer(in.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var waitErr error
	completed := true
	select {
	case waitErr = <-exitCh:
		// Normal exit: the watchdog path below is never entered, which is
		// what guarantees we never signal a PID the kernel has since reused
		// for an unrelated process.
	case <-timeoutCh:
		logger.Warn("engine timed out, escalating signals", "timeout", in.Timeout)
		completed = false
		waitErr = escalateAndWait(cmd, exitCh, logger)
	case <-ctx.Done():
		completed = false
		waitErr = escalateAndWait(cmd, exitCh, logger)
	}

	duration := time.Since(start)
	exitCode := extractExitCode(waitErr)

	return &Result{
		ExitCode:  exitCode,
		LogPath:   logPath,
		Duration:  duration,
		Completed: completed,
	}, nil
}

// escalateAndWait implements spec §4.5's SIGTERM→wait 5s→SIGKILL sequence.
// It is only reached on the timeout/cancellation path; a normally exiting
// child never enters it, which is what prevents a subsequent unrelated
// process from ever being killed under the same reused PID.
func escalateAndWait(cmd *exec.Cmd, exitCh chan error, logger hclog.Logger) error {
	if cmd.Process == nil {
		return <-exitCh
	}
	pid := cmd.Process.Pid
	signalProcessGroup(pid, syscall.SIGTERM)

	select {
	case err := <-exitCh:
		return err
	case <-time.After(KillGracePeriod):
		logger.Warn("engine did not exit after SIGTERM, sending SIGKILL", "pid", pid)
		signalProcessGroup(pid, syscall.SIGKILL)
		return <-exitCh
	}
}

// extractExitCode implements spec §4.5: "on Unix, if the child was killed
// by signal S, return 128+S; this preserves the shell's usual convention."
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 1
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode()
	}
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return status.ExitStatus()
}

func batchModeArgs(scriptPath string) []string {
	// The engine's batch-mode invocation convention: run quietly, execute
	// scriptPath, and exit without dropping into an interactive prompt.
	return []string{"-b", "-q", "do", scriptPath}
}

func buildEnv(in Input) []string {
	env := os.Environ()
	names := make([]string, 0, len(in.Args))
	for name := range in.Args {
		names = append(names, name)
	}
	for _, name := range names {
		key := ArgEnvPrefix + strings.ToUpper(name)
		env = append(env, fmt.Sprintf("%s=%s", key, in.Args[name]))
	}
	if in.SearchPath != "" {
		env = append(env, fmt.Sprintf("%s=%s", SearchPathEnvVar, in.SearchPath))
	}
	return env
}

// streamLog tails logPath at LogPollInterval, invoking onLine for each new
// line, until stop is closed (spec §4.5 "streaming hook").
func streamLog(logPath string, onLine func(line string), stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(LogPollInterval)
	defer ticker.Stop()

	var offset int64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f, err := os.Open(logPath)
			if err != nil {
				continue
			}
			if _, err := f.Seek(offset, 0); err != nil {
				f.Close()
				continue
			}
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				onLine(scanner.Text())
				offset += int64(len(scanner.Bytes())) + 1
			}
			f.Close()
		}
	}
}
