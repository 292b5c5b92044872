package refine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// FitExecutable runs one fit of a training set. It works inside workDir and
// writes its log to logPath.
type FitExecutable interface {
	Run(ctx context.Context, trainingSet, workDir, logPath string) error
}

// ExecFit runs an external fit program as
//
//	Command Args... <trainingSet>
//
// with workDir as its working directory and stdout redirected to the log.
// Stderr goes to the log too.
type ExecFit struct {
	Command string
	Args    []string
}

// Run implements FitExecutable.
func (e ExecFit) Run(ctx context.Context, trainingSet, workDir, logPath string) error {
	if e.Command == "" {
		return fmt.Errorf("fit command not configured")
	}
	log, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("create fit log: %w", err)
	}
	defer log.Close()

	args := append(append([]string(nil), e.Args...), trainingSet)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Dir = workDir
	cmd.Stdout = log
	cmd.Stderr = log
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with status %d", e.Command, exitErr.ExitCode())
		}
		return fmt.Errorf("run %s: %w", e.Command, err)
	}
	return nil
}
