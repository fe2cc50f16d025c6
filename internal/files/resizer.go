package files

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Resizer shrinks image bytes to fit within the given bounds.
type Resizer interface {
	Resize(ctx context.Context, data []byte, contentType string, maxWidth, maxHeight int) ([]byte, error)
}

// CLIResizer shells out to an ImageMagick-compatible binary, streaming the
// image through stdin/stdout. The ">" geometry flag shrinks only, so images
// already within bounds pass through untouched.
type CLIResizer struct {
	command string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCLIResizer builds a resizer around the configured command.
func NewCLIResizer(command string, timeout time.Duration, logger *zap.Logger) (*CLIResizer, error) {
	if command == "" {
		return nil, fmt.Errorf("resize command is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLIResizer{command: command, timeout: timeout, logger: logger}, nil
}

// Resize runs the external command with a context deadline.
func (r *CLIResizer) Resize(ctx context.Context, data []byte, _ string, maxWidth, maxHeight int) ([]byte, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, fmt.Errorf("resize bounds must be positive, got %dx%d", maxWidth, maxHeight)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	geometry := fmt.Sprintf("%dx%d>", maxWidth, maxHeight)
	cmd := exec.CommandContext(ctx, r.command, "-", "-resize", geometry, "-")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("resize command %q: %w (stderr: %s)", r.command, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("resize command %q produced no output", r.command)
	}
	r.logger.Debug("image resized",
		zap.String("geometry", geometry),
		zap.Int("in_bytes", len(data)),
		zap.Int("out_bytes", stdout.Len()),
		zap.Duration("dur", time.Since(start)),
	)
	return stdout.Bytes(), nil
}
