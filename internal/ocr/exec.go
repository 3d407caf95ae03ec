package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/signscan/internal/preprocess"
)

// ExecEngine drives the tesseract command-line tool. The bitmap is piped in
// as PNG and the text is read from stdout.
type ExecEngine struct {
	opts   Options
	binary string
}

// NewExecEngine returns an unconfigured command-line engine.
func NewExecEngine() *ExecEngine { return &ExecEngine{} }

// Configure resolves the tesseract binary and stores the options.
func (e *ExecEngine) Configure(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	bin := opts.BinaryPath
	if bin == "" {
		bin = "tesseract"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("tesseract not found: %w", err)
	}
	e.opts = opts
	e.binary = path
	return nil
}

// Recognize runs tesseract once over bmp.
func (e *ExecEngine) Recognize(ctx context.Context, bmp *preprocess.Bitmap) (string, error) {
	if e.binary == "" {
		return "", errors.New("engine not configured")
	}
	data, err := bmp.PNG()
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, e.binary, Args(e.opts)...) //nolint:gosec // binary resolved via LookPath
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("tesseract: %w: %s", err, msg)
		}
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return stdout.String(), nil
}

// Close is a no-op; each recognition is its own process.
func (e *ExecEngine) Close() error { return nil }

// Args builds the tesseract command line for reading stdin and writing stdout.
func Args(opts Options) []string {
	args := []string{"stdin", "stdout", "-l", opts.Language, "--psm", strconv.Itoa(int(opts.PageSegMode))}
	if opts.DataPath != "" {
		args = append(args, "--tessdata-dir", opts.DataPath)
	}
	keys := make([]string, 0, len(opts.Variables))
	for k := range opts.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-c", k+"="+opts.Variables[k])
	}
	return args
}
