package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

var defaultBinaries = []string{"soffice", "libreoffice"}

// ErrConversionFailed wraps the last error seen after every converter binary was tried.
var ErrConversionFailed = errors.New("conversion: all converters failed")

// CommandRunner executes an external program.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Converter renders office documents to PDF with a headless LibreOffice.
type Converter struct {
	binaries []string
	timeout  time.Duration
	run      CommandRunner
	logf     func(format string, args ...any)
}

// ConverterOption customises Converter.
type ConverterOption func(*Converter)

// WithBinaries sets the executables tried in order.
func WithBinaries(binaries ...string) ConverterOption {
	return func(c *Converter) {
		cleaned := make([]string, 0, len(binaries))
		for _, b := range binaries {
			if b = strings.TrimSpace(b); b != "" {
				cleaned = append(cleaned, b)
			}
		}
		if len(cleaned) > 0 {
			c.binaries = cleaned
		}
	}
}

// WithTimeout bounds a single conversion attempt.
func WithTimeout(timeout time.Duration) ConverterOption {
	return func(c *Converter) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRunner replaces process execution (tests).
func WithRunner(run CommandRunner) ConverterOption {
	return func(c *Converter) {
		if run != nil {
			c.run = run
		}
	}
}

// WithLogf routes attempt failures to a printf-style logger.
func WithLogf(logf func(format string, args ...any)) ConverterOption {
	return func(c *Converter) {
		if logf != nil {
			c.logf = logf
		}
	}
}

// NewConverter constructs a Converter using soffice then libreoffice by default.
func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{
		binaries: append([]string(nil), defaultBinaries...),
		timeout:  defaultTimeout,
		run:      execRunner,
		logf:     func(string, ...any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Convert writes <outDir>/<input base name>.pdf and returns its path.
func (c *Converter) Convert(ctx context.Context, inputPath, outDir string) (string, error) {
	if strings.TrimSpace(inputPath) == "" {
		return "", errors.New("conversion: input path is required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("conversion: create output dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	expected := filepath.Join(outDir, base+".pdf")

	var lastErr error
	for _, binary := range c.binaries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.run(attemptCtx, binary, "--headless", "--convert-to", "pdf", "--outdir", outDir, inputPath)
		cancel()
		if err != nil {
			c.logf("conversion: %s failed: %v %s", binary, err, strings.TrimSpace(string(out)))
			lastErr = fmt.Errorf("%s: %w", binary, err)
			continue
		}
		if _, statErr := os.Stat(expected); statErr != nil {
			c.logf("conversion: %s finished without producing %s", binary, expected)
			lastErr = fmt.Errorf("%s: output %s not found", binary, filepath.Base(expected))
			continue
		}
		return expected, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no converter binaries configured")
	}
	return "", fmt.Errorf("%w: %v", ErrConversionFailed, lastErr)
}
