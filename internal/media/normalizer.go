// Package media converts intercepted challenge audio into the canonical
// mono 16 kHz PCM16 WAV stream the recognizers expect.
package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recaptcha-audio-solver/internal/observability/logging"
	"recaptcha-audio-solver/internal/observability/metrics"
)

const (
	// SampleRate of the canonical output.
	SampleRate = 16000
	// Channels of the canonical output.
	Channels = 1
	// Codec of the canonical output.
	Codec = "pcm_s16le"
)

var (
	// ErrTranscode wraps every failure of the transcoder process.
	ErrTranscode = errors.New("transcode failed")
	// ErrEmptyInput is returned for a zero-length payload.
	ErrEmptyInput = errors.New("empty audio payload")
)

// Progress is one progress report of a running transcode.
type Progress struct {
	OutTime time.Duration
	Done    bool
}

// ProgressFunc receives progress reports.
type ProgressFunc func(Progress)

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithTempDir sets the parent directory for per-call scratch directories.
func WithTempDir(dir string) Option {
	return func(n *Normalizer) { n.tmpDir = dir }
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(n *Normalizer) { n.progress = fn }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Normalizer) { n.metrics = m }
}

// Normalizer transcodes compressed audio with an external ffmpeg-compatible
// binary. The binary is resolved on first use and reused once found; a failed
// lookup is retried on the next call.
// Each call works in its own scratch directory, removed on every exit path.
type Normalizer struct {
	binary   string
	tmpDir   string
	progress ProgressFunc
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	loadMu sync.Mutex
	path   string
}

// NewNormalizer creates a normalizer using the given transcoder binary name
// or path. An empty name means "ffmpeg".
func NewNormalizer(binary string, opts ...Option) *Normalizer {
	if binary == "" {
		binary = "ffmpeg"
	}
	n := &Normalizer{
		binary:  binary,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("normalizer"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Load resolves the transcoder binary. Only a successful lookup is cached,
// so installing the binary later does not need a restart.
func (n *Normalizer) Load() error {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	if n.path != "" {
		return nil
	}
	path, err := exec.LookPath(n.binary)
	if err != nil {
		return fmt.Errorf("%w: locate %s: %v", ErrTranscode, n.binary, err)
	}
	n.path = path
	n.logger.Info().Str("binary", path).Msg("Transcoder loaded")
	return nil
}

// Args returns the transcoder argument list for one conversion.
func Args(src, out string) []string {
	return []string{
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", src,
		"-acodec", Codec,
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-progress", "pipe:1",
		"-nostats",
		out,
	}
}

// Normalize converts a compressed audio buffer to canonical WAV bytes.
// Partial output is never returned on failure.
func (n *Normalizer) Normalize(ctx context.Context, compressed []byte) ([]byte, error) {
	start := time.Now()
	wav, err := n.normalize(ctx, compressed)
	n.metrics.RecordTranscode(err, time.Since(start).Seconds())
	if err != nil {
		n.logger.Error().Err(err).Int("inputBytes", len(compressed)).Msg("Transcode failed")
		return nil, err
	}
	n.logger.Debug().
		Int("inputBytes", len(compressed)).
		Int("outputBytes", len(wav)).
		Dur("took", time.Since(start)).
		Msg("Audio normalized")
	return wav, nil
}

func (n *Normalizer) normalize(ctx context.Context, compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, ErrEmptyInput
	}
	if err := n.Load(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir, err := os.MkdirTemp(n.tmpDir, "transcode-"+id+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %v", ErrTranscode, err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, id+".mp3")
	out := filepath.Join(dir, id+".wav")

	if err := os.WriteFile(src, compressed, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write source: %v", ErrTranscode, err)
	}

	cmd := exec.CommandContext(ctx, n.path, Args(src, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrTranscode, err)
	}
	n.readProgress(stdout)
	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %v: %s", ErrTranscode, err, msg)
		}
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", ErrTranscode, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrTranscode)
	}
	return data, nil
}

// readProgress consumes "-progress pipe:1" key=value lines until EOF.
func (n *Normalizer) readProgress(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		var p Progress
		switch key {
		case "out_time_us":
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			p.OutTime = time.Duration(us) * time.Microsecond
		case "progress":
			p.Done = value == "end"
			if !p.Done {
				continue
			}
		default:
			continue
		}
		n.logger.Debug().Dur("outTime", p.OutTime).Bool("done", p.Done).Msg("Transcode progress")
		if n.progress != nil {
			n.progress(p)
		}
	}
	// drain so the process never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}
