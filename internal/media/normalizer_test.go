package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeScript creates an executable shell script acting as the transcoder.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell transcoder stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

const okScript = `
for a; do out="$a"; done
echo "$@" > "$ARGS_FILE"
printf 'frame=1\nout_time_us=250000\nprogress=continue\nout_time_us=500000\nprogress=end\n'
printf 'RIFFcanonical' > "$out"
`

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read scratch parent: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected scratch files to be removed, found %d entries", len(entries))
	}
}

func TestArgs(t *testing.T) {
	got := strings.Join(Args("in.mp3", "out.wav"), " ")
	for _, want := range []string{"-i in.mp3", "-acodec pcm_s16le", "-ac 1", "-ar 16000"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected args to contain %q, got %q", want, got)
		}
	}
	if !strings.HasSuffix(got, "out.wav") {
		t.Errorf("expected output path last, got %q", got)
	}
}

func TestNormalize_Success(t *testing.T) {
	scratch := t.TempDir()
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("ARGS_FILE", argsFile)

	var mu sync.Mutex
	var reports []Progress
	n := NewNormalizer(writeScript(t, okScript),
		WithTempDir(scratch),
		WithProgress(func(p Progress) {
			mu.Lock()
			reports = append(reports, p)
			mu.Unlock()
		}),
	)

	out, err := n.Normalize(context.Background(), []byte("ID3 mp3 bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, []byte("RIFFcanonical")) {
		t.Errorf("expected transcoder output, got %q", out)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if !strings.Contains(string(args), "-ac 1 -ar 16000") {
		t.Errorf("expected mono 16kHz arguments, got %q", args)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) != 3 {
		t.Fatalf("expected 3 progress reports, got %d", len(reports))
	}
	if reports[1].OutTime != 500*time.Millisecond {
		t.Errorf("expected 500ms out time, got %v", reports[1].OutTime)
	}
	if !reports[2].Done {
		t.Error("expected final report to be done")
	}

	assertEmptyDir(t, scratch)
}

func TestNormalize_FailureCleansUp(t *testing.T) {
	scratch := t.TempDir()
	n := NewNormalizer(writeScript(t, `echo "Invalid data found when processing input" >&2; exit 1`),
		WithTempDir(scratch))

	out, err := n.Normalize(context.Background(), []byte("garbage"))
	if !errors.Is(err, ErrTranscode) {
		t.Fatalf("expected ErrTranscode, got %v", err)
	}
	if out != nil {
		t.Error("expected no partial output on failure")
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Errorf("expected stderr in error, got %v", err)
	}
	assertEmptyDir(t, scratch)
}

func TestNormalize_EmptyInput(t *testing.T) {
	n := NewNormalizer("ffmpeg")
	if _, err := n.Normalize(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestNormalize_MissingBinary(t *testing.T) {
	n := NewNormalizer(filepath.Join(t.TempDir(), "no-such-transcoder"))

	_, err := n.Normalize(context.Background(), []byte("x"))
	if !errors.Is(err, ErrTranscode) {
		t.Fatalf("expected ErrTranscode, got %v", err)
	}
	if err2 := n.Load(); err2 == nil {
		t.Error("expected Load to keep failing while the binary is missing")
	}
}

func TestNormalize_BinaryInstalledLater(t *testing.T) {
	script := writeScript(t, okScript)
	t.Setenv("ARGS_FILE", filepath.Join(t.TempDir(), "args"))
	path := filepath.Join(t.TempDir(), "ffmpeg")
	n := NewNormalizer(path, WithTempDir(t.TempDir()))

	if _, err := n.Normalize(context.Background(), []byte("ID3")); !errors.Is(err, ErrTranscode) {
		t.Fatalf("expected ErrTranscode before install, got %v", err)
	}

	body, err := os.ReadFile(script)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if err := os.WriteFile(path, body, 0o755); err != nil {
		t.Fatalf("install transcoder: %v", err)
	}

	wav, err := n.Normalize(context.Background(), []byte("ID3"))
	if err != nil {
		t.Fatalf("expected success after install, got %v", err)
	}
	if string(wav) != "RIFFcanonical" {
		t.Errorf("expected transcoder output, got %q", wav)
	}
}

func TestNormalize_ConcurrentCallsDoNotCollide(t *testing.T) {
	scratch := t.TempDir()
	t.Setenv("ARGS_FILE", filepath.Join(t.TempDir(), "args"))
	n := NewNormalizer(writeScript(t, `
for a; do out="$a"; done
for a; do case "$a" in *.mp3) src="$a";; esac; done
cp "$src" "$out"
`), WithTempDir(scratch))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(strings.Repeat(string(rune('a'+i)), 16))
			out, err := n.Normalize(context.Background(), payload)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(out, payload) {
				errs <- errors.New("output belongs to another call")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assertEmptyDir(t, scratch)
}
