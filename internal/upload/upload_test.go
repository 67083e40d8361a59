package upload_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nixupload/internal/logging"
	"nixupload/internal/nix"
	"nixupload/internal/testsupport"
	"nixupload/internal/upload"
)

type fakeSigner struct {
	calls [][]string
	err   error
	// during runs inside Sign before the error is returned.
	during func()
}

func (s *fakeSigner) Sign(_ context.Context, keyPath string, paths []string) error {
	s.calls = append(s.calls, append([]string{keyPath}, paths...))
	if s.during != nil {
		s.during()
	}
	return s.err
}

// blockingWriter never completes a write until release is closed.
type blockingWriter struct {
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

type errWriter struct{ err error }

func (w errWriter) Write([]byte) (int, error) { return 0, w.err }

func TestUploadWritesOnePathPerLine(t *testing.T) {
	paths := testsupport.StorePaths(t, t.TempDir(), 3)
	var out bytes.Buffer

	result, err := upload.Upload(context.Background(), &out, paths, upload.Options{Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if want := strings.Join(paths, "\n") + "\n"; out.String() != want {
		t.Fatalf("wrote %q, want %q", out.String(), want)
	}
	if len(result.Submitted) != 3 || result.Signed {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestUploadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "result"), 1)
	t.Chdir(dir)

	var out bytes.Buffer
	if _, err := upload.Upload(context.Background(), &out, []string{"result"}, upload.Options{}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := filepath.Join(dir, "result") + "\n"
	if resolved, err := filepath.EvalSymlinks(dir); err == nil && out.String() != want {
		want = filepath.Join(resolved, "result") + "\n"
	}
	if out.String() != want {
		t.Fatalf("wrote %q, want %q", out.String(), want)
	}
}

func TestUploadMissingPath(t *testing.T) {
	dir := t.TempDir()
	paths := testsupport.StorePaths(t, dir, 1)
	missing := filepath.Join(dir, "gone")

	var out bytes.Buffer
	_, err := upload.Upload(context.Background(), &out, []string{paths[0], missing}, upload.Options{})
	if !errors.Is(err, upload.ErrMissingPath) {
		t.Fatalf("expected ErrMissingPath, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing written, got %q", out.String())
	}

	out.Reset()
	result, err := upload.Upload(context.Background(), &out, []string{paths[0], missing}, upload.Options{SkipMissing: true})
	if err != nil {
		t.Fatalf("Upload with SkipMissing: %v", err)
	}
	if out.String() != paths[0]+"\n" || len(result.Skipped) != 1 || result.Skipped[0] != missing {
		t.Fatalf("unexpected output %q / result %+v", out.String(), result)
	}

	if _, err := upload.Upload(context.Background(), &out, []string{missing}, upload.Options{SkipMissing: true}); !errors.Is(err, upload.ErrNoPaths) {
		t.Fatalf("expected ErrNoPaths when everything is skipped, got %v", err)
	}
}

func TestUploadRejectsUnrepresentablePaths(t *testing.T) {
	for _, path := range []string{"/nix/store/\xff\xfe-bad", "/nix/store/a\nb", ""} {
		var out bytes.Buffer
		if _, err := upload.Upload(context.Background(), &out, []string{path}, upload.Options{}); !errors.Is(err, upload.ErrUnrepresentablePath) {
			t.Fatalf("Upload(%q): expected ErrUnrepresentablePath, got %v", path, err)
		}
	}
}

func TestUploadMissingKeyFailsBeforeWriting(t *testing.T) {
	paths := testsupport.StorePaths(t, t.TempDir(), 2)
	signer := &fakeSigner{}
	var out bytes.Buffer

	_, err := upload.Upload(context.Background(), &out, paths, upload.Options{
		KeyPath: filepath.Join(t.TempDir(), "missing.sec"),
		Signer:  signer,
	})
	if !errors.Is(err, upload.ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no bytes written, got %q", out.String())
	}
	if len(signer.calls) != 0 {
		t.Fatalf("signer must not run without a key, got %v", signer.calls)
	}
}

func TestUploadSignsBeforeWriting(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSignKey())
	paths := testsupport.StorePaths(t, t.TempDir(), 2)
	signer := &fakeSigner{}
	var out bytes.Buffer

	result, err := upload.Upload(context.Background(), &out, paths, upload.Options{KeyPath: cfg.Upload.SignKey, Signer: signer})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !result.Signed || len(signer.calls) != 1 {
		t.Fatalf("expected one signing call, got %+v / %v", result, signer.calls)
	}
	if call := signer.calls[0]; call[0] != cfg.Upload.SignKey || len(call) != 3 {
		t.Fatalf("unexpected signing call %v", call)
	}
	if out.String() != strings.Join(paths, "\n")+"\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestUploadSigningFailureAbortsBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSignKey())
	paths := testsupport.StorePaths(t, t.TempDir(), 2)
	signErr := &nix.StatusError{Status: 1}
	signer := &fakeSigner{err: errors.Join(nix.ErrCouldNotSign, signErr)}
	var out bytes.Buffer

	_, err := upload.Upload(context.Background(), &out, paths, upload.Options{KeyPath: cfg.Upload.SignKey, Signer: signer})
	if !errors.Is(err, nix.ErrCouldNotSign) {
		t.Fatalf("expected ErrCouldNotSign, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing written after signing failure, got %q", out.String())
	}
}

func TestUploadCancelledDuringSigning(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSignKey())
	paths := testsupport.StorePaths(t, t.TempDir(), 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signer := &fakeSigner{
		err:    errors.Join(nix.ErrCouldNotSign, &nix.StatusError{Status: -1}),
		during: cancel,
	}
	var out bytes.Buffer

	_, err := upload.Upload(ctx, &out, paths, upload.Options{KeyPath: cfg.Upload.SignKey, Signer: signer})
	if !errors.Is(err, upload.ErrCancelled) {
		t.Fatalf("expected ErrCancelled when signing is interrupted, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing written, got %q", out.String())
	}
}

func TestUploadCancelledDuringFlush(t *testing.T) {
	paths := testsupport.StorePaths(t, t.TempDir(), 1)
	writer := &blockingWriter{release: make(chan struct{})}
	defer close(writer.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := upload.Upload(ctx, writer, paths, upload.Options{})
	if !errors.Is(err, upload.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestUploadAlreadyCancelled(t *testing.T) {
	paths := testsupport.StorePaths(t, t.TempDir(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	if _, err := upload.Upload(ctx, &out, paths, upload.Options{}); !errors.Is(err, upload.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing written, got %q", out.String())
	}
}

func TestUploadWriteFailureIsDistinctFromCancel(t *testing.T) {
	paths := testsupport.StorePaths(t, t.TempDir(), 1)
	_, err := upload.Upload(context.Background(), errWriter{err: os.ErrClosed}, paths, upload.Options{})
	if !errors.Is(err, upload.ErrWrite) || errors.Is(err, upload.ErrCancelled) {
		t.Fatalf("expected ErrWrite only, got %v", err)
	}
	if !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected underlying error preserved, got %v", err)
	}
}
