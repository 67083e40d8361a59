package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nixupload/internal/ipc"
	"nixupload/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckSigningKey(t *testing.T) {
	dir := t.TempDir()
	key := filepath.Join(dir, "cache.sec")
	if err := os.WriteFile(key, []byte("secret"), 0o600); err != nil {
		t.Fatal(err)
	}
	if result := CheckSigningKey(key); !result.Passed || strings.Contains(result.Detail, "warning") {
		t.Fatalf("expected clean pass, got %+v", result)
	}

	if err := os.Chmod(key, 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckSigningKey(key); !result.Passed || !strings.Contains(result.Detail, "warning") {
		t.Fatalf("expected pass with permission warning, got %+v", result)
	}

	if result := CheckSigningKey(filepath.Join(dir, "missing.sec")); result.Passed {
		t.Fatal("expected failure for missing key")
	}
	if result := CheckSigningKey(dir); result.Passed {
		t.Fatal("expected failure for directory key path")
	}
}

func TestCheckCopyDestination(t *testing.T) {
	if CheckCopyDestination("  ").Passed {
		t.Fatal("expected failure for empty destination")
	}
	if !CheckCopyDestination("ssh://cache").Passed {
		t.Fatal("expected pass for configured destination")
	}
}

func TestCheckNixBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(0))
	if result := CheckNixBinary(cfg.Nix.Binary); !result.Passed {
		t.Fatalf("expected stubbed nix to pass, got %+v", result)
	}
	if result := CheckNixBinary(filepath.Join(t.TempDir(), "nix")); result.Passed {
		t.Fatalf("expected missing override to fail, got %+v", result)
	}
}

func TestRunAllServe(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(0), testsupport.WithSignKey())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(cfg, RoleServe)
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	want := "Nix,State directory,Copy destination,Socket directory,Signing key"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("checks = %s, want %s", got, want)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures %+v", failed)
	}
}

func TestRunAllUploadSkipsDaemonChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(0))
	cfg.Daemon.Binding = ipc.NetworkBinding("127.0.0.1", 9000)
	cfg.Daemon.CopyDestination = ""

	results := RunAll(cfg, RoleUpload)
	if len(results) != 1 || results[0].Name != "Nix" {
		t.Fatalf("expected only the nix check, got %+v", results)
	}
	if RunAll(nil, RoleServe) != nil {
		t.Fatal("expected nil results for nil config")
	}
}
