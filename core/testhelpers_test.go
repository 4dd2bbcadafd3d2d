package core_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// compileWAT compiles a WAT fixture to a WASM binary via the wat2wasm CLI,
// the same offline-compilation boundary the teacher's CompileWASM draws
// (core/contracts.go). Tests skip rather than fail when the tool isn't on
// PATH, matching TestHeavyVMInvokeWithReceipt's own t.Skip(exec.ErrNotFound).
func compileWAT(t *testing.T, wat string) []byte {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "module.wat")
	if err := os.WriteFile(src, []byte(wat), 0o644); err != nil {
		t.Fatalf("write wat fixture: %v", err)
	}
	out := filepath.Join(dir, "module.wasm")
	cmd := exec.Command("wat2wasm", "-o", out, src)
	if err := cmd.Run(); err != nil {
		t.Skipf("wat2wasm not available: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read compiled wasm: %v", err)
	}
	return b
}
