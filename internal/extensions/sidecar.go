package extensions

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteSidecar writes a small JSON metadata file next to an extension-
// synthesized package inside dir, atomically via a .tmp sibling + rename, in
// the same pattern the teacher's sidecar generator uses for crate metadata.
func WriteSidecar(dir string, pkg Package) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	outPath := filepath.Join(dir, pkg.Filename+".json")
	tmpPath := outPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pkg); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
