package extensions

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// isAptControlFile recognizes a Debian binary Packages index, optionally
// gzip-compressed, per the dists/<suite>/<component>/binary-<arch>/ layout.
// Not present in the retrieval pack's original_source (apt.rs was filtered
// out); reconstructed from the standard Debian archive control-file format.
func isAptControlFile(localPath string) bool {
	base := path.Base(localPath)
	return base == "Packages" || base == "Packages.gz"
}

// parseAptPackages reads a control-stanza Packages file (stanzas separated
// by a blank line, "Key: Value" fields, continuation lines indented with a
// space) and extracts one Package per stanza's Filename field, resolved
// against the repository root. relative is the Packages file's own directory
// in the mirror tree; package paths are placed under its repository root.
func parseAptPackages(localPath string, relative []string, packagesURL string) ([]Package, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(localPath, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	base, err := url.Parse(packagesURL)
	if err != nil {
		return nil, fmt.Errorf("parse packages url: %w", err)
	}
	root := repoRoot(base.Path)
	// Drop the directories between the repository root and the Packages
	// file from relative, so local paths mirror the resolved URLs.
	depth := strings.Count(strings.TrimPrefix(base.Path, root), "/")
	if depth > len(relative) {
		depth = len(relative)
	}
	relative = relative[:len(relative)-depth]
	base.Path = root

	var out []Package
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	stanza := map[string]string{}
	var lastKey string
	flush := func() error {
		if len(stanza) == 0 {
			return nil
		}
		filename := stanza["Filename"]
		if filename == "" {
			stanza = map[string]string{}
			return nil
		}
		resolved, err := base.Parse(filename)
		if err != nil {
			stanza = map[string]string{}
			return nil
		}
		segments := strings.Split(filename, "/")
		pkgRelative := append(append([]string(nil), relative...), segments...)
		name := pkgRelative[len(pkgRelative)-1]
		pkgRelative = pkgRelative[:len(pkgRelative)-1]
		out = append(out, Package{URL: resolved.String(), Relative: pkgRelative, Filename: name})
		stanza = map[string]string{}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if lastKey != "" {
				stanza[lastKey] += "\n" + line
			}
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		stanza[key] = strings.TrimSpace(value)
		lastKey = key
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// repoRoot strips a dists/<suite>/... or pool/... suffix back to the
// repository root directory, matching where Filename fields are anchored.
func repoRoot(p string) string {
	for _, marker := range []string{"/dists/", "/pool/"} {
		if idx := strings.Index(p, marker); idx >= 0 {
			return p[:idx+1]
		}
	}
	return p
}
