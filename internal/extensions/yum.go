package extensions

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

type yumXMLType int

const (
	yumPrimary yumXMLType = iota
	yumRepomd
)

var locationRe = regexp.MustCompile(`<location href="(.+?)".*/>`)

func locationsFromXML(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if m := locationRe.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}

func isYumPrimaryXML(localPath string) bool {
	return strings.HasSuffix(path.Base(localPath), "primary.xml.gz")
}

// isYumRepomdXML matches repomd.xml, the index some repositories require as
// the only reliable way to discover primary.xml.gz's real location.
func isYumRepomdXML(localPath string) bool {
	return path.Base(localPath) == "repomd.xml"
}

func readPrimaryXML(localPath string) ([]string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	body, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	return locationsFromXML(string(body)), nil
}

func readRepomdXML(localPath string) ([]string, error) {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	return locationsFromXML(string(body)), nil
}

// parseYumPackages mirrors yum.rs's parse_package: it reads the metadata
// file's referenced locations, pops the "repodata" segment from relative
// (metadata files live in <repo>/repodata/, packages live under <repo>/), and
// pops two segments from the metadata file's own URL to get back to the
// repository root.
func parseYumPackages(localPath string, relative []string, metadataURL string, xmlType yumXMLType) ([]Package, error) {
	var locations []string
	var err error
	switch xmlType {
	case yumPrimary:
		locations, err = readPrimaryXML(localPath)
	case yumRepomd:
		locations, err = readRepomdXML(localPath)
	}
	if err != nil {
		return nil, err
	}

	baseRelative := append([]string(nil), relative...)
	if len(baseRelative) > 0 {
		baseRelative = baseRelative[:len(baseRelative)-1]
	}

	base, err := url.Parse(metadataURL)
	if err != nil {
		return nil, fmt.Errorf("parse metadata url: %w", err)
	}
	base.Path = popSegments(base.Path, 2)

	var out []Package
	for _, loc := range locations {
		resolved, err := base.Parse(loc)
		if err != nil {
			continue
		}
		segments := strings.Split(loc, "/")
		pkgRelative := append(append([]string(nil), baseRelative...), segments...)
		filename := pkgRelative[len(pkgRelative)-1]
		pkgRelative = pkgRelative[:len(pkgRelative)-1]
		out = append(out, Package{URL: resolved.String(), Relative: pkgRelative, Filename: filename})
	}
	return out, nil
}

// popSegments removes the last n path segments, preserving a trailing slash
// (package base URLs are always directories).
func popSegments(p string, n int) string {
	trimmed := strings.TrimSuffix(p, "/")
	for i := 0; i < n; i++ {
		idx := strings.LastIndex(trimmed, "/")
		if idx < 0 {
			trimmed = ""
			break
		}
		trimmed = trimmed[:idx]
	}
	return trimmed + "/"
}
