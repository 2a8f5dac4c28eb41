package extensions

import (
	"os"
	"path/filepath"
	"testing"
)

const packagesFile = `Package: bash
Version: 5.1-2
Filename: pool/main/b/bash/bash_5.1-2_amd64.deb
Size: 123456

Package: apt
Version: 2.4.0
Filename: pool/main/a/apt/apt_2.4.0_amd64.deb
Size: 654321
Description: package manager
 continuation line
`

func TestParseAptPackages(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "Packages")
	if err := os.WriteFile(p, []byte(packagesFile), 0o644); err != nil {
		t.Fatal(err)
	}

	packages, err := parseAptPackages(p, []string{"debian", "dists", "bookworm", "main", "binary-amd64"}, "http://mirror.example/debian/dists/bookworm/main/binary-amd64/Packages")
	if err != nil {
		t.Fatalf("parseAptPackages: %v", err)
	}
	if len(packages) != 2 {
		t.Fatalf("len(packages) = %d, want 2", len(packages))
	}
	if packages[0].Filename != "bash_5.1-2_amd64.deb" {
		t.Fatalf("Filename = %q", packages[0].Filename)
	}
	if packages[0].URL != "http://mirror.example/debian/pool/main/b/bash/bash_5.1-2_amd64.deb" {
		t.Fatalf("URL = %q", packages[0].URL)
	}
}

func TestIsAptControlFile(t *testing.T) {
	if !isAptControlFile("/tmp/dists/bookworm/main/binary-amd64/Packages") {
		t.Fatal("expected Packages to match")
	}
	if !isAptControlFile("/tmp/Packages.gz") {
		t.Fatal("expected Packages.gz to match")
	}
	if isAptControlFile("/tmp/Sources") {
		t.Fatal("Sources should not match")
	}
}
