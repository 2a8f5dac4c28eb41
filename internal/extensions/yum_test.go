package extensions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestParseYumPrimaryXML(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "primary.xml.gz")
	writeGzip(t, xmlPath, `<metadata>
<package><location href="Packages/b/bash-5.1.rpm"/></package>
</metadata>`)

	packages, err := parseYumPackages(xmlPath, []string{"centos", "8", "repodata"}, "http://mirror.example/centos/8/repodata/primary.xml.gz", yumPrimary)
	if err != nil {
		t.Fatalf("parseYumPackages: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("len(packages) = %d, want 1", len(packages))
	}
	p := packages[0]
	if p.Filename != "bash-5.1.rpm" {
		t.Fatalf("Filename = %q", p.Filename)
	}
	if p.URL != "http://mirror.example/centos/8/Packages/b/bash-5.1.rpm" {
		t.Fatalf("URL = %q", p.URL)
	}
	wantRelative := []string{"centos", "8", "Packages", "b"}
	if len(p.Relative) != len(wantRelative) {
		t.Fatalf("Relative = %v", p.Relative)
	}
	for i, v := range wantRelative {
		if p.Relative[i] != v {
			t.Fatalf("Relative = %v, want %v", p.Relative, wantRelative)
		}
	}
}

func TestIsYumPrimaryAndRepomd(t *testing.T) {
	if !isYumPrimaryXML("/tmp/repodata/abcd-primary.xml.gz") {
		t.Fatal("expected primary.xml.gz to match")
	}
	if !isYumRepomdXML("/tmp/repodata/repomd.xml") {
		t.Fatal("expected repomd.xml to match")
	}
	if isYumPrimaryXML("/tmp/repodata/repomd.xml") {
		t.Fatal("repomd.xml should not match primary")
	}
}
