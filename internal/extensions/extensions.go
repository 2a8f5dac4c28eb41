// Package extensions synthesizes further download tasks from package-repository
// metadata files (YUM primary.xml.gz/repomd.xml, APT Packages files) once they
// have been downloaded, ported from original_source's src/extensions/mod.rs.
package extensions

import (
	"fmt"
	"log/slog"
)

// Package describes one repository entry discovered inside a metadata file,
// ready to be turned into a Download task with skip_check set.
type Package struct {
	URL      string
	Relative []string
	Filename string
}

// Options gates which metadata formats are inspected, mirroring the sync
// CLI's --apt-packages/--yum-packages flags.
type Options struct {
	AptPackages bool
	YumPackages bool
}

// Handle inspects localPath (already downloaded to disk) and, when its name
// matches a known metadata format enabled in opts, returns the packages it
// references. relative is the path's position in the mirror tree (without the
// metadata file's own name); rawURL is the metadata file's own URL, used to
// derive the base URL packages are resolved against.
func Handle(opts Options, localPath string, relative []string, rawURL string) ([]Package, error) {
	var out []Package

	if opts.AptPackages && isAptControlFile(localPath) {
		packages, err := parseAptPackages(localPath, relative, rawURL)
		if err != nil {
			return nil, fmt.Errorf("extensions: parse apt package file %q: %w", localPath, err)
		}
		for _, p := range packages {
			slog.Info("apt package", "url", p.URL, "filename", p.Filename)
		}
		out = append(out, packages...)
	}

	if opts.YumPackages {
		isPrimary := isYumPrimaryXML(localPath)
		isRepomd := isYumRepomdXML(localPath)
		if isPrimary && isRepomd {
			panic("extensions: file classified as both primary and repomd")
		}
		if isPrimary || isRepomd {
			xmlType := yumRepomd
			if isPrimary {
				xmlType = yumPrimary
			}
			packages, err := parseYumPackages(localPath, relative, rawURL, xmlType)
			if err != nil {
				return nil, fmt.Errorf("extensions: parse yum metadata %q: %w", localPath, err)
			}
			for _, p := range packages {
				slog.Info("yum package", "url", p.URL, "filename", p.Filename)
			}
			out = append(out, packages...)
		}
	}

	return out, nil
}
