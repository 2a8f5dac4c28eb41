// Package exclude implements the three-valued include/exclude regex matcher
// consulted by the scheduler before listing a directory and before
// downloading a file.
package exclude

import (
	"regexp"
	"strings"
)

// Verdict is the outcome of matching a relative path against the configured
// exclude/include regex lists.
type Verdict int

const (
	// Include is the default: list and download normally.
	Include Verdict = iota
	// ListOnly means descend into the subtree to find included items, but
	// do not download files at exactly this level unless a deeper include
	// pulls them back in.
	ListOnly
	// Stop means skip this path and its subtree entirely.
	Stop
)

// Manager holds the ordered exclude/include regex lists.
type Manager struct {
	exclude []*regexp.Regexp
	include []*regexp.Regexp
}

// New builds a Manager from ordered exclude/include pattern lists.
func New(exclude, include []*regexp.Regexp) *Manager {
	return &Manager{exclude: exclude, include: include}
}

// Match classifies relative, a '/'-joined path relative to the local root.
//
//   - Stop if any exclude pattern matches and no include pattern matches.
//   - ListOnly if any exclude pattern matches and at least one include
//     pattern also matches.
//   - Include otherwise (including when nothing excludes it at all).
func (m *Manager) Match(relative string) Verdict {
	if m == nil {
		return Include
	}
	excluded := false
	for _, re := range m.exclude {
		if re.MatchString(relative) {
			excluded = true
			break
		}
	}
	if !excluded {
		return Include
	}
	for _, re := range m.include {
		if re.MatchString(relative) {
			return ListOnly
		}
	}
	return Stop
}

// MatchDir classifies a directory's relative path, trailing-slash-terminated,
// for the cheap pruning check consulted before a directory is listed or a
// file beneath it is considered. Unlike Match, an include pattern here also
// counts as a match when relative is only an ancestor of what the pattern
// would eventually match (exclude=^heavy/, include=^heavy/keep/ must not
// prune heavy/ itself, since heavy/keep/ is reachable beneath it) - otherwise
// a directory on the path to an included subtree would never be listed.
func (m *Manager) MatchDir(relative string) Verdict {
	if m == nil {
		return Include
	}
	excluded := false
	for _, re := range m.exclude {
		if re.MatchString(relative) {
			excluded = true
			break
		}
	}
	if !excluded {
		return Include
	}
	for _, re := range m.include {
		if re.MatchString(relative) || patternReachableFrom(relative, re) {
			return ListOnly
		}
	}
	return Stop
}

// patternReachableFrom reports whether relative could be a prefix of some
// deeper path re matches, approximated by checking relative against re's own
// literal source text with its leading anchor stripped.
func patternReachableFrom(relative string, re *regexp.Regexp) bool {
	literal := strings.TrimPrefix(re.String(), "^")
	return strings.HasPrefix(literal, relative)
}
