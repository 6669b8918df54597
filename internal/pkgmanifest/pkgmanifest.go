// Package pkgmanifest parses the engine's line-oriented `.pkg` package
// manifest format (spec §4.7, §3 "Package manifest"): a handful of
// description (`d`) lines followed by a list of file (`f`) entries.
package pkgmanifest

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"
)

// FileKind categorizes a manifest file entry by extension.
type FileKind string

// Recognized file kinds.
const (
	KindAdo   FileKind = "ado"
	KindHelp  FileKind = "help"
	KindDlg   FileKind = "dialog"
	KindClass FileKind = "class"
	KindOther FileKind = "other"
)

func kindForFilename(name string) FileKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ado":
		return KindAdo
	case ".sthlp", ".hlp":
		return KindHelp
	case ".dlg":
		return KindDlg
	case ".class":
		return KindClass
	default:
		return KindOther
	}
}

// FileEntry is one file listed in a manifest.
type FileEntry struct {
	Filename string
	Kind     FileKind
}

// Manifest is the parsed representation of a `.pkg` file (spec §3).
type Manifest struct {
	Title            string
	Author           string
	DistributionDate string
	Files            []FileEntry
}

var authorPrefixes = []string{"author:", "author "}
var distDatePrefixes = []string{"distribution-date:", "distribution date:"}

// Parse parses `.pkg` manifest content. A manifest with zero file entries
// is invalid (spec §3).
func Parse(content string) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	titleSet := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		switch {
		case hasCaseInsensitivePrefix(trimmed, "d"):
			rest := strings.TrimSpace(trimmed[1:])
			if rest == "" {
				continue
			}
			lowerRest := strings.ToLower(rest)
			if matched, value := matchPrefixed(lowerRest, rest, authorPrefixes); matched {
				m.Author = value
				continue
			}
			if matched, value := matchPrefixed(lowerRest, rest, distDatePrefixes); matched {
				m.DistributionDate = value
				continue
			}
			if !titleSet {
				m.Title = unquote(rest)
				titleSet = true
			}
		case hasCaseInsensitivePrefix(trimmed, "f"):
			rest := strings.TrimSpace(trimmed[1:])
			if rest == "" {
				continue
			}
			filename := strings.Fields(rest)[0]
			m.Files = append(m.Files, FileEntry{Filename: filename, Kind: kindForFilename(filename)})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	if len(m.Files) == 0 {
		return nil, fmt.Errorf("invalid manifest: no file entries")
	}
	return m, nil
}

func hasCaseInsensitivePrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return strings.EqualFold(s[:len(prefix)], prefix)
}

func matchPrefixed(lowerRest, rest string, prefixes []string) (bool, string) {
	for _, p := range prefixes {
		if strings.HasPrefix(lowerRest, p) {
			return true, strings.TrimSpace(rest[len(p):])
		}
	}
	return false, ""
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') {
		if end := strings.IndexByte(s[1:], s[0]); end != -1 {
			return s[1:end+1] + s[end+2:]
		}
	}
	return s
}
