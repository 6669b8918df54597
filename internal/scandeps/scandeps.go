// Package scandeps implements the script dependency scanner (spec §4.1):
// regex-extraction of do/run/include references from a single script file,
// tolerant of comments and the engine's several quoting styles.
package scandeps

import (
	"bufio"
	"regexp"
	"strings"
)

// Kind tags which of the three reference commands produced a Reference.
// The three command verbs map one-to-one onto the data model's triple (spec
// §3): `do` echoes the script's commands as it runs (Inline), `run` executes
// silently (Silent), and `include` is a plain aggregation directive
// (Sequential) — the engine's own historical split between "show me what
// ran" and "just run it".
type Kind int

// Kind values, one per recognized command verb.
const (
	Inline     Kind = iota // `do`
	Sequential             // `include`
	Silent                 // `run`
)

func (k Kind) String() string {
	switch k {
	case Inline:
		return "do"
	case Sequential:
		return "include"
	case Silent:
		return "run"
	default:
		return "unknown"
	}
}

// Reference is a single script reference recovered from a source line (spec
// §3: "Script reference").
type Reference struct {
	Kind       Kind
	RawPath    string
	LineNumber int
}

// DefaultExtension is appended to a reference with no file extension (spec
// §4.1).
const DefaultExtension = ".do"

var commandRe = regexp.MustCompile(`(?i)^(do|run|include)\s+(.+)$`)

// Scan extracts ordered script references from UTF-8 script content. Line
// numbers are 1-indexed.
func Scan(content string) ([]Reference, error) {
	var refs []Reference
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		ref, ok := scanLine(raw, lineNo)
		if ok {
			refs = append(refs, ref)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

// scanLine applies the full per-line contract of spec §4.1.
func scanLine(raw string, lineNo int) (Reference, bool) {
	trimmedLeading := strings.TrimLeft(raw, " \t")
	if trimmedLeading == "" {
		return Reference{}, false
	}
	if trimmedLeading[0] == '*' || strings.HasPrefix(trimmedLeading, "//") {
		return Reference{}, false
	}

	stripped := stripInlineComment(trimmedLeading)
	stripped = strings.TrimSpace(stripped)
	if stripped == "" {
		return Reference{}, false
	}

	m := commandRe.FindStringSubmatch(stripped)
	if m == nil {
		return Reference{}, false
	}

	verb := strings.ToLower(m[1])
	remainder := strings.TrimSpace(m[2])
	path, ok := extractPath(remainder)
	if !ok {
		return Reference{}, false
	}
	path = applyDefaultExtension(path)

	return Reference{Kind: kindForVerb(verb), RawPath: path, LineNumber: lineNo}, true
}

func kindForVerb(verb string) Kind {
	switch verb {
	case "do":
		return Inline
	case "include":
		return Sequential
	case "run":
		return Silent
	default:
		return Inline
	}
}

// stripInlineComment removes a trailing `//` comment. A `//` only starts a
// comment when it is at the start of the line or preceded by whitespace, so
// paths such as a bare `http://` token survive untouched.
func stripInlineComment(line string) string {
	for i := 0; i+1 < len(line); i++ {
		if line[i] == '/' && line[i+1] == '/' {
			if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
				return line[:i]
			}
		}
	}
	return line
}

// extractPath recognizes the engine's three quoting styles plus a bare
// token: double-quoted, single-quoted, compound-quoted (`"…"'), or bare.
func extractPath(remainder string) (string, bool) {
	if remainder == "" {
		return "", false
	}

	// Compound quote: `"..."'
	if strings.HasPrefix(remainder, "`\"") {
		end := strings.Index(remainder, "\"'")
		if end == -1 {
			return "", false
		}
		return remainder[2:end], true
	}

	if remainder[0] == '"' {
		end := strings.IndexByte(remainder[1:], '"')
		if end == -1 {
			return "", false
		}
		return remainder[1 : 1+end], true
	}

	if remainder[0] == '\'' {
		end := strings.IndexByte(remainder[1:], '\'')
		if end == -1 {
			return "", false
		}
		return remainder[1 : 1+end], true
	}

	// Bare token: up to the next whitespace.
	fields := strings.Fields(remainder)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

func applyDefaultExtension(path string) string {
	base := path
	if idx := strings.LastIndexAny(base, "/\\"); idx != -1 {
		base = base[idx+1:]
	}
	if strings.Contains(base, ".") {
		return path
	}
	return path + DefaultExtension
}
