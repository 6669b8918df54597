// Package logparser implements the central state machine of spec §4.4: it
// reads an engine batch-mode log and decides whether the run succeeded or
// which r-code it raised, tolerating nested scripts (multiple terminators)
// and user output that mimics the error syntax.
package logparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/janfasnacht/stacy/internal/errormap"
)

// Terminator is the literal line that must precede any post-run error code
// (spec §4.4, glossary "Terminator").
const Terminator = "end of do-file"

// breakFiller is the filler line that can repeat after the terminator
// before the r(N); line (spec §4.4 step 2).
const breakFiller = "--Break--"

var rCodeLineRe = regexp.MustCompile(`^\s*r\((\d+)\);\s*$`)
var numberedContinuationRe = regexp.MustCompile(`^\d+\.(\s|$)`)

// ErrIncompleteLog is returned when the log has no terminator at all: the
// process was killed or the engine crashed before finishing (spec §4.4 step
// 1, and spec §8's "Empty log ⇒ 'incomplete log' error").
var ErrIncompleteLog = fmt.Errorf("incomplete log: no %q line found", Terminator)

// Result is the outcome of parsing one log.
type Result struct {
	// Success is true iff no r-code was found after the terminator.
	Success bool
	// RCode is the engine error code, valid only when !Success.
	RCode int
	// Message is the recovered human-readable message, or a category
	// fallback description.
	Message string
}

// Parse reads the full log content and returns whether the run succeeded or
// which error code it raised. Parse is side-effect free: it never mutates
// the log file, and it operates on a full in-memory read (spec §4.4
// invariant).
func Parse(content string) (*Result, error) {
	return ParseWithDatabase(content, nil)
}

// ParseWithDatabase is Parse, but consults db (if non-nil) as a message
// fallback before the static category description (spec §4.4 step 3,
// supplemented per SPEC_FULL.md §6 item 2).
func ParseWithDatabase(content string, db *errormap.Database) (*Result, error) {
	lines := strings.Split(content, "\n")

	termIdx := lastTerminatorIndex(lines)
	if termIdx == -1 {
		return nil, ErrIncompleteLog
	}

	code, found := findPostTerminatorCode(lines, termIdx)
	if !found {
		return &Result{Success: true}, nil
	}

	message := recoverMessage(lines, termIdx, code, db)
	return &Result{Success: false, RCode: code, Message: message}, nil
}

// lastTerminatorIndex returns the index of the last line equal to
// Terminator (after trimming), or -1. Nested script invocations emit
// multiple terminators; the last one corresponds to the outermost script
// (spec §4.4 step 4).
func lastTerminatorIndex(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == Terminator {
			return i
		}
	}
	return -1
}

// findPostTerminatorCode implements spec §4.4 step 2.
func findPostTerminatorCode(lines []string, termIdx int) (int, bool) {
	for i := termIdx + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if trimmed == breakFiller {
			continue
		}
		m := rCodeLineRe.FindStringSubmatch(lines[i])
		if m == nil {
			// Anything else ends the search: defensively succeed.
			return 0, false
		}
		code, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return code, true
	}
	return 0, false
}

// recoverMessage implements spec §4.4 step 3.
func recoverMessage(lines []string, termIdx, code int, db *errormap.Database) string {
	needle := fmt.Sprintf("r(%d);", code)

	bodyIdx := -1
	for i := 0; i < termIdx; i++ {
		if strings.Contains(lines[i], needle) {
			bodyIdx = i
			break
		}
	}

	var collected []string
	if bodyIdx > 0 {
		for j := bodyIdx - 1; j >= 0; j-- {
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" {
				if len(collected) > 0 {
					break
				}
				continue
			}
			if trimmed == breakFiller {
				continue
			}
			if isEchoLine(trimmed) {
				continue
			}
			collected = append(collected, trimmed)
			if len(collected) == 3 {
				break
			}
		}
	}

	if len(collected) > 0 {
		// collected was built backwards; restore original order.
		for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
			collected[i], collected[j] = collected[j], collected[i]
		}
		return strings.Join(collected, "\n")
	}

	if db != nil {
		if msg, ok := db.Message(code); ok {
			return msg
		}
	}
	return errormap.Explain(code)
}

// isEchoLine identifies the engine's own command-echo lines, which must not
// be mistaken for the error's context message (spec §4.4 step 3).
func isEchoLine(trimmed string) bool {
	if trimmed == "." {
		return true
	}
	if strings.HasPrefix(trimmed, ". ") {
		return true
	}
	if strings.HasPrefix(trimmed, "> ") {
		return true
	}
	return numberedContinuationRe.MatchString(trimmed)
}
