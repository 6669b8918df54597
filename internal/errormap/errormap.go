// Package errormap implements the error→exit-code mapper (spec §4.6): a
// fixed numeric-range table assigning every engine r-code to a category,
// plus the stable public exit-code contract (spec §6) that must never
// change across versions.
package errormap

import "fmt"

// Category is one of the engine's error categories (spec §4.6).
type Category int

// Categories, in r-code range order. The numeric ranges below are the
// source of truth (spec §4.6: "categories in the cache are themselves
// assigned by the same range table").
const (
	General Category = iota
	SyntaxCommand
	Reserved
	PreviouslyStoredResult
	StatisticalProblems
	Matrix
	FileIO
	OperatingSystem
	System
	MemoryResources
	SystemLimits
	NonErrors
	RuntimeA
	RuntimeB
	LanguagePlugin
	SystemFailure
)

func (c Category) String() string {
	switch c {
	case General:
		return "General"
	case SyntaxCommand:
		return "Syntax/Command"
	case Reserved:
		return "Reserved"
	case PreviouslyStoredResult:
		return "Previously stored result"
	case StatisticalProblems:
		return "Statistical problems"
	case Matrix:
		return "Matrix manipulation"
	case FileIO:
		return "File I/O"
	case OperatingSystem:
		return "Operating system"
	case System:
		return "System"
	case MemoryResources:
		return "Memory/Resources"
	case SystemLimits:
		return "System limits"
	case NonErrors:
		return "Non-errors"
	case RuntimeA:
		return "Mata runtime"
	case RuntimeB:
		return "Class system"
	case LanguagePlugin:
		return "Python runtime"
	case SystemFailure:
		return "System failure"
	default:
		return "Unknown"
	}
}

// rangeEntry is one row of the range table.
type rangeEntry struct {
	lo, hi int
	cat    Category
}

// table is the fixed numeric-range table. It is the single source of truth
// for category assignment (spec §4.6) and must not change shape across
// versions, since the exit codes it feeds into are a public contract. The
// ranges below (including the gaps, which fall through to General) are the
// engine's documented error-code ranges, taken verbatim from
// original_source/src/error/categories.rs.
var table = []rangeEntry{
	{1, 99, General},
	{100, 199, SyntaxCommand},
	{200, 299, Reserved},
	{300, 399, PreviouslyStoredResult},
	{400, 499, StatisticalProblems},
	{500, 599, Matrix},
	{600, 699, FileIO},
	{700, 799, OperatingSystem},
	{800, 899, System},
	{900, 999, MemoryResources},
	{1000, 1999, SystemLimits},
	{2000, 2999, NonErrors},
	{3000, 3999, RuntimeA},
	{4000, 4999, RuntimeB},
	{7100, 7199, LanguagePlugin},
	{9000, 9999, SystemFailure},
}

// CategoryForCode maps an r-code to its category using the range table. An
// out-of-range code (the table is not exhaustive of every possible future
// code) falls back to General.
func CategoryForCode(code int) Category {
	for _, r := range table {
		if code >= r.lo && code <= r.hi {
			return r.cat
		}
	}
	return General
}

// ExitCodeInternal is exit code 5 of the stable contract (spec §6:
// "0/1/2/3/4/5/6/10/128+S"): stacy itself failed before or instead of ever
// reaching an engine-reported r-code (config error, project discovery
// failure, network failure fetching a package, and so on). It has no
// category mapping of its own in the §4.6 table — it is returned directly
// by the CLI entry point, never produced by ExitCodeForCode.
const ExitCodeInternal = 5

// ExitCode maps a category to the stable shell exit-code contract (spec
// §4.6 / §6). This table must never be broken across versions.
func ExitCode(cat Category) int {
	switch cat {
	case SyntaxCommand:
		return 2
	case FileIO:
		return 3
	case MemoryResources:
		return 4
	case StatisticalProblems:
		return 6
	case System:
		return 10
	default:
		return 1
	}
}

// ExitCodeForCode is the convenience composition CategoryForCode + ExitCode,
// with an optional database override consulted first (spec §4.6: "If a
// cached database of extracted codes exists, it may override the category
// — but categories in the cache are themselves assigned by the same range
// table, so the table is the source of truth").
func ExitCodeForCode(code int, db *Database) int {
	if db != nil {
		if cat, ok := db.Category(code); ok {
			return ExitCode(cat)
		}
	}
	return ExitCode(CategoryForCode(code))
}

// ExitCodeForSignal implements "process killed by signal" (spec §4.6/§6):
// 128+signal, preserving the shell convention.
func ExitCodeForSignal(signal int) int {
	return 128 + signal
}

// Explain returns a short human-readable description for an r-code,
// composing the category name with the code itself (original_source/
// src/cli/explain.rs, supplemented per SPEC_FULL §6 item 6).
func Explain(code int) string {
	cat := CategoryForCode(code)
	return fmt.Sprintf("r(%d): %s", code, cat)
}
