// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package privilege maintains the operator-level directory loaded from the
// privilege file. The file is authoritative: reloads rebuild the directory
// wholesale, never merge.
package privilege

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// MaxLevel caps operator levels; the wire format carries them in one byte.
const MaxLevel = 99

// MaxRangeSpan bounds how many ids one range entry may cover, keeping a
// typo like "2~200000000" from expanding into memory.
const MaxRangeSpan = 1 << 20

// entryLexer tokenizes one privilege file line. Comments run to end of
// line and are elided.
var entryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "Number", Pattern: `\d+`},
	{Name: "Tilde", Pattern: `~`},
	{Name: "whitespace", Pattern: `[ \t]+`},
})

// Entry is one privilege grant: a single account id or an inclusive id
// range, and the level granted.
//
// Grammar: id [ "~" id ] level
type Entry struct {
	Pos   lexer.Position `parser:""`
	Start uint32         `parser:"@Number"`
	End   *uint32        `parser:"('~' @Number)?"`
	Level int            `parser:"@Number"`
}

// entryParser is the singleton participle parser instance.
var entryParser = participle.MustBuild[Entry](
	participle.Lexer(entryLexer),
	participle.Elide("Comment"),
)

// ParseEntry parses one privilege file line. The empty result for a
// blank or comment-only line is (nil, nil).
func ParseEntry(line string) (*Entry, error) {
	entry, err := entryParser.ParseString("", line)
	if err != nil {
		if blankLine(line) {
			return nil, nil
		}
		return nil, oops.Code("PRIVILEGE_LINE_MALFORMED").Wrap(err)
	}
	if entry.End != nil {
		if *entry.End < entry.Start {
			return nil, oops.Code("PRIVILEGE_LINE_MALFORMED").
				With("start", entry.Start).
				With("end", *entry.End).
				Errorf("range end %d below start %d", *entry.End, entry.Start)
		}
		if *entry.End-entry.Start > MaxRangeSpan {
			return nil, oops.Code("PRIVILEGE_LINE_MALFORMED").
				With("start", entry.Start).
				With("end", *entry.End).
				Errorf("range spans more than %d ids", MaxRangeSpan)
		}
	}
	if entry.Level < 0 || entry.Level > MaxLevel {
		return nil, oops.Code("PRIVILEGE_LINE_MALFORMED").
			With("level", entry.Level).
			Errorf("level %d outside 0..%d", entry.Level, MaxLevel)
	}
	return entry, nil
}

// blankLine reports whether the line holds no tokens after eliding
// comments and whitespace.
func blankLine(line string) bool {
	tokens, err := lexString(line)
	return err == nil && tokens == 0
}

func lexString(line string) (int, error) {
	lx, err := entryLexer.LexString("", line)
	if err != nil {
		return 0, err //nolint:wrapcheck // internal helper, caller discards detail
	}
	count := 0
	for {
		tok, err := lx.Next()
		if err != nil {
			return 0, err //nolint:wrapcheck // internal helper, caller discards detail
		}
		if tok.EOF() {
			return count, nil
		}
		if tok.Type != entryLexer.Symbols()["Comment"] {
			count++
		}
	}
}
