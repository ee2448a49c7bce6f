// Package job implements the job-file command grammar (§4.C) and the
// fixed-size worker pool that drains a directory of .job files (§4.D).
//
// The job-file lexer/parser proper is an out-of-scope external collaborator
// per spec §1 — only the command grammar's shape matters here, so this file
// is a small, self-contained scanner rather than a port of anything.
package job

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/paulo-2048/kvsd/internal/store"
)

// Kind identifies a parsed job command.
type Kind int

const (
	KindEmpty Kind = iota
	KindInvalid
	KindWrite
	KindRead
	KindDelete
	KindShow
	KindWait
	KindBackup
	KindHelp
)

// Command is one parsed line of a job file.
type Command struct {
	Kind  Kind
	Pairs []store.Pair  // KindWrite
	Keys  []string      // KindRead, KindDelete
	WaitMS int          // KindWait
	Raw   string        // original line, for diagnostics on KindInvalid
}

var (
	writeRe  = regexp.MustCompile(`^WRITE\s*\[(.*)\]$`)
	readRe   = regexp.MustCompile(`^READ\s*\[(.*)\]$`)
	deleteRe = regexp.MustCompile(`^DELETE\s*\[(.*)\]$`)
	waitRe   = regexp.MustCompile(`^WAIT\s+(\d+)$`)
	pairRe   = regexp.MustCompile(`\(([^,()]*),([^,()]*)\)`)
)

// HelpText is the fixed usage block CMD_HELP produces, per
// original_source/src/server/main.c.
const HelpText = `Available commands:
  WRITE [(key,value)(key2,value2),...]
  READ [key,key2,...]
  DELETE [key,key2,...]
  SHOW
  WAIT <delay_ms>
  BACKUP
  HELP
`

// ParseLine parses one line of a job file into a Command. Blank lines and
// lines starting with '#' are CMD_EMPTY, not errors.
func ParseLine(line string) Command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Command{Kind: KindEmpty}
	}

	switch {
	case trimmed == "SHOW":
		return Command{Kind: KindShow}
	case trimmed == "BACKUP":
		return Command{Kind: KindBackup}
	case trimmed == "HELP":
		return Command{Kind: KindHelp}
	}

	if m := writeRe.FindStringSubmatch(trimmed); m != nil {
		pairs := parsePairs(m[1])
		if len(pairs) == 0 {
			return Command{Kind: KindInvalid, Raw: line}
		}
		return Command{Kind: KindWrite, Pairs: pairs}
	}
	if m := readRe.FindStringSubmatch(trimmed); m != nil {
		keys := parseKeys(m[1])
		if len(keys) == 0 {
			return Command{Kind: KindInvalid, Raw: line}
		}
		return Command{Kind: KindRead, Keys: keys}
	}
	if m := deleteRe.FindStringSubmatch(trimmed); m != nil {
		keys := parseKeys(m[1])
		if len(keys) == 0 {
			return Command{Kind: KindInvalid, Raw: line}
		}
		return Command{Kind: KindDelete, Keys: keys}
	}
	if m := waitRe.FindStringSubmatch(trimmed); m != nil {
		ms, err := strconv.Atoi(m[1])
		if err != nil {
			return Command{Kind: KindInvalid, Raw: line}
		}
		return Command{Kind: KindWait, WaitMS: ms}
	}

	return Command{Kind: KindInvalid, Raw: line}
}

func parsePairs(body string) []store.Pair {
	matches := pairRe.FindAllStringSubmatch(body, -1)
	if matches == nil {
		return nil
	}
	pairs := make([]store.Pair, 0, len(matches))
	for _, m := range matches {
		pairs = append(pairs, store.Pair{Key: strings.TrimSpace(m[1]), Value: strings.TrimSpace(m[2])})
	}
	return pairs
}

func parseKeys(body string) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	parts := strings.Split(body, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		k := strings.TrimSpace(p)
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}
