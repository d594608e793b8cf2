// Package proto classifies the text tokens exchanged over a link. The
// wire format is one token per line: bare probe/reply words plus a
// prefixed command form carrying a payload.
package proto

import (
	"sort"
	"strings"
)

type Kind uint8

const (
	Unknown Kind = iota
	Probe
	Reply
	Command
)

func (k Kind) String() string {
	switch k {
	case Probe:
		return "probe"
	case Reply:
		return "reply"
	case Command:
		return "command"
	default:
		return "unknown"
	}
}

// Pair binds a probe token to the reply token it must be answered with.
// A table usually carries two: the node-named pair this side probes with
// and the bare pair the peer probes with.
type Pair struct {
	Probe string
	Reply string
}

type Match struct {
	Kind  Kind
	Reply string // Probe: token to answer with
	Token string // Command: payload after the prefix
}

type entry struct {
	head string
	m    Match
}

// Table is the dispatch table for inbound lines. Every pattern matches
// the line head and the longest pattern wins, so "PICO_PONG" is never
// swallowed by a shorter overlapping token and trailing bytes after a
// recognized token are tolerated.
type Table struct {
	entries   []entry
	cmdPrefix string
}

func NewTable(cmdPrefix string, pairs ...Pair) *Table {
	t := &Table{cmdPrefix: cmdPrefix}
	for _, p := range pairs {
		t.entries = append(t.entries,
			entry{head: p.Probe, m: Match{Kind: Probe, Reply: p.Reply}},
			entry{head: p.Reply, m: Match{Kind: Reply}},
		)
	}
	if cmdPrefix != "" {
		t.entries = append(t.entries, entry{head: cmdPrefix, m: Match{Kind: Command}})
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return len(t.entries[i].head) > len(t.entries[j].head)
	})
	return t
}

func (t *Table) Classify(line string) Match {
	for _, e := range t.entries {
		if e.head == "" || !strings.HasPrefix(line, e.head) {
			continue
		}
		m := e.m
		if m.Kind == Command {
			m.Token = line[len(e.head):]
		}
		return m
	}
	return Match{Kind: Unknown}
}
