/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"fmt"
	"strconv"
	"strings"

	packrat "github.com/launix-de/go-packrat/v2"
)

// command is one parsed operator instruction.
type command struct {
	verb string
	args []string
}

// commandGrammar builds the packrat parser for the ctl command line
// language, the same combinator style scm/packrat.go's parseSyntax uses to
// assemble atom/regex/and/or parsers from a declarative description —
// here the description is just Go code, since the command grammar itself
// never needs to be data-driven.
type commandGrammar struct {
	root packrat.Parser
}

var identRegex = `[A-Za-z0-9_.:\-]+`

func newCommandGrammar() *commandGrammar {
	verbs := []string{"status", "drain", "resume", "push", "watch", "help", "quit", "exit"}
	verbParsers := make([]packrat.Parser, len(verbs))
	for i, v := range verbs {
		verbParsers[i] = packrat.NewAtomParser(v, true, true)
	}
	verb := packrat.NewOrParser(verbParsers...)
	arg := packrat.NewRegexParser(identRegex, false, true)
	args := packrat.NewKleeneParser(arg, packrat.NewEmptyParser())
	line := packrat.NewAndParser(verb, args, packrat.NewEndParser(true))
	return &commandGrammar{root: line}
}

// parse tokenizes s with whitespace-skipping packrat scanning and returns
// the matched verb plus its argument tokens.
func (g *commandGrammar) parse(s string) (command, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return command{}, fmt.Errorf("empty command")
	}
	scanner := packrat.NewScanner(s, packrat.SkipWhitespaceAndCommentsRegex)
	node, err := packrat.Parse(g.root, scanner)
	if err != nil {
		return command{}, fmt.Errorf("parse error: %w", err)
	}
	if node == nil {
		return command{}, fmt.Errorf("unrecognized command: %q (try 'help')", s)
	}
	verbNode := node.Children[0]
	kleeneNode := node.Children[1]
	cmd := command{verb: strings.ToLower(verbNode.Matched)}
	for _, child := range kleeneNode.Children {
		cmd.args = append(cmd.args, child.Matched)
	}
	return cmd, nil
}

func atoi(s string, fallback uint64) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
