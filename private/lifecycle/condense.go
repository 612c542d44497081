// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package lifecycle

import (
	"bufio"
	"bytes"
)

// condenseStack shortens a goroutine dump to function names and line
// numbers, so a panic fits in a single log entry. The input is returned
// unchanged when it cannot be parsed.
func condenseStack(buf []byte) (out []byte) {
	defer func() {
		if recover() != nil {
			out = buf
		}
	}()

	lines := bufio.NewScanner(bytes.NewReader(buf))
	skipLocation := false

	for lines.Scan() {
		line := lines.Bytes()
		if skipLocation {
			skipLocation = false
			continue
		}

		switch {
		case len(line) == 0:
			out = append(out, '\n')
		case bytes.HasPrefix(line, []byte("goroutine ")):
			out = append(out, goroutineHeader(line)...)
			out = append(out, '\n')
		case line[0] == '\t':
			out = append(out, lineNumber(line)...)
			out = append(out, '\n')
		case bytes.HasPrefix(line, []byte("created by")):
			skipLocation = true
		default:
			out = append(out, '\t')
			out = append(out, line[:bytes.LastIndexByte(line, '(')]...)
			out = append(out, ':')
		}
	}
	if lines.Err() != nil {
		return buf
	}
	return out
}

// goroutineHeader turns "goroutine 7 [running]:" into "goroutine 7".
func goroutineHeader(line []byte) []byte {
	const n = len("goroutine ")
	return line[:n+bytes.IndexByte(line[n:], ' ')]
}

// lineNumber turns "\t/src/main.go:12 +0x1d" into "12".
func lineNumber(line []byte) []byte {
	line = line[bytes.LastIndexByte(line, ':')+1:]
	if i := bytes.IndexByte(line, ' '); i >= 0 {
		line = line[:i]
	}
	return line
}
