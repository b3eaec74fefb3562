// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import "bytes"

// LineBuffer reassembles newline-delimited lines from arbitrary chunks.
//
// The transport may split a line (and the JSON event inside it) across any
// number of reads. Feed returns only complete lines and keeps the trailing
// fragment until the next Feed or Flush.
//
// A trailing carriage return is stripped from each line. LineBuffer is not
// safe for concurrent use; one buffer belongs to one read loop.
type LineBuffer struct {
	pending []byte
}

// Feed appends chunk and returns every line it completed.
func (b *LineBuffer) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	b.pending = append(b.pending, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(b.pending[:i], []byte{'\r'})))
		b.pending = b.pending[i+1:]
	}

	// Compact so a long stream does not pin its whole history.
	if len(b.pending) == 0 {
		b.pending = nil
	} else if len(lines) > 0 {
		b.pending = append([]byte(nil), b.pending...)
	}
	return lines
}

// Flush returns the unterminated fragment, if any, and resets the buffer.
func (b *LineBuffer) Flush() string {
	rest := string(bytes.TrimSuffix(b.pending, []byte{'\r'}))
	b.pending = nil
	return rest
}

// Pending returns the number of buffered bytes not yet returned as a line.
func (b *LineBuffer) Pending() int {
	return len(b.pending)
}
