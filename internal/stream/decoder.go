// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes line-framed streaming completion responses.
//
// Two wire framings are supported behind one decoder:
//
//   - FramingSSE: server-sent events where each "data:" line carries a
//     JSON chunk with choices[0].delta.content, terminated by the
//     literal sentinel "[DONE]".
//   - FramingNDJSON: bare newline-delimited JSON objects carrying
//     message.content, terminated by a record with "done": true.
//
// The decoder owns incremental buffering: fragments may arrive split
// across arbitrary read boundaries and are only surfaced once a full
// newline-terminated record is available.
package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
)

// =============================================================================
// FRAMING
// =============================================================================

// Framing selects the wire format the decoder parses.
type Framing int

const (
	// FramingSSE parses "data:" prefixed server-sent event lines with a
	// [DONE] sentinel (OpenAI-compatible chat completion streams).
	FramingSSE Framing = iota
	// FramingNDJSON parses bare JSON lines with a done flag
	// (Ollama-style chat streams).
	FramingNDJSON
)

func (f Framing) String() string {
	switch f {
	case FramingSSE:
		return "sse"
	case FramingNDJSON:
		return "ndjson"
	default:
		return "unknown"
	}
}

const doneSentinel = "[DONE]"

// sseChunk is one SSE data payload from an OpenAI-compatible stream.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// ndjsonChunk is one line of an Ollama-style NDJSON stream.
type ndjsonChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder yields content fragments from a streaming response body.
// One decoder serves one stream; it is not restartable and not safe
// for concurrent use.
type Decoder struct {
	reader    *bufio.Reader
	framing   Framing
	done      bool
	fragments int
	malformed int
}

// NewDecoder wraps r with incremental line buffering for the given framing.
func NewDecoder(r io.Reader, framing Framing) *Decoder {
	return &Decoder{
		reader:  bufio.NewReader(r),
		framing: framing,
	}
}

// Next returns the next content fragment. It returns io.EOF when the
// stream terminates, whether by sentinel, done flag, or natural end of
// input. An empty fragment is valid and does not signal termination.
//
// Malformed lines are logged and skipped; only transport-level read
// failures are returned as errors.
func (d *Decoder) Next() (string, error) {
	if d.done {
		return "", io.EOF
	}
	for {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			d.done = true
			if err == io.EOF {
				// RELIABILITY: bytes without a terminating newline are an
				// incomplete record, so they are dropped rather than parsed.
				if len(line) > 0 {
					log.Printf("stream: discarding %d unterminated bytes at end of %s stream", len(line), d.framing)
				}
				return "", io.EOF
			}
			return "", err
		}

		content, terminal, ok := d.decodeLine(strings.TrimRight(line, "\r\n"))
		if terminal {
			d.done = true
			return "", io.EOF
		}
		if !ok {
			continue
		}
		d.fragments++
		return content, nil
	}
}

// decodeLine parses one complete line. It reports the fragment content,
// whether the line terminates the stream, and whether a fragment was
// produced at all (blank lines, non-data SSE fields, and malformed JSON
// produce nothing).
func (d *Decoder) decodeLine(line string) (content string, terminal, ok bool) {
	if line == "" {
		return "", false, false
	}

	switch d.framing {
	case FramingSSE:
		// Only data fields carry payload; comments and other SSE fields
		// (event:, id:, retry:) are ignored.
		payload, isData := strings.CutPrefix(line, "data:")
		if !isData {
			return "", false, false
		}
		payload = strings.TrimSpace(payload)
		if payload == doneSentinel {
			return "", true, false
		}
		var chunk sseChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			d.skipMalformed(err)
			return "", false, false
		}
		if len(chunk.Choices) == 0 {
			return "", false, true
		}
		return chunk.Choices[0].Delta.Content, false, true

	case FramingNDJSON:
		var chunk ndjsonChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			d.skipMalformed(err)
			return "", false, false
		}
		if chunk.Done {
			return "", true, false
		}
		return chunk.Message.Content, false, true

	default:
		return "", false, false
	}
}

func (d *Decoder) skipMalformed(err error) {
	d.malformed++
	log.Printf("stream: skipping malformed %s line: %v", d.framing, err)
}

// Fragments reports how many content fragments the decoder has yielded.
func (d *Decoder) Fragments() int { return d.fragments }

// Malformed reports how many lines were skipped as unparseable.
func (d *Decoder) Malformed() int { return d.malformed }

// =============================================================================
// DRAIN HELPER
// =============================================================================

// Drain consumes the stream to completion, invoking fn for every
// fragment in arrival order. It stops on the first callback error and
// returns transport errors unwrapped.
func Drain(d *Decoder, fn func(fragment string) error) error {
	for {
		fragment, err := d.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(fragment); err != nil {
			return err
		}
	}
}
