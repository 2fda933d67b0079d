// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes line-framed streaming completion responses.
//
// Both supported backends deliver completions as newline-framed text,
// but with different envelopes: hosted APIs use Server-Sent Events
// ("data: " prefixed JSON with a "[DONE]" sentinel), local servers use
// newline-delimited JSON objects with a done flag. A single Decoder
// handles both behind the Framing parameter.
//
// # Key Types
//
//   - Framing: selects the wire envelope (FramingSSE, FramingNDJSON)
//   - Decoder: iterator yielding content fragments until io.EOF
//
// # Usage
//
// Read fragments until the stream ends:
//
//	d := stream.NewDecoder(resp.Body, stream.FramingSSE)
//	for {
//	    fragment, err := d.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    apply(fragment)
//	}
//
// # Reliability
//
// Malformed lines are counted and skipped, never fatal; a stream that
// ends without its terminator simply returns io.EOF, discarding any
// unterminated trailing bytes.
package stream
