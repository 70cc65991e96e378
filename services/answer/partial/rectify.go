// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package partial repairs truncated JSON so that a model's answer can be
// rendered while it is still streaming.
//
// # Description
//
// Rectify takes the text received so far, which should be a prefix of a
// JSON array, and returns the longest valid JSON array it can reconstruct
// from it:
//
//	[["cite", 0, "the handl          ->  [["cite",0,"the handl"]]
//	[["cite", 0, "x", 1             ->  [["cite",0,"x"]]
//	[["new", "go"], [               ->  [["new","go"],[]]
//	[{"a": 1, "b":                  ->  [{"a":1}]
//
// Strings are closed, dangling escapes, incomplete numbers and literals,
// dangling keys and trailing commas are dropped, and open containers are
// closed. Anything that is not an array prefix yields "[]".
package partial

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rectify returns a syntactically valid JSON array reconstructed from the
// prefix s, plus the unconsumed remainder of s.
//
// When s is a complete, well-formed array the fixed text decodes to the
// same value as s.
func Rectify(s string) (fixed string, rest string) {
	p := &parser{src: s}
	p.skipSpace()
	if p.eof() || p.peek() != '[' {
		return "[]", s
	}
	out := p.array()
	return out, s[p.pos:]
}

// parser is a recursive-descent repairer. Once it hits the end of input
// or text it cannot use, stop is set and every open container is closed
// on the way back up.
type parser struct {
	src  string
	pos  int
	stop bool
}

func (p *parser) eof() bool  { return p.pos >= len(p.src) }
func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

// value parses any JSON value. ok is false when nothing usable was found.
func (p *parser) value() (out string, ok bool) {
	p.skipSpace()
	if p.eof() {
		p.stop = true
		return "", false
	}
	switch c := p.peek(); {
	case c == '[':
		return p.array(), true
	case c == '{':
		return p.object(), true
	case c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	case c == 't':
		return p.literal("true")
	case c == 'f':
		return p.literal("false")
	case c == 'n':
		return p.literal("null")
	default:
		p.stop = true
		return "", false
	}
}

func (p *parser) array() string {
	p.pos++ // '['
	var items []string
	closeWith := func() string { return "[" + strings.Join(items, ",") + "]" }

	for {
		p.skipSpace()
		if p.eof() {
			p.stop = true
			return closeWith()
		}
		if p.peek() == ']' {
			p.pos++
			return closeWith()
		}

		v, ok := p.value()
		if ok {
			items = append(items, v)
		}
		if !ok || p.stop {
			return closeWith()
		}

		p.skipSpace()
		if p.eof() {
			p.stop = true
			return closeWith()
		}
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return closeWith()
		default:
			p.stop = true
			return closeWith()
		}
	}
}

func (p *parser) object() string {
	p.pos++ // '{'
	var members []string
	closeWith := func() string { return "{" + strings.Join(members, ",") + "}" }

	for {
		p.skipSpace()
		if p.eof() {
			p.stop = true
			return closeWith()
		}
		if p.peek() == '}' {
			p.pos++
			return closeWith()
		}
		if p.peek() != '"' {
			p.stop = true
			return closeWith()
		}

		key, ok := p.str()
		if !ok || p.stop {
			return closeWith()
		}

		p.skipSpace()
		if p.eof() || p.peek() != ':' {
			p.stop = true
			return closeWith()
		}
		p.pos++

		v, ok := p.value()
		if !ok {
			return closeWith()
		}
		members = append(members, key+":"+v)
		if p.stop {
			return closeWith()
		}

		p.skipSpace()
		if p.eof() {
			p.stop = true
			return closeWith()
		}
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return closeWith()
		default:
			p.stop = true
			return closeWith()
		}
	}
}

// str parses a string. A truncated string is closed and reported as
// usable with stop set; callers that cannot use a partial value (object
// keys) check stop themselves.
func (p *parser) str() (string, bool) {
	p.pos++ // opening quote
	var b strings.Builder
	b.WriteByte('"')

	for {
		if p.eof() {
			p.stop = true
			b.WriteByte('"')
			return b.String(), true
		}
		c := p.peek()
		switch {
		case c == '"':
			p.pos++
			b.WriteByte('"')
			return b.String(), true

		case c == '\\':
			esc, ok := p.escape()
			if !ok {
				p.stop = true
				b.WriteByte('"')
				return b.String(), true
			}
			b.WriteString(esc)

		case c < 0x20:
			// Raw control characters are invalid inside JSON strings.
			fmt.Fprintf(&b, `\u%04x`, c)
			p.pos++

		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

// escape consumes one escape sequence. It fails on truncated or invalid
// sequences, leaving pos untouched.
func (p *parser) escape() (string, bool) {
	if p.pos+1 >= len(p.src) {
		return "", false
	}
	switch c := p.src[p.pos+1]; c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
		p.pos += 2
		return `\` + string(c), true
	case 'u':
		if p.pos+6 > len(p.src) {
			return "", false
		}
		hex := p.src[p.pos+2 : p.pos+6]
		for i := 0; i < len(hex); i++ {
			if !isHex(hex[i]) {
				return "", false
			}
		}
		p.pos += 6
		return `\u` + hex, true
	default:
		return "", false
	}
}

// number parses a number. A number that runs into the end of input may
// still be growing, so it is dropped.
func (p *parser) number() (string, bool) {
	start := p.pos
	for !p.eof() && isNumberByte(p.peek()) {
		p.pos++
	}
	if p.eof() {
		p.stop = true
		return "", false
	}
	lit := p.src[start:p.pos]
	if !json.Valid([]byte(lit)) {
		p.stop = true
		return "", false
	}
	return lit, true
}

// literal parses true, false or null. A truncated literal is dropped.
func (p *parser) literal(word string) (string, bool) {
	remaining := p.src[p.pos:]
	if strings.HasPrefix(remaining, word) {
		p.pos += len(word)
		return word, true
	}
	p.stop = true
	return "", false
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E'
}
