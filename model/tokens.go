package model

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes for the region-spec grammar.
const (
	identifierCode = iota
	atCode
	addressCode
	colonCode
	sizeCode
	permsCode
)

var (
	identifierToken = parsly.NewToken(identifierCode, "Identifier", &identifierMatcher{})
	atToken         = parsly.NewToken(atCode, "@", matcher.NewByte('@'))
	addressToken    = parsly.NewToken(addressCode, "Address", &addressMatcher{})
	colonToken      = parsly.NewToken(colonCode, ":", matcher.NewByte(':'))
	sizeToken       = parsly.NewToken(sizeCode, "Size", &sizeMatcher{})
	permsToken      = parsly.NewToken(permsCode, "Permissions", &permsMatcher{})
)

// identifierMatcher matches region names: a letter followed by letters,
// digits or underscores.
type identifierMatcher struct{}

func (m *identifierMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	if pos >= size || (!isLetter(input[pos]) && input[pos] != '_') {
		return 0
	}
	matched := 1
	for i := pos + 1; i < size; i++ {
		if !isLetter(input[i]) && !isDigit(input[i]) && input[i] != '_' {
			break
		}
		matched++
	}
	return matched
}

// addressMatcher matches a hexadecimal literal with 0x prefix.
type addressMatcher struct{}

func (m *addressMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	if pos+2 >= size || input[pos] != '0' || (input[pos+1] != 'x' && input[pos+1] != 'X') {
		return 0
	}
	matched := 2
	for i := pos + 2; i < size; i++ {
		if !isHexDigit(input[i]) {
			break
		}
		matched++
	}
	if matched == 2 {
		return 0
	}
	return matched
}

// sizeMatcher matches digits with an optional K or M binary suffix.
type sizeMatcher struct{}

func (m *sizeMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	matched := 0
	for i := pos; i < size; i++ {
		if !isDigit(input[i]) {
			break
		}
		matched++
	}
	if matched == 0 {
		return 0
	}
	if next := pos + matched; next < size {
		switch input[next] {
		case 'K', 'k', 'M', 'm':
			matched++
		}
	}
	return matched
}

// permsMatcher matches permission flags built from r, w, x and -.
type permsMatcher struct{}

func (m *permsMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	matched := 0
	for i := pos; i < size; i++ {
		switch input[i] {
		case 'r', 'w', 'x', '-':
			matched++
		default:
			return matched
		}
	}
	return matched
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
