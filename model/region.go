package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/minoskernel/minos/platform"
	"github.com/viant/parsly"
	"github.com/viant/toolbox"
)

// RegionSpec is one parsed board-config memory region, written as
// name@0xSTART:SIZE:perms, for example "sram@0x20000000:64K:rw" or
// "flash@0x00040000:256K:rx".
type RegionSpec struct {
	Name  string
	Start uintptr
	Size  int
	Perms platform.Permissions
}

// Region converts the parsed literal into a hardware region descriptor.
func (r *RegionSpec) Region() platform.Region {
	return platform.Region{Start: r.Start, Size: r.Size, Perms: r.Perms}
}

// ParseRegion parses a region spec literal.
func ParseRegion(input string) (*RegionSpec, error) {
	cursor := parsly.NewCursor("", []byte(input), 0)
	spec := &RegionSpec{}

	matched := cursor.MatchOne(identifierToken)
	if matched.Code != identifierToken.Code {
		return nil, cursor.NewError(identifierToken)
	}
	spec.Name = matched.Text(cursor)

	matched = cursor.MatchOne(atToken)
	if matched.Code != atToken.Code {
		return nil, cursor.NewError(atToken)
	}

	matched = cursor.MatchOne(addressToken)
	if matched.Code != addressToken.Code {
		return nil, cursor.NewError(addressToken)
	}
	start, err := ParseAddress(matched.Text(cursor))
	if err != nil {
		return nil, err
	}
	spec.Start = start

	matched = cursor.MatchOne(colonToken)
	if matched.Code != colonToken.Code {
		return nil, cursor.NewError(colonToken)
	}

	matched = cursor.MatchOne(sizeToken)
	if matched.Code != sizeToken.Code {
		return nil, cursor.NewError(sizeToken)
	}
	size, err := ParseSize(matched.Text(cursor))
	if err != nil {
		return nil, err
	}
	spec.Size = size

	matched = cursor.MatchOne(colonToken)
	if matched.Code != colonToken.Code {
		return nil, cursor.NewError(colonToken)
	}

	matched = cursor.MatchOne(permsToken)
	if matched.Code != permsToken.Code {
		return nil, cursor.NewError(permsToken)
	}
	perms, err := parsePerms(matched.Text(cursor))
	if err != nil {
		return nil, err
	}
	spec.Perms = perms

	if cursor.Pos < cursor.InputSize {
		return nil, fmt.Errorf("unexpected trailing input in region spec %q", input)
	}
	return spec, nil
}

// ParseAddress parses a hexadecimal address literal such as "0x20000000".
func ParseAddress(text string) (uintptr, error) {
	normalized := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(text)), "0x")
	value, err := strconv.ParseUint(normalized, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", text, err)
	}
	return uintptr(value), nil
}

// ParseSize parses a size literal: plain bytes ("4096") or with a K/M
// binary suffix ("64K", "1M").
func ParseSize(text string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(text))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := 1
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
		s = s[:len(s)-1]
	case 'M':
		multiplier = 1 << 20
		s = s[:len(s)-1]
	}
	value, err := toolbox.ToInt(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", text, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size %q is not positive", text)
	}
	return value * multiplier, nil
}

func parsePerms(text string) (platform.Permissions, error) {
	switch strings.ToLower(text) {
	case "rx", "r-x":
		return platform.PermReadExecute, nil
	case "rw", "rw-":
		return platform.PermReadWrite, nil
	case "---", "none":
		return platform.PermKernelOnly, nil
	}
	return 0, fmt.Errorf("unknown region permissions %q", text)
}
