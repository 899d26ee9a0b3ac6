// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for security-critical
// identifiers.
//
// The validators here cover user-supplied values that end up inside store
// keys, object names, or file paths. Location IDs, for example, are embedded
// in exit keys as "exit:<origin>|<direction>"; an ID carrying the separator
// would corrupt the key space. Validating at the boundary keeps that class
// of bug out of the storage layer entirely.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// locationIDPattern matches IDs the engine mints (uuid strings) and the
// slugs operators use for hand-seeded roots. Letters, digits, dots,
// underscores, and hyphens; 1-64 characters; must start alphanumeric.
var locationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]{0,63}$`)

// sourceNamePattern matches lore source names and snapshot names: like
// location IDs but slashes are allowed so sources can mirror file paths.
var sourceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/\-]{0,255}$`)

// ValidateLocationID rejects IDs that cannot be embedded in store keys.
//
// Valid IDs are 1-64 characters of letters, digits, dots, underscores, and
// hyphens, starting with a letter or digit. This covers uuid strings and
// manual slugs while excluding the key separators (':' and '|'), path
// separators, whitespace, and control characters.
func ValidateLocationID(id string) error {
	if id == "" {
		return fmt.Errorf("location id cannot be empty")
	}
	if !locationIDPattern.MatchString(id) {
		return fmt.Errorf("invalid location id %q (1-64 alphanumeric, dot, underscore, or hyphen characters)", id)
	}
	return nil
}

// ValidateLocationIDs validates a batch of IDs, reporting every invalid one.
func ValidateLocationIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateLocationID(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid location ids: %v", invalid)
	}
	return nil
}

// ValidateSourceName rejects lore-source and snapshot names unsafe for use
// as object names or path components. Path traversal ("..") is refused even
// though the character set would otherwise admit it.
func ValidateSourceName(name string) error {
	if name == "" {
		return fmt.Errorf("source name cannot be empty")
	}
	if !sourceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid source name %q", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("invalid source name %q: path traversal", name)
	}
	return nil
}

// SanitizeLocationID trims whitespace and validates. Returns the cleaned ID
// when valid.
func SanitizeLocationID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateLocationID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
