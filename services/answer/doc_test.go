// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package answer

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageDoc(t *testing.T) {
	names, err := filepath.Glob("*.go")
	require.NoError(t, err)

	fset := token.NewFileSet()
	docs := 0
	for _, name := range names {
		f, err := parser.ParseFile(fset, name, nil, parser.ParseComments|parser.PackageClauseOnly)
		require.NoError(t, err, name)
		if f.Doc == nil {
			continue
		}
		docs++
		text := f.Doc.Text()
		assert.NotContains(t, text, "License", name)
		assert.True(t, strings.HasPrefix(text, "Package answer "), "%s: %q", name, text)
	}
	assert.Equal(t, 1, docs, "exactly one file carries the package doc (answer.go)")
}
