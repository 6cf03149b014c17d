// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[int](10)
	s.Insert(3, 7)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(5))

	s.Delete(3, 11)
	assert.Len(t, s, 1)
	assert.False(t, s.Has(3))
	assert.True(t, MakeWith(7).Has(7))
}

func TestUnionSorted(t *testing.T) {
	s := MakeWith(2, 0)
	u := s.Union(MakeWith(0, 1))
	assert.Len(t, u, 3)
	assert.Equal(t, []int{0, 1, 2}, Sorted(u))
	assert.Len(t, s, 2)
	assert.Empty(t, Sorted(Make[string]()))
}
