// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pytree_test

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/pytree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loopState struct {
	Counter int
	Sum     float64
}

func TestFlattenUnflatten_Struct(t *testing.T) {
	tree := loopState{Counter: 3, Sum: 10.5}
	leaves, paths := pytree.Flatten(tree)
	require.Len(t, leaves, 2)
	assert.Equal(t, []string{".Counter", ".Sum"}, paths)
	assert.Equal(t, 3, leaves[0])
	assert.Equal(t, 10.5, leaves[1])

	rebuilt := pytree.Unflatten(tree, []any{7, 20.0}).(loopState)
	assert.Equal(t, loopState{Counter: 7, Sum: 20.0}, rebuilt)
}

func TestFlattenUnflatten_SliceAndMap(t *testing.T) {
	tree := map[string]any{
		"a": []int{1, 2, 3},
		"b": 42,
	}
	leaves, paths := pytree.Flatten(tree)
	require.Len(t, leaves, 4)
	assert.Equal(t, []string{"['a'][0]", "['a'][1]", "['a'][2]", "['b']"}, paths)

	rebuilt := pytree.Unflatten(tree, []any{10, 20, 30, 99}).(map[string]any)
	assert.Equal(t, []int{10, 20, 30}, rebuilt["a"])
	assert.Equal(t, 99, rebuilt["b"])
}

func TestMap(t *testing.T) {
	tree := []int{1, 2, 3}
	doubled := pytree.Map(tree, func(_ string, leaf any) any {
		return leaf.(int) * 2
	}).([]int)
	assert.Equal(t, []int{2, 4, 6}, doubled)
}

func TestNumLeaves(t *testing.T) {
	tree := loopState{Counter: 1, Sum: 2}
	assert.Equal(t, 2, pytree.NumLeaves(tree))
}

func TestFlatten_Cycle(t *testing.T) {
	m := make(map[string]any)
	m["self"] = m
	assert.Panics(t, func() {
		pytree.Flatten(m)
	})
}

func TestUnflatten_LeafCountMismatch(t *testing.T) {
	tree := []int{1, 2}
	assert.Panics(t, func() {
		pytree.Unflatten(tree, []any{1})
	})
}
