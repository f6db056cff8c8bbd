// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pytree implements a generic nested-container traversal, used by graph.SymbolicWhile (and other
// control-flow frontends) to thread heterogeneous loop/branch state -- structs, maps, slices, and leaves
// (typically *graph.Node, but the package itself has no dependency on graph) -- through the indirect-call
// dispatcher without the caller having to manually flatten/unflatten its state type.
//
// It generalizes experimental/nest.Nest[T], which only supports a single fixed container shape (value, slice
// or map) chosen upfront by the caller. pytree instead inspects arbitrary Go values via reflection, recursing
// into maps (string-keyed), slices/arrays and plain structs, and treating everything else (including pointers,
// which is how graph leaves are represented) as a leaf.
package pytree

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/pkg/errors"
)

// Tree is any nested combination of string-keyed maps, slices/arrays, exported struct fields, and leaves.
// It carries no static type: the package documents the convention, it's not enforced by the type system.
type Tree = any

// isContainerKind reports whether reflect Kind k is recursed into by Flatten/Unflatten/Map, as opposed to
// being treated as an opaque leaf.
func isContainerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	default:
		return false
	}
}

// Flatten walks tree in a deterministic order (sorted map keys, struct fields in declaration order, slices/
// arrays in index order) and returns every leaf value found, along with a path string identifying where in
// tree it was found (e.g. "", "[2]", "['count']", ".Counter", "[0].Counter").
//
// Flatten panics (via a wrapped error) if tree contains a cycle reachable through maps or slices -- pointer
// identity of the underlying map/slice header is used as the cycle guard, mirroring the "no net change" kind
// of invariant the rest of the dispatcher relies on: a tree walked twice must look the same both times.
func Flatten(tree Tree) (leaves []any, paths []string) {
	v := reflect.ValueOf(tree)
	visiting := make(map[uintptr]bool)
	err := flattenInto(v, "", visiting, &leaves, &paths)
	if err != nil {
		panic(err)
	}
	return leaves, paths
}

func flattenInto(v reflect.Value, path string, visiting map[uintptr]bool, leaves *[]any, paths *[]string) error {
	if !v.IsValid() {
		*leaves = append(*leaves, nil)
		*paths = append(*paths, path)
		return nil
	}
	if !isContainerKind(v.Kind()) {
		*leaves = append(*leaves, v.Interface())
		*paths = append(*paths, path)
		return nil
	}

	var guard uintptr
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		if v.Kind() == reflect.Map && v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		guard = v.Pointer()
		if visiting[guard] {
			return errors.Errorf("pytree: cycle detected at path %q", path)
		}
		visiting[guard] = true
		defer delete(visiting, guard)
	}

	switch v.Kind() {
	case reflect.Map:
		keys := v.MapKeys()
		strKeys := make([]string, len(keys))
		keyByStr := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			s := fmt.Sprintf("%v", k.Interface())
			strKeys[i] = s
			keyByStr[s] = k
		}
		sort.Strings(strKeys)
		for _, s := range strKeys {
			elemPath := fmt.Sprintf("%s['%s']", path, s)
			if err := flattenInto(v.MapIndex(keyByStr[s]), elemPath, visiting, leaves, paths); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if err := flattenInto(v.Index(i), elemPath, visiting, leaves, paths); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			elemPath := fmt.Sprintf("%s.%s", path, field.Name)
			if err := flattenInto(v.Field(i), elemPath, visiting, leaves, paths); err != nil {
				return err
			}
		}
	}
	return nil
}

// Unflatten rebuilds a Tree with the same shape as template, but with its leaves replaced (in the same
// deterministic order used by Flatten) by the values in leaves.
//
// template is not modified; a new value is built. It panics if leaves doesn't have exactly as many elements
// as template has leaves, or if a leaf's reflect.Type is incompatible with the position it's placed in.
func Unflatten(template Tree, leaves []any) Tree {
	v := reflect.ValueOf(template)
	idx := 0
	out, err := unflattenFrom(v, leaves, &idx)
	if err != nil {
		panic(err)
	}
	if idx != len(leaves) {
		panic(errors.Errorf("pytree: Unflatten got %d leaves, template only has %d", len(leaves), idx))
	}
	if !out.IsValid() {
		return nil
	}
	return out.Interface()
}

func unflattenFrom(v reflect.Value, leaves []any, idx *int) (reflect.Value, error) {
	if !v.IsValid() || !isContainerKind(v.Kind()) {
		if *idx >= len(leaves) {
			return reflect.Value{}, errors.Errorf("pytree: Unflatten ran out of leaves at index %d", *idx)
		}
		leaf := leaves[*idx]
		*idx++
		if leaf == nil {
			return reflect.Zero(v.Type()), nil
		}
		lv := reflect.ValueOf(leaf)
		if v.IsValid() && lv.Type() != v.Type() && v.Type().Kind() != reflect.Interface {
			return reflect.Value{}, errors.Errorf("pytree: leaf type %s does not match template type %s", lv.Type(), v.Type())
		}
		return lv, nil
	}

	switch v.Kind() {
	case reflect.Map:
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		keys := v.MapKeys()
		strKeys := make([]string, len(keys))
		keyByStr := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			s := fmt.Sprintf("%v", k.Interface())
			strKeys[i] = s
			keyByStr[s] = k
		}
		sort.Strings(strKeys)
		for _, s := range strKeys {
			k := keyByStr[s]
			elem, err := unflattenFrom(v.MapIndex(k), leaves, idx)
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(k, elem)
		}
		return out, nil
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := unflattenFrom(v.Index(i), leaves, idx)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			elem, err := unflattenFrom(v.Index(i), leaves, idx)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				out.Field(i).Set(v.Field(i))
				continue
			}
			elem, err := unflattenFrom(v.Field(i), leaves, idx)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(i).Set(elem)
		}
		return out, nil
	}
	return reflect.Value{}, errors.Errorf("pytree: unsupported kind %s", v.Kind())
}

// Map applies fn to every leaf of tree (in Flatten's deterministic order, passing each leaf's path) and
// rebuilds a tree of the same shape with the transformed leaves.
func Map(tree Tree, fn func(path string, leaf any) any) Tree {
	leaves, paths := Flatten(tree)
	newLeaves := make([]any, len(leaves))
	for i, leaf := range leaves {
		newLeaves[i] = fn(paths[i], leaf)
	}
	return Unflatten(tree, newLeaves)
}

// NumLeaves returns the number of leaves tree would flatten to, without allocating the leaves/paths slices
// returned by Flatten.
func NumLeaves(tree Tree) int {
	leaves, _ := Flatten(tree)
	return len(leaves)
}
