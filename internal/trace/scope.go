/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package trace

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Bindings is an ordered name to value mapping.
// Names keep the order in which they were first bound; rebinding a name does not move it.
type Bindings struct {
	m *linkedhashmap.Map
}

func NewBindings() *Bindings {
	return &Bindings{m: linkedhashmap.New()}
}

func (b *Bindings) Set(name string, value any) {
	b.m.Put(name, value)
}

func (b *Bindings) Get(name string) (any, bool) {
	return b.m.Get(name)
}

func (b *Bindings) Has(name string) bool {
	_, found := b.m.Get(name)
	return found
}

func (b *Bindings) Len() int {
	return b.m.Size()
}

func (b *Bindings) Names() []string {
	keys := b.m.Keys()
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.(string))
	}
	return names
}

// Each calls fn for every binding in order. Iteration stops when fn returns false.
func (b *Bindings) Each(fn func(name string, value any) bool) {
	it := b.m.Iterator()
	for it.Next() {
		if !fn(it.Key().(string), it.Value()) {
			return
		}
	}
}

// Scope is the set of names visible to a command evaluated at a breakpoint.
// Locals shadow globals.
type Scope struct {
	Locals  *Bindings
	Globals *Bindings
}

func NewScope() *Scope {
	return &Scope{
		Locals:  NewBindings(),
		Globals: NewBindings(),
	}
}

// Lookup resolves a name, locals first.
func (s *Scope) Lookup(name string) (any, bool) {
	if v, found := s.Locals.Get(name); found {
		return v, true
	}
	return s.Globals.Get(name)
}
