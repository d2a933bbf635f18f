// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package refbackend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/probechain/evmjit/core/evmjit"
)

// Engine implements evmjit.Backend over this package's Program: construct,
// translate, verify, optimize, finalize. Finalize doesn't machine-code
// anything; the Function itself is the callable handle, run via Run.
type Engine struct {
	prog *Program
}

// NewEngine starts an empty backend module.
func NewEngine() *Engine {
	return &Engine{prog: &Program{Functions: make(map[string]*Function)}}
}

// NewFunction starts a fresh function and positions its Builder at a new
// entry block.
func (e *Engine) NewFunction(name string) (evmjit.Builder, error) {
	if _, exists := e.prog.Functions[name]; exists {
		return nil, fmt.Errorf("refbackend: function %q already exists", name)
	}
	b := NewBuilder(e.prog, name)
	entry := b.CreateBlock("entry")
	b.SwitchToBlock(entry)
	return b, nil
}

func (e *Engine) lookup(name string) (*Function, error) {
	fn, ok := e.prog.Functions[name]
	if !ok {
		return nil, fmt.Errorf("refbackend: unknown function %q", name)
	}
	return fn, nil
}

// Verify checks that every block is terminated, and that every branch
// target and referenced stack slot actually exists. Whether blocks are
// sealed is not checked.
func (e *Engine) Verify(name string) error {
	fn, err := e.lookup(name)
	if err != nil {
		return err
	}
	return verify(fn)
}

// Optimize runs the package's fold/DCE/CSE/unreachable-block pipeline;
// evmjit.OptNone skips it entirely.
func (e *Engine) Optimize(name string, level evmjit.OptimizationLevel) error {
	fn, err := e.lookup(name)
	if err != nil {
		return err
	}
	if level == evmjit.OptNone {
		return nil
	}
	Optimize(fn)
	return nil
}

// Finalize returns the Function itself as the callable handle; pass it to
// refbackend.Run (with the function's GasCells/Stack) to execute it.
func (e *Engine) Finalize(name string) (evmjit.FnHandle, error) {
	return e.lookup(name)
}

// Dump writes a plain-text rendering of the named function's IR under dir.
func (e *Engine) Dump(name, dir string) error {
	fn, err := e.lookup(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name+".ir.txt"), []byte(dumpFunction(fn)), 0o644)
}

func dumpFunction(fn *Function) string {
	out := fmt.Sprintf("function %s\n", fn.Name)
	for _, slot := range fn.StackSlots {
		out += fmt.Sprintf("  slot %s : %d cell(s)\n", slot.Name, len(slot.Storage))
	}
	for _, block := range fn.Blocks {
		out += fmt.Sprintf("%s:\n", block.Label)
		for _, inst := range block.Instructions {
			out += fmt.Sprintf("  %s\n", inst)
		}
		out += fmt.Sprintf("  %v\n", block.Terminator)
	}
	return out
}
