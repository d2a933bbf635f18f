// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package refbackend

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/probechain/evmjit/core/evmjit"
)

func TestBuilderAddAndRet(t *testing.T) {
	eng := NewEngine()
	b, err := eng.NewFunction("add")
	if err != nil {
		t.Fatalf("NewFunction: %v", err)
	}

	u8 := b.TypeInt(8)
	u256 := b.TypeInt(256)
	x := b.Iconst256(uint256.NewInt(40))
	y := b.Iconst256(uint256.NewInt(2))
	sum := b.Iadd(x, y)

	slot := b.NewStackSlot(u256, "result")
	b.StackStore(sum, slot)
	loaded := b.StackLoad(u256, slot)
	_ = loaded

	ok := b.Iconst(u8, int64(evmjit.Stop))
	b.Ret([]evmjit.Value{ok})

	if err := eng.Verify("add"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	handle, err := eng.Finalize("add")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	fn := handle.(*Function)

	res, err := Run(fn, &GasCells{Limit: 1000}, &Stack{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != evmjit.Stop {
		t.Fatalf("expected Stop, got %v", res)
	}
	if fn.StackSlots[0].Storage[0].(*uint256.Int).Uint64() != 42 {
		t.Fatalf("expected the stored slot value to be 42")
	}
}

// buildLazySelect builds a function that LazySelects between two constants
// based on a runtime condition, stores the result to a slot, and returns
// Stop; the divide-by-zero guard this models works the same way: only the
// branch the runtime condition actually picks ever has its block visited.
func buildLazySelect(t *testing.T, eng *Engine, name string, condVal int64) *Function {
	t.Helper()
	b, err := eng.NewFunction(name)
	if err != nil {
		t.Fatalf("NewFunction: %v", err)
	}
	u8 := b.TypeInt(8)
	u256 := b.TypeInt(256)

	cond := b.Iconst(u8, condVal)
	result := b.LazySelect(cond, u256,
		func(bld evmjit.Builder) evmjit.Value { return bld.Iconst256(uint256.NewInt(7)) },
		func(bld evmjit.Builder) evmjit.Value { return bld.Iconst256(uint256.NewInt(99)) },
	)
	slot := b.NewStackSlot(u256, "result")
	b.StackStore(result, slot)
	b.Ret([]evmjit.Value{b.Iconst(u8, int64(evmjit.Stop))})

	if err := eng.Verify(name); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	handle, err := eng.Finalize(name)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return handle.(*Function)
}

func TestLazySelectPicksTheConditionedBranch(t *testing.T) {
	eng := NewEngine()

	thenFn := buildLazySelect(t, eng, "lazy_then", 1)
	if _, err := Run(thenFn, &GasCells{Limit: 1000}, &Stack{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := thenFn.StackSlots[0].Storage[0].(*uint256.Int).Uint64(); got != 7 {
		t.Fatalf("cond=true should select the then branch (7), got %d", got)
	}

	elseFn := buildLazySelect(t, eng, "lazy_else", 0)
	if _, err := Run(elseFn, &GasCells{Limit: 1000}, &Stack{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := elseFn.StackSlots[0].Storage[0].(*uint256.Int).Uint64(); got != 99 {
		t.Fatalf("cond=false should select the else branch (99), got %d", got)
	}
}

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	eng := NewEngine()
	if _, err := eng.NewFunction("broken"); err != nil {
		t.Fatalf("NewFunction: %v", err)
	}
	// entry block never gets a terminator.
	if err := eng.Verify("broken"); err == nil {
		t.Fatalf("expected verification to reject a block with no terminator")
	}
}

func TestConstantFoldsIntConstants(t *testing.T) {
	fn := &Function{Name: "f"}
	entry := &BasicBlock{Label: "entry"}
	fn.Blocks = []*BasicBlock{entry}

	a := &Instruction{Op: OpIconst256, Result: Value{ID: 0}, Const256: uint256.NewInt(2)}
	b := &Instruction{Op: OpIconst256, Result: Value{ID: 1}, Const256: uint256.NewInt(3)}
	add := &Instruction{Op: OpIadd, Result: Value{ID: 2}, Operands: []Value{{ID: 0}, {ID: 1}}}
	entry.Instructions = []*Instruction{a, b, add}
	entry.Terminator = TermRet{Values: []Value{{ID: 2}}}

	ConstantFold(fn)

	folded := entry.Instructions[2]
	if folded.Op != OpIconst256 {
		t.Fatalf("expected the add to fold into a constant, got op %s", folded.Op)
	}
	if folded.Const256.Uint64() != 5 {
		t.Fatalf("expected folded constant 5, got %d", folded.Const256.Uint64())
	}
}

func TestDeadCodeEliminateDropsUnusedPureValue(t *testing.T) {
	fn := &Function{Name: "f"}
	entry := &BasicBlock{Label: "entry"}
	fn.Blocks = []*BasicBlock{entry}

	live := &Instruction{Op: OpIconst, Result: Value{ID: 0}, Imm: 1}
	dead := &Instruction{Op: OpIconst, Result: Value{ID: 1}, Imm: 2}
	entry.Instructions = []*Instruction{live, dead}
	entry.Terminator = TermRet{Values: []Value{{ID: 0}}}

	DeadCodeEliminate(fn)

	if len(entry.Instructions) != 1 {
		t.Fatalf("expected the unused constant to be eliminated, got %d instructions", len(entry.Instructions))
	}
	if entry.Instructions[0] != live {
		t.Fatalf("eliminated the wrong instruction")
	}
}
