// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package refbackend

import "github.com/holiman/uint256"

// Optimize runs all optimization passes on fn. It takes no level: the
// caller (Engine.Optimize) skips it for OptNone and runs this one pipeline
// for every other level.
func Optimize(fn *Function) {
	ConstantFold(fn)
	DeadCodeEliminate(fn)
	CommonSubexprEliminate(fn)
	DeadCodeEliminate(fn) // CSE leaves the now-redundant instruction for DCE to drop
	RemoveUnreachableBlocks(fn)
}

// ConstantFold evaluates iconst op iconst (and iconst256 op iconst256)
// pairs at compile time.
func ConstantFold(fn *Function) {
	changed := true
	for changed {
		changed = false
		defs := constDefs(fn)
		for _, block := range fn.Blocks {
			for i, inst := range block.Instructions {
				if folded, ok := tryFold(inst, defs); ok {
					block.Instructions[i] = folded
					changed = true
				}
			}
		}
	}
}

func constDefs(fn *Function) map[int]*Instruction {
	defs := make(map[int]*Instruction)
	for _, block := range fn.Blocks {
		for _, inst := range block.Instructions {
			if inst.Op == OpIconst || inst.Op == OpIconst256 {
				defs[inst.Result.ID] = inst
			}
		}
	}
	return defs
}

func tryFold(inst *Instruction, defs map[int]*Instruction) (*Instruction, bool) {
	if len(inst.Operands) != 2 {
		return nil, false
	}
	left, lok := defs[inst.Operands[0].ID]
	right, rok := defs[inst.Operands[1].ID]
	if !lok || !rok {
		return nil, false
	}

	if left.Op == OpIconst256 && right.Op == OpIconst256 {
		v, ok := foldU256(inst.Op, left.Const256, right.Const256)
		if !ok {
			return nil, false
		}
		return &Instruction{Op: OpIconst256, Result: inst.Result, Const256: v}, true
	}
	if left.Op == OpIconst && right.Op == OpIconst {
		v, ok := foldInt64(inst.Op, left.Imm, right.Imm)
		if !ok {
			return nil, false
		}
		return &Instruction{Op: OpIconst, Result: inst.Result, Imm: v, Type: inst.Type}, true
	}
	return nil, false
}

func foldU256(op Op, a, b *uint256.Int) (*uint256.Int, bool) {
	switch op {
	case OpIadd:
		return new(uint256.Int).Add(a, b), true
	case OpIsub:
		return new(uint256.Int).Sub(a, b), true
	case OpImul:
		return new(uint256.Int).Mul(a, b), true
	case OpBitand:
		return new(uint256.Int).And(a, b), true
	case OpBitor:
		return new(uint256.Int).Or(a, b), true
	case OpBitxor:
		return new(uint256.Int).Xor(a, b), true
	default:
		// Division-family ops are left alone: folding them here would
		// bypass the lazy-select divide-by-zero guard the translator built.
		return nil, false
	}
}

func foldInt64(op Op, a, b int64) (int64, bool) {
	switch op {
	case OpIadd:
		return a + b, true
	case OpIsub:
		return a - b, true
	case OpImul:
		return a * b, true
	case OpBitand:
		return a & b, true
	case OpBitor:
		return a | b, true
	case OpBitxor:
		return a ^ b, true
	default:
		return 0, false
	}
}

// DeadCodeEliminate removes instructions whose results are never used and
// which have no observable side effect.
func DeadCodeEliminate(fn *Function) {
	changed := true
	for changed {
		changed = false
		uses := make(map[int]int)
		for _, block := range fn.Blocks {
			for _, inst := range block.Instructions {
				for _, op := range inst.Operands {
					uses[op.ID]++
				}
			}
			switch term := block.Terminator.(type) {
			case TermBrif:
				uses[term.Cond.ID]++
			case TermRet:
				for _, v := range term.Values {
					uses[v.ID]++
				}
			}
		}

		for _, block := range fn.Blocks {
			alive := block.Instructions[:0]
			for _, inst := range block.Instructions {
				if uses[inst.Result.ID] > 0 || hasSideEffects(inst.Op) {
					alive = append(alive, inst)
				} else {
					changed = true
				}
			}
			block.Instructions = alive
		}
	}
}

func hasSideEffects(op Op) bool {
	switch op {
	case OpStore, OpStackStore, OpPanic, OpNop:
		return true
	default:
		return false
	}
}

// CommonSubexprEliminate replaces redundant pure computations within a
// block by rewriting every later reference to the redundant result onto
// the earlier one; DeadCodeEliminate then drops the now-unused instruction.
func CommonSubexprEliminate(fn *Function) {
	type exprKey struct {
		op  Op
		a, b int
		imm int64
		cc  IntCC
	}

	for _, block := range fn.Blocks {
		available := make(map[exprKey]Value)
		replace := make(map[int]Value)

		remap := func(v Value) Value {
			if r, ok := replace[v.ID]; ok {
				return r
			}
			return v
		}

		for _, inst := range block.Instructions {
			for i, op := range inst.Operands {
				inst.Operands[i] = remap(op)
			}
			// Loads are not pure: a store between two loads of the same
			// address can change what the second one reads.
			if hasSideEffects(inst.Op) || inst.Op == OpLoad || inst.Op == OpStackLoad ||
				len(inst.Operands) == 0 || len(inst.Operands) > 2 {
				continue
			}
			key := exprKey{op: inst.Op, imm: inst.Imm, cc: inst.CC, b: -1}
			key.a = inst.Operands[0].ID
			if len(inst.Operands) == 2 {
				key.b = inst.Operands[1].ID
			}
			if existing, ok := available[key]; ok {
				replace[inst.Result.ID] = existing
				continue
			}
			available[key] = inst.Result
		}

		if term, ok := block.Terminator.(TermBrif); ok {
			term.Cond = remap(term.Cond)
			block.Terminator = term
		}
		if term, ok := block.Terminator.(TermRet); ok {
			for i, v := range term.Values {
				term.Values[i] = remap(v)
			}
			block.Terminator = term
		}
	}
}

// RemoveUnreachableBlocks drops blocks no longer reachable from the entry
// block after folding/DCE may have simplified branches away.
func RemoveUnreachableBlocks(fn *Function) {
	if len(fn.Blocks) <= 1 {
		return
	}

	byLabel := make(map[*BasicBlock]bool)
	var walk func(*BasicBlock)
	walk = func(bb *BasicBlock) {
		if byLabel[bb] {
			return
		}
		byLabel[bb] = true
		switch term := bb.Terminator.(type) {
		case TermBr:
			walk(term.Target)
		case TermBrif:
			walk(term.ThenBlk)
			walk(term.ElseBlk)
		}
	}
	walk(fn.Blocks[0])

	alive := fn.Blocks[:0]
	for _, block := range fn.Blocks {
		if byLabel[block] {
			alive = append(alive, block)
		}
	}
	fn.Blocks = alive
}
