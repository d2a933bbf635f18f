// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package refbackend

import (
	"github.com/holiman/uint256"
	"github.com/probechain/evmjit/core/evmjit"
)

// Reserved parameter value IDs: a small fixed ID range below zero, kept
// clear of the first real SSA value so they can be recognized on sight.
const (
	paramGas      = -1
	paramSP       = -2
	paramStackLen = -3
)

// Builder implements evmjit.Builder by constructing this package's IR,
// one Function at a time.
type Builder struct {
	prog     *Program
	fn       *Function
	curBlock *BasicBlock
	nextVal  int

	types  []TypeDesc
	blocks []*BasicBlock
}

// NewBuilder starts building a fresh function named name.
func NewBuilder(prog *Program, name string) *Builder {
	fn := &Function{Name: name}
	prog.Functions[name] = fn
	return &Builder{prog: prog, fn: fn, nextVal: 0}
}

func (b *Builder) newValue() evmjit.Value {
	v := evmjit.Value{ID: b.nextVal}
	b.nextVal++
	return v
}

func (b *Builder) emit(inst *Instruction) evmjit.Value {
	inst.Result = Value{ID: inst.Result.ID}
	b.curBlock.Instructions = append(b.curBlock.Instructions, inst)
	return evmjit.Value{ID: inst.Result.ID}
}

// ---- Types ----

func (b *Builder) TypeInt(bits int) evmjit.Type {
	b.types = append(b.types, TypeDesc{Kind: KindInt, Bits: bits})
	return evmjit.Type{ID: len(b.types) - 1}
}

func (b *Builder) TypePtr() evmjit.Type {
	b.types = append(b.types, TypeDesc{Kind: KindPtr})
	return evmjit.Type{ID: len(b.types) - 1}
}

func (b *Builder) TypePtrSizedInt() evmjit.Type { return b.TypeInt(64) }

func (b *Builder) TypeArray(elem evmjit.Type, n int) evmjit.Type {
	et := b.types[elem.ID]
	b.types = append(b.types, TypeDesc{Kind: KindArray, Elem: &et, Count: n})
	return evmjit.Type{ID: len(b.types) - 1}
}

func (b *Builder) typeDesc(t evmjit.Type) TypeDesc { return b.types[t.ID] }

// ---- Constants ----

func (b *Builder) Iconst(t evmjit.Type, v int64) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpIconst, Result: Value{ID: rv.ID}, Imm: v, Type: b.typeDesc(t)})
}

func (b *Builder) Iconst256(v *uint256.Int) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpIconst256, Result: Value{ID: rv.ID}, Const256: v})
}

// ---- Blocks ----

func (b *Builder) CreateBlock(name string) evmjit.Block {
	bb := &BasicBlock{Label: name}
	b.fn.Blocks = append(b.fn.Blocks, bb)
	b.blocks = append(b.blocks, bb)
	return evmjit.Block{ID: len(b.blocks) - 1}
}

func (b *Builder) CreateBlockAfter(after evmjit.Block, name string) evmjit.Block {
	return b.CreateBlock(name)
}

func (b *Builder) CurrentBlock() evmjit.Block {
	for i, bb := range b.blocks {
		if bb == b.curBlock {
			return evmjit.Block{ID: i}
		}
	}
	return evmjit.Block{ID: -1}
}

func (b *Builder) SwitchToBlock(bl evmjit.Block) { b.curBlock = b.blocks[bl.ID] }
func (b *Builder) SealBlock(bl evmjit.Block)      { b.blocks[bl.ID].Sealed = true }
func (b *Builder) SetColdBlock(bl evmjit.Block)   { b.blocks[bl.ID].Cold = true }

// ---- Function shape ----

func (b *Builder) FnParam(i int) evmjit.Value {
	switch i {
	case 0:
		return evmjit.Value{ID: paramGas}
	case 1:
		return evmjit.Value{ID: paramSP}
	case 2:
		return evmjit.Value{ID: paramStackLen}
	default:
		panic("refbackend: only 3 function params are modeled")
	}
}

func (b *Builder) Ret(values []evmjit.Value) {
	vs := make([]Value, len(values))
	for i, v := range values {
		vs[i] = Value{ID: v.ID}
	}
	b.curBlock.Terminator = TermRet{Values: vs}
}

// ---- Control ----

func (b *Builder) Br(target evmjit.Block) {
	b.curBlock.Terminator = TermBr{Target: b.blocks[target.ID]}
}

func (b *Builder) Brif(cond evmjit.Value, thenBlk, elseBlk evmjit.Block) {
	b.curBlock.Terminator = TermBrif{
		Cond:    Value{ID: cond.ID},
		ThenBlk: b.blocks[thenBlk.ID],
		ElseBlk: b.blocks[elseBlk.ID],
	}
}

// ---- Memory ----

func (b *Builder) NewStackSlot(t evmjit.Type, name string) evmjit.Value {
	td := b.typeDesc(t)
	n := 1
	if td.Kind == KindArray {
		n = td.Count
	}
	slot := &StackSlot{Name: name, Type: td, Storage: make([]interface{}, n)}
	b.fn.StackSlots = append(b.fn.StackSlots, slot)
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpNewStackSlot, Result: Value{ID: rv.ID}, SlotIdx: len(b.fn.StackSlots) - 1})
}

func (b *Builder) StackAddr(slot evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpStackAddr, Result: Value{ID: rv.ID}, Operands: []Value{{ID: slot.ID}}})
}

func (b *Builder) StackLoad(t evmjit.Type, slot evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpStackLoad, Result: Value{ID: rv.ID}, Operands: []Value{{ID: slot.ID}}, Type: b.typeDesc(t)})
}

func (b *Builder) StackStore(v evmjit.Value, slot evmjit.Value) {
	b.emit(&Instruction{Op: OpStackStore, Operands: []Value{{ID: v.ID}, {ID: slot.ID}}})
}

func (b *Builder) Load(t evmjit.Type, ptr evmjit.Value, name string) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpLoad, Result: Value{ID: rv.ID}, Operands: []Value{{ID: ptr.ID}}, Type: b.typeDesc(t)})
}

func (b *Builder) Store(v evmjit.Value, ptr evmjit.Value) {
	b.emit(&Instruction{Op: OpStore, Operands: []Value{{ID: v.ID}, {ID: ptr.ID}}})
}

func (b *Builder) Gep(elemType evmjit.Type, base evmjit.Value, index evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpGep, Result: Value{ID: rv.ID}, Operands: []Value{{ID: base.ID}, {ID: index.ID}}, Type: b.typeDesc(elemType)})
}

// ---- Arithmetic ----

func (b *Builder) binop(op Op, a, bv evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: op, Result: Value{ID: rv.ID}, Operands: []Value{{ID: a.ID}, {ID: bv.ID}}})
}

func (b *Builder) Iadd(a, bv evmjit.Value) evmjit.Value { return b.binop(OpIadd, a, bv) }
func (b *Builder) Isub(a, bv evmjit.Value) evmjit.Value { return b.binop(OpIsub, a, bv) }
func (b *Builder) Imul(a, bv evmjit.Value) evmjit.Value { return b.binop(OpImul, a, bv) }
func (b *Builder) Udiv(a, bv evmjit.Value) evmjit.Value { return b.binop(OpUdiv, a, bv) }
func (b *Builder) Sdiv(a, bv evmjit.Value) evmjit.Value { return b.binop(OpSdiv, a, bv) }
func (b *Builder) Urem(a, bv evmjit.Value) evmjit.Value { return b.binop(OpUrem, a, bv) }
func (b *Builder) Srem(a, bv evmjit.Value) evmjit.Value { return b.binop(OpSrem, a, bv) }
func (b *Builder) Bitand(a, bv evmjit.Value) evmjit.Value { return b.binop(OpBitand, a, bv) }
func (b *Builder) Bitor(a, bv evmjit.Value) evmjit.Value  { return b.binop(OpBitor, a, bv) }
func (b *Builder) Bitxor(a, bv evmjit.Value) evmjit.Value { return b.binop(OpBitxor, a, bv) }

func (b *Builder) Bitnot(a evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpBitnot, Result: Value{ID: rv.ID}, Operands: []Value{{ID: a.ID}}})
}

func (b *Builder) Ishl(a, bv evmjit.Value) evmjit.Value { return b.binop(OpIshl, a, bv) }
func (b *Builder) Ushr(a, bv evmjit.Value) evmjit.Value { return b.binop(OpUshr, a, bv) }
func (b *Builder) Sshr(a, bv evmjit.Value) evmjit.Value { return b.binop(OpSshr, a, bv) }

// ---- Comparisons ----

func (b *Builder) Icmp(cc evmjit.IntCC, a, bv evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpIcmp, Result: Value{ID: rv.ID}, Operands: []Value{{ID: a.ID}, {ID: bv.ID}}, CC: IntCC(cc)})
}

func (b *Builder) IcmpImm(cc evmjit.IntCC, a evmjit.Value, imm int64) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpIcmpImm, Result: Value{ID: rv.ID}, Operands: []Value{{ID: a.ID}}, CC: IntCC(cc), Imm: imm})
}

// ---- Conversions ----

func (b *Builder) Zext(t evmjit.Type, v evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpZext, Result: Value{ID: rv.ID}, Operands: []Value{{ID: v.ID}}, Type: b.typeDesc(t)})
}

// ---- Utilities ----

func (b *Builder) IsNull(v evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpIsNull, Result: Value{ID: rv.ID}, Operands: []Value{{ID: v.ID}}})
}

func (b *Builder) IsNotNull(v evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpIsNotNull, Result: Value{ID: rv.ID}, Operands: []Value{{ID: v.ID}}})
}

func (b *Builder) Select(cond, thenVal, elseVal evmjit.Value) evmjit.Value {
	rv := b.newValue()
	return b.emit(&Instruction{Op: OpSelect, Result: Value{ID: rv.ID}, Operands: []Value{{ID: cond.ID}, {ID: thenVal.ID}, {ID: elseVal.ID}}})
}

// LazySelect builds thenBuild/elseBuild into two distinct blocks, each
// storing its result to a shared temp slot before branching to a merge
// block that loads it back. This is what makes the divide-by-zero short
// circuit real: at interpretation time, only the branch the condition
// actually selects ever runs its instructions — the other is simply never
// visited, exactly as if it were never built.
func (b *Builder) LazySelect(cond evmjit.Value, t evmjit.Type, thenBuild, elseBuild func(evmjit.Builder) evmjit.Value) evmjit.Value {
	resultSlot := b.NewStackSlot(t, "lazy_select.result")

	thenBlk := b.CreateBlock("lazy_select.then")
	elseBlk := b.CreateBlock("lazy_select.else")
	contBlk := b.CreateBlock("lazy_select.cont")
	b.Brif(cond, thenBlk, elseBlk)

	b.SwitchToBlock(thenBlk)
	v1 := thenBuild(b)
	b.StackStore(v1, resultSlot)
	b.Br(contBlk)
	b.SealBlock(thenBlk)

	b.SwitchToBlock(elseBlk)
	v2 := elseBuild(b)
	b.StackStore(v2, resultSlot)
	b.Br(contBlk)
	b.SealBlock(elseBlk)

	b.SwitchToBlock(contBlk)
	return b.StackLoad(t, resultSlot)
}

func (b *Builder) Nop() { b.emit(&Instruction{Op: OpNop}) }

func (b *Builder) Panic(msg string) { b.emit(&Instruction{Op: OpPanic, PanicMsg: msg}) }

func (b *Builder) AddCommentToCurrentInst(comment string) {
	if n := len(b.curBlock.Instructions); n > 0 {
		b.curBlock.Instructions[n-1].Comment = comment
	}
}
