// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package evmjit

import "github.com/holiman/uint256"

// Type is an opaque handle to a backend type, returned by the Type* family
// of Builder methods. The ID is only meaningful to the backend that issued
// it; the translator never interprets it, only threads it back through
// later Builder calls.
type Type struct{ ID int }

// Value is an opaque handle to a backend SSA value or address.
type Value struct{ ID int }

// Block is an opaque handle to a backend basic block.
type Block struct{ ID int }

// IntCC is a condition code for integer comparisons.
type IntCC int

const (
	Equal IntCC = iota
	NotEqual
	UnsignedLess
	UnsignedGreater
	UnsignedLessEqual
	UnsignedGreaterEqual
	SignedLess
	SignedGreater
	SignedLessEqual
	SignedGreaterEqual
)

func (cc IntCC) String() string {
	switch cc {
	case Equal:
		return "eq"
	case NotEqual:
		return "ne"
	case UnsignedLess:
		return "ult"
	case UnsignedGreater:
		return "ugt"
	case UnsignedLessEqual:
		return "ule"
	case UnsignedGreaterEqual:
		return "uge"
	case SignedLess:
		return "slt"
	case SignedGreater:
		return "sgt"
	case SignedLessEqual:
		return "sle"
	case SignedGreaterEqual:
		return "sge"
	default:
		return "cc(?)"
	}
}

// Builder is the narrow, backend-agnostic IR-construction capability set
// the translator drives. A concrete backend (an LLVM- or Cranelift-style
// native code generator, or — as shipped here — a direct IR interpreter
// used for testing) implements this interface; the translator never knows
// which.
//
// Handles (Type, Value, Block) are opaque value types, never raw pointers,
// so that no backend is forced into any particular handle representation.
type Builder interface {
	// Types.
	TypeInt(bits int) Type
	TypePtr() Type
	TypePtrSizedInt() Type
	TypeArray(elem Type, n int) Type

	// Constants.
	Iconst(t Type, v int64) Value
	Iconst256(v *uint256.Int) Value

	// Blocks.
	CreateBlock(name string) Block
	CreateBlockAfter(after Block, name string) Block
	CurrentBlock() Block
	SwitchToBlock(b Block)
	SealBlock(b Block)
	SetColdBlock(b Block)

	// Function shape.
	FnParam(i int) Value
	Ret(values []Value)

	// Control flow.
	Br(target Block)
	Brif(cond Value, thenBlk, elseBlk Block)

	// Memory.
	NewStackSlot(t Type, name string) Value
	StackAddr(slot Value) Value
	StackLoad(t Type, slot Value) Value
	StackStore(v Value, slot Value)
	Load(t Type, ptr Value, name string) Value
	Store(v Value, ptr Value)
	Gep(elemType Type, base Value, index Value) Value

	// Arithmetic over 256-bit (and narrower, for isize/u8 bookkeeping).
	Iadd(a, b Value) Value
	Isub(a, b Value) Value
	Imul(a, b Value) Value
	Udiv(a, b Value) Value
	Sdiv(a, b Value) Value
	Urem(a, b Value) Value
	Srem(a, b Value) Value
	Bitand(a, b Value) Value
	Bitor(a, b Value) Value
	Bitxor(a, b Value) Value
	Bitnot(a Value) Value
	Ishl(a, b Value) Value
	Ushr(a, b Value) Value
	Sshr(a, b Value) Value

	// Comparisons.
	Icmp(cc IntCC, a, b Value) Value
	IcmpImm(cc IntCC, a Value, imm int64) Value

	// Conversions.
	Zext(t Type, v Value) Value

	// Utilities.
	IsNull(v Value) Value
	IsNotNull(v Value) Value
	Select(cond, thenVal, elseVal Value) Value
	// LazySelect builds thenBuild/elseBuild into two distinct blocks rather
	// than evaluating both eagerly. Required for divide-by-zero short
	// circuiting: the divide, built as the else branch, must never execute
	// when the divisor is zero.
	LazySelect(cond Value, t Type, thenBuild, elseBuild func(Builder) Value) Value

	// Auxiliary.
	Nop()
	Panic(msg string)
	AddCommentToCurrentInst(comment string)
}
