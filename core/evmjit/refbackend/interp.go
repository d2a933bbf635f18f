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

	"github.com/holiman/uint256"
	"github.com/probechain/evmjit/core/evmjit"
)

// GasCells is the two-cell gas struct the compiled-function ABI specifies:
// [limit, used].
type GasCells struct {
	Limit int64
	Used  int64
}

// Stack is the 1024-slot u256 buffer plus its length cell.
type Stack struct {
	Buf [1024]uint256.Int
	Len int64
}

// extBuf is how the interpreter reads/writes one addressable cell,
// whether it lives in caller-supplied memory (gas cells, the stack) or in
// a function-local stack slot.
type extBuf interface {
	Get(i int) interface{}
	Set(i int, v interface{})
}

type fieldBuf struct {
	get func(i int) interface{}
	set func(i int, v interface{})
}

func (f *fieldBuf) Get(i int) interface{}      { return f.get(i) }
func (f *fieldBuf) Set(i int, v interface{})   { f.set(i, v) }

type slotBuf struct{ slot *StackSlot }

func (s *slotBuf) Get(i int) interface{}    { return s.slot.Storage[i] }
func (s *slotBuf) Set(i int, v interface{}) { s.slot.Storage[i] = v }

type addr struct {
	buf extBuf
	idx int
}

type slotRef struct{ slot *StackSlot }

// Interp runs a refbackend Function against caller-supplied gas/stack
// buffers, exactly as the emitted native function's ABI describes.
type Interp struct {
	fn   *Function
	vals map[int]interface{}

	gasBuf, spBuf, lenBuf extBuf
}

// Run interprets fn with gas == nil meaning the ABI's gas_ptr must not be
// dereferenced (disabled-gas, non-stored configurations) and stack == nil
// meaning sp_ptr/stack_len_ptr must not be dereferenced. Passing non-nil
// buffers the translator's configuration doesn't use is harmless.
func Run(fn *Function, gas *GasCells, stack *Stack) (evmjit.InstructionResult, error) {
	ip := &Interp{fn: fn, vals: make(map[int]interface{})}

	if gas != nil {
		ip.gasBuf = &fieldBuf{
			get: func(i int) interface{} {
				if i == 0 {
					return gas.Limit
				}
				return gas.Used
			},
			set: func(i int, v interface{}) {
				n := v.(int64)
				if i == 0 {
					gas.Limit = n
				} else {
					gas.Used = n
				}
			},
		}
	}
	if stack != nil {
		ip.spBuf = &fieldBuf{
			get: func(i int) interface{} { return &stack.Buf[i] },
			set: func(i int, v interface{}) { stack.Buf[i] = *(v.(*uint256.Int)) },
		}
		ip.lenBuf = &fieldBuf{
			get: func(i int) interface{} { return stack.Len },
			set: func(i int, v interface{}) { stack.Len = v.(int64) },
		}
	}

	if len(fn.Blocks) == 0 {
		return 0, fmt.Errorf("refbackend: function %q has no blocks", fn.Name)
	}
	return ip.run(fn.Blocks[0])
}

func (ip *Interp) run(block *BasicBlock) (evmjit.InstructionResult, error) {
	for {
		for _, inst := range block.Instructions {
			if err := ip.exec(inst); err != nil {
				return 0, err
			}
		}
		switch term := block.Terminator.(type) {
		case TermRet:
			v := ip.resolve(term.Values[0])
			return evmjit.InstructionResult(asInt64(v)), nil
		case TermBr:
			block = term.Target
		case TermBrif:
			if asInt64(ip.resolve(term.Cond)) != 0 {
				block = term.ThenBlk
			} else {
				block = term.ElseBlk
			}
		case nil:
			return 0, fmt.Errorf("refbackend: block %q has no terminator", block.Label)
		default:
			return 0, fmt.Errorf("refbackend: unknown terminator %T", term)
		}
	}
}

func (ip *Interp) resolve(v Value) interface{} {
	switch v.ID {
	case paramGas:
		return addr{buf: ip.gasBuf, idx: 0}
	case paramSP:
		return addr{buf: ip.spBuf, idx: 0}
	case paramStackLen:
		return addr{buf: ip.lenBuf, idx: 0}
	default:
		return ip.vals[v.ID]
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case *uint256.Int:
		return int64(n.Uint64())
	default:
		panic(fmt.Sprintf("refbackend: expected integer, got %T", v))
	}
}

func asU256(v interface{}) *uint256.Int {
	switch n := v.(type) {
	case *uint256.Int:
		return n
	case int64:
		return uint256.NewInt(uint64(n))
	default:
		panic(fmt.Sprintf("refbackend: expected u256, got %T", v))
	}
}

// isU256 reports whether a value should be treated as u256 arithmetic
// rather than isize arithmetic; both share the same IR ops (OpIadd etc.),
// so the interpreter dispatches on operand representation.
func isU256(v interface{}) bool {
	_, ok := v.(*uint256.Int)
	return ok
}

func (ip *Interp) exec(inst *Instruction) error {
	switch inst.Op {
	case OpIconst:
		ip.vals[inst.Result.ID] = inst.Imm
	case OpIconst256:
		ip.vals[inst.Result.ID] = new(uint256.Int).Set(inst.Const256)

	case OpNewStackSlot:
		ip.vals[inst.Result.ID] = &slotRef{slot: ip.fn.StackSlots[inst.SlotIdx]}

	case OpStackAddr:
		sr := ip.resolve(inst.Operands[0]).(*slotRef)
		ip.vals[inst.Result.ID] = addr{buf: &slotBuf{slot: sr.slot}, idx: 0}

	case OpStackLoad:
		sr := ip.resolve(inst.Operands[0]).(*slotRef)
		ip.vals[inst.Result.ID] = sr.slot.Storage[0]

	case OpStackStore:
		v := ip.resolve(inst.Operands[0])
		sr := ip.resolve(inst.Operands[1]).(*slotRef)
		sr.slot.Storage[0] = v

	case OpLoad:
		a := ip.resolve(inst.Operands[0]).(addr)
		ip.vals[inst.Result.ID] = a.buf.Get(a.idx)

	case OpStore:
		v := ip.resolve(inst.Operands[0])
		a := ip.resolve(inst.Operands[1]).(addr)
		a.buf.Set(a.idx, v)

	case OpGep:
		base := ip.resolve(inst.Operands[0]).(addr)
		idx := asInt64(ip.resolve(inst.Operands[1]))
		ip.vals[inst.Result.ID] = addr{buf: base.buf, idx: base.idx + int(idx)}

	case OpIadd, OpIsub, OpImul, OpUdiv, OpSdiv, OpUrem, OpSrem,
		OpBitand, OpBitor, OpBitxor, OpIshl, OpUshr, OpSshr:
		ip.vals[inst.Result.ID] = ip.binop(inst.Op, ip.resolve(inst.Operands[0]), ip.resolve(inst.Operands[1]))

	case OpBitnot:
		a := ip.resolve(inst.Operands[0])
		if isU256(a) {
			ip.vals[inst.Result.ID] = new(uint256.Int).Not(asU256(a))
		} else {
			ip.vals[inst.Result.ID] = ^asInt64(a)
		}

	case OpIcmp:
		a, b := ip.resolve(inst.Operands[0]), ip.resolve(inst.Operands[1])
		ip.vals[inst.Result.ID] = boolToInt64(ip.compare(inst.CC, a, b))

	case OpIcmpImm:
		a := ip.resolve(inst.Operands[0])
		var b interface{}
		if isU256(a) {
			b = uint256.NewInt(uint64(inst.Imm))
		} else {
			b = inst.Imm
		}
		ip.vals[inst.Result.ID] = boolToInt64(ip.compare(inst.CC, a, b))

	case OpZext:
		a := ip.resolve(inst.Operands[0])
		if inst.Type.Kind == KindInt && inst.Type.Bits == 256 {
			ip.vals[inst.Result.ID] = uint256.NewInt(uint64(asInt64(a)))
		} else {
			ip.vals[inst.Result.ID] = asInt64(a)
		}

	case OpIsNull:
		a := ip.resolve(inst.Operands[0])
		_, ok := a.(addr)
		ip.vals[inst.Result.ID] = boolToInt64(!ok)

	case OpIsNotNull:
		a := ip.resolve(inst.Operands[0])
		_, ok := a.(addr)
		ip.vals[inst.Result.ID] = boolToInt64(ok)

	case OpSelect:
		cond := asInt64(ip.resolve(inst.Operands[0]))
		if cond != 0 {
			ip.vals[inst.Result.ID] = ip.resolve(inst.Operands[1])
		} else {
			ip.vals[inst.Result.ID] = ip.resolve(inst.Operands[2])
		}

	case OpNop, OpPanic:
		// no-op for interpretation purposes

	default:
		return fmt.Errorf("refbackend: unhandled op %s", inst.Op)
	}
	return nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (ip *Interp) binop(op Op, a, b interface{}) interface{} {
	if isU256(a) || isU256(b) {
		x, y := asU256(a), asU256(b)
		switch op {
		case OpIadd:
			return new(uint256.Int).Add(x, y)
		case OpIsub:
			return new(uint256.Int).Sub(x, y)
		case OpImul:
			return new(uint256.Int).Mul(x, y)
		case OpUdiv:
			return new(uint256.Int).Div(x, y)
		case OpSdiv:
			return new(uint256.Int).SDiv(x, y)
		case OpUrem:
			return new(uint256.Int).Mod(x, y)
		case OpSrem:
			return new(uint256.Int).SMod(x, y)
		case OpBitand:
			return new(uint256.Int).And(x, y)
		case OpBitor:
			return new(uint256.Int).Or(x, y)
		case OpBitxor:
			return new(uint256.Int).Xor(x, y)
		case OpIshl:
			return new(uint256.Int).Lsh(x, uint(y.Uint64()))
		case OpUshr:
			return new(uint256.Int).Rsh(x, uint(y.Uint64()))
		case OpSshr:
			return new(uint256.Int).SRsh(x, uint(y.Uint64()))
		}
	}
	x, y := asInt64(a), asInt64(b)
	switch op {
	case OpIadd:
		return x + y
	case OpIsub:
		return x - y
	case OpImul:
		return x * y
	case OpUdiv:
		return int64(uint64(x) / uint64(y))
	case OpSdiv:
		return x / y
	case OpUrem:
		return int64(uint64(x) % uint64(y))
	case OpSrem:
		return x % y
	case OpBitand:
		return x & y
	case OpBitor:
		return x | y
	case OpBitxor:
		return x ^ y
	case OpIshl:
		return x << uint(y)
	case OpUshr:
		return int64(uint64(x) >> uint(y))
	case OpSshr:
		return x >> uint(y)
	}
	panic("refbackend: unreachable binop")
}

func (ip *Interp) compare(cc IntCC, a, b interface{}) bool {
	if isU256(a) || isU256(b) {
		x, y := asU256(a), asU256(b)
		switch evmjit.IntCC(cc) {
		case evmjit.Equal:
			return x.Eq(y)
		case evmjit.NotEqual:
			return !x.Eq(y)
		case evmjit.UnsignedLess:
			return x.Lt(y)
		case evmjit.UnsignedGreater:
			return x.Gt(y)
		case evmjit.UnsignedLessEqual:
			return x.Lt(y) || x.Eq(y)
		case evmjit.UnsignedGreaterEqual:
			return x.Gt(y) || x.Eq(y)
		case evmjit.SignedLess:
			return x.Slt(y)
		case evmjit.SignedGreater:
			return x.Sgt(y)
		case evmjit.SignedLessEqual:
			return x.Slt(y) || x.Eq(y)
		case evmjit.SignedGreaterEqual:
			return x.Sgt(y) || x.Eq(y)
		}
	}
	x, y := asInt64(a), asInt64(b)
	switch evmjit.IntCC(cc) {
	case evmjit.Equal:
		return x == y
	case evmjit.NotEqual:
		return x != y
	case evmjit.UnsignedLess:
		return uint64(x) < uint64(y)
	case evmjit.UnsignedGreater:
		return uint64(x) > uint64(y)
	case evmjit.UnsignedLessEqual:
		return uint64(x) <= uint64(y)
	case evmjit.UnsignedGreaterEqual:
		return uint64(x) >= uint64(y)
	case evmjit.SignedLess:
		return x < y
	case evmjit.SignedGreater:
		return x > y
	case evmjit.SignedLessEqual:
		return x <= y
	case evmjit.SignedGreaterEqual:
		return x >= y
	}
	return false
}
