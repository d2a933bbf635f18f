// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package evmjit

import (
	"github.com/probechain/evmjit/params"
)

// OpcodeFlags is a bit set attached to one OpcodeData entry.
type OpcodeFlags uint8

const (
	// FlagDisabled marks an opcode not enabled in the active fork.
	FlagDisabled OpcodeFlags = 1 << iota
	// FlagSkipLogic marks an opcode whose body lowering should be skipped
	// (fall through to the successor after gas accounting).
	FlagSkipLogic
	// FlagSkipGas marks an opcode that should not emit a gas charge.
	FlagSkipGas
	// FlagStaticJump marks a JUMP/JUMPI whose target was resolved at
	// analysis time to a constant opcode-sequence index.
	FlagStaticJump
	// FlagInvalidJump marks a statically-resolved jump whose target is not
	// a JUMPDEST.
	FlagInvalidJump
)

// OpcodeData is one decoded opcode occurrence, in instruction order (not
// byte offset).
type OpcodeData struct {
	Opcode OpCode
	Flags  OpcodeFlags
	// Data is an auxiliary payload: for PUSHn, the byte offset of the
	// immediate in the raw bytecode; for PC, the program counter (source
	// byte offset); for a statically-resolved JUMP/JUMPI, the index into
	// the opcode sequence of the jump target.
	Data uint32
	// Pc is the source byte offset this opcode occurred at.
	Pc uint32
}

func (d OpcodeData) has(f OpcodeFlags) bool { return d.Flags&f != 0 }

// Bytecode is an immutable decoded program: the fork spec, the original raw
// bytes, and the analyzed opcode sequence.
type Bytecode struct {
	Spec  params.SpecId
	Raw   []byte
	Ops   []OpcodeData
	// jumpdests maps a source byte offset to true iff it holds a JUMPDEST
	// that is enabled under Spec.
	jumpdests map[uint32]bool
	// pcToOp maps a source byte offset to its index in Ops, for jump
	// target resolution.
	pcToOp map[uint32]int
}

// Len returns the number of decoded opcodes.
func (b *Bytecode) Len() int { return len(b.Ops) }

// Analyze decodes raw into a structured, immutable Bytecode. If raw is
// empty, a single synthesized STOP is produced so downstream code may
// always assume at least one opcode.
func Analyze(raw []byte, spec params.SpecId) *Bytecode {
	if len(raw) == 0 {
		return &Bytecode{
			Spec:      spec,
			Raw:       raw,
			Ops:       []OpcodeData{{Opcode: STOP}},
			jumpdests: map[uint32]bool{},
			pcToOp:    map[uint32]int{0: 0},
		}
	}

	bc := &Bytecode{
		Spec:      spec,
		Raw:       raw,
		jumpdests: make(map[uint32]bool),
		pcToOp:    make(map[uint32]int),
	}

	// Decode pass + PC recording.
	pc := uint32(0)
	for int(pc) < len(raw) {
		op := OpCode(raw[pc])
		idx := len(bc.Ops)
		bc.pcToOp[pc] = idx
		entry := OpcodeData{Opcode: op, Pc: pc}

		if n := PushSize(op); n > 0 {
			entry.Data = pc + 1
			// Advance past the immediate even if truncated; zero-padding
			// on read is the translator's responsibility (§4.3 PUSH).
			pc += uint32(n)
		}
		if op == PC {
			entry.Data = entry.Pc
		}
		if !Enabled(op, spec) {
			entry.Flags |= FlagDisabled
		}
		if op == JUMPDEST {
			bc.jumpdests[entry.Pc] = true
		}

		bc.Ops = append(bc.Ops, entry)
		pc++
	}

	// Resolve static jumps: a JUMP/JUMPI immediately preceded by a PUSH
	// whose immediate fits in 32 bits and is fully present in raw.
	for i := 1; i < len(bc.Ops); i++ {
		op := bc.Ops[i].Opcode
		if op != JUMP && op != JUMPI {
			continue
		}
		prev := bc.Ops[i-1]
		n := PushSize(prev.Opcode)
		if n == 0 && prev.Opcode != PUSH0 {
			continue
		}
		target, ok := constantPushValue(raw, prev, n)
		if !ok {
			continue
		}
		bc.Ops[i].Flags |= FlagStaticJump
		// The feeding PUSH's value is consumed entirely at compile time; its
		// runtime push is elided (gas is still charged for it).
		bc.Ops[i-1].Flags |= FlagSkipLogic
		if opIdx, isDest := bc.pcToOp[uint32(target)]; isDest && bc.jumpdests[uint32(target)] {
			bc.Ops[i].Data = uint32(opIdx)
		} else {
			bc.Ops[i].Flags |= FlagInvalidJump
		}
	}

	return bc
}

// constantPushValue evaluates a PUSHn immediate as a compile-time constant,
// reporting whether it fits in 32 bits (the maximum a jump target / byte
// offset can address) and was fully present in raw (not truncated).
func constantPushValue(raw []byte, push OpcodeData, n int) (uint64, bool) {
	if push.Opcode == PUSH0 {
		return 0, true
	}
	start := int(push.Data)
	end := start + n
	if end > len(raw) {
		return 0, false // truncated immediate: not a valid static jump target
	}
	imm := raw[start:end]
	// Reject if any of the high bytes beyond 8 are non-zero (> 2^64-1):
	// definitely can't be a byte offset into raw.
	if n > 8 {
		for _, b := range imm[:n-8] {
			if b != 0 {
				return 0, false
			}
		}
		imm = imm[n-8:]
	}
	var v uint64
	for _, b := range imm {
		v = v<<8 | uint64(b)
	}
	if v > uint64(^uint32(0)) {
		return 0, false
	}
	return v, true
}

// IsValidJumpdest reports whether pc is a JUMPDEST enabled under the
// bytecode's active fork.
func (b *Bytecode) IsValidJumpdest(pc uint32) bool { return b.jumpdests[pc] }
