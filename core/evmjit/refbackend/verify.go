// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package refbackend

import "fmt"

// VerifyError describes one IR well-formedness violation.
type VerifyError struct {
	Block   string
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify error in block %q: %s", e.Block, e.Message)
}

// verify checks that every block has a terminator, every branch target is
// a block that belongs to fn, and every referenced stack slot exists.
// A translator bug should fail loudly here rather than surface as a
// dangling reference at interpretation time.
func verify(fn *Function) error {
	var errs []VerifyError

	blocks := make(map[*BasicBlock]bool, len(fn.Blocks))
	for _, b := range fn.Blocks {
		blocks[b] = true
	}

	for _, block := range fn.Blocks {
		if block.Terminator == nil {
			errs = append(errs, VerifyError{Block: block.Label, Message: "missing terminator"})
			continue
		}
		switch term := block.Terminator.(type) {
		case TermBr:
			if !blocks[term.Target] {
				errs = append(errs, VerifyError{Block: block.Label, Message: "branch to block outside function"})
			}
		case TermBrif:
			if !blocks[term.ThenBlk] || !blocks[term.ElseBlk] {
				errs = append(errs, VerifyError{Block: block.Label, Message: "conditional branch to block outside function"})
			}
		case TermRet:
			// Any value count is accepted; the ABI always returns exactly
			// one u8, but nothing here depends on that.
		}

		for _, inst := range block.Instructions {
			if inst.Op == OpNewStackSlot || inst.Op == OpStackAddr || inst.Op == OpStackLoad || inst.Op == OpStackStore {
				if inst.Op == OpNewStackSlot {
					if inst.SlotIdx < 0 || inst.SlotIdx >= len(fn.StackSlots) {
						errs = append(errs, VerifyError{Block: block.Label, Message: "stack slot index out of range"})
					}
				}
			}
		}
	}

	if len(fn.Blocks) == 0 {
		errs = append(errs, VerifyError{Block: "<none>", Message: "function has no blocks"})
	}

	if len(errs) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d error(s)", len(errs))
	for _, e := range errs {
		msg += "; " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
