// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package evmjit_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/probechain/evmjit/core/evmjit"
	"github.com/probechain/evmjit/core/evmjit/refbackend"
	"github.com/probechain/evmjit/params"
)

// fibonacciBody is the shared loop body: given the input n on the stack, it
// pushes fib(0)=0 and fib(1)=1, counts n down to zero, leaving fib(n+1) as
// the sole stack element, then STOPs. Grounded on the
// classic revm-jit/jitevm fibonacci smoke-test program.
var fibonacciBody = []byte{
	0x60, 0x00, // PUSH1 0
	0x60, 0x01, // PUSH1 1

	// MAINLOOP (pc 7):
	0x5b,       // JUMPDEST
	0x82,       // DUP3
	0x15,       // ISZERO
	0x60, 0x1c, // PUSH1 28 (CLEANUP)
	0x57, // JUMPI

	// fib step
	0x81, // DUP2
	0x81, // DUP2
	0x01, // ADD
	0x91, // SWAP2
	0x50, // POP
	0x90, // SWAP1

	// decrement counter
	0x91,       // SWAP2
	0x60, 0x01, // PUSH1 1
	0x90,       // SWAP1
	0x03,       // SUB
	0x91,       // SWAP2
	0x60, 0x07, // PUSH1 7 (MAINLOOP)
	0x56, // JUMP

	// CLEANUP (pc 28):
	0x5b, // JUMPDEST
	0x91, // SWAP2
	0x50, // POP
	0x50, // POP
	0x00, // STOP
}

// fibonacciRust mirrors the reference model: a fib(0)=0, fib(1)=1 iteration
// run n times.
func fibonacciRust(n uint16) *uint256.Int {
	a := uint256.NewInt(0)
	b := uint256.NewInt(1)
	for i := uint16(0); i < n; i++ {
		tmp := new(uint256.Int).Set(a)
		a.Set(b)
		b.Add(b, tmp)
	}
	return a
}

func compileFibonacci(t *testing.T, input uint16, dynamic bool) (*refbackend.Function, []byte) {
	t.Helper()
	var code []byte
	if dynamic {
		code = append([]byte{0x5b, 0x5b, 0x5b}, fibonacciBody...) // 3 JUMPDESTs as filler
	} else {
		be := []byte{byte(input >> 8), byte(input)}
		code = append(append([]byte{0x61}, be...), fibonacciBody...) // PUSH2 <input>
	}

	jit := evmjit.NewJitEvm(refbackend.NewEngine())
	jit.SetPassStackThroughArgs(true)
	jit.SetPassStackLenThroughArgs(true)
	handle, err := jit.Compile(code, params.Cancun)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return handle.(*refbackend.Function), code
}

func runFibonacci(t *testing.T, input uint16, dynamic bool) {
	t.Helper()
	fn, _ := compileFibonacci(t, input, dynamic)

	gas := &refbackend.GasCells{Limit: 1_000_000}
	stack := &refbackend.Stack{}
	if dynamic {
		stack.Buf[0] = *uint256.NewInt(uint64(input))
		stack.Len = 1
	}

	res, err := refbackend.Run(fn, gas, stack)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != evmjit.Stop {
		t.Fatalf("input=%d dynamic=%v: expected Stop, got %v", input, dynamic, res)
	}
	if stack.Len != 1 {
		t.Fatalf("input=%d dynamic=%v: expected one value left on stack, got len=%d", input, dynamic, stack.Len)
	}
	want := fibonacciRust(input + 1)
	if !stack.Buf[0].Eq(want) {
		t.Fatalf("input=%d dynamic=%v: got %s, want %s", input, dynamic, stack.Buf[0].Hex(), want.Hex())
	}
}

func TestFibonacciEndToEnd(t *testing.T) {
	for input := uint16(0); input <= 10; input++ {
		runFibonacci(t, input, false)
		runFibonacci(t, input, true)
	}
	runFibonacci(t, 100, false)
	runFibonacci(t, 100, true)
}

func TestStackOverflowOnDeepPush(t *testing.T) {
	// 1025 PUSH1 0's in a row: the 1025th push must overflow the 1024-slot
	// stack before ever touching STOP.
	raw := make([]byte, 0, 1025*2)
	for i := 0; i < 1025; i++ {
		raw = append(raw, byte(evmjit.PUSH1), 0)
	}

	jit := evmjit.NewJitEvm(refbackend.NewEngine())
	jit.SetPassStackThroughArgs(true)
	jit.SetPassStackLenThroughArgs(true)
	handle, err := jit.Compile(raw, params.Cancun)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	fn := handle.(*refbackend.Function)

	res, err := refbackend.Run(fn, &refbackend.GasCells{Limit: 1_000_000}, &refbackend.Stack{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != evmjit.StackOverflow {
		t.Fatalf("expected StackOverflow, got %v", res)
	}
}
