// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package evmjit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	lru "github.com/hashicorp/golang-lru"
	"github.com/probechain/evmjit/log"
	"github.com/probechain/evmjit/params"
)

// ErrVerification is returned when a compiled function fails backend
// well-formedness verification.
var ErrVerification = errors.New("evmjit: backend verification failed")

// ErrFinalize is returned when backend finalization/code-generation fails.
var ErrFinalize = errors.New("evmjit: backend finalization failed")

const functionNameCacheSize = 4096

// Backend is what a concrete code-generation backend supplies beyond the
// per-function Builder: a way to start a new function, and to verify,
// optimize, and finalize one once translated.
type Backend interface {
	// NewFunction starts a fresh function named name with the standard
	// (gas_ptr, sp_ptr, stack_len_ptr) -> u8 signature and returns a
	// Builder positioned at its entry block.
	NewFunction(name string) (Builder, error)
	// Verify checks IR well-formedness for the named function.
	Verify(name string) error
	// Optimize runs backend optimization passes over the named function.
	Optimize(name string, level OptimizationLevel) error
	// Finalize lowers the named function to its runnable form and returns
	// an opaque handle to it.
	Finalize(name string) (FnHandle, error)
	// Dump writes unopt/opt IR (and, where applicable, disassembly) for
	// the named function under dir.
	Dump(name, dir string) error
}

// FnHandle is an opaque handle to a finalized, callable function. What it
// is callable as (a Go func value, a C function pointer, ...) is a backend
// concern; the driver only ever stores and returns it.
type FnHandle interface{}

// OptimizationLevel selects how aggressively the backend optimizes.
type OptimizationLevel int

const (
	OptNone OptimizationLevel = iota
	OptLess
	OptDefault
	OptAggressive
)

// JitEvm is the compiler driver: it orchestrates parse (analyze) ->
// translate -> verify -> optimize -> finalize, and owns the backend's
// module and the monotonic function-name counter. Single-owner, not
// thread-safe (see concurrency model).
type JitEvm struct {
	backend         Backend
	config          FcxConfig
	optLevel        OptimizationLevel
	outDir          string
	functionCounter int
	names           *lru.Cache
}

// NewJitEvm creates a driver around backend, with the translator's default
// configuration.
func NewJitEvm(backend Backend) *JitEvm {
	c, err := lru.New(functionNameCacheSize)
	if err != nil {
		panic(err) // only fails for size <= 0
	}
	return &JitEvm{backend: backend, config: DefaultFcxConfig(), names: c}
}

// SetDumpTo enables dumping IR/disasm to dir after each compile; pass ""
// to disable.
func (j *JitEvm) SetDumpTo(dir string) {
	j.outDir = dir
	j.config.CommentsEnabled = dir != ""
}

// SetOptLevel sets the optimization level used by subsequent compiles.
func (j *JitEvm) SetOptLevel(level OptimizationLevel) { j.optLevel = level }

// SetDebugAssertions toggles ABI-precondition annotations: when on, the
// translator attaches a precondition comment to the last IR instruction of
// the entry block (each later note replacing the earlier one). No runtime
// null-pointer check is emitted.
func (j *JitEvm) SetDebugAssertions(yes bool) { j.config.DebugAssertions = yes }

// SetPassStackThroughArgs toggles whether the EVM stack buffer is passed
// through the function arguments rather than allocated locally.
func (j *JitEvm) SetPassStackThroughArgs(yes bool) { j.config.StackThroughArgs = yes }

// SetPassStackLenThroughArgs toggles whether the stack length cell is
// passed through the function arguments rather than allocated locally.
func (j *JitEvm) SetPassStackLenThroughArgs(yes bool) { j.config.PassStackLenThroughArgs = yes }

// SetDisableGas disables gas accounting entirely.
func (j *JitEvm) SetDisableGas(yes bool) { j.config.GasDisabled = yes }

// SetStoreGasUsed toggles whether gas used is observably stored back to the
// caller-supplied gas cell.
func (j *JitEvm) SetStoreGasUsed(yes bool) { j.config.StoreGasUsed = yes }

// SetStaticGasLimit fixes the gas limit at compile time, skipping the
// runtime load of the limit (each chargeable opcode still compares against
// the constant); pass nil to use the caller-supplied limit at each call.
func (j *JitEvm) SetStaticGasLimit(limit *uint64) { j.config.StaticGasLimit = limit }

// Compile analyzes raw bytecode under spec, translates it, verifies,
// optionally dumps, optimizes, optionally dumps again, and finalizes,
// returning an opaque handle to the compiled function.
func (j *JitEvm) Compile(raw []byte, spec params.SpecId) (FnHandle, error) {
	name := j.nextName()

	bc := Analyze(raw, spec)
	log.Debug("analyzed bytecode", "name", name, "ops", bc.Len(), "spec", spec)

	bcx, err := j.backend.NewFunction(name)
	if err != nil {
		return nil, fmt.Errorf("evmjit: start function: %w", err)
	}

	cfg := j.config
	if err := Translate(bcx, bc, &cfg); err != nil {
		return nil, fmt.Errorf("evmjit: translate: %w", err)
	}

	if err := j.backend.Verify(name); err != nil {
		log.Warn("verification failed", "name", name, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}

	if j.outDir != "" {
		if err := j.dumpStage(name, "unopt", bc); err != nil {
			log.Warn("dump (unopt) failed", "name", name, "err", err)
		}
	}

	if err := j.backend.Optimize(name, j.optLevel); err != nil {
		return nil, fmt.Errorf("evmjit: optimize: %w", err)
	}

	if j.outDir != "" {
		if err := j.dumpStage(name, "opt", bc); err != nil {
			log.Warn("dump (opt) failed", "name", name, "err", err)
		}
	}

	handle, err := j.backend.Finalize(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFinalize, err)
	}

	j.names.Add(name, handle)
	log.Debug("compiled", "name", name)
	return handle, nil
}

// FreeAllFunctions invalidates every previously returned handle. Unsafe:
// callers must ensure no thread holds a live handle and no handle is
// invoked afterward; function names are single-shot and are never reused
// even after freeing.
func (j *JitEvm) FreeAllFunctions() {
	j.names.Purge()
}

func (j *JitEvm) nextName() string {
	name := fmt.Sprintf("__evm_bytecode_%d", j.functionCounter)
	j.functionCounter++
	return name
}

func (j *JitEvm) dumpStage(name, stage string, bc *Bytecode) error {
	dir := filepath.Join(j.outDir, stage)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := j.backend.Dump(name, dir); err != nil {
		return err
	}
	path := filepath.Join(dir, name+".txt")
	return os.WriteFile(path, []byte(spew.Sdump(bc)), 0o644)
}
