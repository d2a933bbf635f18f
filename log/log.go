// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package log provides the structured, leveled logger used throughout the
// compiler: log.Debug("msg", "key", value, ...). Call sites are captured
// via github.com/go-stack/stack; output is colorized per level when the
// destination is a terminal.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
)

// Lvl is a log level, ordered from most to least severe.
type Lvl int

const (
	LvlError Lvl = iota
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN "
	case LvlInfo:
		return "INFO "
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "?????"
	}
}

var levelColor = map[Lvl]*color.Color{
	LvlError: color.New(color.FgRed, color.Bold),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

var (
	mu       sync.Mutex
	out      io.Writer = colorable.NewColorableStdout()
	minLevel           = LvlDebug
)

// SetOutput redirects all log output; primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level that is actually written.
func SetLevel(l Lvl) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

func write(l Lvl, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l > minLevel {
		return
	}
	caller := fmt.Sprintf("%+v", stack.Caller(2))
	c := levelColor[l]
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format("15:04:05.000"), c.Sprint(l.String()), msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		line += fmt.Sprintf(" %v=%v", ctx[i], ctx[i+1])
	}
	if caller != "" {
		line += fmt.Sprintf(" caller=%s", caller)
	}
	fmt.Fprintln(out, line)
}

// Error logs at LvlError.
func Error(msg string, ctx ...interface{}) { write(LvlError, msg, ctx) }

// Warn logs at LvlWarn.
func Warn(msg string, ctx ...interface{}) { write(LvlWarn, msg, ctx) }

// Info logs at LvlInfo.
func Info(msg string, ctx ...interface{}) { write(LvlInfo, msg, ctx) }

// Debug logs at LvlDebug.
func Debug(msg string, ctx ...interface{}) { write(LvlDebug, msg, ctx) }

// Trace logs at LvlTrace.
func Trace(msg string, ctx ...interface{}) { write(LvlTrace, msg, ctx) }

func init() {
	if os.Getenv("EVMJIT_LOG_PLAIN") != "" {
		color.NoColor = true
	}
}
