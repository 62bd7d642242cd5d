// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
)

// maxStackFrames caps the parsed stack to keep envelopes small.
const maxStackFrames = 32

// ExceptionInfo is a captured error with its call stack, ready for
// BuildException. Frames use "unknown"/0 when file or line are absent.
type ExceptionInfo struct {
	Type    string
	Message string
	Frames  []StackFrame
}

// Capture snapshots an error and the current call stack.
//
// Description:
//
//	The dynamic type of err becomes the exception type name. skip
//	counts additional stack frames to omit beyond Capture itself, so
//	wrappers pass 1, direct callers 0.
//
// Inputs:
//
//	err - The error to capture. Must not be nil.
//	skip - Extra caller frames to skip.
//
// Outputs:
//
//	ExceptionInfo - Type, message, and up to 32 parsed frames.
func Capture(err error, skip int) ExceptionInfo {
	info := ExceptionInfo{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(2+skip, pcs)
	if n == 0 {
		return info
	}
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		sf := StackFrame{FileName: frame.File, Line: frame.Line, Method: frame.Function}
		if sf.FileName == "" {
			sf.FileName = "unknown"
		}
		if sf.Line < 0 {
			sf.Line = 0
		}
		info.Frames = append(info.Frames, sf)
		if !more {
			break
		}
	}
	return info
}

// TopFrame returns the first parsed frame, or a zero-value frame with
// "unknown" file when no stack was captured.
func (e ExceptionInfo) TopFrame() StackFrame {
	if len(e.Frames) == 0 {
		return StackFrame{FileName: "unknown"}
	}
	return e.Frames[0]
}

// Hash returns the first 16 hex chars of the SHA-256 over
// type|message|file:line. Identical exceptions raised from the same call
// site hash equal, which drives the dedupe window.
func (e ExceptionInfo) Hash() string {
	top := e.TopFrame()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s:%d", e.Type, e.Message, top.FileName, top.Line)))
	return hex.EncodeToString(sum[:])[:16]
}
