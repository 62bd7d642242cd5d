// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package envelope

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is the numeric severity of a log record. The scale follows the
// classic syslog-style 100..600 numbering so that threshold comparisons
// (sampling, minimum forward level) stay simple integer checks.
type Level int

// Log levels, lowest to highest.
const (
	LevelDebug     Level = 100
	LevelInfo      Level = 200
	LevelNotice    Level = 250
	LevelWarning   Level = 300
	LevelError     Level = 400
	LevelCritical  Level = 500
	LevelAlert     Level = 550
	LevelEmergency Level = 600
)

// Severity maps a level onto the Application Insights severityLevel scale
// (0=Verbose, 1=Information, 2=Warning, 3=Error, 4=Critical).
func (l Level) Severity() int {
	switch {
	case l >= 550:
		return 4
	case l >= 500:
		return 4
	case l >= 400:
		return 3
	case l >= 300:
		return 2
	case l >= 200:
		return 1
	default:
		return 0
	}
}

// String returns the lowercase slug for the level.
func (l Level) String() string {
	switch {
	case l >= LevelEmergency:
		return "emergency"
	case l >= LevelAlert:
		return "alert"
	case l >= LevelCritical:
		return "critical"
	case l >= LevelError:
		return "error"
	case l >= LevelWarning:
		return "warning"
	case l >= LevelNotice:
		return "notice"
	case l >= LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// ParseLevel converts a level slug ("debug".."emergency") to a Level.
//
// Outputs:
//
//	Level - The parsed level.
//	error - Non-nil if the slug is not recognized.
func ParseLevel(slug string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(slug)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical":
		return LevelCritical, nil
	case "alert":
		return LevelAlert, nil
	case "emergency":
		return LevelEmergency, nil
	default:
		return LevelWarning, fmt.Errorf("unknown level %q", slug)
	}
}

// FromSlog converts a slog level to the pipeline's Level scale.
// Levels above slog.LevelError map to critical.
func FromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarning
	case l < slog.LevelError+4:
		return LevelError
	default:
		return LevelCritical
	}
}
