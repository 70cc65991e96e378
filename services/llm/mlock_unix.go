// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build unix

package llm

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the locked-memory limit below which memguard may
// fail to lock credential pages.
const MinMlockLimitKB = 64

var mlockWarnOnce sync.Once

// checkMlockLimit reports whether RLIMIT_MEMLOCK allows memguard to lock
// its pages, and the current limit in KB (-1 when unlimited or unknown).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

func warnLowMlockLimit() {
	mlockWarnOnce.Do(func() {
		if ok, limitKB := checkMlockLimit(); !ok {
			slog.Warn("mlock limit is low; the model credential may be swappable",
				"mlock_limit_kb", limitKB,
				"required_kb", MinMlockLimitKB,
			)
		}
	})
}
