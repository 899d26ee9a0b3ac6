// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

const (
	// MinMlockLimitKB is the smallest RLIMIT_MEMLOCK under which locked
	// key buffers are guaranteed to stay out of swap.
	MinMlockLimitKB = 64

	// secretKeyPath is where container runtimes mount the API key secret.
	secretKeyPath = "/run/secrets/openai_api_key"
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// initSecureMemory performs one-time memguard setup: interrupt handling so
// secrets are wiped on SIGINT, plus an mlock limit check.
func initSecureMemory() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("secure memory initialized",
				slog.Int64("mlock_limit_kb", currentMlockLimitKB),
			)
		} else {
			slog.Warn("mlock limit below recommended minimum, key buffers may be swappable",
				slog.Int64("mlock_limit_kb", currentMlockLimitKB),
				slog.Int("required_kb", MinMlockLimitKB),
			)
		}
	})
}

// checkMlockLimit queries RLIMIT_MEMLOCK. Returns (true, -1) when the limit
// is unlimited or cannot be determined.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", slog.String("error", err.Error()))
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// LoadAPIKey reads the OpenAI API key from the environment, falling back to
// the container secret mount, and seals it in a locked buffer. The caller
// owns the buffer and must Destroy() it when the client shuts down.
func LoadAPIKey() (*memguard.LockedBuffer, error) {
	initSecureMemory()

	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		return memguard.NewBufferFromBytes([]byte(key)), nil
	}

	data, err := os.ReadFile(secretKeyPath)
	if err != nil {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found",
			slog.String("path", secretKeyPath))
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	slog.Info("read OpenAI API key from container secret", slog.String("path", secretKeyPath))
	return memguard.NewBufferFromBytes(bytes.TrimSpace(data)), nil
}

// PurgeSecrets wipes all locked buffers. Call once on process shutdown.
func PurgeSecrets() {
	memguard.Purge()
}
