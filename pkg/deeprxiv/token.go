// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package deeprxiv

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

var memguardInitOnce sync.Once

// Token holds a backend bearer token encrypted in memory.
//
// The plaintext lives in a memguard Enclave and is decrypted into a locked
// buffer only for the duration of building an Authorization header. The
// zero value and a nil *Token both mean "no token".
type Token struct {
	enclave *memguard.Enclave
}

// NewToken seals raw into an enclave. Returns nil for an empty token.
func NewToken(raw string) *Token {
	if raw == "" {
		return nil
	}
	memguardInitOnce.Do(memguard.CatchInterrupt)

	// NewEnclave wipes the slice it is handed.
	return &Token{enclave: memguard.NewEnclave([]byte(raw))}
}

// Present reports whether a token is configured.
func (t *Token) Present() bool {
	return t != nil && t.enclave != nil
}

// authorization returns the Authorization header value.
func (t *Token) authorization() (string, error) {
	if !t.Present() {
		return "", nil
	}
	buf, err := t.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open token enclave: %w", err)
	}
	defer buf.Destroy()
	return "Bearer " + string(buf.Bytes()), nil
}

// PurgeSecrets destroys all sealed secrets. Call once at process exit.
func PurgeSecrets() {
	memguard.Purge()
}
