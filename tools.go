//go:build tools

// Package tools tracks the Go tools run by go generate, so that go.mod pins them.
package chat_sync

import (
	_ "go.uber.org/mock/mockgen"
)
