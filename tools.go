//go:build tools
// +build tools

// Package tools tracks the go generate tooling (mockgen) in go.mod.
package session_chat

import (
	_ "go.uber.org/mock/mockgen"
)
