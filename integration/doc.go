//go:build integration

// Package integration provides integration tests for the hoard store.
//
// These tests require Docker and spin up a real Azurite blob emulator using
// testcontainers. Run with: go test -tags=integration ./integration/...
package integration
