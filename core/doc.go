// Package core defines the Vigil domain model shared by every layer.
//
// # Types
//
//   - Alert: the canonical shape every ingested log entry is normalized to
//   - Analysis: the result of analyzing free log text, remote or local
//   - StageID and StageStatus: the fixed set of processing stages and their
//     last recorded activity
//
// # Severity
//
// Severities are ordered INFO < MEDIUM < HIGH < "HIGH (malicious)". Use
// Severity.Rank to compare and ParseSeverity for operator input.
//
// # Errors
//
// Sentinel errors live in errors.go and are matched with errors.Is after
// wrapping with fmt.Errorf("...: %w", err).
package core
