// Package shared holds helpers used by more than one package.
//
// The testutil subpackage captures slog output in tests so assertions can
// inspect log records by message and attribute.
package shared
