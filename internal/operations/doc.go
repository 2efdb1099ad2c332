// Package operations contains the engine's caller-level operations.
//
// Each operation lives in its own subpackage: upload validates and dispatches
// writes, delete removes single keys and batches, list pages through prefixes.
// All of them reach the store through a transport.Transport wrapped by the
// retry governor.
package operations
