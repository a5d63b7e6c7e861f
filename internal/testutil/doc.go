// Package testutil provides deterministic helpers for tests: simulated
// replicas, seeded operation histories and fixed id generators.
//
// Everything here is driven by an explicit seed so a failing property test
// can be replayed exactly.
package testutil
