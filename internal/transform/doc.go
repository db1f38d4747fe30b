// Package transform holds the pure row transformations of the relay and the
// typed stage chain that strings them together. A Chain is checked when it is
// composed: every stage must accept exactly what the previous one returns, so
// a mis-wired pipeline fails at startup instead of on the first record.
package transform
