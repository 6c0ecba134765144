// Package misbehaviour grades each received safety message for physical
// plausibility and for consistency with the sender's earlier messages.
//
// A Checker belongs to one evaluating vehicle. It is synchronous and holds
// no locks: feed it from a single goroutine and run one Checker per
// evaluator for parallelism. Every check yields a Score in [0, 1], where 1
// is fully plausible, or NotApplicable when the check could not run.
package misbehaviour
