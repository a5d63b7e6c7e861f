// Package document aggregates the replicated fields of one document.
//
// A Document maps field names to (strategy, state) pairs and routes every
// mutation to the right value type:
//
//	local intent  -> Prepare -> constraint.Admit (escrow) -> Apply -> emit
//	remote op     -> Apply (always) -> eventual validation -> violations
//
// Local mutations can be rejected; remote operations are never rejected for
// invalidity, because they already happened on another replica. Eventual
// constraints that fail after a merge are reported as Violations, not
// errors.
//
// CRITICAL: a field's strategy is fixed once registered. The only way to
// change it is Migrate with a plan the evolution package accepts.
//
// Thread-safety: mutations serialize on the document mutex; reads share it.
// The Emitter is called with the mutex held, so operations leave in the
// order they were applied. Emitters must not call back into the document.
package document
