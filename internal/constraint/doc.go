// Package constraint classifies and enforces application invariants over
// document fields.
//
// Every declaration is classified once, at registration:
//
//	Structural  guaranteed by the field's strategy itself (an immutable
//	            field can never change). Registration only checks that the
//	            strategy really implies it.
//	Eventual    may be violated transiently by concurrent merges (two
//	            replicas add the same element). Checked after each remote
//	            merge; violations are reported, never blocked.
//	Strong      must never be observably violated (a balance never goes
//	            negative). Enforced before local operations by charging
//	            their cost against the document's escrow ledger.
//
// A declaration whose category does not match what its fields can offer is
// a load-time error, not a runtime surprise.
package constraint
