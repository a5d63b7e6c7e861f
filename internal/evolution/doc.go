// Package evolution decides which field strategy changes a schema may make
// and performs the accepted migrations.
//
// The safety table is fixed:
//
//	same -> same            identity
//	immutable -> lww        value kept, stamp mapped order-reversing
//	mv_register -> lww      deterministic winner among concurrent values
//	rga -> peritext         characters keep their ids, no marks
//
// Every other pair is unsafe and rejected with ErrSchemaLocked before any
// replica runs the new schema.
//
// CRITICAL: replicas migrate independently and then keep merging, so a
// migration must commute with merge: Migrate(Merge(a, b)) must equal
// Merge(Migrate(a), Migrate(b)). The built-in migrations are constructed so
// that it does; custom migration functions are probed for it in Validate.
package evolution
