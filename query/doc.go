// Package query compiles the declarative, table-oriented twin-query dialect
// into native graph query text.
//
// The dialect has the shape
//
//	SELECT [TOP n] <projection> FROM DIGITALTWINS|RELATIONSHIPS [<alias>]
//	    [MATCH <pattern>]
//	    [JOIN <alias> RELATED <srcAlias>.<relName> [<edgeAlias>]]...
//	    [WHERE <predicate>]
//
// with the built-in predicate functions IS_OF_MODEL, STARTSWITH, ENDSWITH,
// CONTAINS, IS_NULL, IS_DEFINED, and IS_NUMBER.
//
// Compilation is deterministic: compiling the same query twice yields identical
// output. The package has no dependencies on the rest of the module and never
// talks to a storage engine; callers execute the compiled text themselves,
// honouring the routing markers on CompiledQuery.
package query
