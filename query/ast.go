package query

// The parser produces this tree; every documented rewrite rule is a
// transformation over it, and code generation is a single walk at the end.

type sourceKind int

const (
	sourceDigitalTwins sourceKind = iota
	sourceRelationships
)

// A selectQuery is the root of a parsed twin-query.
type selectQuery struct {
	top        int  // 0 means no row limit
	wildcard   bool // SELECT *
	countAll   bool // SELECT COUNT()
	projection []expr

	source sourceKind
	alias  string // FROM alias; empty when the caller omitted it

	match *patternClause // FROM DIGITALTWINS ... MATCH
	joins []joinClause   // FROM DIGITALTWINS ... JOIN ... RELATED

	where expr // nil when absent
}

// A joinClause is one `JOIN <alias> RELATED <src>.<relName> [<edgeAlias>]`.
type joinClause struct {
	alias     string
	srcAlias  string
	relName   string
	edgeAlias string
}

// A patternClause is the parsed MATCH pattern: an alternating sequence of node
// and edge references, starting and ending with a node.
type patternClause struct {
	nodes []nodeRef
	edges []edgeRef // len(edges) == len(nodes)-1
}

type nodeRef struct {
	alias string // may be empty: anonymous node
}

type direction int

const (
	directionRight direction = iota // -[...]->
	directionLeft                   // <-[...]-
	directionBoth                   // -[...]-
)

type edgeRef struct {
	alias  string
	labels []string // pipe-separated multi-label list; empty means untyped
	dir    direction

	// Variable-length hop range (ADT `*`, `*n..m`). hasRange marks presence;
	// maxHops == 0 with hasRange means the upper bound is unbounded, which
	// forces routing to a read-write-capable connection.
	hasRange bool
	minHops  int
	maxHops  int
}

// unbounded reports whether the edge matches traversals of unbounded length.
func (e edgeRef) unbounded() bool {
	return e.hasRange && e.maxHops == 0
}

// Predicate expressions.

type expr interface{ isExpr() }

// A binaryExpr covers AND, OR, and the comparison operators. The op field holds
// the dialect spelling; inequality is rewritten during code generation because
// the target operator set has no native != token.
type binaryExpr struct {
	op    string
	left  expr
	right expr
}

type notExpr struct {
	operand expr
}

type inExpr struct {
	operand expr
	list    []expr
}

// A callExpr is a (possibly built-in) function call.
type callExpr struct {
	name string
	args []expr
}

// A propertyExpr is an entity/property access chain: a leading alias or bare
// property name followed by accessor segments. Dot and bracket spellings parse
// into the same representation, which is what makes bracket rewriting
// idempotent.
type propertyExpr struct {
	parts []string
}

type literalKind int

const (
	literalString literalKind = iota
	literalNumber
	literalBool
	literalNull
)

type literalExpr struct {
	kind literalKind
	text string // raw spelling for numbers; unquoted content for strings
}

type starExpr struct{} // the * projection

func (binaryExpr) isExpr()   {}
func (notExpr) isExpr()      {}
func (inExpr) isExpr()       {}
func (callExpr) isExpr()     {}
func (propertyExpr) isExpr() {}
func (literalExpr) isExpr()  {}
func (starExpr) isExpr()     {}
