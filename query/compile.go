package query

import (
	"fmt"
	"strconv"
	"strings"
)

// A CompiledQuery is the native graph query text produced from a twin-query,
// together with the structural markers callers need to route execution before
// running it.
type CompiledQuery struct {
	// Cypher is the generated query text.
	Cypher string
	// UnboundedTraversal reports that the query matches traversals of unbounded
	// length. Read replicas of the storage engine do not support that construct,
	// so such queries must run on a read-write-capable connection.
	UnboundedTraversal bool
}

// A CompileError reports twin-query text the compiler could not translate. The
// compiler fails closed: no clause is ever silently dropped.
type CompileError struct {
	// Fragment is the offending piece of query text.
	Fragment string
	// Reason describes what was expected instead.
	Reason string
}

func (e *CompileError) Error() string {
	if e.Fragment == "" {
		return "compile query: " + e.Reason
	}
	return fmt.Sprintf("compile query: %s at %q", e.Reason, e.Fragment)
}

// Default aliases injected when the caller addresses a collection without
// naming it.
const (
	defaultTwinAlias         = "T"
	defaultRelationshipAlias = "R"
)

// Compile translates a declarative twin-query into native graph query text.
//
// The query is parsed into an explicit tree (see parser.go) and every
// documented rewrite (alias injection, wildcard projection, bracket notation
// for $-prefixed names, built-in predicate functions, the multi-label edge
// workaround) is applied as a tree transformation before a single code
// generation pass at the end.
//
// graphNamespace scopes the server-side model-membership function invoked by
// IS_OF_MODEL rewrites; when empty it defaults to "twingraph".
func Compile(text, graphNamespace string) (CompiledQuery, error) {
	if graphNamespace == "" {
		graphNamespace = "twingraph"
	}
	q, err := parseQuery(text)
	if err != nil {
		return CompiledQuery{}, err
	}

	g := &generator{query: q, namespace: graphNamespace, aliases: map[string]bool{}}
	if err := g.plan(); err != nil {
		return CompiledQuery{}, err
	}
	cypher, err := g.emit()
	if err != nil {
		return CompiledQuery{}, err
	}
	return CompiledQuery{Cypher: cypher, UnboundedTraversal: g.unbounded}, nil
}

// A generator holds the state of one compilation: the source pattern, the set
// of known aliases, and the label disjunctions accumulated by the multi-label
// edge workaround.
type generator struct {
	query     *selectQuery
	namespace string

	pattern string
	aliases map[string]bool
	// activeAlias is set in single-entity modes and used to disambiguate bare
	// property references. Multi-alias patterns leave it empty: a bare property
	// is ambiguous there and passes through untouched.
	activeAlias string
	// aliasInjected marks that the FROM clause had no alias, which switches
	// wildcard projection from `*` to the injected alias.
	aliasInjected bool
	// labelFilters holds one `label(e) = 'x' OR ...` disjunction per rewritten
	// multi-label edge, appended to the WHERE clause.
	labelFilters []string
	unbounded    bool
	edgeSeq      int
}

// plan determines the MATCH pattern from the source clause and registers every
// alias the query binds.
func (g *generator) plan() error {
	q := g.query
	switch {
	case q.source == sourceRelationships:
		if q.match != nil || len(q.joins) > 0 {
			return &CompileError{Reason: "MATCH and JOIN do not apply to RELATIONSHIPS"}
		}
		alias := q.alias
		if alias == "" {
			alias = defaultRelationshipAlias
			g.aliasInjected = true
		}
		g.aliases[alias] = true
		g.activeAlias = alias
		g.pattern = "(:Twin)-[" + alias + "]->(:Twin)"

	case q.match != nil:
		pattern, err := g.planMatch(q.match)
		if err != nil {
			return err
		}
		g.pattern = pattern

	case len(q.joins) > 0:
		g.pattern = g.planJoins()

	default:
		alias := q.alias
		if alias == "" {
			alias = defaultTwinAlias
			g.aliasInjected = true
		}
		g.aliases[alias] = true
		g.activeAlias = alias
		g.pattern = "(" + alias + ":Twin)"
	}
	return nil
}

// planMatch renders the caller's pattern, tagging every node reference with the
// twin vertex label. Pipe-separated multi-label edges are rewritten to a single
// untyped edge plus a label disjunction, because the underlying engine does not
// support multi-label edge patterns directly.
func (g *generator) planMatch(pattern *patternClause) (string, error) {
	var sb strings.Builder
	for i, node := range pattern.nodes {
		if i > 0 {
			edge := pattern.edges[i-1]
			text, err := g.renderEdge(edge)
			if err != nil {
				return "", err
			}
			sb.WriteString(text)
		}
		if node.alias != "" {
			g.aliases[node.alias] = true
			sb.WriteString("(" + node.alias + ":Twin)")
		} else {
			sb.WriteString("(:Twin)")
		}
	}
	return sb.String(), nil
}

func (g *generator) renderEdge(edge edgeRef) (string, error) {
	alias := edge.alias
	if alias == "" && len(edge.labels) > 1 {
		// The label disjunction below needs something to name.
		alias = "e" + strconv.Itoa(g.edgeSeq)
		g.edgeSeq++
	}
	if alias != "" {
		g.aliases[alias] = true
	}

	var body strings.Builder
	body.WriteString(alias)
	switch len(edge.labels) {
	case 0:
		// untyped edge
	case 1:
		body.WriteString(":" + edge.labels[0])
	default:
		var terms []string
		for _, label := range edge.labels {
			terms = append(terms, "label("+alias+") = '"+escapeString(label)+"'")
		}
		g.labelFilters = append(g.labelFilters, "("+strings.Join(terms, " OR ")+")")
	}

	if edge.hasRange {
		body.WriteString("*")
		if edge.minHops > 0 {
			body.WriteString(strconv.Itoa(edge.minHops))
		}
		if edge.maxHops != edge.minHops || edge.maxHops == 0 {
			body.WriteString("..")
			if edge.maxHops > 0 {
				body.WriteString(strconv.Itoa(edge.maxHops))
			}
		}
		if edge.unbounded() {
			g.unbounded = true
		}
	}

	switch edge.dir {
	case directionLeft:
		return "<-[" + body.String() + "]-", nil
	case directionRight:
		return "-[" + body.String() + "]->", nil
	default:
		return "-[" + body.String() + "]-", nil
	}
}

// planJoins renders one comma-separated pattern clause per JOIN. The FROM alias
// gets its own node clause when no join mentions it, so it still binds.
func (g *generator) planJoins() string {
	q := g.query
	referenced := map[string]bool{}
	var clauses []string
	for _, join := range q.joins {
		g.aliases[join.alias] = true
		g.aliases[join.srcAlias] = true
		edge := ""
		if join.edgeAlias != "" {
			g.aliases[join.edgeAlias] = true
			edge = join.edgeAlias
		}
		clauses = append(clauses, "("+join.srcAlias+":Twin)-["+edge+":"+join.relName+"]->("+join.alias+":Twin)")
		referenced[join.srcAlias] = true
		referenced[join.alias] = true
	}
	if q.alias != "" {
		g.aliases[q.alias] = true
		if !referenced[q.alias] {
			clauses = append([]string{"(" + q.alias + ":Twin)"}, clauses...)
		}
	}
	return strings.Join(clauses, ", ")
}

// emit assembles the final query text: MATCH, WHERE (caller predicate plus any
// multi-label disjunctions), RETURN, LIMIT.
func (g *generator) emit() (string, error) {
	var sb strings.Builder
	sb.WriteString("MATCH " + g.pattern)

	var conditions []string
	if g.query.where != nil {
		pred, err := g.emitExpr(g.query.where, 0)
		if err != nil {
			return "", err
		}
		conditions = append(conditions, pred)
	}
	// A query whose predicate consists solely of rewritten multi-label edges
	// still emits a WHERE clause.
	conditions = append(conditions, g.labelFilters...)
	if len(conditions) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}

	projection, err := g.emitProjection()
	if err != nil {
		return "", err
	}
	sb.WriteString(" RETURN " + projection)

	if g.query.top > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(g.query.top))
	}
	return sb.String(), nil
}

func (g *generator) emitProjection() (string, error) {
	q := g.query
	if q.wildcard {
		// A wildcard already returns full rows and is never alias-rewritten,
		// except when the alias itself was injected and the caller has no name
		// to reference.
		if g.aliasInjected {
			return g.activeAlias, nil
		}
		return "*", nil
	}
	var items []string
	for _, item := range q.projection {
		text, err := g.emitExpr(item, 0)
		if err != nil {
			return "", err
		}
		items = append(items, text)
	}
	return strings.Join(items, ", "), nil
}

// Binding strengths for parenthesisation during emission.
const (
	precOr = iota + 1
	precAnd
	precNot
	precCmp
)

func (g *generator) emitExpr(e expr, parentPrec int) (string, error) {
	switch t := e.(type) {
	case literalExpr:
		return g.emitLiteral(t), nil

	case starExpr:
		return "*", nil

	case propertyExpr:
		return g.emitProperty(t), nil

	case binaryExpr:
		return g.emitBinary(t, parentPrec)

	case notExpr:
		inner, err := g.emitExpr(t.operand, precNot)
		if err != nil {
			return "", err
		}
		if _, ok := t.operand.(binaryExpr); ok {
			inner = "(" + inner + ")"
		}
		return "NOT " + inner, nil

	case inExpr:
		operand, err := g.emitExpr(t.operand, precCmp)
		if err != nil {
			return "", err
		}
		var items []string
		for _, item := range t.list {
			text, err := g.emitExpr(item, 0)
			if err != nil {
				return "", err
			}
			items = append(items, text)
		}
		return operand + " IN [" + strings.Join(items, ", ") + "]", nil

	case callExpr:
		return g.emitCall(t)
	}
	return "", &CompileError{Reason: fmt.Sprintf("cannot translate expression %T", e)}
}

func (g *generator) emitLiteral(lit literalExpr) string {
	if lit.kind == literalString {
		return "'" + escapeString(lit.text) + "'"
	}
	return lit.text
}

// emitProperty renders an access chain. Bare property references are
// disambiguated with the active alias; $-prefixed names use bracket notation
// because the engine's dot accessor cannot address them. Input that already
// used bracket notation parsed into the same chain, so re-compiling compiled
// spellings never double-rewrites.
func (g *generator) emitProperty(prop propertyExpr) string {
	parts := prop.parts
	var sb strings.Builder
	if g.aliases[parts[0]] {
		sb.WriteString(parts[0])
		parts = parts[1:]
	} else if g.activeAlias != "" {
		sb.WriteString(g.activeAlias)
	} else {
		sb.WriteString(parts[0])
		parts = parts[1:]
	}
	for _, part := range parts {
		if strings.HasPrefix(part, "$") {
			sb.WriteString("['" + escapeString(part) + "']")
		} else {
			sb.WriteString("." + part)
		}
	}
	return sb.String()
}

func (g *generator) emitBinary(b binaryExpr, parentPrec int) (string, error) {
	var prec int
	switch b.op {
	case "OR":
		prec = precOr
	case "AND":
		prec = precAnd
	default:
		prec = precCmp
	}

	left, err := g.emitExpr(b.left, prec)
	if err != nil {
		return "", err
	}
	right, err := g.emitExpr(b.right, prec)
	if err != nil {
		return "", err
	}

	var out string
	if b.op == "!=" {
		// The engine's operator set has no native inequality token.
		out = "NOT (" + left + " = " + right + ")"
	} else {
		out = left + " " + b.op + " " + right
	}
	if prec < parentPrec {
		out = "(" + out + ")"
	}
	return out, nil
}

// emitCall rewrites the built-in predicate functions to their native
// equivalents; unrecognised functions pass through with rewritten arguments.
func (g *generator) emitCall(call callExpr) (string, error) {
	name := strings.ToUpper(call.name)
	switch name {
	case "IS_OF_MODEL":
		return g.emitIsOfModel(call)

	case "STARTSWITH", "ENDSWITH", "CONTAINS":
		if len(call.args) != 2 {
			return "", &CompileError{Fragment: call.name, Reason: "expects exactly two arguments"}
		}
		left, err := g.emitExpr(call.args[0], precCmp)
		if err != nil {
			return "", err
		}
		right, err := g.emitExpr(call.args[1], precCmp)
		if err != nil {
			return "", err
		}
		op := map[string]string{"STARTSWITH": "STARTS WITH", "ENDSWITH": "ENDS WITH", "CONTAINS": "CONTAINS"}[name]
		return left + " " + op + " " + right, nil

	case "IS_NULL", "IS_DEFINED":
		if len(call.args) != 1 {
			return "", &CompileError{Fragment: call.name, Reason: "expects exactly one argument"}
		}
		arg, err := g.emitExpr(call.args[0], precCmp)
		if err != nil {
			return "", err
		}
		if name == "IS_NULL" {
			return arg + " IS NULL", nil
		}
		return arg + " IS NOT NULL", nil

	case "IS_NUMBER":
		if len(call.args) != 1 {
			return "", &CompileError{Fragment: call.name, Reason: "expects exactly one argument"}
		}
		arg, err := g.emitExpr(call.args[0], precCmp)
		if err != nil {
			return "", err
		}
		// Coerces to a number, but is not itself a string.
		return "(toFloat(" + arg + ") IS NOT NULL AND NOT toString(" + arg + ") = " + arg + ")", nil

	case "COUNT":
		if len(call.args) == 0 {
			return "COUNT(*)", nil
		}
	}

	var args []string
	for _, arg := range call.args {
		text, err := g.emitExpr(arg, 0)
		if err != nil {
			return "", err
		}
		args = append(args, text)
	}
	return call.name + "(" + strings.Join(args, ", ") + ")", nil
}

// emitIsOfModel rewrites IS_OF_MODEL([alias,] modelId [, exact]) into a call
// to the storage engine's model-membership function, scoped to the compile
// namespace. The function tests the entity's model reference against the
// target's precomputed flattened bases server-side.
func (g *generator) emitIsOfModel(call callExpr) (string, error) {
	args := call.args
	alias := g.activeAlias
	if len(args) > 0 {
		if prop, ok := args[0].(propertyExpr); ok && len(prop.parts) == 1 && g.aliases[prop.parts[0]] {
			alias = prop.parts[0]
			args = args[1:]
		}
	}
	if alias == "" {
		return "", &CompileError{Fragment: "IS_OF_MODEL", Reason: "cannot determine the twin alias"}
	}
	if len(args) == 0 {
		return "", &CompileError{Fragment: "IS_OF_MODEL", Reason: "missing model id argument"}
	}
	model, ok := args[0].(literalExpr)
	if !ok || model.kind != literalString {
		return "", &CompileError{Fragment: "IS_OF_MODEL", Reason: "model id must be a string literal"}
	}
	args = args[1:]

	exact := "false"
	if len(args) > 0 {
		switch t := args[0].(type) {
		case literalExpr:
			if t.kind == literalBool {
				exact = t.text
				args = args[1:]
			}
		case propertyExpr:
			if len(t.parts) == 1 && strings.EqualFold(t.parts[0], "exact") {
				exact = "true"
				args = args[1:]
			}
		}
	}
	if len(args) > 0 {
		return "", &CompileError{Fragment: "IS_OF_MODEL", Reason: "too many arguments"}
	}

	ref := alias + "['" + KeyMetadata + "']['" + KeyModel + "']"
	return g.namespace + ".isOfModel(" + ref + ", '" + escapeString(model.text) + "', " + exact + ")", nil
}

// Reserved metadata keys of the twin wire shape, duplicated here so the
// compiler stays free of dependencies on the rest of the module.
const (
	KeyMetadata = "$metadata"
	KeyModel    = "$model"
)

func escapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
