package classifier

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Parser classifies predicates by walking the libpg_query AST instead of
// substring matching. It still recognizes the same identity functions and
// tenant column names, but is immune to markers appearing inside string
// literals or comments. Predicates that do not parse standalone fall back
// to the heuristic.
type Parser struct {
	identityFuncs map[string]bool
	tenantColumns map[string]bool
	fallback      *Heuristic
}

// NewParser builds a parser-backed classifier from the same marker set the
// heuristic uses. Function markers are matched by qualified name, column
// markers by the final field of a column reference.
func NewParser(markers Markers) *Parser {
	defaults := DefaultMarkers()
	if len(markers.Identity) == 0 {
		markers.Identity = defaults.Identity
	}
	if len(markers.Tenant) == 0 {
		markers.Tenant = defaults.Tenant
	}

	identityFuncs := make(map[string]bool, len(markers.Identity))
	for _, m := range markers.Identity {
		name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(m), "()"))
		identityFuncs[name] = true
	}

	tenantColumns := make(map[string]bool, len(markers.Tenant))
	for _, m := range markers.Tenant {
		tenantColumns[strings.ToLower(strings.TrimSpace(m))] = true
	}

	return &Parser{
		identityFuncs: identityFuncs,
		tenantColumns: tenantColumns,
		fallback:      NewHeuristic(markers),
	}
}

// Classify parses the predicate as a WHERE clause and walks the tree.
func (p *Parser) Classify(definition string) Classification {
	def := strings.TrimSpace(definition)
	if def == "" {
		return Classification{}
	}

	result, err := pg_query.Parse("SELECT 1 WHERE " + def)
	if err != nil || len(result.Stmts) == 0 {
		return p.fallback.Classify(definition)
	}
	selectStmt := result.Stmts[0].Stmt.GetSelectStmt()
	if selectStmt == nil || selectStmt.WhereClause == nil {
		return p.fallback.Classify(definition)
	}

	var c Classification
	p.walk(selectStmt.WhereClause, &c)
	return c
}

func (p *Parser) walk(node *pg_query.Node, c *Classification) {
	if node == nil || (c.HasIdentityReference && c.HasTenantReference) {
		return
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_ColumnRef:
		if name := lastField(n.ColumnRef); p.tenantColumns[name] {
			c.HasTenantReference = true
		}
	case *pg_query.Node_FuncCall:
		p.walkFuncCall(n.FuncCall, c)
	case *pg_query.Node_AExpr:
		p.walk(n.AExpr.Lexpr, c)
		p.walk(n.AExpr.Rexpr, c)
	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.Args {
			p.walk(arg, c)
		}
	case *pg_query.Node_TypeCast:
		p.walk(n.TypeCast.Arg, c)
	case *pg_query.Node_NullTest:
		p.walk(n.NullTest.Arg, c)
	case *pg_query.Node_CoalesceExpr:
		for _, arg := range n.CoalesceExpr.Args {
			p.walk(arg, c)
		}
	case *pg_query.Node_CaseExpr:
		p.walk(n.CaseExpr.Arg, c)
		for _, when := range n.CaseExpr.Args {
			p.walk(when, c)
		}
		p.walk(n.CaseExpr.Defresult, c)
	case *pg_query.Node_CaseWhen:
		p.walk(n.CaseWhen.Expr, c)
		p.walk(n.CaseWhen.Result, c)
	case *pg_query.Node_AArrayExpr:
		for _, el := range n.AArrayExpr.Elements {
			p.walk(el, c)
		}
	case *pg_query.Node_RowExpr:
		for _, arg := range n.RowExpr.Args {
			p.walk(arg, c)
		}
	case *pg_query.Node_List:
		for _, item := range n.List.Items {
			p.walk(item, c)
		}
	case *pg_query.Node_SubLink:
		p.walk(n.SubLink.Testexpr, c)
		p.walkSubselect(n.SubLink.Subselect, c)
	}
}

// walkSubselect descends into a subquery: EXISTS / IN predicates commonly
// carry the real tenant check.
func (p *Parser) walkSubselect(node *pg_query.Node, c *Classification) {
	if node == nil {
		return
	}
	sel := node.GetSelectStmt()
	if sel == nil {
		return
	}
	for _, target := range sel.TargetList {
		if rt := target.GetResTarget(); rt != nil {
			p.walk(rt.Val, c)
		}
	}
	p.walk(sel.WhereClause, c)
}

func (p *Parser) walkFuncCall(fc *pg_query.FuncCall, c *Classification) {
	name := funcName(fc)
	if p.identityFuncs[name] {
		c.HasIdentityReference = true
	}

	// current_setting('request.jwt.claims...') is an identity read even
	// though the function itself is generic.
	if name == "current_setting" && len(fc.Args) > 0 {
		if ac := fc.Args[0].GetAConst(); ac != nil {
			if sval := ac.GetSval(); sval != nil &&
				strings.HasPrefix(strings.ToLower(sval.Sval), "request.jwt") {
				c.HasIdentityReference = true
			}
		}
	}

	for _, arg := range fc.Args {
		p.walk(arg, c)
	}
}

func funcName(fc *pg_query.FuncCall) string {
	var parts []string
	for _, n := range fc.Funcname {
		if s := n.GetString_(); s != nil {
			parts = append(parts, strings.ToLower(s.Sval))
		}
	}
	return strings.Join(parts, ".")
}

func lastField(ref *pg_query.ColumnRef) string {
	for i := len(ref.Fields) - 1; i >= 0; i-- {
		if s := ref.Fields[i].GetString_(); s != nil {
			return strings.ToLower(s.Sval)
		}
	}
	return ""
}
