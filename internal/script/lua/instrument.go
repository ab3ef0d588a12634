package lua

import (
	"strconv"

	"github.com/yuin/gopher-lua/ast"

	"github.com/dshills/scriptdbg/internal/source"
)

// TraceName is the chunk local holding the trace function.
const TraceName = "__scriptdbg_trace"

// Instrument rewrites a parsed chunk so that every statement is preceded by
// a call TraceName(unit, line). The rewritten chunk binds TraceName from its
// first vararg, so the caller passes the trace function as argument one.
//
// Loop bodies that would otherwise have no statement get a trace call on the
// loop's line, so that an empty busy loop still reaches the debugger.
func Instrument(chunk []ast.Stmt, unit source.UnitID) []ast.Stmt {
	in := &instrumenter{unit: strconv.Itoa(int(unit))}

	decl := &ast.LocalAssignStmt{
		Names: []string{TraceName},
		Exprs: []ast.Expr{&ast.Comma3Expr{}},
	}
	body := in.block(chunk)
	return append([]ast.Stmt{decl}, body...)
}

type instrumenter struct {
	unit string
}

// traceCall builds TraceName(unit, line).
func (in *instrumenter) traceCall(line int) ast.Stmt {
	fn := &ast.IdentExpr{Value: TraceName}
	unit := &ast.NumberExpr{Value: in.unit}
	ln := &ast.NumberExpr{Value: strconv.Itoa(line)}
	call := &ast.FuncCallExpr{Func: fn, Args: []ast.Expr{unit, ln}}
	stmt := &ast.FuncCallStmt{Expr: call}
	for _, n := range []ast.PositionHolder{fn, unit, ln, call, stmt} {
		n.SetLine(line)
		n.SetLastLine(line)
	}
	return stmt
}

func (in *instrumenter) block(stmts []ast.Stmt) []ast.Stmt {
	out := make([]ast.Stmt, 0, 2*len(stmts))
	for _, st := range stmts {
		in.stmt(st)
		if _, label := st.(*ast.LabelStmt); !label && st.Line() > 0 {
			out = append(out, in.traceCall(st.Line()))
		}
		out = append(out, st)
	}
	return out
}

// loopBody instruments a loop body, keeping it non-empty.
func (in *instrumenter) loopBody(stmts []ast.Stmt, line int) []ast.Stmt {
	out := in.block(stmts)
	if len(out) == 0 && line > 0 {
		out = append(out, in.traceCall(line))
	}
	return out
}

func (in *instrumenter) stmt(st ast.Stmt) {
	switch s := st.(type) {
	case *ast.AssignStmt:
		in.exprs(s.Lhs)
		in.exprs(s.Rhs)
	case *ast.LocalAssignStmt:
		in.exprs(s.Exprs)
	case *ast.FuncCallStmt:
		in.expr(s.Expr)
	case *ast.DoBlockStmt:
		s.Stmts = in.block(s.Stmts)
	case *ast.WhileStmt:
		in.expr(s.Condition)
		s.Stmts = in.loopBody(s.Stmts, s.Line())
	case *ast.RepeatStmt:
		s.Stmts = in.loopBody(s.Stmts, s.Line())
		in.expr(s.Condition)
	case *ast.IfStmt:
		in.expr(s.Condition)
		s.Then = in.block(s.Then)
		s.Else = in.block(s.Else)
	case *ast.NumberForStmt:
		in.expr(s.Init)
		in.expr(s.Limit)
		in.expr(s.Step)
		s.Stmts = in.loopBody(s.Stmts, s.Line())
	case *ast.GenericForStmt:
		in.exprs(s.Exprs)
		s.Stmts = in.loopBody(s.Stmts, s.Line())
	case *ast.FuncDefStmt:
		if s.Name != nil {
			in.expr(s.Name.Func)
			in.expr(s.Name.Receiver)
		}
		in.function(s.Func)
	case *ast.ReturnStmt:
		in.exprs(s.Exprs)
	}
}

func (in *instrumenter) exprs(exprs []ast.Expr) {
	for _, e := range exprs {
		in.expr(e)
	}
}

func (in *instrumenter) function(fn *ast.FunctionExpr) {
	if fn != nil {
		fn.Stmts = in.block(fn.Stmts)
	}
}

func (in *instrumenter) expr(e ast.Expr) {
	switch x := e.(type) {
	case nil:
	case *ast.FunctionExpr:
		in.function(x)
	case *ast.AttrGetExpr:
		in.expr(x.Object)
		in.expr(x.Key)
	case *ast.TableExpr:
		for _, f := range x.Fields {
			in.expr(f.Key)
			in.expr(f.Value)
		}
	case *ast.FuncCallExpr:
		in.expr(x.Func)
		in.expr(x.Receiver)
		in.exprs(x.Args)
	case *ast.LogicalOpExpr:
		in.expr(x.Lhs)
		in.expr(x.Rhs)
	case *ast.RelationalOpExpr:
		in.expr(x.Lhs)
		in.expr(x.Rhs)
	case *ast.StringConcatOpExpr:
		in.expr(x.Lhs)
		in.expr(x.Rhs)
	case *ast.ArithmeticOpExpr:
		in.expr(x.Lhs)
		in.expr(x.Rhs)
	case *ast.UnaryMinusOpExpr:
		in.expr(x.Expr)
	case *ast.UnaryNotOpExpr:
		in.expr(x.Expr)
	case *ast.UnaryLenOpExpr:
		in.expr(x.Expr)
	}
}
