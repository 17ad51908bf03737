/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package luahost

import (
	"strconv"

	"github.com/yuin/gopher-lua/ast"
)

// Names of the host builtins that instrumented code calls.
const (
	lineHookName   = "__breakeval_line"
	callHookName   = "__breakeval_call"
	returnHookName = "__breakeval_return"

	anonymousFunctionName = "?"
	mainChunkName         = "main chunk"
)

// instrumenter rewrites a parsed chunk so that it reports trace events to the host:
//   - a line event before every statement,
//   - a call event when a function body starts,
//   - a return event when a function returns, including falling off the end of its body.
type instrumenter struct {
	functions []string
}

// Instrument rewrites the chunk in place and returns the instrumented statement list.
func Instrument(chunk []ast.Stmt) []ast.Stmt {
	in := &instrumenter{}
	return in.block(chunk)
}

func (in *instrumenter) block(stmts []ast.Stmt) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(stmts)*2)
	for _, s := range stmts {
		out = append(out, hookStmt(lineHookName, s.Line(), numberLit(s.Line(), s.Line())))
		out = append(out, in.stmt(s)...)
		out = append(out, s)
	}
	return out
}

// stmt instruments the statement in place and returns statements that must run right before it.
func (in *instrumenter) stmt(s ast.Stmt) []ast.Stmt {
	switch st := s.(type) {
	case *ast.AssignStmt:
		for _, e := range st.Lhs {
			in.expr(e, "")
		}
		for i, e := range st.Rhs {
			name := ""
			if i < len(st.Lhs) {
				name = exprName(st.Lhs[i])
			}
			in.expr(e, name)
		}

	case *ast.LocalAssignStmt:
		for i, e := range st.Exprs {
			name := ""
			if i < len(st.Names) {
				name = st.Names[i]
			}
			in.expr(e, name)
		}

	case *ast.FuncCallStmt:
		in.expr(st.Expr, "")

	case *ast.DoBlockStmt:
		st.Stmts = in.block(st.Stmts)

	case *ast.WhileStmt:
		in.expr(st.Condition, "")
		st.Stmts = in.block(st.Stmts)

	case *ast.RepeatStmt:
		st.Stmts = in.block(st.Stmts)
		in.expr(st.Condition, "")

	case *ast.IfStmt:
		in.expr(st.Condition, "")
		st.Then = in.block(st.Then)
		st.Else = in.block(st.Else)

	case *ast.NumberForStmt:
		in.expr(st.Init, "")
		in.expr(st.Limit, "")
		in.expr(st.Step, "")
		st.Stmts = in.block(st.Stmts)

	case *ast.GenericForStmt:
		for _, e := range st.Exprs {
			in.expr(e, "")
		}
		st.Stmts = in.block(st.Stmts)

	case *ast.FuncDefStmt:
		in.function(st.Func, funcName(st.Name))

	case *ast.ReturnStmt:
		for _, e := range st.Exprs {
			in.expr(e, "")
		}
		name, inFunction := in.current()
		if !inFunction {
			return nil
		}
		// "return f(x)" must stay a tail call, so the event is reported before it.
		if len(st.Exprs) == 1 {
			if _, isCall := st.Exprs[0].(*ast.FuncCallExpr); isCall {
				return []ast.Stmt{hookStmt(returnHookName, st.Line(), stringLit(name, st.Line()))}
			}
		}
		args := append([]ast.Expr{stringLit(name, st.Line())}, st.Exprs...)
		st.Exprs = []ast.Expr{hookCall(returnHookName, st.Line(), args...)}
	}
	return nil
}

func (in *instrumenter) expr(e ast.Expr, name string) {
	switch ex := e.(type) {
	case nil:
		return

	case *ast.FunctionExpr:
		in.function(ex, name)

	case *ast.AttrGetExpr:
		in.expr(ex.Object, "")
		in.expr(ex.Key, "")

	case *ast.TableExpr:
		for _, f := range ex.Fields {
			in.expr(f.Key, "")
			in.expr(f.Value, exprName(f.Key))
		}

	case *ast.FuncCallExpr:
		in.expr(ex.Func, "")
		in.expr(ex.Receiver, "")
		for _, a := range ex.Args {
			in.expr(a, "")
		}

	case *ast.LogicalOpExpr:
		in.expr(ex.Lhs, "")
		in.expr(ex.Rhs, "")

	case *ast.RelationalOpExpr:
		in.expr(ex.Lhs, "")
		in.expr(ex.Rhs, "")

	case *ast.StringConcatOpExpr:
		in.expr(ex.Lhs, "")
		in.expr(ex.Rhs, "")

	case *ast.ArithmeticOpExpr:
		in.expr(ex.Lhs, "")
		in.expr(ex.Rhs, "")

	case *ast.UnaryMinusOpExpr:
		in.expr(ex.Expr, "")

	case *ast.UnaryNotOpExpr:
		in.expr(ex.Expr, "")

	case *ast.UnaryLenOpExpr:
		in.expr(ex.Expr, "")
	}
}

func (in *instrumenter) function(fe *ast.FunctionExpr, name string) {
	if name == "" {
		name = anonymousFunctionName
	}

	in.functions = append(in.functions, name)
	defer func() { in.functions = in.functions[:len(in.functions)-1] }()

	endsWithReturn := len(fe.Stmts) > 0
	if endsWithReturn {
		_, endsWithReturn = fe.Stmts[len(fe.Stmts)-1].(*ast.ReturnStmt)
	}

	body := in.block(fe.Stmts)

	stmts := make([]ast.Stmt, 0, len(body)+2)
	stmts = append(stmts, hookStmt(callHookName, fe.Line(), stringLit(name, fe.Line())))
	stmts = append(stmts, body...)
	if !endsWithReturn {
		last := fe.LastLine()
		if last == 0 {
			last = fe.Line()
		}
		stmts = append(stmts, hookStmt(returnHookName, last, stringLit(name, last)))
	}
	fe.Stmts = stmts
}

func (in *instrumenter) current() (string, bool) {
	if len(in.functions) == 0 {
		return "", false
	}
	return in.functions[len(in.functions)-1], true
}

// funcName returns the bare name of a function definition ("f", "M.f" and "M:f" all yield "f").
func funcName(fn *ast.FuncName) string {
	if fn == nil {
		return ""
	}
	if fn.Method != "" {
		return fn.Method
	}
	return exprName(fn.Func)
}

func exprName(e ast.Expr) string {
	switch ex := e.(type) {
	case *ast.IdentExpr:
		return ex.Value
	case *ast.AttrGetExpr:
		if key, isString := ex.Key.(*ast.StringExpr); isString {
			return key.Value
		}
	case *ast.StringExpr:
		return ex.Value
	}
	return ""
}

func hookCall(hook string, line int, args ...ast.Expr) *ast.FuncCallExpr {
	fn := &ast.IdentExpr{Value: hook}
	fn.SetLine(line)
	fn.SetLastLine(line)
	call := &ast.FuncCallExpr{Func: fn, Args: args}
	call.SetLine(line)
	call.SetLastLine(line)
	return call
}

func hookStmt(hook string, line int, args ...ast.Expr) ast.Stmt {
	s := &ast.FuncCallStmt{Expr: hookCall(hook, line, args...)}
	s.SetLine(line)
	s.SetLastLine(line)
	return s
}

func numberLit(n int, line int) ast.Expr {
	e := &ast.NumberExpr{Value: strconv.Itoa(n)}
	e.SetLine(line)
	e.SetLastLine(line)
	return e
}

func stringLit(s string, line int) ast.Expr {
	e := &ast.StringExpr{Value: s}
	e.SetLine(line)
	e.SetLastLine(line)
	return e
}
