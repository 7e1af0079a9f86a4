// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package typecheck implements a static checker for pathway func
// registrations and session invocations.
package typecheck

import (
	"fmt"
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
	"golang.org/x/tools/go/types/typeutil"
)

var Analyzer = &analysis.Analyzer{
	Name: "pathway_typecheck",
	Doc: `check pathway func registrations and call arguments

Basic typechecker for pathway programs. It inspects pathway.Func
registrations to ensure that every parameter of the registered function
is declared with pathway.Arg and that no parameter has an unserializable
type, and it inspects session.Run and session.Must calls to ensure the
arguments are compatible with the Func.
Checks are limited by static analysis and are best-effort. For example, the call
	session.Must(ctx, chooseFunc(), args...)
cannot be checked, because it uses chooseFunc() instead of a simple identifier.
Arguments that are deferred results of other jobs are not checked.`,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

const (
	funcFullName     = "github.com/grailbio/pathway.Func"
	argFullName      = "github.com/grailbio/pathway.Arg"
	execMustFullName = "(*github.com/grailbio/pathway/exec.Session).Must"
	execRunFullName  = "(*github.com/grailbio/pathway/exec.Session).Run"
)

func run(pass *analysis.Pass) (interface{}, error) {
	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	// funcTypes holds the parameter types of declared pathway.FuncValues,
	// excluding any leading context.Context.
	// TODO: Export these types as Facts to allow checking across packages.
	funcTypes := map[string]*types.Tuple{}

	// Collect the types of top-level pathway.Funcs.
	inspect.Preorder([]ast.Node{&ast.ValueSpec{}}, func(node ast.Node) {
		valueSpec := node.(*ast.ValueSpec)
		for valueIdx, value := range valueSpec.Values {
			call, ok := value.(*ast.CallExpr)
			if !ok {
				continue
			}
			fn := typeutil.StaticCallee(pass.TypesInfo, call)
			if fn == nil || fn.FullName() != funcFullName {
				continue
			}
			if len(call.Args) < 2 {
				continue
			}
			implAst := call.Args[1]
			implSig, ok := pass.TypesInfo.TypeOf(implAst).Underlying().(*types.Signature)
			if !ok {
				pass.ReportRangef(implAst, "argument to pathway.Func must be a function, not %v", pass.TypesInfo.TypeOf(implAst))
				continue
			}
			params := funcParams(implSig)
			var invalidParams bool
			for i, param := range params {
				if err := checkValidFuncArg(param.Type()); err != nil {
					pass.Reportf(param.Pos(),
						"pathway type error: Func argument %q [%d]: %v", param.Name(), i, err)
					invalidParams = true
				}
			}
			if call.Ellipsis.IsValid() {
				// Parameters are declared by a slice; their number is
				// not known statically.
				continue
			}
			if declared, ok := declaredParams(pass, call.Args[2:]); ok && declared != len(params) {
				pass.ReportRangef(call,
					"pathway type error: func takes %d parameters, but %d were declared",
					len(params), declared)
				invalidParams = true
			}
			if invalidParams {
				continue
			}
			tuple := types.NewTuple(params...)
			funcTypes[valueSpec.Names[valueIdx].Name] = tuple
		}
	})

	inspect.Preorder([]ast.Node{&ast.CallExpr{}}, func(node ast.Node) {
		call := node.(*ast.CallExpr)
		fn := typeutil.StaticCallee(pass.TypesInfo, call)
		if fn == nil {
			return
		}
		if name := fn.FullName(); name != execRunFullName && name != execMustFullName {
			return
		}
		if len(call.Args) < 2 || call.Ellipsis.IsValid() {
			return
		}
		funcValueIdent, ok := call.Args[1].(*ast.Ident)
		if !ok {
			// This function invocation is more complicated than a simple identifier.
			// Give up on typechecking this call.
			return
		}
		wantArgTypes, ok := funcTypes[funcValueIdent.Name]
		if !ok {
			return
		}
		gotArgs := call.Args[2:]
		if want, got := wantArgTypes.Len(), len(gotArgs); want != got {
			pass.ReportRangef(funcValueIdent,
				"pathway type error: %s requires %d arguments, but got %d",
				funcValueIdent.Name, want, got)
			return
		}
		for i, gotArg := range gotArgs {
			wantType := wantArgTypes.At(i).Type()
			gotType := pass.TypesInfo.TypeOf(gotArg)
			if isDeferred(gotType) {
				continue
			}
			if !types.AssignableTo(gotType, wantType) {
				pass.ReportRangef(gotArg,
					"pathway type error: func %q argument %q [%d] requires %v, but got %v",
					funcValueIdent.Name, wantArgTypes.At(i).Name(), i, wantType, gotType)
			}
		}
	})

	return nil, nil
}

// funcParams returns the parameters of sig that are bound to
// arguments, that is, all parameters but a leading context.Context.
func funcParams(sig *types.Signature) []*types.Var {
	var params []*types.Var
	for i := 0; i < sig.Params().Len(); i++ {
		param := sig.Params().At(i)
		if i == 0 && isContext(param.Type()) {
			continue
		}
		params = append(params, param)
	}
	return params
}

// declaredParams counts the parameter declarations in args. It returns
// false if any of them is not a direct call to pathway.Arg.
func declaredParams(pass *analysis.Pass, args []ast.Expr) (int, bool) {
	for _, arg := range args {
		call, ok := arg.(*ast.CallExpr)
		if !ok {
			return 0, false
		}
		fn := typeutil.StaticCallee(pass.TypesInfo, call)
		if fn == nil || fn.FullName() != argFullName {
			return 0, false
		}
	}
	return len(args), true
}

func isContext(typ types.Type) bool {
	named, ok := typ.(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == "context" && obj.Name() == "Context"
}

// isDeferred tells whether typ implements pathway.Deferred. Deferred
// arguments are checked when the job is submitted.
func isDeferred(typ types.Type) bool {
	if typ == nil {
		return false
	}
	for _, t := range []types.Type{typ, types.NewPointer(typ)} {
		mset := types.NewMethodSet(t)
		if mset.Lookup(nil, "Ref") != nil && mset.Lookup(nil, "Done") != nil && mset.Lookup(nil, "Type") != nil {
			return true
		}
	}
	return false
}

func checkValidFuncArg(typ types.Type) error {
	switch typ.Underlying().(type) {
	case *types.Tuple:
		panic("Tuple not expected")
	default:
		return nil
	case *types.Chan, *types.Signature:
		return fmt.Errorf("unsupported argument type: %s (can't be serialized)", typ.String())
	}
}
