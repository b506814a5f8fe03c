// ----------------------------------------------------------------------------
// FILE: ast/visitor.go
// ----------------------------------------------------------------------------
// PACKAGE: ast
// PURPOSE: External pre-order visitor contract. A tagged union over node
//          variants plus a single Walk dispatch: no node-embedded
//          traversal, each phase drives its own order by calling Walk
//          again from inside its own Visit method.
// ----------------------------------------------------------------------------

package ast

// Visitor is implemented once per phase (printer, analyzer, code generator).
// Walk calls exactly the method matching a node's concrete type; descending
// into a node's children is left entirely to that method, which may call
// Walk again on whichever children it wants, in whatever order it wants.
type Visitor interface {
	VisitProgram(*Program)
	VisitInclude(*Include)
	VisitStructDecl(*StructDecl)
	VisitProbe(*Probe)
	VisitAttachPoint(*AttachPoint)
	VisitPredicate(*Predicate)

	VisitExprStatement(*ExprStatement)
	VisitAssignMap(*AssignMap)
	VisitAssignVar(*AssignVar)

	VisitInteger(*Integer)
	VisitString(*String)
	VisitBuiltin(*Builtin)
	VisitCall(*Call)
	VisitMap(*Map)
	VisitVariable(*Variable)
	VisitBinop(*Binop)
	VisitUnop(*Unop)
	VisitFieldAccess(*FieldAccess)
	VisitCast(*Cast)
}

// Walk dispatches n to the Visitor method matching its concrete type. It
// does not recurse: a Visit implementation that wants to see n's children
// calls Walk on each of them itself.
func Walk(n Node, v Visitor) {
	switch node := n.(type) {
	case *Program:
		v.VisitProgram(node)
	case *Include:
		v.VisitInclude(node)
	case *StructDecl:
		v.VisitStructDecl(node)
	case *Probe:
		v.VisitProbe(node)
	case *AttachPoint:
		v.VisitAttachPoint(node)
	case *Predicate:
		v.VisitPredicate(node)
	case *ExprStatement:
		v.VisitExprStatement(node)
	case *AssignMap:
		v.VisitAssignMap(node)
	case *AssignVar:
		v.VisitAssignVar(node)
	case *Integer:
		v.VisitInteger(node)
	case *String:
		v.VisitString(node)
	case *Builtin:
		v.VisitBuiltin(node)
	case *Call:
		v.VisitCall(node)
	case *Map:
		v.VisitMap(node)
	case *Variable:
		v.VisitVariable(node)
	case *Binop:
		v.VisitBinop(node)
	case *Unop:
		v.VisitUnop(node)
	case *FieldAccess:
		v.VisitFieldAccess(node)
	case *Cast:
		v.VisitCast(node)
	default:
		panic("ast: Walk called with unknown node type")
	}
}
