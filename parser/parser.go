// ==============================================================================================
// FILE: parser/parser.go
// ==============================================================================================
// PACKAGE: parser
// PURPOSE: Recursive-descent parser with Pratt-style expression parsing. Converts a token
//          stream (from the lexer) into an AST, handling operator precedence, the
//          cast-vs-grouped-expression ambiguity, map/variable sigils, probe attach-point
//          lists, predicates, and the optional #include/struct preamble.
// ==============================================================================================

package parser

import (
	"strconv"
	"strings"

	"bpftrace/ast"
	"bpftrace/lexer"
	"bpftrace/token"
	"bpftrace/types"
)

// Precedence constants. Higher binds tighter. Field access and arrow bind
// tighter than the unary/cast level so that `(T)e.f` parses as `(T)(e.f)`.
const (
	_ int = iota
	LOWEST
	LOGICALOR
	LOGICALAND
	BITOR
	BITXOR
	BITAND
	EQUALITY
	RELATIONAL
	SUM
	PRODUCT
	PREFIX
	POSTFIX
)

var precedences = map[token.TokenType]int{
	token.LOR:     LOGICALOR,
	token.LAND:    LOGICALAND,
	token.PIPE:    BITOR,
	token.CARET:   BITXOR,
	token.AMP:     BITAND,
	token.EQ:      EQUALITY,
	token.NE:      EQUALITY,
	token.LT:      RELATIONAL,
	token.LE:      RELATIONAL,
	token.GT:      RELATIONAL,
	token.GE:      RELATIONAL,
	token.PLUS:    SUM,
	token.MINUS:   SUM,
	token.STAR:    PRODUCT,
	token.SLASH:   PRODUCT,
	token.PERCENT: PRODUCT,
	token.DOT:     POSTFIX,
	token.ARROW:   POSTFIX,
}

// primitiveTypes seeds the known-type set consulted by the cast-vs-grouped-
// expression rule; struct names declared in the preamble are added to the
// same set as they are parsed.
var primitiveTypes = map[string]bool{
	"int8": true, "int16": true, "int32": true, "int64": true,
	"uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"char": true, "void": true,
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Parser holds parsing state, including a small lookahead queue (needed for
// the multi-token cast disambiguation) on top of the classic cur/peek pair.
type Parser struct {
	l          *lexer.Lexer
	curToken   token.Token
	peekQueue  []token.Token
	diags      types.Diagnostics
	knownTypes map[string]bool

	prefixParseFns map[token.TokenType]prefixParseFn
	infixParseFns  map[token.TokenType]infixParseFn
}

// New initializes a Parser over l.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{
		l:          l,
		knownTypes: map[string]bool{},
	}
	for name := range primitiveTypes {
		p.knownTypes[name] = true
	}

	p.prefixParseFns = make(map[token.TokenType]prefixParseFn)
	p.registerPrefix(token.INT, p.parseIntegerLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.IDENT, p.parseIdentifierExpression)
	p.registerPrefix(token.MAP, p.parseMapExpression)
	p.registerPrefix(token.VAR, p.parseVarExpression)
	p.registerPrefix(token.NOT, p.parsePrefixUnop)
	p.registerPrefix(token.TILDE, p.parsePrefixUnop)
	p.registerPrefix(token.STAR, p.parsePrefixUnop)
	p.registerPrefix(token.LPAREN, p.parseParenOrCast)

	p.infixParseFns = make(map[token.TokenType]infixParseFn)
	for _, t := range []token.TokenType{
		token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT,
		token.LT, token.LE, token.GT, token.GE, token.EQ, token.NE,
		token.AMP, token.PIPE, token.CARET, token.LAND, token.LOR,
	} {
		p.registerInfix(t, p.parseBinop)
	}
	p.registerInfix(token.DOT, p.parseFieldAccess)
	p.registerInfix(token.ARROW, p.parseArrowFieldAccess)

	p.nextToken()
	return p
}

func (p *Parser) registerPrefix(t token.TokenType, fn prefixParseFn) { p.prefixParseFns[t] = fn }
func (p *Parser) registerInfix(t token.TokenType, fn infixParseFn)   { p.infixParseFns[t] = fn }

// ----------------------------------------------------------------------------
// Token stream plumbing
// ----------------------------------------------------------------------------

func (p *Parser) fill(n int) {
	for len(p.peekQueue) < n {
		p.peekQueue = append(p.peekQueue, p.l.NextToken())
	}
}

// peekAt returns the token n positions ahead of curToken (n=1 is the
// immediate next token, matching the conventional peekToken).
func (p *Parser) peekAt(n int) token.Token {
	p.fill(n)
	return p.peekQueue[n-1]
}

func (p *Parser) peekToken() token.Token { return p.peekAt(1) }

func (p *Parser) nextToken() {
	p.fill(1)
	p.curToken = p.peekQueue[0]
	p.peekQueue = p.peekQueue[1:]
}

func (p *Parser) curTokenIs(t token.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t token.TokenType) bool { return p.peekToken().Type == t }

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) peekError(t token.TokenType) {
	pk := p.peekToken()
	p.diags.Add(p.posOf(pk), "expected next token to be %s, got %s instead", t, pk.Type)
}

func (p *Parser) posOf(tok token.Token) types.Position {
	return types.Position{Line: tok.Line, Column: tok.Column}
}

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peekToken().Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.curToken.Type]; ok {
		return prec
	}
	return LOWEST
}

// Errors reports accumulated syntax diagnostics.
func (p *Parser) Errors() []types.Diagnostic { return p.diags.List() }

// ----------------------------------------------------------------------------
// Top level
// ----------------------------------------------------------------------------

// ParseProgram parses the full token stream into a Program. Parsing stops at
// the first error; a non-nil error is returned alongside a best-effort
// partial program.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	var includes []*ast.Include
	var structs []*ast.StructDecl
	var probes []*ast.Probe

	for p.curTokenIs(token.INCLUDE) && !p.diags.HasErrors() {
		includes = append(includes, p.parseInclude())
		p.nextToken()
	}
	for p.curTokenIs(token.STRUCT) && !p.diags.HasErrors() {
		sd := p.parseStructDecl()
		if sd != nil {
			structs = append(structs, sd)
			p.knownTypes[sd.Name] = true
		}
		p.nextToken()
		for p.curTokenIs(token.SEMICOLON) {
			p.nextToken()
		}
	}
	for !p.curTokenIs(token.EOF) && !p.diags.HasErrors() {
		probe := p.parseProbe()
		if probe != nil {
			probes = append(probes, probe)
		}
		p.nextToken()
	}

	program := ast.NewProgram(includes, structs, probes)
	if p.diags.HasErrors() {
		return program, p.diags.Err()
	}
	return program, nil
}

// parseInclude handles `#include <file>` and `#include "file"`. cur is
// INCLUDE on entry; cur ends on the last token of the path on return.
func (p *Parser) parseInclude() *ast.Include {
	pos := p.posOf(p.curToken)
	p.nextToken()
	if p.curTokenIs(token.STRING) {
		return ast.NewInclude(pos, p.curToken.Literal, false)
	}
	if p.curTokenIs(token.LT) {
		var sb strings.Builder
		p.nextToken()
		for !p.curTokenIs(token.GT) && !p.curTokenIs(token.EOF) {
			sb.WriteString(p.curToken.Literal)
			p.nextToken()
		}
		return ast.NewInclude(pos, sb.String(), true)
	}
	p.diags.Add(pos, "expected an include path, got %s", p.curToken.Type)
	return ast.NewInclude(pos, "", false)
}

// parseStructDecl parses `struct Name { field; field; ... }` (fields may be
// comma- or semicolon-separated, with an optional trailing separator). cur is
// STRUCT on entry.
func (p *Parser) parseStructDecl() *ast.StructDecl {
	pos := p.posOf(p.curToken)
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	name := p.curToken.Literal
	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	var fields []ast.StructField
	if p.peekTokenIs(token.RBRACE) {
		p.nextToken()
		return ast.NewStructDecl(pos, name, fields)
	}
	p.nextToken()
	fields = append(fields, p.parseStructField())
	for p.peekTokenIs(token.COMMA) || p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
		if p.peekTokenIs(token.RBRACE) {
			break
		}
		p.nextToken()
		fields = append(fields, p.parseStructField())
	}
	if !p.expectPeek(token.RBRACE) {
		return nil
	}
	return ast.NewStructDecl(pos, name, fields)
}

func (p *Parser) parseStructField() ast.StructField {
	typeName := p.curToken.Literal
	pointer := false
	if p.peekTokenIs(token.STAR) {
		p.nextToken()
		pointer = true
	}
	if !p.expectPeek(token.IDENT) {
		return ast.StructField{Type: typeName, Pointer: pointer}
	}
	name := p.curToken.Literal
	arrayLen := 0
	if p.peekTokenIs(token.LBRACKET) {
		p.nextToken()
		if !p.expectPeek(token.INT) {
			return ast.StructField{Type: typeName, Pointer: pointer, Name: name}
		}
		n, err := strconv.Atoi(p.curToken.Literal)
		if err != nil {
			p.diags.Add(p.posOf(p.curToken), "invalid array length %q", p.curToken.Literal)
		}
		arrayLen = n
		if !p.expectPeek(token.RBRACKET) {
			return ast.StructField{Type: typeName, Pointer: pointer, Name: name, ArrayLen: arrayLen}
		}
	}
	return ast.StructField{Type: typeName, Pointer: pointer, Name: name, ArrayLen: arrayLen}
}

// ----------------------------------------------------------------------------
// Probes
// ----------------------------------------------------------------------------

func (p *Parser) parseProbe() *ast.Probe {
	pos := p.posOf(p.curToken)

	var aps []*ast.AttachPoint
	if ap := p.parseAttachPoint(); ap != nil {
		aps = append(aps, ap)
	}
	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		if ap := p.parseAttachPoint(); ap != nil {
			aps = append(aps, ap)
		}
	}

	var pred *ast.Predicate
	if p.peekTokenIs(token.SLASH) {
		p.nextToken()
		pred = p.parsePredicate()
	}

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	stmts := p.parseStatementList()
	return ast.NewProbe(pos, aps, pred, stmts)
}

// parseAttachPoint parses one entry of a comma-separated attach-point list.
// cur is the provider token on entry (IDENT, or the BEGIN/END keyword).
func (p *Parser) parseAttachPoint() *ast.AttachPoint {
	pos := p.posOf(p.curToken)
	provider := p.curToken.Literal

	if p.curTokenIs(token.BEGIN) || p.curTokenIs(token.END) {
		return ast.NewAttachPoint(pos, provider, "", "", "")
	}
	if !p.expectPeek(token.COLON) {
		return nil
	}
	p.nextToken()

	switch provider {
	case "uprobe", "uretprobe", "tracepoint":
		target := p.readSegmentUntilColon()
		if !p.expectPeek(token.COLON) {
			return nil
		}
		p.nextToken()
		fn := p.readFinalSegment()
		return ast.NewAttachPoint(pos, provider, target, fn, "")
	case "profile":
		unit := p.readSegmentUntilColon()
		if !p.expectPeek(token.COLON) {
			return nil
		}
		p.nextToken()
		freq := p.readFinalSegment()
		return ast.NewAttachPoint(pos, provider, unit, "", freq)
	default: // kprobe, kretprobe
		fn := p.readFinalSegment()
		return ast.NewAttachPoint(pos, provider, "", fn, "")
	}
}

// readSegmentUntilColon concatenates token literals up to (not including)
// the next COLON. Embedded separators like SLASH (uprobe paths) or STAR/
// brackets (wildcards) are preserved verbatim since only COLON delimits
// attach-point segments.
func (p *Parser) readSegmentUntilColon() string {
	var sb strings.Builder
	sb.WriteString(p.curToken.Literal)
	for !p.peekTokenIs(token.COLON) && !p.peekTokenIs(token.EOF) {
		p.nextToken()
		sb.WriteString(p.curToken.Literal)
	}
	return sb.String()
}

// readFinalSegment concatenates token literals up to the token that closes
// the attach-point list: a comma (next attach point), a slash (predicate
// open), a brace (probe body), or EOF.
func (p *Parser) readFinalSegment() string {
	var sb strings.Builder
	sb.WriteString(p.curToken.Literal)
	for !isAttachSegmentTerminator(p.peekToken().Type) {
		p.nextToken()
		sb.WriteString(p.curToken.Literal)
	}
	return sb.String()
}

func isAttachSegmentTerminator(t token.TokenType) bool {
	switch t {
	case token.COMMA, token.SLASH, token.LBRACE, token.EOF:
		return true
	}
	return false
}

// parsePredicate parses `/ expr /` given cur positioned on the opening
// slash. It first scans forward to retag the terminating slash (the last
// one before the probe's `{`) as PREDEND, so division inside the predicate
// parses normally.
func (p *Parser) parsePredicate() *ast.Predicate {
	pos := p.posOf(p.curToken)
	p.scanPredicateTerminator()
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(token.PREDEND) {
		return nil
	}
	return ast.NewPredicate(pos, expr)
}

func (p *Parser) scanPredicateTerminator() {
	lastSlash := -1
	i := 1
	for {
		tok := p.peekAt(i)
		if tok.Type == token.LBRACE || tok.Type == token.EOF {
			break
		}
		if tok.Type == token.SLASH {
			lastSlash = i
		}
		i++
	}
	if lastSlash >= 0 {
		p.peekQueue[lastSlash-1].Type = token.PREDEND
	}
}

// parseStatementList parses the semicolon-separated statement list of a
// probe body. cur is LBRACE on entry; cur is RBRACE on return.
func (p *Parser) parseStatementList() []ast.Statement {
	var stmts []ast.Statement
	p.nextToken()
	for !p.curTokenIs(token.RBRACE) && !p.curTokenIs(token.EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			stmts = append(stmts, stmt)
		}
		if p.peekTokenIs(token.SEMICOLON) {
			p.nextToken()
		}
		p.nextToken()
	}
	return stmts
}

func (p *Parser) parseStatement() ast.Statement {
	pos := p.posOf(p.curToken)
	switch p.curToken.Type {
	case token.MAP:
		m := p.parseMapNode()
		if p.peekTokenIs(token.ASSIGN) {
			p.nextToken()
			p.nextToken()
			rhs := p.parseExpression(LOWEST)
			return ast.NewAssignMap(pos, m, rhs)
		}
		return ast.NewExprStatement(pos, m)
	case token.VAR:
		v := p.parseVarNode()
		if p.peekTokenIs(token.ASSIGN) {
			p.nextToken()
			p.nextToken()
			rhs := p.parseExpression(LOWEST)
			return ast.NewAssignVar(pos, v, rhs)
		}
		return ast.NewExprStatement(pos, v)
	default:
		expr := p.parseExpression(LOWEST)
		return ast.NewExprStatement(pos, expr)
	}
}

// ----------------------------------------------------------------------------
// Expressions
// ----------------------------------------------------------------------------

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.diags.Add(p.posOf(p.curToken), "no prefix parse function for %s", p.curToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekTokenIs(token.EOF) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken().Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	pos := p.posOf(p.curToken)
	val, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil {
		p.diags.Add(pos, "could not parse %q as integer", p.curToken.Literal)
		return nil
	}
	return ast.NewInteger(pos, val)
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return ast.NewString(p.posOf(p.curToken), p.curToken.Literal)
}

// parseIdentifierExpression resolves a bare identifier as either a Call
// (when followed by '(') or a Builtin reference.
func (p *Parser) parseIdentifierExpression() ast.Expression {
	pos := p.posOf(p.curToken)
	name := p.curToken.Literal
	if p.peekTokenIs(token.LPAREN) {
		p.nextToken()
		args := p.parseExpressionList(token.RPAREN)
		return ast.NewCall(pos, name, args)
	}
	return ast.NewBuiltin(pos, name)
}

func (p *Parser) parseMapExpression() ast.Expression { return p.parseMapNode() }

func (p *Parser) parseMapNode() *ast.Map {
	pos := p.posOf(p.curToken)
	name := p.curToken.Literal
	var keys []ast.Expression
	if p.peekTokenIs(token.LBRACKET) {
		p.nextToken()
		keys = p.parseExpressionList(token.RBRACKET)
	}
	return ast.NewMap(pos, name, keys)
}

func (p *Parser) parseVarExpression() ast.Expression { return p.parseVarNode() }

func (p *Parser) parseVarNode() *ast.Variable {
	return ast.NewVariable(p.posOf(p.curToken), p.curToken.Literal)
}

func (p *Parser) parsePrefixUnop() ast.Expression {
	pos := p.posOf(p.curToken)
	op := p.curToken.Type
	p.nextToken()
	expr := p.parseExpression(PREFIX)
	return ast.NewUnop(pos, op, expr)
}

// parseParenOrCast implements the cast-vs-grouped-expression rule: a
// sequence '(' IDENT '*'? ')' is a cast iff IDENT names a known struct or
// primitive type; otherwise the parens just group an expression.
func (p *Parser) parseParenOrCast() ast.Expression {
	pos := p.posOf(p.curToken)

	if p.peekAt(1).Type == token.IDENT && p.knownTypes[p.peekAt(1).Literal] {
		typeName := p.peekAt(1).Literal
		idx := 2
		isPointer := false
		if p.peekAt(idx).Type == token.STAR {
			isPointer = true
			idx++
		}
		if p.peekAt(idx).Type == token.RPAREN {
			for i := 0; i < idx; i++ {
				p.nextToken()
			}
			p.nextToken()
			expr := p.parseExpression(PREFIX)
			return ast.NewCast(pos, typeName, isPointer, expr)
		}
	}

	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return expr
}

func (p *Parser) parseBinop(left ast.Expression) ast.Expression {
	pos := p.posOf(p.curToken)
	op := p.curToken.Type
	prec := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(prec)
	return ast.NewBinop(pos, op, left, right)
}

func (p *Parser) parseFieldAccess(left ast.Expression) ast.Expression {
	pos := p.posOf(p.curToken)
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	return ast.NewFieldAccess(pos, left, p.curToken.Literal)
}

// parseArrowFieldAccess desugars `e->f` to exactly `(*e).f`.
func (p *Parser) parseArrowFieldAccess(left ast.Expression) ast.Expression {
	pos := p.posOf(p.curToken)
	deref := ast.NewUnop(left.Pos(), token.STAR, left)
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	return ast.NewFieldAccess(pos, deref, p.curToken.Literal)
}

// parseExpressionList parses a comma-separated expression list; cur is the
// opening delimiter on entry and the closing `end` token on return.
func (p *Parser) parseExpressionList(end token.TokenType) []ast.Expression {
	var list []ast.Expression
	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}
	p.nextToken()
	list = append(list, p.parseExpression(LOWEST))
	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}
	if !p.expectPeek(end) {
		return nil
	}
	return list
}
