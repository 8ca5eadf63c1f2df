package formats

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/timtadh/lexmachine"
	"github.com/timtadh/lexmachine/machines"
)

// Errors shared by the MD5 document parsers.
var (
	ErrSyntax             = errors.New("md5 syntax error")
	ErrUnsupportedVersion = errors.New("unsupported MD5Version")
	ErrCountUndeclared    = errors.New("count must be declared before its section")
	ErrCountMismatch      = errors.New("element count does not match declaration")
	ErrJointOrder         = errors.New("joint parent must precede its children")
	ErrRange              = errors.New("value out of range")
)

// Sanity caps on declared counts.
const (
	maxJointCount     = 4096
	maxMeshCount      = 1024
	maxMeshElemCount  = 100000
	maxFrameCount     = 100000
	maxComponentCount = 100000
)

// Token kinds produced by the shared lexer.
const (
	tokIdent = iota
	tokNumber
	tokString
	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokComma
	tokPunct
	tokEOF
)

var md5Lexer *lexmachine.Lexer

func init() {
	md5Lexer = lexmachine.NewLexer()
	md5Lexer.Add([]byte(`//[^\n]*`), skipLexeme)
	md5Lexer.Add([]byte(`/\*([^*]|\*+[^*/])*\*+/`), skipLexeme)
	md5Lexer.Add([]byte(`\s+`), skipLexeme)
	md5Lexer.Add([]byte(`\{`), emit(tokLBrace))
	md5Lexer.Add([]byte(`\}`), emit(tokRBrace))
	md5Lexer.Add([]byte(`\(`), emit(tokLParen))
	md5Lexer.Add([]byte(`\)`), emit(tokRParen))
	md5Lexer.Add([]byte(`,`), emit(tokComma))
	// Operator characters appear in material stage expressions, which the
	// material parser skips wholesale.
	md5Lexer.Add([]byte(`[\[\]\*=<>%:;\+\-/&\|!\.]`), emit(tokPunct))
	md5Lexer.Add([]byte(`[\+\-]?([0-9]+(\.[0-9]+)?|\.[0-9]+)([eE][\+\-]?[0-9]+)?`), emit(tokNumber))
	md5Lexer.Add([]byte(`"(\\.|[^"])*"`), emit(tokString))
	md5Lexer.Add([]byte(`[a-zA-Z_][a-zA-Z0-9_\.\-/\\]*`), emit(tokIdent))
}

func emit(kind int) lexmachine.Action {
	return func(s *lexmachine.Scanner, m *machines.Match) (interface{}, error) {
		return s.Token(kind, string(m.Bytes), m), nil
	}
}

func skipLexeme(s *lexmachine.Scanner, m *machines.Match) (interface{}, error) {
	return nil, nil
}

// token is one lexical element of an MD5 document.
type token struct {
	kind int
	text string
	line int
}

// String renders the token for error messages.
func (t token) String() string {
	if t.kind == tokEOF {
		return "end of file"
	}
	return strconv.Quote(t.text)
}

// tokenize runs the shared lexer over a whole document. Comments and
// whitespace are dropped.
func tokenize(data []byte) ([]token, error) {
	scanner, err := md5Lexer.Scanner(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	var toks []token
	for itok, err, eos := scanner.Next(); !eos; itok, err, eos = scanner.Next() {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		tok := itok.(*lexmachine.Token)
		toks = append(toks, token{
			kind: tok.Type,
			text: string(tok.Lexeme),
			line: tok.StartLine,
		})
	}
	return toks, nil
}

// tokenReader is a cursor over a tokenized document.
type tokenReader struct {
	toks []token
	pos  int
}

func (r *tokenReader) atEOF() bool {
	return r.pos >= len(r.toks)
}

func (r *tokenReader) peek() token {
	if r.atEOF() {
		return token{kind: tokEOF}
	}
	return r.toks[r.pos]
}

func (r *tokenReader) next() token {
	tok := r.peek()
	if !r.atEOF() {
		r.pos++
	}
	return tok
}

// expect consumes the next token and requires it to be of the given kind.
func (r *tokenReader) expect(kind int, what string) (token, error) {
	tok := r.next()
	if tok.kind != kind {
		return tok, fmt.Errorf("%w: expected %s, got %s at line %d", ErrSyntax, what, tok, tok.line)
	}
	return tok, nil
}

// keyword consumes an identifier token with the exact given text.
func (r *tokenReader) keyword(name string) error {
	tok := r.next()
	if tok.kind != tokIdent || tok.text != name {
		return fmt.Errorf("%w: expected %q, got %s at line %d", ErrSyntax, name, tok, tok.line)
	}
	return nil
}

func (r *tokenReader) ident() (string, error) {
	tok, err := r.expect(tokIdent, "identifier")
	if err != nil {
		return "", err
	}
	return tok.text, nil
}

// quoted consumes a string token and returns its unquoted value.
func (r *tokenReader) quoted() (string, error) {
	tok, err := r.expect(tokString, "quoted string")
	if err != nil {
		return "", err
	}
	s, err := strconv.Unquote(tok.text)
	if err != nil {
		return "", fmt.Errorf("%w: bad string %s at line %d", ErrSyntax, tok, tok.line)
	}
	return s, nil
}

func (r *tokenReader) integer() (int, error) {
	tok, err := r.expect(tokNumber, "integer")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok.text)
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer, got %s at line %d", ErrSyntax, tok, tok.line)
	}
	return n, nil
}

func (r *tokenReader) float() (float32, error) {
	tok, err := r.expect(tokNumber, "number")
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(tok.text, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %s at line %d", ErrSyntax, tok, tok.line)
	}
	return float32(f), nil
}

// vec2 consumes "( x y )".
func (r *tokenReader) vec2() (mgl32.Vec2, error) {
	var v mgl32.Vec2
	if _, err := r.expect(tokLParen, `"("`); err != nil {
		return v, err
	}
	for i := 0; i < 2; i++ {
		f, err := r.float()
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	if _, err := r.expect(tokRParen, `")"`); err != nil {
		return v, err
	}
	return v, nil
}

// vec3 consumes "( x y z )".
func (r *tokenReader) vec3() (mgl32.Vec3, error) {
	var v mgl32.Vec3
	if _, err := r.expect(tokLParen, `"("`); err != nil {
		return v, err
	}
	for i := 0; i < 3; i++ {
		f, err := r.float()
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	if _, err := r.expect(tokRParen, `")"`); err != nil {
		return v, err
	}
	return v, nil
}

// count consumes a declared element count and validates it against a cap.
func (r *tokenReader) count(what string, max int) (int, error) {
	tok := r.peek()
	n, err := r.integer()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > max {
		return 0, fmt.Errorf("%w: %s %d at line %d", ErrRange, what, n, tok.line)
	}
	return n, nil
}
