package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{"env:prod", []TokenType{TokenIdent, TokenEOF}},
		{"*", []TokenType{TokenStar, TokenEOF}},
		{"env:prod AND host:h1", []TokenType{TokenIdent, TokenAnd, TokenIdent, TokenEOF}},
		{"a:1 OR b:2", []TokenType{TokenIdent, TokenOr, TokenIdent, TokenEOF}},
		{"NOT env:prod", []TokenType{TokenNot, TokenIdent, TokenEOF}},
		{"(env:prod)", []TokenType{TokenLParen, TokenIdent, TokenRParen, TokenEOF}},
		{"  env:prod \t ", []TokenType{TokenIdent, TokenEOF}},
		{"", []TokenType{TokenEOF}},
		{"env:prod {", []TokenType{TokenIdent, TokenIllegal, TokenEOF}},
		// Keywords are case-sensitive: lowercase words are identifiers.
		{"and:or", []TokenType{TokenIdent, TokenEOF}},
	}

	for _, tt := range tests {
		lexer := NewLexer(tt.input)
		for i, expected := range tt.expected {
			tok := lexer.NextToken()
			require.Equal(t, expected, tok.Type,
				"input %q token[%d]: got %q", tt.input, i, tok.Literal)
		}
	}
}

func TestLexerPositions(t *testing.T) {
	lexer := NewLexer("env:prod AND host:h1")

	tok := lexer.NextToken()
	require.Equal(t, 0, tok.Pos)
	require.Equal(t, "env:prod", tok.Literal)

	tok = lexer.NextToken()
	require.Equal(t, 9, tok.Pos)
	require.Equal(t, "AND", tok.Literal)

	tok = lexer.NextToken()
	require.Equal(t, 13, tok.Pos)
	require.Equal(t, "host:h1", tok.Literal)

	tok = lexer.NextToken()
	require.Equal(t, TokenEOF, tok.Type)
	require.Equal(t, 20, tok.Pos)
}
