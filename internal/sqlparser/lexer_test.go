package sqlparser

import (
	"errors"
	"testing"
)

func kinds(tokens []Token) []TokenKind {
	out := make([]TokenKind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}
	return out
}

func TestTokenizeKinds(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenKind
	}{
		{
			"SELECT * FROM users",
			[]TokenKind{KindKeyword, KindOperator, KindKeyword, KindIdentifier, KindEOF},
		},
		{
			"SELECT id, email FROM users WHERE id = ?",
			[]TokenKind{KindKeyword, KindIdentifier, KindPunctuation, KindIdentifier, KindKeyword, KindIdentifier, KindKeyword, KindIdentifier, KindOperator, KindPlaceholder, KindEOF},
		},
		{
			"SELECT COUNT(*) FROM events",
			[]TokenKind{KindKeyword, KindFunction, KindPunctuation, KindOperator, KindPunctuation, KindKeyword, KindIdentifier, KindEOF},
		},
		{
			"INSERT INTO t (a) VALUES ('it''s')",
			[]TokenKind{KindKeyword, KindKeyword, KindIdentifier, KindPunctuation, KindIdentifier, KindPunctuation, KindKeyword, KindPunctuation, KindString, KindPunctuation, KindEOF},
		},
	}

	for _, tt := range tests {
		tokens, err := Tokenize(tt.input)
		if err != nil {
			t.Errorf("input %q: unexpected error: %v", tt.input, err)
			continue
		}
		got := kinds(tokens)
		if len(got) != len(tt.expected) {
			t.Errorf("input %q: expected %d tokens, got %d (%v)", tt.input, len(tt.expected), len(got), tokens)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("input %q: token %d: expected %s, got %s", tt.input, i, tt.expected[i], got[i])
			}
		}
	}
}

func TestTokenizeComments(t *testing.T) {
	input := "SELECT id -- trailing comment\nFROM /* block\ncomment */ users"
	tokens, err := Tokenize(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var texts []string
	for _, tok := range tokens {
		if tok.Kind != KindEOF {
			texts = append(texts, tok.Text)
		}
	}
	expected := []string{"SELECT", "id", "FROM", "users"}
	if len(texts) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, texts)
	}
	for i := range expected {
		if texts[i] != expected[i] {
			t.Errorf("token %d: expected %q, got %q", i, expected[i], texts[i])
		}
	}

	// Offsets refer to the original text, comments included.
	if tokens[2].Text != "FROM" || tokens[2].Start != 30 {
		t.Errorf("FROM should start at offset 30, got %d", tokens[2].Start)
	}
}

func TestTokenizeStringEscapes(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`'plain'`, "plain"},
		{`'it''s'`, "it's"},
		{`'a\nb'`, "a\nb"},
		{`'tab\there'`, "tab\there"},
	}

	for _, tt := range tests {
		tokens, err := Tokenize(tt.input)
		if err != nil {
			t.Errorf("input %q: unexpected error: %v", tt.input, err)
			continue
		}
		if tokens[0].Kind != KindString || tokens[0].Text != tt.expected {
			t.Errorf("input %q: expected string %q, got %q", tt.input, tt.expected, tokens[0].Text)
		}
	}
}

func TestTokenizeQuotedIdentifiers(t *testing.T) {
	tokens, err := Tokenize("SELECT \"select\", `from` FROM t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens[1].Kind != KindIdentifier || tokens[1].Text != "select" || !tokens[1].Quoted {
		t.Errorf("double-quoted word should be a quoted identifier, got %v", tokens[1])
	}
	if tokens[3].Kind != KindIdentifier || tokens[3].Text != "from" || !tokens[3].Quoted {
		t.Errorf("backtick-quoted word should be a quoted identifier, got %v", tokens[3])
	}
}

func TestTokenizeNumbers(t *testing.T) {
	tests := []struct {
		input string
		text  string
	}{
		{"42", "42"},
		{"3.14", "3.14"},
		{"0xFF", "0xFF"},
		{"0b1010", "0b1010"},
		{"1.5e-3", "1.5e-3"},
		{"2E8", "2E8"},
	}

	for _, tt := range tests {
		tokens, err := Tokenize(tt.input)
		if err != nil {
			t.Errorf("input %q: unexpected error: %v", tt.input, err)
			continue
		}
		if tokens[0].Kind != KindNumber || tokens[0].Text != tt.text {
			t.Errorf("input %q: expected number %q, got %v", tt.input, tt.text, tokens[0])
		}
	}
}

func TestTokenizeTypeKeywordContext(t *testing.T) {
	// INTEGER after an identifier is a type keyword; a bare word that happens
	// to be a type name is an identifier elsewhere.
	tokens, err := Tokenize("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var integerTok *Token
	for i := range tokens {
		if tokens[i].Text == "INTEGER" {
			integerTok = &tokens[i]
		}
	}
	if integerTok == nil || integerTok.Kind != KindKeyword {
		t.Errorf("INTEGER after column name should be a keyword, got %v", integerTok)
	}

	tokens, err = Tokenize("SELECT date FROM t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens[1].Kind != KindIdentifier {
		t.Errorf("bare 'date' in select list should be an identifier, got %v", tokens[1])
	}
}

func TestTokenizeUnterminated(t *testing.T) {
	_, err := Tokenize("SELECT 'oops")
	var terr *TokenizerError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TokenizerError, got %v", err)
	}
	if terr.Kind != CodeUnterminatedStr {
		t.Errorf("expected %s, got %s", CodeUnterminatedStr, terr.Kind)
	}
	if terr.Line != 1 || terr.Column != 8 {
		t.Errorf("expected line 1 column 8, got line %d column %d", terr.Line, terr.Column)
	}

	_, err = Tokenize("SELECT \"oops")
	if !errors.As(err, &terr) {
		t.Fatalf("expected TokenizerError, got %v", err)
	}
	if terr.Kind != CodeUnterminatedIdent {
		t.Errorf("expected %s, got %s", CodeUnterminatedIdent, terr.Kind)
	}
}
