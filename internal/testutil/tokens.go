package testutil

import "sync"

// RunTokens hands out run tokens from a fixed list.
//
// Tokens are returned in order. Once the list is used up the last token repeats,
// so a test that imports several times with a single token gets the same run id
// on every report.
//
// Thread-safety: RunTokens is safe for concurrent use via internal mutex.
type RunTokens struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewRunTokens returns a generator for tokens. With no tokens it yields
// "test-run-default".
func NewRunTokens(tokens ...string) *RunTokens {
	if len(tokens) == 0 {
		tokens = []string{"test-run-default"}
	}
	return &RunTokens{tokens: tokens}
}

// Generate returns the next token. It satisfies importer.RunTokenGenerator.
func (g *RunTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	token := g.tokens[g.next]
	if g.next < len(g.tokens)-1 {
		g.next++
	}
	return token
}
