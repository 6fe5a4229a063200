// Package profanity provides a wordlist-based profanity check for chat
// messages, in both directions: incoming partner messages and outgoing
// replies.
package profanity

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

//go:embed wordlist/default.txt
var defaultListFS embed.FS

// Filter reports whether a text contains profane words.
type Filter interface {
	IsProfane(text string) bool
}

// WordlistFilter implements Filter with a set of banned words. Matching is
// case-insensitive and token-based: the text is split on non-letter runes
// and each token is looked up in the set.
type WordlistFilter struct {
	words map[string]struct{}
}

// NewFilter loads the embedded default wordlist. It fails if the list is
// missing or empty; callers must treat that as fatal.
func NewFilter() (*WordlistFilter, error) {
	f, err := defaultListFS.Open("wordlist/default.txt")
	if err != nil {
		return nil, fmt.Errorf("open embedded wordlist: %w", err)
	}
	defer f.Close()
	return newFilterFromReader(f)
}

// NewFilterFromFile loads a user-supplied wordlist, one word per line.
// Lines starting with '#' are comments.
func NewFilterFromFile(path string) (*WordlistFilter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wordlist %s: %w", path, err)
	}
	defer f.Close()
	return newFilterFromReader(f)
}

func newFilterFromReader(r io.Reader) (*WordlistFilter, error) {
	words := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("wordlist is empty")
	}
	return &WordlistFilter{words: words}, nil
}

// IsProfane reports whether text contains at least one banned word.
func (f *WordlistFilter) IsProfane(text string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return true
		}
	}
	return false
}
