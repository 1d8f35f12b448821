package interceptor

import (
	"strings"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/transaction"
)

// AttributeSource resolves the transaction attributes of an operation.
// Returned attributes must not be modified by callers.
type AttributeSource interface {
	Resolve(operation string) (*transaction.Attributes, bool)
}

// AttributeSourceFunc adapts a function to AttributeSource.
type AttributeSourceFunc func(operation string) (*transaction.Attributes, bool)

func (f AttributeSourceFunc) Resolve(operation string) (*transaction.Attributes, bool) {
	return f(operation)
}

// MapSource resolves operations by exact name.
type MapSource map[string]*transaction.Attributes

func (s MapSource) Resolve(operation string) (*transaction.Attributes, bool) {
	attrs, ok := s[operation]

	return attrs, ok && attrs != nil
}

// NameMatchSource resolves operations by name patterns. A pattern may use
// '*' as a wildcard anywhere ("Get*", "*Query", "Account*.Find*"). An exact
// name beats any pattern; among patterns the longest one wins.
type NameMatchSource struct {
	mu       sync.RWMutex
	patterns map[string]*transaction.Attributes
}

// NewNameMatchSource returns a source seeded with patterns.
func NewNameMatchSource(patterns map[string]*transaction.Attributes) *NameMatchSource {
	source := &NameMatchSource{patterns: make(map[string]*transaction.Attributes, len(patterns))}

	for pattern, attrs := range patterns {
		source.Add(pattern, attrs)
	}

	return source
}

// Add registers attrs for pattern, replacing an earlier registration.
func (s *NameMatchSource) Add(pattern string, attrs *transaction.Attributes) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || attrs == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.patterns == nil {
		s.patterns = make(map[string]*transaction.Attributes)
	}

	s.patterns[pattern] = attrs
}

// AddText registers the textual attributes form for pattern.
func (s *NameMatchSource) AddText(pattern, text string, errs transaction.ErrorRegistry) error {
	attrs, err := transaction.ParseAttributes(text, errs)
	if err != nil {
		return err
	}

	s.Add(pattern, attrs)

	return nil
}

func (s *NameMatchSource) Resolve(operation string) (*transaction.Attributes, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if attrs, ok := s.patterns[operation]; ok {
		return attrs, true
	}

	var (
		best        *transaction.Attributes
		bestPattern string
	)

	for pattern, attrs := range s.patterns {
		if !simpleMatch(pattern, operation) {
			continue
		}

		if best == nil || len(pattern) > len(bestPattern) ||
			(len(pattern) == len(bestPattern) && pattern < bestPattern) {
			best, bestPattern = attrs, pattern
		}
	}

	return best, best != nil
}

// simpleMatch matches str against pattern where '*' matches any run of
// characters, including none.
func simpleMatch(pattern, str string) bool {
	first := strings.IndexByte(pattern, '*')
	if first < 0 {
		return pattern == str
	}

	if !strings.HasPrefix(str, pattern[:first]) {
		return false
	}

	rest := pattern[first+1:]
	if rest == "" {
		return true
	}

	for i := first; i <= len(str); i++ {
		if simpleMatch(rest, str[i:]) {
			return true
		}
	}

	return false
}

// CompositeSource asks each source in turn and returns the first match.
type CompositeSource []AttributeSource

func (c CompositeSource) Resolve(operation string) (*transaction.Attributes, bool) {
	for _, source := range c {
		if nilcheck.Interface(source) {
			continue
		}

		if attrs, ok := source.Resolve(operation); ok {
			return attrs, true
		}
	}

	return nil, false
}
