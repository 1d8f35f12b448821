package transaction

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	prefixTimeout  = "timeout_"
	tokenReadOnly  = "readOnly"
	prefixCommit   = "+"
	prefixRollback = "-"

	maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)
)

// ErrorRegistry resolves error names used in textual rollback rules.
type ErrorRegistry map[string]error

// ParseAttributes parses the comma separated textual form, for example
//
//	PROPAGATION_REQUIRES_NEW,ISOLATION_SERIALIZABLE,readOnly,timeout_5,-ErrConflict,+ErrNotFound
//
// A leading "-" rolls back on the named error, "+" commits on it. Names are
// looked up in errs.
func ParseAttributes(text string, errs ErrorRegistry) (*Attributes, error) {
	attrs := &Attributes{}

	for _, raw := range strings.Split(text, ",") {
		token := strings.TrimSpace(raw)

		switch {
		case token == "":
			continue
		case strings.HasPrefix(token, "PROPAGATION_"):
			propagation, err := parsePropagation(token)
			if err != nil {
				return nil, err
			}

			attrs.Propagation = propagation
		case strings.HasPrefix(token, "ISOLATION_"):
			isolation, err := parseIsolation(token)
			if err != nil {
				return nil, err
			}

			attrs.Isolation = isolation
		case strings.HasPrefix(token, prefixTimeout):
			seconds, err := strconv.ParseInt(strings.TrimPrefix(token, prefixTimeout), 10, 64)
			if err != nil || seconds < 0 || seconds > maxTimeoutSeconds {
				return nil, fmt.Errorf("%w: bad timeout %q", ErrInvalidAttributes, token)
			}

			attrs.Timeout = time.Duration(seconds) * time.Second
		case token == tokenReadOnly:
			attrs.ReadOnly = true
		case strings.HasPrefix(token, prefixCommit), strings.HasPrefix(token, prefixRollback):
			rule, err := parseRule(token, errs)
			if err != nil {
				return nil, err
			}

			attrs.RollbackRules = append(attrs.RollbackRules, rule)
		default:
			return nil, fmt.Errorf("%w: unknown token %q", ErrInvalidAttributes, token)
		}
	}

	return attrs, nil
}

// MustParseAttributes is ParseAttributes for static declarations; it panics
// on malformed input.
func MustParseAttributes(text string, errs ErrorRegistry) *Attributes {
	attrs, err := ParseAttributes(text, errs)
	if err != nil {
		panic(err)
	}

	return attrs
}

func parsePropagation(token string) (Propagation, error) {
	for propagation, name := range propagationNames {
		if name == token {
			return propagation, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown propagation %q", ErrInvalidAttributes, token)
}

func parseIsolation(token string) (Isolation, error) {
	for isolation, name := range isolationNames {
		if name == token {
			return isolation, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown isolation %q", ErrInvalidAttributes, token)
}

func parseRule(token string, errs ErrorRegistry) (RollbackRule, error) {
	name := strings.TrimSpace(token[1:])

	target, ok := errs[name]
	if !ok || target == nil {
		return RollbackRule{}, fmt.Errorf("%w: unknown error %q in rollback rule", ErrInvalidAttributes, name)
	}

	rule := NoRollbackOnError(target)
	if strings.HasPrefix(token, prefixRollback) {
		rule = RollbackOnError(target)
	}

	rule.name = name

	return rule, nil
}
