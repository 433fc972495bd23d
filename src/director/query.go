package director

import (
	"regexp"
	"strings"
	"unicode"
)

type queryType int

const (
	queryComplex queryType = iota
	queryShortFactoid
	queryArithmetic
)

var (
	simpleMathRegex = regexp.MustCompile(`^\s*\d+(\s*[\+\-\*\/]\s*\d+)+\s*$`)
	shortFactRegex  = regexp.MustCompile(`^[\p{L}\p{N}\s\?\!\.\,\-']{1,32}$`)
)

// classifyQuery decides how much memory a message deserves.
func classifyQuery(input string) queryType {
	in := strings.TrimSpace(input)
	if in == "" {
		return queryComplex
	}
	if simpleMathRegex.MatchString(in) {
		return queryArithmetic
	}
	if len([]rune(in)) <= 32 && shortFactRegex.MatchString(in) {
		return queryShortFactoid
	}
	if len(strings.FieldsFunc(in, unicode.IsSpace)) == 1 {
		return queryShortFactoid
	}
	return queryComplex
}

// recallLimit maps the query type onto a search limit; zero skips recall.
func recallLimit(input string, contextLimit int) int {
	switch classifyQuery(input) {
	case queryArithmetic:
		return 0
	case queryShortFactoid:
		return max(1, min(contextLimit/2, 3))
	}
	return contextLimit
}
