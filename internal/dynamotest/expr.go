package dynamotest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type exprEnv struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

var comparators = []string{"<>", "<=", ">=", "=", "<", ">"}

func (e exprEnv) name(tok string) (string, error) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "#") {
		n, ok := e.names[tok]
		if !ok {
			return "", fmt.Errorf("unknown expression attribute name %s", tok)
		}
		return n, nil
	}
	return tok, nil
}

func (e exprEnv) operand(tok string, item Item) (types.AttributeValue, bool, error) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, ":") {
		v, ok := e.values[tok]
		if !ok {
			return nil, false, fmt.Errorf("unknown expression attribute value %s", tok)
		}
		return v, true, nil
	}
	if inner, ok := call(tok, "if_not_exists"); ok {
		args := splitTopLevel(inner, ',')
		if len(args) != 2 {
			return nil, false, fmt.Errorf("bad if_not_exists: %s", tok)
		}
		n, err := e.name(args[0])
		if err != nil {
			return nil, false, err
		}
		if v, ok := item[n]; ok {
			return v, true, nil
		}
		return e.operand(args[1], item)
	}
	n, err := e.name(tok)
	if err != nil {
		return nil, false, err
	}
	v, ok := item[n]
	return v, ok, nil
}

// eval reports whether item satisfies cond. A nil item is an absent item.
func (e exprEnv) eval(cond string, item Item) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}
	for _, clause := range strings.Split(cond, " AND ") {
		ok, err := e.clause(unwrap(strings.TrimSpace(clause)), item)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e exprEnv) clause(c string, item Item) (bool, error) {
	if inner, ok := call(c, "attribute_not_exists"); ok {
		n, err := e.name(inner)
		if err != nil {
			return false, err
		}
		_, exists := item[n]
		return !exists, nil
	}
	if inner, ok := call(c, "attribute_exists"); ok {
		n, err := e.name(inner)
		if err != nil {
			return false, err
		}
		_, exists := item[n]
		return exists, nil
	}
	if inner, ok := call(c, "begins_with"); ok {
		args := splitTopLevel(inner, ',')
		if len(args) != 2 {
			return false, fmt.Errorf("bad begins_with: %s", c)
		}
		a, aok, err := e.operand(args[0], item)
		if err != nil || !aok {
			return false, err
		}
		b, _, err := e.operand(args[1], item)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(scalar(a), scalar(b)), nil
	}
	for _, op := range comparators {
		idx := strings.Index(c, " "+op+" ")
		if idx < 0 {
			continue
		}
		a, aok, err := e.operand(c[:idx], item)
		if err != nil {
			return false, err
		}
		b, bok, err := e.operand(c[idx+len(op)+2:], item)
		if err != nil {
			return false, err
		}
		if !aok || !bok {
			return false, nil
		}
		if !sameType(a, b) {
			return op == "<>", nil
		}
		r := compare(a, b)
		switch op {
		case "=":
			return r == 0, nil
		case "<>":
			return r != 0, nil
		case "<":
			return r < 0, nil
		case "<=":
			return r <= 0, nil
		case ">":
			return r > 0, nil
		case ">=":
			return r >= 0, nil
		}
	}
	return false, fmt.Errorf("unsupported condition clause %q", c)
}

var sectionRe = regexp.MustCompile(`\b(SET|REMOVE)\s+`)

// apply mutates item according to an update expression.
func (e exprEnv) apply(update string, item Item) error {
	locs := sectionRe.FindAllStringSubmatchIndex(update, -1)
	if len(locs) == 0 && strings.TrimSpace(update) != "" {
		return fmt.Errorf("unsupported update expression %q", update)
	}
	for i, loc := range locs {
		end := len(update)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		keyword := update[loc[2]:loc[3]]
		body := update[loc[1]:end]
		for _, part := range splitTopLevel(body, ',') {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			switch keyword {
			case "REMOVE":
				n, err := e.name(part)
				if err != nil {
					return err
				}
				delete(item, n)
			case "SET":
				if err := e.assign(part, item); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e exprEnv) assign(part string, item Item) error {
	eq := strings.Index(part, "=")
	if eq < 0 {
		return fmt.Errorf("bad assignment %q", part)
	}
	lhs, err := e.name(part[:eq])
	if err != nil {
		return err
	}
	rhs := strings.TrimSpace(part[eq+1:])

	op := ""
	var left, right string
	if i := indexTopLevel(rhs, " + "); i >= 0 {
		op, left, right = "+", rhs[:i], rhs[i+3:]
	} else if i := indexTopLevel(rhs, " - "); i >= 0 {
		op, left, right = "-", rhs[:i], rhs[i+3:]
	}
	if op == "" {
		v, ok, err := e.operand(rhs, item)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("operand %q does not exist", rhs)
		}
		item[lhs] = v
		return nil
	}

	a, aok, err := e.operand(left, item)
	if err != nil {
		return err
	}
	b, bok, err := e.operand(right, item)
	if err != nil {
		return err
	}
	an, ok1 := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	if !aok || !bok || !ok1 || !ok2 {
		return fmt.Errorf("ValidationException: arithmetic on non-number in %q", part)
	}
	x := decimal.RequireFromString(an.Value)
	y := decimal.RequireFromString(bn.Value)
	if op == "+" {
		x = x.Add(y)
	} else {
		x = x.Sub(y)
	}
	item[lhs] = &types.AttributeValueMemberN{Value: x.String()}
	return nil
}

func call(s, fn string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, fn+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return s[len(fn)+1 : len(s)-1], true
}

func unwrap(s string) string {
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func indexTopLevel(s, sub string) int {
	depth := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
