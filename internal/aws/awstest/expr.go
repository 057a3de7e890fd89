package awstest

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// exprEnv resolves #name and :value placeholders for one request.
type exprEnv struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e exprEnv) attr(tok string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := e.names[tok]; ok {
			return n
		}
	}
	return tok
}

func (e exprEnv) operand(item map[string]types.AttributeValue, tok string) (types.AttributeValue, bool, error) {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, ":") {
		v, ok := e.values[tok]
		if !ok {
			return nil, false, fmt.Errorf("ValidationException: undefined value placeholder %s", tok)
		}
		return v, true, nil
	}
	if strings.HasPrefix(tok, "#") {
		if _, ok := e.names[tok]; !ok {
			return nil, false, fmt.Errorf("ValidationException: undefined name placeholder %s", tok)
		}
	}
	v, ok := item[e.attr(tok)]
	return v, ok, nil
}

// evalCondition supports the subset of the condition grammar the stores emit:
// attribute_exists / attribute_not_exists, binary comparisons, AND / OR
// (AND binding tighter) and redundant outer parentheses.
func evalCondition(expr string, item map[string]types.AttributeValue, env exprEnv) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, disjunct := range splitKeyword(expr, " OR ") {
		all := true
		for _, term := range splitKeyword(disjunct, " AND ") {
			ok, err := evalTerm(term, item, env)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

func evalTerm(term string, item map[string]types.AttributeValue, env exprEnv) (bool, error) {
	term = stripParens(strings.TrimSpace(term))

	for _, fn := range []string{"attribute_not_exists", "attribute_exists"} {
		if strings.HasPrefix(term, fn) {
			arg := strings.TrimSpace(strings.TrimPrefix(term, fn))
			arg = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(arg, "("), ")"))
			_, exists := item[env.attr(arg)]
			if fn == "attribute_exists" {
				return exists, nil
			}
			return !exists, nil
		}
	}

	fields := strings.Fields(term)
	if len(fields) != 3 {
		return false, fmt.Errorf("ValidationException: unsupported condition term %q", term)
	}
	left, lok, err := env.operand(item, fields[0])
	if err != nil {
		return false, err
	}
	right, rok, err := env.operand(item, fields[2])
	if err != nil {
		return false, err
	}
	if !lok || !rok {
		return false, nil
	}
	cmp, comparable := compare(left, right)
	switch fields[1] {
	case "=":
		return comparable && cmp == 0, nil
	case "<>":
		return !comparable || cmp != 0, nil
	case "<":
		return comparable && cmp < 0, nil
	case "<=":
		return comparable && cmp <= 0, nil
	case ">":
		return comparable && cmp > 0, nil
	case ">=":
		return comparable && cmp >= 0, nil
	}
	return false, fmt.Errorf("ValidationException: unsupported operator %q", fields[1])
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, okx := new(big.Rat).SetString(av.Value)
		y, oky := new(big.Rat).SetString(bv.Value)
		if !okx || !oky {
			return 0, false
		}
		return x.Cmp(y), true
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		if av.Value == bv.Value {
			return 0, true
		}
		return 1, true
	}
	if reflect.DeepEqual(a, b) {
		return 0, true
	}
	return 1, true
}

// applyUpdate applies SET and ADD clauses to item in place.
func applyUpdate(expr string, item map[string]types.AttributeValue, env exprEnv) error {
	expr = strings.TrimSpace(expr)
	for expr != "" {
		var clause, rest string
		switch {
		case strings.HasPrefix(expr, "SET "):
			clause, rest = cutClause(strings.TrimPrefix(expr, "SET "))
			if err := applySet(clause, item, env); err != nil {
				return err
			}
		case strings.HasPrefix(expr, "ADD "):
			clause, rest = cutClause(strings.TrimPrefix(expr, "ADD "))
			if err := applyAdd(clause, item, env); err != nil {
				return err
			}
		case strings.HasPrefix(expr, "REMOVE "):
			clause, rest = cutClause(strings.TrimPrefix(expr, "REMOVE "))
			for _, name := range splitTopLevel(clause) {
				delete(item, env.attr(strings.TrimSpace(name)))
			}
		default:
			return fmt.Errorf("ValidationException: unsupported update expression %q", expr)
		}
		expr = strings.TrimSpace(rest)
	}
	return nil
}

func cutClause(s string) (clause, rest string) {
	idx := len(s)
	for _, kw := range []string{" SET ", " ADD ", " REMOVE "} {
		if i := strings.Index(s, kw); i >= 0 && i < idx {
			idx = i
		}
	}
	return s[:idx], s[idx:]
}

func applySet(clause string, item map[string]types.AttributeValue, env exprEnv) error {
	// evaluate every right-hand side against the pre-update item
	snapshot := copyItem(item)
	for _, assign := range splitTopLevel(clause) {
		lhs, rhs, ok := strings.Cut(assign, "=")
		if !ok {
			return fmt.Errorf("ValidationException: bad SET action %q", assign)
		}
		v, err := evalValue(strings.TrimSpace(rhs), snapshot, env)
		if err != nil {
			return err
		}
		item[env.attr(strings.TrimSpace(lhs))] = v
	}
	return nil
}

func applyAdd(clause string, item map[string]types.AttributeValue, env exprEnv) error {
	for _, action := range splitTopLevel(clause) {
		fields := strings.Fields(action)
		if len(fields) != 2 {
			return fmt.Errorf("ValidationException: bad ADD action %q", action)
		}
		name := env.attr(fields[0])
		delta, ok, err := env.operand(item, fields[1])
		if err != nil || !ok {
			return fmt.Errorf("ValidationException: bad ADD operand %q", fields[1])
		}
		cur, exists := item[name]
		if !exists {
			cur = &types.AttributeValueMemberN{Value: "0"}
		}
		sum, err := arith(cur, delta, "+")
		if err != nil {
			return err
		}
		item[name] = sum
	}
	return nil
}

func evalValue(expr string, item map[string]types.AttributeValue, env exprEnv) (types.AttributeValue, error) {
	for _, op := range []string{" + ", " - "} {
		if l, r, ok := cutTopLevel(expr, op); ok {
			lv, err := evalValue(l, item, env)
			if err != nil {
				return nil, err
			}
			rv, err := evalValue(r, item, env)
			if err != nil {
				return nil, err
			}
			return arith(lv, rv, strings.TrimSpace(op))
		}
	}
	if strings.HasPrefix(expr, "if_not_exists(") && strings.HasSuffix(expr, ")") {
		args := splitTopLevel(strings.TrimSuffix(strings.TrimPrefix(expr, "if_not_exists("), ")"))
		if len(args) != 2 {
			return nil, fmt.Errorf("ValidationException: bad if_not_exists %q", expr)
		}
		if v, ok := item[env.attr(strings.TrimSpace(args[0]))]; ok {
			return v, nil
		}
		return evalValue(strings.TrimSpace(args[1]), item, env)
	}
	v, ok, err := env.operand(item, expr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ValidationException: The provided expression refers to an attribute that does not exist in the item: %s", expr)
	}
	return v, nil
}

func arith(a, b types.AttributeValue, op string) (types.AttributeValue, error) {
	an, ok1 := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("ValidationException: An operand in the update expression has an incorrect data type")
	}
	x, okx := new(big.Rat).SetString(an.Value)
	y, oky := new(big.Rat).SetString(bn.Value)
	if !okx || !oky {
		return nil, fmt.Errorf("ValidationException: invalid number")
	}
	if op == "+" {
		x.Add(x, y)
	} else {
		x.Sub(x, y)
	}
	if x.IsInt() {
		return &types.AttributeValueMemberN{Value: x.Num().String()}, nil
	}
	return &types.AttributeValueMemberN{Value: x.FloatString(10)}, nil
}

// splitKeyword splits on a keyword outside parentheses.
func splitKeyword(s, kw string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], kw) {
			parts = append(parts, s[start:i])
			start = i + len(kw)
			i += len(kw) - 1
		}
	}
	return append(parts, s[start:])
}

func splitTopLevel(s string) []string {
	parts := splitKeyword(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func cutTopLevel(s, sep string) (string, string, bool) {
	parts := splitKeyword(s, sep)
	if len(parts) < 2 {
		return "", "", false
	}
	// left-associative: everything before the last separator is the left operand
	last := len(parts) - 1
	return strings.Join(parts[:last], sep), parts[last], true
}

func stripParens(s string) string {
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		inner := s[1 : len(s)-1]
		depth := 0
		balanced := true
		for _, r := range inner {
			if r == '(' {
				depth++
			} else if r == ')' {
				depth--
				if depth < 0 {
					balanced = false
					break
				}
			}
		}
		if !balanced || depth != 0 {
			return s
		}
		s = strings.TrimSpace(inner)
	}
	return s
}
