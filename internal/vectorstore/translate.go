package vectorstore

import (
	"fmt"
	"strings"
)

// TranslateFilter converts a parsed expression into the managed index
// service's native filter shape: nested maps such as
// {"AND": [{"genre": {"IN": ["a","b"]}}, {"year": {">": 2000}}]}.
func TranslateFilter(e Expr) (map[string]any, error) {
	switch v := e.(type) {
	case AnyPred:
		vals := make([]any, len(v.Values))
		for i, s := range v.Values {
			vals[i] = s
		}
		return map[string]any{v.Field: map[string]any{"IN": vals}}, nil

	case RangePred:
		if v.HasLo && v.HasHi && !v.LoExclusive && !v.HiExclusive {
			return map[string]any{v.Field: map[string]any{"BETWEEN": []any{v.Lo, v.Hi}}}, nil
		}
		var parts []any
		if v.HasLo {
			op := ">="
			if v.LoExclusive {
				op = ">"
			}
			parts = append(parts, map[string]any{v.Field: map[string]any{op: v.Lo}})
		}
		if v.HasHi {
			op := "<="
			if v.HiExclusive {
				op = "<"
			}
			parts = append(parts, map[string]any{v.Field: map[string]any{op: v.Hi}})
		}
		if len(parts) == 1 {
			return parts[0].(map[string]any), nil
		}
		return map[string]any{"AND": parts}, nil

	case CmpPred:
		return map[string]any{v.Field: map[string]any{v.Op: v.Value}}, nil

	case BoolExpr:
		left, err := TranslateFilter(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := TranslateFilter(v.Right)
		if err != nil {
			return nil, err
		}
		return map[string]any{v.Op: []any{left, right}}, nil

	case NotExpr:
		inner, err := TranslateFilter(v.Inner)
		if err != nil {
			return nil, err
		}
		return map[string]any{"NOT": inner}, nil

	default:
		return nil, fmt.Errorf("unknown filter node %T", e)
	}
}

// filterSQL renders an expression as a SQL condition over the JSON metadata
// column, returning the clause and its bind arguments.
func filterSQL(e Expr) (string, []any, error) {
	switch v := e.(type) {
	case AnyPred:
		placeholders := strings.Repeat(",?", len(v.Values)-1)
		args := make([]any, 0, len(v.Values)+1)
		args = append(args, "$."+v.Field)
		for _, s := range v.Values {
			args = append(args, s)
		}
		return "json_extract(metadata, ?) IN (?" + placeholders + ")", args, nil

	case RangePred:
		var conds []string
		var args []any
		if v.HasLo {
			op := ">="
			if v.LoExclusive {
				op = ">"
			}
			conds = append(conds, "json_extract(metadata, ?) "+op+" ?")
			args = append(args, "$."+v.Field, v.Lo)
		}
		if v.HasHi {
			op := "<="
			if v.HiExclusive {
				op = "<"
			}
			conds = append(conds, "json_extract(metadata, ?) "+op+" ?")
			args = append(args, "$."+v.Field, v.Hi)
		}
		return "(" + strings.Join(conds, " AND ") + ")", args, nil

	case CmpPred:
		return "json_extract(metadata, ?) " + v.Op + " ?", []any{"$." + v.Field, v.Value}, nil

	case BoolExpr:
		left, largs, err := filterSQL(v.Left)
		if err != nil {
			return "", nil, err
		}
		right, rargs, err := filterSQL(v.Right)
		if err != nil {
			return "", nil, err
		}
		return "(" + left + " " + v.Op + " " + right + ")", append(largs, rargs...), nil

	case NotExpr:
		inner, args, err := filterSQL(v.Inner)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", args, nil

	default:
		return "", nil, fmt.Errorf("unknown filter node %T", e)
	}
}
