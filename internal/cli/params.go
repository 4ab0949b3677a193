package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wildthink/pipeline"
)

// parseParams turns repeated --param name=value flags into named
// arguments. Values that parse as integers or reals bind as numbers;
// everything else binds as text.
func parseParams(raw []string) ([]any, error) {
	args := make([]any, 0, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --param %q: want name=value", p))
		}
		args = append(args, pipeline.Named(name, typedParam(value)))
	}
	return args, nil
}

func typedParam(value string) any {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// collectRows drains a prepared statement into column names plus one map
// per row, with engine values mapped to native Go types.
func collectRows(stmt *pipeline.Statement) ([]string, []map[string]any, error) {
	columns := stmt.ColumnNames()
	var rows []map[string]any
	err := stmt.Each(func(r *pipeline.Row) error {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			v, err := r.Value(i)
			if err != nil {
				return err
			}
			row[col] = v.Native()
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return columns, rows, nil
}
