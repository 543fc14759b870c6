package conductor

import (
	"github.com/Ankcorn/big-daddy/internal/sqlparser"
)

// virtualShardColumn is the hidden integer column appended to every table.
// It makes the physical primary key composite, so the same user-visible key
// can exist on two shards while a move is in flight.
const virtualShardColumn = "_virtualShard"

// RewriteCreateTable augments a CREATE TABLE for shard storage: the
// _virtualShard column is injected, and any single-column or table-level
// PRIMARY KEY is demoted into a composite (_virtualShard, pk…) key.
func RewriteCreateTable(stmt *sqlparser.CreateTableStatement) *sqlparser.CreateTableStatement {
	out := &sqlparser.CreateTableStatement{
		Name:        stmt.Name,
		IfNotExists: stmt.IfNotExists,
	}

	var pkCols []string
	for _, col := range stmt.Columns {
		c := col
		if c.PrimaryKey {
			pkCols = append(pkCols, c.Name)
			c.PrimaryKey = false
			c.Autoincrement = false
		}
		out.Columns = append(out.Columns, c)
	}
	for _, constraint := range stmt.Constraints {
		if constraint.PrimaryKey {
			pkCols = append(pkCols, constraint.Columns...)
			continue
		}
		out.Constraints = append(out.Constraints, constraint)
	}

	out.Columns = append([]sqlparser.ColumnDef{{
		Name:    virtualShardColumn,
		Type:    "INTEGER",
		NotNull: true,
		Default: &sqlparser.Literal{Value: int64(0)},
	}}, out.Columns...)

	if len(pkCols) > 0 {
		out.Constraints = append(out.Constraints, sqlparser.TableConstraint{
			PrimaryKey: true,
			Columns:    append([]string{virtualShardColumn}, pkCols...),
		})
	}

	return out
}

// PrimaryKeyOf extracts the user-visible primary key column and type from a
// CREATE TABLE statement. Composite user keys return the first column; the
// shard key defaults to it.
func PrimaryKeyOf(stmt *sqlparser.CreateTableStatement) (column, sqlType string) {
	for _, col := range stmt.Columns {
		if col.PrimaryKey {
			return col.Name, col.Type
		}
	}
	for _, constraint := range stmt.Constraints {
		if constraint.PrimaryKey && len(constraint.Columns) > 0 {
			name := constraint.Columns[0]
			for _, col := range stmt.Columns {
				if col.Name == name {
					return name, col.Type
				}
			}
			return name, ""
		}
	}
	if len(stmt.Columns) > 0 {
		return stmt.Columns[0].Name, stmt.Columns[0].Type
	}
	return "", ""
}

// HasColumn reports whether the CREATE TABLE defines the named column.
func HasColumn(stmt *sqlparser.CreateTableStatement, name string) bool {
	for _, col := range stmt.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}
