package sqlparser

import (
	"fmt"
	"strings"
)

// InsertStatement represents INSERT INTO t [(cols)] VALUES (…)[,…].
type InsertStatement struct {
	Table   string
	Columns []string
	Rows    [][]Expression
}

func (s *InsertStatement) statementNode() {}

// String returns the SQL representation of the INSERT statement.
func (s *InsertStatement) String() string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(s.Table)
	if len(s.Columns) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(s.Columns, ", "))
		sb.WriteString(")")
	}
	sb.WriteString(" VALUES ")
	rows := make([]string, len(s.Rows))
	for i, row := range s.Rows {
		vals := make([]string, len(row))
		for j, v := range row {
			vals[j] = v.String()
		}
		rows[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	sb.WriteString(strings.Join(rows, ", "))
	return sb.String()
}

// Assignment is a single col = expr pair in an UPDATE SET clause.
type Assignment struct {
	Column string
	Expr   Expression
}

// String returns the SQL representation of the assignment.
func (a Assignment) String() string {
	return fmt.Sprintf("%s = %s", a.Column, a.Expr.String())
}

// UpdateStatement represents UPDATE t SET … [WHERE …] [RETURNING …].
type UpdateStatement struct {
	Table     string
	Set       []Assignment
	Where     Expression
	Returning []SelectColumn
}

func (s *UpdateStatement) statementNode() {}

// String returns the SQL representation of the UPDATE statement.
func (s *UpdateStatement) String() string {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(s.Table)
	sb.WriteString(" SET ")
	sets := make([]string, len(s.Set))
	for i, a := range s.Set {
		sets[i] = a.String()
	}
	sb.WriteString(strings.Join(sets, ", "))
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}
	writeReturning(&sb, s.Returning)
	return sb.String()
}

// DeleteStatement represents DELETE FROM t [WHERE …] [RETURNING …].
type DeleteStatement struct {
	Table     string
	Where     Expression
	Returning []SelectColumn
}

func (s *DeleteStatement) statementNode() {}

// String returns the SQL representation of the DELETE statement.
func (s *DeleteStatement) String() string {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(s.Table)
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}
	writeReturning(&sb, s.Returning)
	return sb.String()
}

func writeReturning(sb *strings.Builder, cols []SelectColumn) {
	if len(cols) == 0 {
		return
	}
	sb.WriteString(" RETURNING ")
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.String()
	}
	sb.WriteString(strings.Join(parts, ", "))
}

// ColumnDef is a column definition in CREATE TABLE or ALTER TABLE ADD COLUMN.
type ColumnDef struct {
	Name          string
	Type          string
	PrimaryKey    bool
	NotNull       bool
	Unique        bool
	Autoincrement bool
	Default       Expression
}

// String returns the SQL representation of the column definition.
func (c ColumnDef) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	if c.Type != "" {
		sb.WriteString(" ")
		sb.WriteString(c.Type)
	}
	if c.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if c.Autoincrement {
		sb.WriteString(" AUTOINCREMENT")
	}
	if c.NotNull {
		sb.WriteString(" NOT NULL")
	}
	if c.Unique {
		sb.WriteString(" UNIQUE")
	}
	if c.Default != nil {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(c.Default.String())
	}
	return sb.String()
}

// TableConstraint is a table-level constraint in CREATE TABLE.
type TableConstraint struct {
	PrimaryKey bool
	Unique     bool
	Columns    []string
}

// String returns the SQL representation of the table constraint.
func (t TableConstraint) String() string {
	kind := "UNIQUE"
	if t.PrimaryKey {
		kind = "PRIMARY KEY"
	}
	return fmt.Sprintf("%s (%s)", kind, strings.Join(t.Columns, ", "))
}

// CreateTableStatement represents CREATE TABLE [IF NOT EXISTS] name(…).
type CreateTableStatement struct {
	Name        string
	IfNotExists bool
	Columns     []ColumnDef
	Constraints []TableConstraint
}

func (s *CreateTableStatement) statementNode() {}

// String returns the SQL representation of the CREATE TABLE statement.
func (s *CreateTableStatement) String() string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if s.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(s.Name)
	sb.WriteString(" (")
	parts := make([]string, 0, len(s.Columns)+len(s.Constraints))
	for _, c := range s.Columns {
		parts = append(parts, c.String())
	}
	for _, t := range s.Constraints {
		parts = append(parts, t.String())
	}
	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString(")")
	return sb.String()
}

// CreateIndexStatement represents CREATE [UNIQUE] INDEX [IF NOT EXISTS] name ON t(cols).
type CreateIndexStatement struct {
	Name        string
	Table       string
	Columns     []string
	Unique      bool
	IfNotExists bool
}

func (s *CreateIndexStatement) statementNode() {}

// String returns the SQL representation of the CREATE INDEX statement.
func (s *CreateIndexStatement) String() string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if s.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	if s.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(s.Name)
	sb.WriteString(" ON ")
	sb.WriteString(s.Table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(s.Columns, ", "))
	sb.WriteString(")")
	return sb.String()
}

// AlterAction identifies the form of an ALTER TABLE statement.
type AlterAction int

const (
	AlterAddColumn AlterAction = iota
	AlterRenameTable
	AlterRenameColumn
	AlterDropColumn
)

// AlterTableStatement represents the four supported ALTER TABLE forms.
type AlterTableStatement struct {
	Table     string
	Action    AlterAction
	AddColumn *ColumnDef // AlterAddColumn
	NewName   string     // AlterRenameTable, AlterRenameColumn
	OldColumn string     // AlterRenameColumn, AlterDropColumn
}

func (s *AlterTableStatement) statementNode() {}

// String returns the SQL representation of the ALTER TABLE statement.
func (s *AlterTableStatement) String() string {
	switch s.Action {
	case AlterAddColumn:
		return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", s.Table, s.AddColumn.String())
	case AlterRenameTable:
		return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", s.Table, s.NewName)
	case AlterRenameColumn:
		return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", s.Table, s.OldColumn, s.NewName)
	case AlterDropColumn:
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", s.Table, s.OldColumn)
	}
	return ""
}

// DropTableStatement represents DROP TABLE [IF EXISTS] name.
type DropTableStatement struct {
	Name     string
	IfExists bool
}

func (s *DropTableStatement) statementNode() {}

// String returns the SQL representation of the DROP TABLE statement.
func (s *DropTableStatement) String() string {
	if s.IfExists {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", s.Name)
	}
	return fmt.Sprintf("DROP TABLE %s", s.Name)
}

// PragmaStatement represents PRAGMA name [= value | (args)].
type PragmaStatement struct {
	Name  string
	Value Expression   // PRAGMA name = value
	Args  []Expression // PRAGMA name(args)
}

func (s *PragmaStatement) statementNode() {}

// String returns the SQL representation of the PRAGMA statement.
func (s *PragmaStatement) String() string {
	if s.Value != nil {
		return fmt.Sprintf("PRAGMA %s = %s", s.Name, s.Value.String())
	}
	if len(s.Args) > 0 {
		args := make([]string, len(s.Args))
		for i, a := range s.Args {
			args[i] = a.String()
		}
		return fmt.Sprintf("PRAGMA %s(%s)", s.Name, strings.Join(args, ", "))
	}
	return fmt.Sprintf("PRAGMA %s", s.Name)
}
