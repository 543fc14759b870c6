package sqlparser

import "strings"

// parseInsert parses INSERT INTO table [(cols)] VALUES (expr,…)[,…].
func (p *Parser) parseInsert() (*InsertStatement, error) {
	p.advance() // INSERT
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}

	table, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "table name")
	}
	stmt := &InsertStatement{Table: table}

	if p.curIsPunct("(") {
		p.advance()
		for {
			col, err := p.parseIdentifier()
			if err != nil {
				return nil, p.errorf("unexpected token", "column name")
			}
			stmt.Columns = append(stmt.Columns, col)
			if !p.curIsPunct(",") {
				break
			}
			p.advance()
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	for {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var row []Expression
		for {
			val, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			row = append(row, val)
			if !p.curIsPunct(",") {
				break
			}
			p.advance()
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if !p.curIsPunct(",") {
			break
		}
		p.advance()
	}

	return stmt, nil
}

// parseUpdate parses UPDATE table SET col=expr,… [WHERE expr] [RETURNING …].
func (p *Parser) parseUpdate() (*UpdateStatement, error) {
	p.advance() // UPDATE

	table, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "table name")
	}
	stmt := &UpdateStatement{Table: table}

	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}

	for {
		col, err := p.parseIdentifier()
		if err != nil {
			return nil, p.errorf("unexpected token", "column name")
		}
		if !p.curIsOperator("=") {
			return nil, p.errorf("unexpected token in SET clause", "=")
		}
		p.advance()
		val, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Column: col, Expr: val})
		if !p.curIsPunct(",") {
			break
		}
		p.advance()
	}

	if p.acceptKeyword("WHERE") {
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.acceptKeyword("RETURNING") {
		ret, err := p.parseSelectColumns()
		if err != nil {
			return nil, err
		}
		stmt.Returning = ret
	}

	return stmt, nil
}

// parseDelete parses DELETE FROM table [WHERE expr] [RETURNING …].
func (p *Parser) parseDelete() (*DeleteStatement, error) {
	p.advance() // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}

	table, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "table name")
	}
	stmt := &DeleteStatement{Table: table}

	if p.acceptKeyword("WHERE") {
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.acceptKeyword("RETURNING") {
		ret, err := p.parseSelectColumns()
		if err != nil {
			return nil, err
		}
		stmt.Returning = ret
	}

	return stmt, nil
}

// parseCreate dispatches CREATE TABLE / CREATE [UNIQUE] INDEX.
func (p *Parser) parseCreate() (Statement, error) {
	p.advance() // CREATE

	unique := p.acceptKeyword("UNIQUE")
	switch {
	case p.curIsKeyword("TABLE"):
		if unique {
			return nil, p.errorf("UNIQUE applies only to CREATE INDEX", "INDEX")
		}
		return p.parseCreateTable()
	case p.curIsKeyword("INDEX"):
		return p.parseCreateIndex(unique)
	default:
		return nil, p.errorf("unexpected token after CREATE", "TABLE or INDEX")
	}
}

// parseCreateTable parses CREATE TABLE [IF NOT EXISTS] name(col_def,… [, constraint…]).
func (p *Parser) parseCreateTable() (*CreateTableStatement, error) {
	p.advance() // TABLE
	stmt := &CreateTableStatement{}

	if p.curIsKeyword("IF") {
		p.advance()
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		stmt.IfNotExists = true
	}

	name, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "table name")
	}
	stmt.Name = name

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}

	for {
		if p.curIsKeyword("PRIMARY") || p.curIsKeyword("UNIQUE") || p.curIsKeyword("CONSTRAINT") {
			constraint, err := p.parseTableConstraint()
			if err != nil {
				return nil, err
			}
			stmt.Constraints = append(stmt.Constraints, constraint)
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
		}
		if !p.curIsPunct(",") {
			break
		}
		p.advance()
	}

	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseColumnDef parses a column definition inside CREATE TABLE.
func (p *Parser) parseColumnDef() (ColumnDef, error) {
	col := ColumnDef{}

	name, err := p.parseIdentifier()
	if err != nil {
		return col, p.errorf("unexpected token", "column name")
	}
	col.Name = name

	// Data type: classified as a keyword when following an identifier.
	// Types may carry a parenthesized size, e.g. VARCHAR(255).
	if p.cur().Kind == KindKeyword && typeSet[strings.ToUpper(p.cur().Text)] {
		col.Type = strings.ToUpper(p.cur().Text)
		p.advance()
		if p.curIsPunct("(") {
			depth := 0
			var sb strings.Builder
			for {
				t := p.cur()
				if t.Kind == KindEOF {
					return col, p.errorf("unterminated type arguments", ")")
				}
				sb.WriteString(t.Text)
				if t.Kind == KindPunctuation && t.Text == "(" {
					depth++
				}
				if t.Kind == KindPunctuation && t.Text == ")" {
					depth--
				}
				p.advance()
				if depth == 0 {
					break
				}
			}
			col.Type += sb.String()
		}
	}

	for {
		switch {
		case p.curIsKeyword("PRIMARY"):
			p.advance()
			if err := p.expectKeyword("KEY"); err != nil {
				return col, err
			}
			col.PrimaryKey = true
		case p.curIsKeyword("AUTOINCREMENT"):
			p.advance()
			col.Autoincrement = true
		case p.curIsKeyword("NOT"):
			p.advance()
			if err := p.expectKeyword("NULL"); err != nil {
				return col, err
			}
			col.NotNull = true
		case p.curIsKeyword("UNIQUE"):
			p.advance()
			col.Unique = true
		case p.curIsKeyword("DEFAULT"):
			p.advance()
			def, err := p.parseExpression(precCompare)
			if err != nil {
				return col, err
			}
			col.Default = def
		default:
			return col, nil
		}
	}
}

// parseTableConstraint parses a table-level PRIMARY KEY or UNIQUE constraint.
func (p *Parser) parseTableConstraint() (TableConstraint, error) {
	constraint := TableConstraint{}

	if p.curIsKeyword("CONSTRAINT") {
		p.advance()
		// Constraint names are accepted and discarded.
		if _, err := p.parseIdentifier(); err != nil {
			return constraint, p.errorf("unexpected token", "constraint name")
		}
	}

	switch {
	case p.curIsKeyword("PRIMARY"):
		p.advance()
		if err := p.expectKeyword("KEY"); err != nil {
			return constraint, err
		}
		constraint.PrimaryKey = true
	case p.curIsKeyword("UNIQUE"):
		p.advance()
		constraint.Unique = true
	default:
		return constraint, p.errorf("unexpected table constraint", "PRIMARY KEY or UNIQUE")
	}

	if err := p.expectPunct("("); err != nil {
		return constraint, err
	}
	for {
		col, err := p.parseIdentifier()
		if err != nil {
			return constraint, p.errorf("unexpected token", "column name")
		}
		constraint.Columns = append(constraint.Columns, col)
		if !p.curIsPunct(",") {
			break
		}
		p.advance()
	}
	if err := p.expectPunct(")"); err != nil {
		return constraint, err
	}
	return constraint, nil
}

// parseCreateIndex parses CREATE [UNIQUE] INDEX [IF NOT EXISTS] name ON table(col,…).
func (p *Parser) parseCreateIndex(unique bool) (*CreateIndexStatement, error) {
	p.advance() // INDEX
	stmt := &CreateIndexStatement{Unique: unique}

	if p.curIsKeyword("IF") {
		p.advance()
		if err := p.expectKeyword("NOT"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		stmt.IfNotExists = true
	}

	name, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "index name")
	}
	stmt.Name = name

	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}

	table, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "table name")
	}
	stmt.Table = table

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseIdentifier()
		if err != nil {
			return nil, p.errorf("unexpected token", "column name")
		}
		stmt.Columns = append(stmt.Columns, col)
		if !p.curIsPunct(",") {
			break
		}
		p.advance()
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	return stmt, nil
}

// parseDropTable parses DROP TABLE [IF EXISTS] name.
func (p *Parser) parseDropTable() (*DropTableStatement, error) {
	p.advance() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}

	stmt := &DropTableStatement{}
	if p.curIsKeyword("IF") {
		p.advance()
		if err := p.expectKeyword("EXISTS"); err != nil {
			return nil, err
		}
		stmt.IfExists = true
	}

	name, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "table name")
	}
	stmt.Name = name
	return stmt, nil
}

// parseAlterTable parses the four supported ALTER TABLE forms.
func (p *Parser) parseAlterTable() (*AlterTableStatement, error) {
	p.advance() // ALTER
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}

	table, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "table name")
	}
	stmt := &AlterTableStatement{Table: table}

	switch {
	case p.curIsKeyword("ADD"):
		p.advance()
		p.acceptKeyword("COLUMN")
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Action = AlterAddColumn
		stmt.AddColumn = &col

	case p.curIsKeyword("RENAME"):
		p.advance()
		if p.acceptKeyword("TO") {
			newName, err := p.parseIdentifier()
			if err != nil {
				return nil, p.errorf("unexpected token", "table name")
			}
			stmt.Action = AlterRenameTable
			stmt.NewName = newName
		} else {
			if err := p.expectKeyword("COLUMN"); err != nil {
				return nil, err
			}
			old, err := p.parseIdentifier()
			if err != nil {
				return nil, p.errorf("unexpected token", "column name")
			}
			if err := p.expectKeyword("TO"); err != nil {
				return nil, err
			}
			newName, err := p.parseIdentifier()
			if err != nil {
				return nil, p.errorf("unexpected token", "column name")
			}
			stmt.Action = AlterRenameColumn
			stmt.OldColumn = old
			stmt.NewName = newName
		}

	case p.curIsKeyword("DROP"):
		p.advance()
		p.acceptKeyword("COLUMN")
		col, err := p.parseIdentifier()
		if err != nil {
			return nil, p.errorf("unexpected token", "column name")
		}
		stmt.Action = AlterDropColumn
		stmt.OldColumn = col

	default:
		return nil, p.errorf("unexpected ALTER TABLE action", "ADD, RENAME, or DROP")
	}

	return stmt, nil
}

// parsePragma parses PRAGMA name [= value | (args)].
func (p *Parser) parsePragma() (*PragmaStatement, error) {
	p.advance() // PRAGMA

	name, err := p.parseIdentifier()
	if err != nil {
		return nil, p.errorf("unexpected token", "pragma name")
	}
	stmt := &PragmaStatement{Name: name}

	switch {
	case p.curIsOperator("="):
		p.advance()
		val, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Value = val
	case p.curIsPunct("("):
		p.advance()
		for {
			arg, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			stmt.Args = append(stmt.Args, arg)
			if !p.curIsPunct(",") {
				break
			}
			p.advance()
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}

	return stmt, nil
}
