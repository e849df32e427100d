package rules

// ActionKind distinguishes how an action identifier produces its output value
type ActionKind int

const (
	// LiteralAction outputs the identifier itself
	LiteralAction ActionKind = iota
	// ColumnAction outputs the row's value of the column the identifier names
	ColumnAction
)

func (k ActionKind) String() string {
	if k == ColumnAction {
		return "column"
	}
	return "literal"
}

// Action is an action identifier resolved against a table's column set
type Action struct {
	Identifier string
	Kind       ActionKind
}

// ResolveAction decides, by column-name membership, whether identifier is a
// column reference or a literal. Synthesized literal columns count as columns.
func ResolveAction(identifier string, t *Table) Action {
	if t.HasColumn(identifier) {
		return Action{Identifier: identifier, Kind: ColumnAction}
	}
	return Action{Identifier: identifier, Kind: LiteralAction}
}

// Value materializes the action for one row
func (a Action) Value(t *Table, row int) any {
	if a.Kind == ColumnAction {
		v, _ := t.Value(row, a.Identifier)
		return v
	}
	return a.Identifier
}

// Materialize turns a resolution into the output column and per-row decisions
func Materialize(rs *RuleSet, res *Resolution) *Report {
	n := len(res.Actions)
	values := make([]any, n)
	decisions := make([]Decision, n)

	resolved := make(map[string]Action)
	for row, identifier := range res.Actions {
		action, ok := resolved[identifier]
		if !ok {
			action = ResolveAction(identifier, res.Table)
			resolved[identifier] = action
		}

		value := action.Value(res.Table, row)
		values[row] = value

		rule := res.Priorities[row]
		if rule == DefaultPriority {
			rule = DefaultRule
		}
		decisions[row] = Decision{
			Row:    row,
			Rule:   rule,
			Action: identifier,
			Value:  value,
		}
	}

	return &Report{
		Column:    &Column{Name: rs.Key(), Values: values},
		Decisions: decisions,
	}
}
