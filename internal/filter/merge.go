package filter

// Merge combines a caller filter with an entity default filter. Neither
// argument is modified; the result shares no memory with them.
//
// Where clauses are ANDed. Order, limit, skip, fields and include come from
// the caller when set and fall back to the defaults otherwise.
func Merge(user, defaults *Filter) *Filter {
	if defaults == nil {
		if user == nil {
			return &Filter{}
		}
		return user.Clone()
	}
	if user == nil {
		return defaults.Clone()
	}

	out := user.Clone()
	def := defaults.Clone()

	switch {
	case out.Where != nil && def.Where != nil:
		out.Where = &And{Conditions: []Condition{out.Where, def.Where}}
	case out.Where == nil:
		out.Where = def.Where
	}
	if len(out.Order) == 0 {
		out.Order = def.Order
	}
	if out.Limit == nil {
		out.Limit = def.Limit
	}
	if out.Skip == nil {
		out.Skip = def.Skip
	}
	if out.Fields == nil {
		out.Fields = def.Fields
	}
	if len(out.Include) == 0 {
		out.Include = def.Include
	}
	return out
}

// WithWhere returns a copy of f whose where clause is ANDed with cond.
func WithWhere(f *Filter, cond Condition) *Filter {
	out := f.Clone()
	if out == nil {
		out = &Filter{}
	}
	if cond == nil {
		return out
	}
	if out.Where == nil {
		out.Where = CloneCondition(cond)
		return out
	}
	out.Where = &And{Conditions: []Condition{out.Where, CloneCondition(cond)}}
	return out
}
