package internal

import (
	"github.com/lychee-technology/eav"
)

// managedPlan lists the changes that bring a many schema's managed
// schemata in line with its choices.
type managedPlan struct {
	create []*eav.Schema
	update []*eav.Schema
	remove []*eav.Schema
}

func (p managedPlan) empty() bool {
	return len(p.create) == 0 && len(p.update) == 0 && len(p.remove) == 0
}

// managedSchemaFor describes the boolean schema generated for one choice.
func managedSchemaFor(parent *eav.Schema, c eav.Choice) *eav.Schema {
	return &eav.Schema{
		Title:    parent.Title + ": " + c.Title,
		Name:     eav.ManagedSchemaName(parent.Name, c.Name),
		DataType: eav.DataTypeBool,
		Filtered: parent.Filtered,
		Managed:  true,
		ParentID: parent.ID,
		ChoiceID: c.ID,
	}
}

// planManagedSync compares the wanted managed schemata of parent with the
// existing ones. A parent that is no longer many-valued keeps none.
func planManagedSync(parent *eav.Schema, existing []*eav.Schema) managedPlan {
	var plan managedPlan

	byChoice := make(map[int64]*eav.Schema, len(existing))
	for _, s := range existing {
		if _, dup := byChoice[s.ChoiceID]; dup {
			plan.remove = append(plan.remove, s)
			continue
		}
		byChoice[s.ChoiceID] = s
	}

	wanted := make(map[int64]bool)
	if parent.DataType == eav.DataTypeMany {
		for _, c := range parent.Choices {
			wanted[c.ID] = true
			want := managedSchemaFor(parent, c)
			have, ok := byChoice[c.ID]
			if !ok {
				plan.create = append(plan.create, want)
				continue
			}
			if have.Name != want.Name || have.Title != want.Title || have.Filtered != want.Filtered {
				updated := *have
				updated.Name = want.Name
				updated.Title = want.Title
				updated.Filtered = want.Filtered
				plan.update = append(plan.update, &updated)
			}
		}
	}

	for _, s := range existing {
		if have := byChoice[s.ChoiceID]; have != s {
			continue
		}
		if !wanted[s.ChoiceID] {
			plan.remove = append(plan.remove, s)
		}
	}
	return plan
}
