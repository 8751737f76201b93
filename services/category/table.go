package category

import (
	"sort"

	"go.uber.org/fx"
)

var Module = fx.Module("category",
	fx.Provide(NewTable),
	fx.Provide(NewPrompts),
)

// Table is the immutable category -> subcategory -> Rule lookup. It is
// built once and shared; callers must not mutate it.
type Table struct {
	rules map[Category]map[string]Rule
}

var defaultRules = map[Category]map[string]Rule{
	TreePlanting: {
		"sapling":          {BasePoints: 50, MinScoreThreshold: 65},
		"fruit-tree":       {BasePoints: 60, MinScoreThreshold: 65},
		"mangrove":         {BasePoints: 80, MinScoreThreshold: 70},
		"community-garden": {BasePoints: 40, MinScoreThreshold: 60},
	},
	Recycling: {
		"plastic":    {BasePoints: 20, MinScoreThreshold: 60},
		"paper":      {BasePoints: 15, MinScoreThreshold: 55},
		"glass":      {BasePoints: 20, MinScoreThreshold: 60},
		"e-waste":    {BasePoints: 40, MinScoreThreshold: 70},
		"metal-cans": {BasePoints: 15, MinScoreThreshold: 55},
	},
	Cleanup: {
		"beach":        {BasePoints: 50, MinScoreThreshold: 65},
		"park":         {BasePoints: 40, MinScoreThreshold: 60},
		"street":       {BasePoints: 35, MinScoreThreshold: 60},
		"river":        {BasePoints: 60, MinScoreThreshold: 70},
		"graffiti":     {BasePoints: 30, MinScoreThreshold: 60},
		"illegal-dump": {BasePoints: 70, MinScoreThreshold: 70},
	},
	Transportation: {
		"cycling":          {BasePoints: 20, MinScoreThreshold: 55},
		"walking":          {BasePoints: 15, MinScoreThreshold: 50},
		"public-transport": {BasePoints: 20, MinScoreThreshold: 55},
		"carpool":          {BasePoints: 15, MinScoreThreshold: 55},
		"electric-vehicle": {BasePoints: 25, MinScoreThreshold: 60},
	},
	EnergySaving: {
		"solar-panel":  {BasePoints: 80, MinScoreThreshold: 70},
		"led-lighting": {BasePoints: 20, MinScoreThreshold: 55},
		"insulation":   {BasePoints: 50, MinScoreThreshold: 65},
		"smart-meter":  {BasePoints: 30, MinScoreThreshold: 60},
		"line-drying":  {BasePoints: 10, MinScoreThreshold: 50},
	},
	WaterConservation: {
		"rainwater-harvesting": {BasePoints: 50, MinScoreThreshold: 65},
		"leak-repair":          {BasePoints: 30, MinScoreThreshold: 60},
		"low-flow-fixture":     {BasePoints: 25, MinScoreThreshold: 60},
		"greywater-reuse":      {BasePoints: 40, MinScoreThreshold: 65},
	},
	Composting: {
		"home-compost":      {BasePoints: 30, MinScoreThreshold: 60},
		"vermicompost":      {BasePoints: 35, MinScoreThreshold: 60},
		"community-compost": {BasePoints: 40, MinScoreThreshold: 65},
	},
}

// NewTable returns the built-in rule table.
func NewTable() *Table {
	return NewTableFrom(defaultRules)
}

// NewTableFrom copies rules into a new Table, normalizing subcategory keys.
func NewTableFrom(rules map[Category]map[string]Rule) *Table {
	t := &Table{rules: make(map[Category]map[string]Rule, len(rules))}
	for c, subs := range rules {
		m := make(map[string]Rule, len(subs))
		for name, r := range subs {
			m[NormalizeSubcategory(name)] = r
		}
		t.rules[c] = m
	}
	return t
}

// Lookup returns the rule for category/subcategory. known is false when the
// default rule was used.
func (t *Table) Lookup(c Category, subcategory string) (rule Rule, known bool) {
	if subs, ok := t.rules[c]; ok {
		if r, ok := subs[NormalizeSubcategory(subcategory)]; ok {
			return r, true
		}
	}
	return DefaultRule, false
}

// Subcategories returns the sorted subcategory keys of c.
func (t *Table) Subcategories(c Category) []string {
	subs := t.rules[c]
	out := make([]string, 0, len(subs))
	for k := range subs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
