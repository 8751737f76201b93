package category

import (
	"strings"

	"github.com/gosimple/slug"
)

type Category string

const (
	TreePlanting      Category = "TREE_PLANTING"
	Recycling         Category = "RECYCLING"
	Cleanup           Category = "CLEANUP"
	Transportation    Category = "TRANSPORTATION"
	EnergySaving      Category = "ENERGY_SAVING"
	WaterConservation Category = "WATER_CONSERVATION"
	Composting        Category = "COMPOSTING"
)

// All lists every category in display order.
var All = []Category{
	TreePlanting,
	Recycling,
	Cleanup,
	Transportation,
	EnergySaving,
	WaterConservation,
	Composting,
}

func (c Category) String() string {
	return string(c)
}

func (c Category) IsValid() bool {
	for _, v := range All {
		if v == c {
			return true
		}
	}
	return false
}

// Parse accepts the canonical name in any case, with spaces or dashes in
// place of underscores.
func Parse(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(s))))
	return c, c.IsValid()
}

// Rule holds the scoring parameters for one subcategory.
type Rule struct {
	BasePoints        int64 `json:"base_points"`
	MinScoreThreshold int   `json:"min_score_threshold"`
}

// DefaultRule applies to any subcategory the table does not know about.
var DefaultRule = Rule{BasePoints: 30, MinScoreThreshold: 60}

// NormalizeSubcategory turns free text like "Tree Planting" into the
// table key "tree-planting".
func NormalizeSubcategory(s string) string {
	return slug.Make(s)
}
