// Package report aggregates committed affiliation records into summary and
// category tables and exports them as CSV and XLSX files.
package report

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Category is a named institution matched by keyword substrings. Matching is
// case-insensitive and first-match-wins, so put specific categories before
// general ones (JPL and Ames before the catch-all NASA bucket). Skip
// categories absorb matches without appearing in the report table.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Skip     bool     `yaml:"skip,omitempty"`
}

// Classifier assigns affiliations to categories.
type Classifier struct {
	categories []Category
}

// NewClassifier creates a classifier over an ordered category list.
func NewClassifier(categories []Category) *Classifier {
	return &Classifier{categories: categories}
}

// Categories returns the ordered category list, including skip categories.
func (c *Classifier) Categories() []Category {
	return c.categories
}

// Classify returns the first category whose keywords match the affiliation.
func (c *Classifier) Classify(affiliation string) (Category, bool) {
	lower := strings.ToLower(affiliation)
	for _, cat := range c.categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, kw) {
				return cat, true
			}
		}
	}
	return Category{}, false
}

// LoadCategories reads an ordered category list from a YAML file, replacing
// the built-in rules.
func LoadCategories(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: read rules %s", path)
	}
	var categories []Category
	if err := yaml.Unmarshal(data, &categories); err != nil {
		return nil, eris.Wrap(err, "report: parse rules yaml")
	}
	for i := range categories {
		if categories[i].Name == "" {
			return nil, eris.Errorf("report: rule %d has no name", i)
		}
		if len(categories[i].Keywords) == 0 {
			return nil, eris.Errorf("report: rule %q has no keywords", categories[i].Name)
		}
		for j, kw := range categories[i].Keywords {
			categories[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return categories, nil
}

// GovernmentCategories returns the built-in government research center rules.
// JPL and Ames come before the generic NASA bucket, which is tracked but
// skipped so unattributed NASA centers never inflate a specific row.
func GovernmentCategories() []Category {
	return []Category{
		{Name: "NASA Jet Propulsion Lab", Keywords: []string{"jpl", "jet propulsion lab"}},
		{Name: "NASA Ames Research Center", Keywords: []string{"ames"}},
		{Name: "Other NASA", Keywords: []string{"nasa"}, Skip: true},
		{Name: "European Space Agency (ESA), Europe", Keywords: []string{"european space agency", "esa"}},
		{Name: "German Aerospace Center (DLR), Germany", Keywords: []string{"german aerospace center", "dlr"}},
		{Name: "MIT Lincoln Lab", Keywords: []string{"mit lincoln lab"}},
		{Name: "National Robotics Engineering Center", Keywords: []string{"national robotics engineering center"}},
		{Name: "INRIA, France", Keywords: []string{"inria"}},
		{Name: "Korea Advanced Institute of Science and Technology (KAIST), South Korea", Keywords: []string{"kaist", "korea advanced institute of science and technology"}},
		{Name: "Technology Innovation Institute (TII), UAE", Keywords: []string{"technology innovation institute", "tii"}},
		{Name: "CNR-IEIIT, Italy", Keywords: []string{"cnr-ieiit", "cnr ieiit"}},
		{Name: "UK Atomic Energy Authority, UK", Keywords: []string{"uk atomic energy authority", "atomic energy authority"}},
	}
}

// IndustryCategories returns the built-in industry research center rules.
func IndustryCategories() []Category {
	return []Category{
		{Name: "Toyota Research Institute", Keywords: []string{"toyota research institute"}},
		{Name: "Google Deepmind or Google", Keywords: []string{"deepmind", "google"}},
		{Name: "Amazon Prime Air", Keywords: []string{"amazon prime air", "prime air"}},
		{Name: "NVIDIA", Keywords: []string{"nvidia"}},
		{Name: "OpenAI", Keywords: []string{"openai", "open ai"}},
		{Name: "SpaceX", Keywords: []string{"spacex", "space x"}},
		{Name: "Tesla", Keywords: []string{"tesla"}},
		{Name: "Plus AI", Keywords: []string{"plus ai", "plus.ai", "plusai"}},
		{Name: "Bosch", Keywords: []string{"bosch"}},
		{Name: "Honda Research Institute", Keywords: []string{"honda research institute", "honda"}},
		{Name: "Tyvak", Keywords: []string{"tyvak"}},
		{Name: "Argotec, Italy", Keywords: []string{"argotec"}},
		{Name: "Tencent, China", Keywords: []string{"tencent"}},
	}
}
