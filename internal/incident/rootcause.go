package incident

// Category classifies the technical domain of an incident.
type Category string

const (
	CategorySoftware Category = "Software"
	CategoryHardware Category = "Hardware"
	CategoryNetwork  Category = "Network"
	CategorySecurity Category = "Security"
	CategoryUnknown  Category = "Unknown"
	CategoryError    Category = "Error"
)

// ValidCategories are the values a model may assign.
var ValidCategories = []Category{CategorySoftware, CategoryHardware, CategoryNetwork, CategorySecurity}

// NormalizeCategory maps a raw model value onto a Category. Matching is exact
// and case-sensitive; anything else becomes CategoryUnknown.
func NormalizeCategory(raw string) Category {
	for _, c := range ValidCategories {
		if raw == string(c) {
			return c
		}
	}
	return CategoryUnknown
}

const (
	analysisFailed = "Analysis failed"
	unknownValue   = "Unknown"
)

// RootCause is the structured root-cause analysis of one incident.
type RootCause struct {
	Category   Category `json:"category" yaml:"category"`
	RootCause  string   `json:"root_cause" yaml:"root_cause"`
	Impact     string   `json:"impact" yaml:"impact"`
	Component  string   `json:"component" yaml:"component"`
	Solution   string   `json:"solution" yaml:"solution"`
	Prevention string   `json:"prevention" yaml:"prevention"`
}

// FailedRootCause is substituted when the analysis could not be produced.
func FailedRootCause() RootCause {
	return RootCause{
		Category:   CategoryError,
		RootCause:  analysisFailed,
		Impact:     unknownValue,
		Component:  unknownValue,
		Solution:   analysisFailed,
		Prevention: analysisFailed,
	}
}

// Failed reports whether rc is the failure sentinel.
func (rc RootCause) Failed() bool {
	return rc == FailedRootCause()
}
