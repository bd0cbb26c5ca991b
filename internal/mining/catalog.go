package mining

import "slices"

// Bucket is the coarse stage of the grading flow where a failure originates.
type Bucket string

const (
	BucketExtraction    Bucket = "extraction"
	BucketNormalization Bucket = "normalization"
	BucketMatching      Bucket = "matching"
)

// Remedy names the kind of change that can address a pattern.
type Remedy string

const (
	RemedyRule    Remedy = "rule"
	RemedyPrompt  Remedy = "prompt"
	RemedyExample Remedy = "example"
	// RemedyNone marks patterns that need a capability upgrade.
	RemedyNone Remedy = ""
)

// CatalogEntry describes a known pattern type and how it is repaired.
type CatalogEntry struct {
	Type      string `json:"type"`
	Bucket    Bucket `json:"bucket"`
	Remedy    Remedy `json:"remedy"`
	Target    string `json:"target"`
	Operation string `json:"operation"`
}

// Fixable reports whether rule, prompt, or example changes can address the entry.
func (e CatalogEntry) Fixable() bool {
	return e.Remedy != RemedyNone
}

var catalog = []CatalogEntry{
	{
		Type:      "unit_conversion_missed",
		Bucket:    BucketNormalization,
		Remedy:    RemedyRule,
		Target:    "normalization.units",
		Operation: "add_conversion",
	},
	{
		Type:      "format_variant",
		Bucket:    BucketNormalization,
		Remedy:    RemedyRule,
		Target:    "normalization.formats",
		Operation: "add_format",
	},
	{
		Type:      "synonym_not_matched",
		Bucket:    BucketMatching,
		Remedy:    RemedyExample,
		Target:    "matching.synonyms",
		Operation: "add_example",
	},
	{
		Type:      "partial_credit_misjudged",
		Bucket:    BucketMatching,
		Remedy:    RemedyPrompt,
		Target:    "scoring.partial_credit",
		Operation: "amend_instruction",
	},
	{
		Type:      "rubric_ambiguity",
		Bucket:    BucketMatching,
		Remedy:    RemedyPrompt,
		Target:    "scoring.rubric",
		Operation: "clarify_criterion",
	},
	{Type: "handwriting_illegible", Bucket: BucketExtraction},
	{Type: "ocr_misread", Bucket: BucketExtraction},
}

// Catalog returns the known pattern types.
func Catalog() []CatalogEntry {
	return slices.Clone(catalog)
}

// Lookup returns the catalog entry for a pattern type.
func Lookup(patternType string) (CatalogEntry, bool) {
	i := slices.IndexFunc(catalog, func(e CatalogEntry) bool {
		return e.Type == patternType
	})
	if i < 0 {
		return CatalogEntry{}, false
	}
	return catalog[i], true
}
