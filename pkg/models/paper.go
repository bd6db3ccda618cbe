// Package models defines the paper record types flowing through the
// pipeline: raw shard records on the way in, cleaned records on the way out.
package models

// Abstract holds the abstract text of a paper.
type Abstract struct {
	Text string `json:"text"`
}

// Section is one body-text unit of a raw paper.
type Section struct {
	Section string `json:"section"`
	Text    string `json:"text"`
}

// RawPaper is one decoded shard line. It is immutable once decoded; workers
// read it but never write to it.
type RawPaper struct {
	PaperID    string          `json:"paper_id"`
	Discipline string          `json:"discipline"`
	Abstract   Abstract        `json:"abstract"`
	BodyText   []Section       `json:"body_text"`
	RefEntries *OrderedEntries `json:"ref_entries"`
	BibEntries *OrderedEntries `json:"bib_entries"`
}

// CleanedSection is one body-text unit after placeholder substitution.
// Each section carries its own lookup tables; placeholder counters restart
// per section.
type CleanedSection struct {
	Section        string  `json:"section"`
	Text           string  `json:"text"`
	FormulaLookup  *Lookup `json:"formula_lookup"`
	CitationLookup *Lookup `json:"citation_lookup"`
}

// CleanedPaper is the pure derived value produced from a RawPaper. It shares
// no mutable state with its source.
type CleanedPaper struct {
	PaperID                string           `json:"paper_id"`
	CleanedAbstract        string           `json:"cleaned_abstract"`
	AbstractFormulaLookup  *Lookup          `json:"abstract_formula_lookup"`
	AbstractCitationLookup *Lookup          `json:"abstract_citation_lookup"`
	CleanedBody            []CleanedSection `json:"cleaned_body"`
}
