// Package cleaner rewrites inline formula and citation markers into stable
// placeholder tokens with side lookup tables.
//
// Markers have the literal forms {{formula:<id>}} and {{cite:<id>}}.
// Placeholders are [FORMULA_n] and [CITATION_n]; counters start at 1 and
// restart for every text unit. Counter assignment follows the declared
// iteration order of the entry maps, not the order markers appear in the
// text. Cleaning is deterministic and side-effect free, so documents can be
// cleaned on any worker in any order with byte-identical results.
package cleaner

import (
	"strconv"
	"strings"

	"github.com/scholarpipe/scholarpipe/pkg/models"
)

// Cleaner transforms raw papers into cleaned papers. The zero value
// reproduces the legacy substitution behavior exactly.
type Cleaner struct {
	// SkipAbsent drops entry ids that have no literal marker occurrence in
	// the text: they consume no counter value and produce no lookup entry.
	// The legacy behavior (off) assigns every declared id a counter slot
	// and a lookup entry whether or not its marker occurs, so absent ids
	// leave numbering holes in the text. Downstream consumers depend on
	// those holes; flip this only for corpora written without them.
	SkipAbsent bool
}

// New returns a Cleaner with the legacy substitution behavior.
func New() *Cleaner {
	return &Cleaner{}
}

// Clean replaces every formula and citation marker in text and returns the
// rewritten text with one lookup table per marker kind. The formula pass
// runs over the full declared order first; the citation pass then continues
// on the running text.
func (c *Cleaner) Clean(text string, formulas, citations *models.OrderedEntries) (string, *models.Lookup, *models.Lookup) {
	formulaLookup := models.NewOrderedEntries()
	citationLookup := models.NewOrderedEntries()

	counter := 1
	formulas.Range(func(id, content string) bool {
		marker := "{{formula:" + id + "}}"
		if c.SkipAbsent && !strings.Contains(text, marker) {
			return true
		}
		placeholder := "[FORMULA_" + strconv.Itoa(counter) + "]"
		text = strings.ReplaceAll(text, marker, placeholder)
		formulaLookup.Set(placeholder, content)
		counter++
		return true
	})

	counter = 1
	citations.Range(func(id, content string) bool {
		marker := "{{cite:" + id + "}}"
		if c.SkipAbsent && !strings.Contains(text, marker) {
			return true
		}
		placeholder := "[CITATION_" + strconv.Itoa(counter) + "]"
		text = strings.ReplaceAll(text, marker, placeholder)
		citationLookup.Set(placeholder, content)
		counter++
		return true
	})

	return text, formulaLookup, citationLookup
}

// ProcessPaper cleans a paper's abstract and every body section. Each text
// unit gets fresh counters and its own lookup tables. The input is not
// modified.
func (c *Cleaner) ProcessPaper(paper *models.RawPaper) *models.CleanedPaper {
	cleanedAbstract, abstractFormulas, abstractCitations := c.Clean(
		paper.Abstract.Text, paper.RefEntries, paper.BibEntries)

	cleanedBody := make([]models.CleanedSection, 0, len(paper.BodyText))
	for _, section := range paper.BodyText {
		text, sectionFormulas, sectionCitations := c.Clean(
			section.Text, paper.RefEntries, paper.BibEntries)
		cleanedBody = append(cleanedBody, models.CleanedSection{
			Section:        section.Section,
			Text:           text,
			FormulaLookup:  sectionFormulas,
			CitationLookup: sectionCitations,
		})
	}

	return &models.CleanedPaper{
		PaperID:                paper.PaperID,
		CleanedAbstract:        cleanedAbstract,
		AbstractFormulaLookup:  abstractFormulas,
		AbstractCitationLookup: abstractCitations,
		CleanedBody:            cleanedBody,
	}
}
