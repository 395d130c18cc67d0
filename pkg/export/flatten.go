package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/lingq-export/pkg/lingq"
)

// Columns is the flat row layout, in output order.
var Columns = []string{
	"id",
	"term",
	"fragment",
	"best_translation",
	"translation_locale",
	"all_translations",
	"importance",
	"status",
	"notes",
	"tags",
	"srs_due_date",
	"last_reviewed_correct",
	"words",
	"audio",
	"url",
}

// LanguageColumn leads every row of the combined table.
const LanguageColumn = "language"

// Row is the tabular view of a Record.
type Row struct {
	ID                  int64
	Term                string
	Fragment            string
	BestTranslation     string
	TranslationLocale   string
	AllTranslations     string
	Importance          int
	Status              int
	Notes               string
	Tags                string
	SRSDueDate          string
	LastReviewedCorrect string
	Words               string
	Audio               string
	URL                 string
}

// Flatten derives the row of a record. The best translation is the hint with
// the highest popularity; the first one wins ties.
func Flatten(rec lingq.Record) Row {
	row := Row{
		ID:         rec.ID,
		Term:       rec.Term,
		Fragment:   rec.Fragment,
		Importance: rec.Importance,
		Status:     rec.Status,
		Notes:      rec.Notes,
		Tags:       strings.Join(rec.Tags, ", "),
		SRSDueDate: rec.SRSDueDate,
		Words:      strings.Join(rec.Words, ", "),
		Audio:      rec.Audio,
		URL:        rec.URL,
	}

	if rec.LastReviewedCorrect != nil {
		row.LastReviewedCorrect = strconv.FormatBool(*rec.LastReviewedCorrect)
	}

	if len(rec.Hints) > 0 {
		best := rec.Hints[0]
		for _, h := range rec.Hints[1:] {
			if h.Popularity > best.Popularity {
				best = h
			}
		}
		row.BestTranslation = best.Text
		row.TranslationLocale = best.Locale

		all := make([]string, 0, len(rec.Hints))
		for _, h := range rec.Hints {
			all = append(all, formatTranslation(h.Text, h.Locale))
		}
		row.AllTranslations = strings.Join(all, " | ")
	}

	return row
}

// PrincipalTranslation renders the best translation as "text (locale)", or
// "" when the record has no hints.
func (r Row) PrincipalTranslation() string {
	if r.BestTranslation == "" && r.TranslationLocale == "" {
		return ""
	}
	return formatTranslation(r.BestTranslation, r.TranslationLocale)
}

// Values returns the row in Columns order.
func (r Row) Values() []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Term,
		r.Fragment,
		r.BestTranslation,
		r.TranslationLocale,
		r.AllTranslations,
		strconv.Itoa(r.Importance),
		strconv.Itoa(r.Status),
		r.Notes,
		r.Tags,
		r.SRSDueDate,
		r.LastReviewedCorrect,
		r.Words,
		r.Audio,
		r.URL,
	}
}

func formatTranslation(text, locale string) string {
	return fmt.Sprintf("%s (%s)", text, locale)
}
