// Package lingq defines the wire types of the LingQ v2 API used by the
// exporter: vocabulary cards, pages of cards, languages and user contexts.
package lingq

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Hint is one community translation attached to a card.
type Hint struct {
	Text       string `json:"text"`
	Locale     string `json:"locale"`
	Popularity int    `json:"popularity"`
}

// Record is a single vocabulary card ("LingQ").
//
// Raw keeps the exact JSON object received from the API so structured exports
// preserve fields this package does not model.
type Record struct {
	ID                  int64    `json:"pk"`
	Term                string   `json:"term"`
	Fragment            string   `json:"fragment"`
	Hints               []Hint   `json:"hints"`
	Importance          int      `json:"importance"`
	Status              int      `json:"status"`
	Notes               string   `json:"notes"`
	Tags                []string `json:"tags"`
	SRSDueDate          string   `json:"srs_due_date"`
	LastReviewedCorrect *bool    `json:"last_reviewed_correct"`
	Words               []string `json:"words"`
	Audio               string   `json:"audio"`
	URL                 string   `json:"url"`

	Raw json.RawMessage `json:"-"`
}

// record avoids recursion in (Un)MarshalJSON.
type record Record

// UnmarshalJSON decodes the modelled fields and retains the raw object.
func (r *Record) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*r = Record(rec)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the original object when available.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return json.Marshal(record(r))
}

// Page is one response of the paginated cards resource.
type Page struct {
	Results []Record `json:"results"`
	Next    *string  `json:"next"`
	Count   int      `json:"count"`
}

// HasNext reports whether the server announced a continuation.
func (p *Page) HasNext() bool {
	return p.Next != nil && *p.Next != ""
}

// Language is an entry of the languages listing.
type Language struct {
	URL   string `json:"url"`
	Code  string `json:"code"`
	Title string `json:"title"`
}

// LanguageRefKind tags which shape a LanguageRef was decoded from.
type LanguageRefKind int

const (
	// LanguageRefNone means the field was absent or null.
	LanguageRefNone LanguageRefKind = iota

	// LanguageRefURL means the field was a resource URL that must be looked up.
	LanguageRefURL

	// LanguageRefInline means the field was an embedded language object.
	LanguageRefInline
)

// String implements fmt.Stringer.
func (k LanguageRefKind) String() string {
	switch k {
	case LanguageRefURL:
		return "reference"
	case LanguageRefInline:
		return "inline"
	default:
		return "none"
	}
}

// LanguageRef is the language field of a user context. The API returns either
// a URL pointing into the languages listing or an inline language object; the
// shape is decided once, at decode time.
type LanguageRef struct {
	Kind LanguageRefKind
	URL  string
	Code string
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *LanguageRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*l = LanguageRef{Kind: LanguageRefNone}
	case data[0] == '"':
		var url string
		if err := json.Unmarshal(data, &url); err != nil {
			return err
		}
		*l = LanguageRef{Kind: LanguageRefURL, URL: url}
	case data[0] == '{':
		var lang Language
		if err := json.Unmarshal(data, &lang); err != nil {
			return err
		}
		*l = LanguageRef{Kind: LanguageRefInline, URL: lang.URL, Code: lang.Code}
	default:
		return fmt.Errorf("unsupported language reference: %s", data)
	}
	return nil
}

// Resolve returns the language code. Reference-style values are looked up in
// lookup, which maps language URLs to codes.
func (l LanguageRef) Resolve(lookup map[string]string) (string, bool) {
	switch l.Kind {
	case LanguageRefInline:
		return l.Code, l.Code != ""
	case LanguageRefURL:
		code, ok := lookup[l.URL]
		return code, ok && code != ""
	default:
		return "", false
	}
}

// UserContext is one of the account's declared learning contexts.
type UserContext struct {
	PK       int64       `json:"pk"`
	Language LanguageRef `json:"language"`
}

// LanguageLookup builds the URL -> code table used to resolve references.
func LanguageLookup(languages []Language) map[string]string {
	lookup := make(map[string]string, len(languages))
	for _, lang := range languages {
		if lang.URL != "" {
			lookup[lang.URL] = lang.Code
		}
	}
	return lookup
}
