// Package tokenizer parses centre/date/increment/kind tokens out of zip
// and xml file names using two configured regular expressions (§4.2).
// Tokenization is pure: given the same patterns, known-centre set and
// candidate name it always returns the same result, so it needs no
// locking to be called concurrently from every discovery and extractor
// worker.
package tokenizer

import (
	"fmt"
	"regexp"
	"strconv"
)

// Kind distinguishes which pattern a name matched.
type Kind int

const (
	// KindNone means neither pattern matched.
	KindNone Kind = iota
	// KindZip means the zip pattern matched.
	KindZip
	// KindXML means the xml pattern matched.
	KindXML
)

// DocumentKind distinguishes inner-document flavours (§4.9 upload step).
const (
	DocumentKindSpecimen   = "specimen"
	DocumentKindExperiment = "experiment"
)

// Tokens is the parsed result of a successful match.
type Tokens struct {
	Kind            Kind
	CentreShortName string
	Year, Month, Day int
	Increment       int
	DocumentKind    string // only set when Kind == KindXML
}

// Tokenizer holds the two compiled patterns loaded once at init. Each
// pattern must capture at least five groups: centre short-name, year,
// month, day, increment; the xml pattern must also capture a sixth
// group distinguishing specimen from experiment documents.
type Tokenizer struct {
	zipPattern *regexp.Regexp
	xmlPattern *regexp.Regexp
}

// New compiles the zip and xml patterns once. Both must have at least
// five capture groups (six for the xml pattern).
func New(zipPattern, xmlPattern string) (*Tokenizer, error) {
	zipRe, err := regexp.Compile(zipPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid zip pattern %q: %w", zipPattern, err)
	}
	if zipRe.NumSubexp() < 5 {
		return nil, fmt.Errorf("zip pattern %q must capture at least 5 groups, got %d", zipPattern, zipRe.NumSubexp())
	}

	xmlRe, err := regexp.Compile(xmlPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid xml pattern %q: %w", xmlPattern, err)
	}
	if xmlRe.NumSubexp() < 6 {
		return nil, fmt.Errorf("xml pattern %q must capture at least 6 groups, got %d", xmlPattern, xmlRe.NumSubexp())
	}

	return &Tokenizer{zipPattern: zipRe, xmlPattern: xmlRe}, nil
}

// KnownCentres is the predicate a caller supplies to answer "is this
// centre short-name known" without the tokenizer itself depending on
// the tracker store.
type KnownCentres func(shortName string) bool

// Tokenize implements the three-step algorithm of §4.2: try the zip
// pattern, then the xml pattern, otherwise report no match. No
// zero-padding or century inference is performed beyond what each
// pattern itself captures.
func (t *Tokenizer) Tokenize(name string, known KnownCentres) (Tokens, bool) {
	if toks, ok := t.tryZip(name, known); ok {
		return toks, true
	}
	if toks, ok := t.tryXML(name, known); ok {
		return toks, true
	}
	return Tokens{Kind: KindNone}, false
}

func (t *Tokenizer) tryZip(name string, known KnownCentres) (Tokens, bool) {
	m := t.zipPattern.FindStringSubmatch(name)
	if m == nil {
		return Tokens{}, false
	}
	centre, year, month, day, inc, ok := parseFive(m, known)
	if !ok {
		return Tokens{}, false
	}
	return Tokens{Kind: KindZip, CentreShortName: centre, Year: year, Month: month, Day: day, Increment: inc}, true
}

func (t *Tokenizer) tryXML(name string, known KnownCentres) (Tokens, bool) {
	m := t.xmlPattern.FindStringSubmatch(name)
	if m == nil {
		return Tokens{}, false
	}
	centre, year, month, day, inc, ok := parseFive(m, known)
	if !ok {
		return Tokens{}, false
	}

	docKind := DocumentKindExperiment
	if len(m) > 6 && m[6] == DocumentKindSpecimen {
		docKind = DocumentKindSpecimen
	}

	return Tokens{
		Kind: KindXML, CentreShortName: centre, Year: year, Month: month, Day: day,
		Increment: inc, DocumentKind: docKind,
	}, true
}

// parseFive validates the shared (centre, year, month, day, increment)
// group shape used by both patterns.
func parseFive(m []string, known KnownCentres) (centre string, year, month, day, inc int, ok bool) {
	if len(m) < 6 {
		return "", 0, 0, 0, 0, false
	}
	centre = m[1]
	if known != nil && !known(centre) {
		return "", 0, 0, 0, 0, false
	}

	year, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, 0, 0, 0, false
	}
	month, err = strconv.Atoi(m[3])
	if err != nil || month < 1 || month > 12 {
		return "", 0, 0, 0, 0, false
	}
	day, err = strconv.Atoi(m[4])
	if err != nil || day < 1 || day > 31 {
		return "", 0, 0, 0, 0, false
	}
	inc, err = strconv.Atoi(m[5])
	if err != nil || inc < 0 {
		return "", 0, 0, 0, 0, false
	}

	return centre, year, month, day, inc, true
}
