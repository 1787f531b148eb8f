package tokenizer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	zipPattern = `^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)\.zip$`
	xmlPattern = `^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)_(\w+)\.xml$`
)

func knownCentres(names ...string) KnownCentres {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(shortName string) bool { return set[shortName] }
}

func emitZip(centre string, year, month, day, inc int) string {
	return fmt.Sprintf("%s_%04d%02d%02d_%d.zip", centre, year, month, day, inc)
}

func emitXML(centre string, year, month, day, inc int, docKind string) string {
	return fmt.Sprintf("%s_%04d%02d%02d_%d_%s.xml", centre, year, month, day, inc, docKind)
}

func TestTokenizeZipRoundTrip(t *testing.T) {
	tok, err := New(zipPattern, xmlPattern)
	require.NoError(t, err)

	type combo struct{ year, month, day, inc int }
	combos := []combo{
		{2014, 1, 15, 1},
		{2020, 12, 31, 0},
		{1999, 1, 1, 42},
	}

	for _, c := range combos {
		name := emitZip("ABCD", c.year, c.month, c.day, c.inc)
		toks, ok := tok.Tokenize(name, knownCentres("ABCD"))
		require.True(t, ok, "expected zip pattern to match %q", name)
		require.Equal(t, KindZip, toks.Kind)
		require.Equal(t, "ABCD", toks.CentreShortName)
		require.Equal(t, c.year, toks.Year)
		require.Equal(t, c.month, toks.Month)
		require.Equal(t, c.day, toks.Day)
		require.Equal(t, c.inc, toks.Increment)
	}
}

func TestTokenizeXMLRoundTrip(t *testing.T) {
	tok, err := New(zipPattern, xmlPattern)
	require.NoError(t, err)

	for _, kind := range []string{DocumentKindSpecimen, DocumentKindExperiment} {
		name := emitXML("ABCD", 2014, 1, 15, 1, kind)
		toks, ok := tok.Tokenize(name, knownCentres("ABCD"))
		require.True(t, ok, "expected xml pattern to match %q", name)
		require.Equal(t, KindXML, toks.Kind)
		require.Equal(t, kind, toks.DocumentKind)
	}
}

func TestTokenizeUnknownCentreFails(t *testing.T) {
	tok, err := New(zipPattern, xmlPattern)
	require.NoError(t, err)

	_, ok := tok.Tokenize(emitZip("ZZZZ", 2014, 1, 15, 1), knownCentres("ABCD"))
	require.False(t, ok, "an unknown centre short-name must not tokenize")
}

func TestTokenizeMonthOutOfRangeFails(t *testing.T) {
	tok, err := New(zipPattern, xmlPattern)
	require.NoError(t, err)

	_, ok := tok.Tokenize("ABCD_20141315_1.zip", knownCentres("ABCD"))
	require.False(t, ok, "month 13 is out of range")
}

func TestTokenizeDayOutOfRangeFails(t *testing.T) {
	tok, err := New(zipPattern, xmlPattern)
	require.NoError(t, err)

	_, ok := tok.Tokenize("ABCD_20140132_1.zip", knownCentres("ABCD"))
	require.False(t, ok, "day 32 is out of range")
}

func TestTokenizeNeitherPatternMatches(t *testing.T) {
	tok, err := New(zipPattern, xmlPattern)
	require.NoError(t, err)

	toks, ok := tok.Tokenize("not-a-recognized-name.txt", knownCentres("ABCD"))
	require.False(t, ok)
	require.Equal(t, KindNone, toks.Kind)
}

func TestTokenizeIsDeterministicAcrossCalls(t *testing.T) {
	tok, err := New(zipPattern, xmlPattern)
	require.NoError(t, err)

	name := emitZip("ABCD", 2014, 1, 15, 1)
	first, okFirst := tok.Tokenize(name, knownCentres("ABCD"))
	second, okSecond := tok.Tokenize(name, knownCentres("ABCD"))
	require.Equal(t, okFirst, okSecond)
	require.Equal(t, first, second)
}
