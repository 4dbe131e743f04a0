package services

import (
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Source ist eine strukturierte Quellenangabe aus der Sources-Sektion des Modells.
type Source struct {
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Domain         string   `json:"domain"`
	IsVerified     bool     `json:"is_verified"`
	RelevanceScore *float64 `json:"relevance_score"`
}

// Heading ist eine Überschrift des generierten Markdowns.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ContentStructure sind die abgeleiteten Kennzahlen eines Artikels.
type ContentStructure struct {
	WordCount          int       `json:"word_count"`
	HeadingCount       int       `json:"heading_count"`
	ReadingTimeMinutes int       `json:"reading_time_minutes"`
	Headings           []Heading `json:"headings"`
}

// ParseResult ist das strukturierte Ergebnis eines rohen Completions.
type ParseResult struct {
	Title     string
	Markdown  string
	Sources   []Source
	Structure ContentStructure
}

var (
	titleRe          = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	sourcesHeadingRe = regexp.MustCompile(`(?mi)^##\s*(?:sources|references|citations)\s*$`)
	citationRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe        = regexp.MustCompile(`(?m)^(#{1,3})\s+(.+)$`)
)

// ResponseParser zerlegt rohe Modell-Antworten in Titel, Body-Markdown,
// Quellenliste und Strukturkennzahlen. Parse ist eine reine Funktion:
// gleiche Eingabe liefert immer dasselbe Ergebnis.
type ResponseParser struct {
	Logger *zap.Logger
}

// NewResponseParser erstellt einen neuen Response-Parser.
func NewResponseParser(logger *zap.Logger) *ResponseParser {
	return &ResponseParser{Logger: logger}
}

// Parse extrahiert Titel, Sources-Sektion und Body aus dem Rohtext.
// Fehlt die Sources-Sektion, bleibt der Body unverändert und die
// Quellenliste leer; das ist kein Fehler.
func (rp *ResponseParser) Parse(raw string) *ParseResult {
	result := &ParseResult{
		Markdown: strings.TrimSpace(raw),
		Sources:  []Source{},
	}

	if m := titleRe.FindStringSubmatch(raw); m != nil {
		result.Title = strings.TrimSpace(m[1])
	}

	if loc := sourcesHeadingRe.FindStringIndex(raw); loc != nil {
		block, end := sourcesBlock(raw, loc[1])
		result.Sources = parseSources(block)
		result.Markdown = strings.TrimSpace(raw[:loc[0]] + raw[end:])
	}

	result.Structure = analyzeStructure(result.Markdown)
	return result
}

// sourcesBlock liefert den Inhalt der Sources-Sektion ab headingEnd bis zur
// nächsten Überschrift bzw. zum Textende, plus den Endindex im Gesamttext.
func sourcesBlock(raw string, headingEnd int) (string, int) {
	rest := raw[headingEnd:]
	if idx := strings.Index(rest, "\n##"); idx >= 0 {
		return rest[:idx], headingEnd + idx
	}
	return rest, len(raw)
}

// parseSources wandelt jede [Label](URL)-Angabe des Blocks in eine Quelle um.
func parseSources(block string) []Source {
	sources := []Source{}
	for _, m := range citationRe.FindAllStringSubmatch(block, -1) {
		rawURL := strings.TrimSpace(m[2])
		sources = append(sources, Source{
			Title:  strings.TrimSpace(m[1]),
			URL:    rawURL,
			Domain: domainOf(rawURL),
		})
	}
	return sources
}

// domainOf ist der Host der URL ohne führendes "www.".
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// analyzeStructure berechnet Wortzahl, Überschriften und Lesezeit
// (200 Wörter pro Minute, mindestens 1 Minute).
func analyzeStructure(markdown string) ContentStructure {
	headings := []Heading{}
	for _, m := range headingRe.FindAllStringSubmatch(markdown, -1) {
		headings = append(headings, Heading{Level: len(m[1]), Text: strings.TrimSpace(m[2])})
	}

	wordCount := len(strings.Fields(markdown))
	readingTime := wordCount / 200
	if readingTime < 1 {
		readingTime = 1
	}

	return ContentStructure{
		WordCount:          wordCount,
		HeadingCount:       len(headings),
		ReadingTimeMinutes: readingTime,
		Headings:           headings,
	}
}
