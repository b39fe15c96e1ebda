// Package extract turns fetched page bodies into validated snapshots.
package extract

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

var digits = regexp.MustCompile(`(\d+)`)

// Extractor parses staffing counts out of source page markup.
// Optional descriptive fields default to the unspecified marker; a missing
// store name or staff section rejects the whole record, since fabricating
// counts would poison every aggregate downstream.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract implements staffing.Extractor.
func (e *Extractor) Extract(body []byte, sourceURL string, capturedAt time.Time) (staffing.Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return staffing.Snapshot{}, &staffing.ParseError{Field: "html", URL: sourceURL}
	}

	name := extractName(doc)
	if name == "" {
		return staffing.Snapshot{}, &staffing.ParseError{Field: "store_name", URL: sourceURL}
	}

	total, _ := extractTotalStaff(doc)
	onDuty, onDutyFound := countListEntries(doc, "div.shiftbox")
	free, _ := countListEntries(doc, "section.standby")
	// The on-duty roster is the mandatory count; an absent standby section
	// means nobody is free, but a page without a shift roster has no
	// occupancy to report.
	if !onDutyFound {
		return staffing.Snapshot{}, &staffing.ParseError{Field: "staff_counts", URL: sourceURL}
	}

	// Upstream pages are unreliable; clamp rather than reject.
	if onDuty < 0 {
		onDuty = 0
	}
	if free < 0 {
		free = 0
	}
	if free > onDuty {
		free = onDuty
	}
	if total < onDuty {
		total = onDuty
	}

	return staffing.Snapshot{
		SourceName: name,
		Category:   textOrUnspecified(doc, "p.type"),
		Genre:      textOrUnspecified(doc, "p.genre"),
		Area:       textOrUnspecified(doc, "span#area_name"),
		TotalStaff: total,
		OnDuty:     onDuty,
		Free:       free,
		URL:        sourceURL,
		ShiftTime:  strings.TrimSpace(doc.Find("p.shoptime").First().Text()),
		CapturedAt: capturedAt.In(staffing.Zone()),
	}, nil
}

func extractName(doc *goquery.Document) string {
	if h1 := doc.Find("div.menushopname h1").First(); h1.Length() > 0 {
		if name := strings.TrimSpace(h1.Text()); name != "" {
			return name
		}
	}
	return strings.TrimSpace(doc.Find("p.shopname").First().Text())
}

func extractTotalStaff(doc *goquery.Document) (int, bool) {
	total := 0
	found := false
	doc.Find("p.inPosition").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		if !strings.Contains(text, "在籍") {
			return
		}
		if match := digits.FindString(text); match != "" {
			if n, err := strconv.Atoi(match); err == nil {
				total = n
				found = true
			}
		}
	})
	return total, found
}

// countListEntries counts staff rows under the given section: each <li>
// inside a girlslist is one person.
func countListEntries(doc *goquery.Document, sectionSelector string) (int, bool) {
	section := doc.Find(sectionSelector).First()
	if section.Length() == 0 {
		return 0, false
	}
	return section.Find("ul.girlslist li").Length(), true
}

func textOrUnspecified(doc *goquery.Document, selector string) string {
	text := strings.TrimSpace(doc.Find(selector).First().Text())
	if text == "" {
		return staffing.Unspecified
	}
	return text
}
