package parse

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service parses RSS 2.0 and Atom job feeds into normalized job postings.
// Entries missing a title or company are skipped; a payload that is not a
// recognizable feed at all is an error.
type Service struct {
	logger arbor.ILogger
}

// NewService creates a feed parser.
func NewService(logger arbor.ILogger) interfaces.FeedParser {
	return &Service{logger: logger}
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Company     string `xml:"company"`
	Creator     string `xml:"creator"` // dc:creator
	Description string `xml:"description"`
	Summary     string `xml:"summary"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Category    string `xml:"category"`
	JobType     string `xml:"job_type"`
	Location    string `xml:"location"`
	Region      string `xml:"region"`
}

type atomDocument struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title  string `xml:"title"`
	Author struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Creator   string     `xml:"creator"` // dc:creator
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Links     []atomLink `xml:"link"`
	ID        string     `xml:"id"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// Parse converts raw feed bytes into normalized job postings for the source.
func (s *Service) Parse(data []byte, sourceURL string) ([]models.JobPosting, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	switch root {
	case "rss":
		return s.parseRSS(data, sourceURL)
	case "feed":
		return s.parseAtom(data, sourceURL)
	default:
		return nil, fmt.Errorf("failed to parse feed: unsupported root element <%s>", root)
	}
}

func (s *Service) parseRSS(data []byte, sourceURL string) ([]models.JobPosting, error) {
	var doc rssDocument
	if err := unmarshalFeed(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse RSS feed: %w", err)
	}

	jobs := make([]models.JobPosting, 0, len(doc.Channel.Items))
	skipped := 0
	for _, item := range doc.Channel.Items {
		title := cleanText(item.Title)
		company := firstNonEmpty(cleanText(item.Company), cleanText(item.Creator), "Unknown")
		if title == "" {
			skipped++
			continue
		}

		link := strings.TrimSpace(item.Link)
		rawID := firstNonEmpty(strings.TrimSpace(item.GUID), link, title+"-"+company)

		jobs = append(jobs, models.JobPosting{
			ExternalID:    encodeExternalID(rawID),
			SourceURL:     sourceURL,
			Title:         title,
			Company:       company,
			Location:      cleanText(item.Location),
			Description:   cleanText(firstNonEmpty(item.Description, item.Summary)),
			URL:           link,
			Category:      cleanText(item.Category),
			Type:          cleanText(item.JobType),
			Region:        cleanText(item.Region),
			PublishedDate: parseDate(item.PubDate),
		})
	}

	if skipped > 0 {
		s.logger.Debug().
			Str("source_url", sourceURL).
			Int("skipped", skipped).
			Msg("Skipped malformed feed items")
	}
	return jobs, nil
}

func (s *Service) parseAtom(data []byte, sourceURL string) ([]models.JobPosting, error) {
	var doc atomDocument
	if err := unmarshalFeed(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse Atom feed: %w", err)
	}

	jobs := make([]models.JobPosting, 0, len(doc.Entries))
	skipped := 0
	for _, entry := range doc.Entries {
		title := cleanText(entry.Title)
		company := firstNonEmpty(cleanText(entry.Author.Name), cleanText(entry.Creator), "Unknown")
		if title == "" {
			skipped++
			continue
		}

		link := atomEntryLink(entry)
		rawID := firstNonEmpty(strings.TrimSpace(entry.ID), link, title+"-"+company)

		jobs = append(jobs, models.JobPosting{
			ExternalID:    encodeExternalID(rawID),
			SourceURL:     sourceURL,
			Title:         title,
			Company:       company,
			Description:   cleanText(firstNonEmpty(entry.Summary, entry.Content)),
			URL:           link,
			PublishedDate: parseDate(firstNonEmpty(entry.Published, entry.Updated)),
		})
	}

	if skipped > 0 {
		s.logger.Debug().
			Str("source_url", sourceURL).
			Int("skipped", skipped).
			Msg("Skipped malformed feed entries")
	}
	return jobs, nil
}

// rootElement returns the local name of the document's root element.
func rootElement(data []byte) (string, error) {
	decoder := newDecoder(data)
	for {
		tok, err := decoder.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func unmarshalFeed(data []byte, v interface{}) error {
	return newDecoder(data).Decode(v)
}

// newDecoder builds a decoder tolerant of the loose charsets real feeds use.
func newDecoder(data []byte) *xml.Decoder {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return decoder
}

// atomEntryLink prefers the alternate link, falling back to any link href.
func atomEntryLink(entry atomEntry) string {
	for _, l := range entry.Links {
		if l.Rel == "alternate" && l.Href != "" {
			return strings.TrimSpace(l.Href)
		}
	}
	for _, l := range entry.Links {
		if l.Href != "" {
			return strings.TrimSpace(l.Href)
		}
	}
	return ""
}

// cleanText strips HTML markup and collapses whitespace.
func cleanText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if strings.ContainsAny(text, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			text = doc.Text()
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

// encodeExternalID derives a stable, storage-safe external ID from whatever
// identity the feed provides: base64 the raw value, keep alphanumerics,
// truncate to 50 characters.
func encodeExternalID(raw string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	var b strings.Builder
	for _, r := range encoded {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if len(id) > 50 {
		id = id[:50]
	}
	return id
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
