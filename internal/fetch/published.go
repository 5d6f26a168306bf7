package fetch

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var (
	isoTimestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	yearMonthDayPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	dayMonthYearPattern = regexp.MustCompile(`\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4}`)
	relativeAgoPattern  = regexp.MustCompile(`(?i)(\d+)\s*(minute|min|hour|hr|day|days|hours)\s*ago`)
	dateClassPattern    = regexp.MustCompile(`(?i)date|time|timestamp`)
	publishedMetaProps  = []string{"article:published_time", "og:published_time", "og:updated_time"}
	publishedMetaNames  = []string{"pubdate", "publishdate", "date", "article_date_original"}
	visibleDateElements = map[string]bool{"span": true, "p": true, "div": true}
)

// ExtractPublishedAt pulls a published timestamp out of an article
// page, trying structured metadata first and visible date text last.
// Returns nil when nothing on the page parses as a date.
func ExtractPublishedAt(doc *html.Node, now time.Time) *time.Time {
	meta := collectPublishedCandidates(doc)

	for _, prop := range publishedMetaProps {
		if dt := parseLooseTimestamp(meta.byProperty[prop], now); dt != nil {
			return dt
		}
	}
	if dt := parseLooseTimestamp(meta.timeDatetime, now); dt != nil {
		return dt
	}
	if dt := parseLooseTimestamp(meta.timeText, now); dt != nil {
		return dt
	}
	for _, name := range publishedMetaNames {
		if dt := parseLooseTimestamp(meta.byName[name], now); dt != nil {
			return dt
		}
	}
	for _, text := range meta.dateTexts {
		if dt := parseLooseTimestamp(text, now); dt != nil {
			return dt
		}
	}
	return nil
}

type publishedCandidates struct {
	byProperty   map[string]string
	byName       map[string]string
	timeDatetime string
	timeText     string
	dateTexts    []string
}

func collectPublishedCandidates(doc *html.Node) publishedCandidates {
	out := publishedCandidates{
		byProperty: make(map[string]string),
		byName:     make(map[string]string),
	}
	sawTime := false

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				property := attrValue(n, "property")
				name := attrValue(n, "name")
				content := attrValue(n, "content")
				if content != "" {
					if property != "" {
						if _, exists := out.byProperty[property]; !exists {
							out.byProperty[property] = content
						}
					}
					if name != "" {
						if _, exists := out.byName[name]; !exists {
							out.byName[name] = content
						}
					}
				}
			case "time":
				if !sawTime {
					sawTime = true
					out.timeDatetime = attrValue(n, "datetime")
					out.timeText = nodeText(n)
				}
			default:
				if visibleDateElements[n.Data] && dateClassPattern.MatchString(attrValue(n, "class")) {
					if text := nodeText(n); text != "" {
						out.dateTexts = append(out.dateTexts, text)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// parseLooseTimestamp recognizes the date shapes news pages actually
// publish: an ISO timestamp, a bare date, "2 January 2025", or a
// relative "3 hours ago".
func parseLooseTimestamp(text string, now time.Time) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if match := isoTimestampPattern.FindString(text); match != "" {
		if dt, err := time.Parse("2006-01-02T15:04:05", match); err == nil {
			return &dt
		}
	}
	if match := yearMonthDayPattern.FindString(text); match != "" {
		if dt, err := time.Parse("2006-01-02", match); err == nil {
			return &dt
		}
	}
	if match := dayMonthYearPattern.FindString(text); match != "" {
		for _, layout := range []string{"2 Jan 2006", "2 January 2006"} {
			if dt, err := time.Parse(layout, match); err == nil {
				return &dt
			}
		}
	}
	if groups := relativeAgoPattern.FindStringSubmatch(text); groups != nil {
		qty, err := strconv.Atoi(groups[1])
		if err != nil {
			return nil
		}
		unit := strings.ToLower(groups[2])
		var dt time.Time
		switch {
		case strings.Contains(unit, "min"):
			dt = now.Add(-time.Duration(qty) * time.Minute)
		case strings.Contains(unit, "hour"), strings.Contains(unit, "hr"):
			dt = now.Add(-time.Duration(qty) * time.Hour)
		case strings.Contains(unit, "day"):
			dt = now.AddDate(0, 0, -qty)
		default:
			return nil
		}
		return &dt
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// nodeText flattens the text content of a node, joining fragments with
// single spaces the way rendered HTML collapses whitespace.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			if trimmed := strings.Join(strings.Fields(node.Data), " "); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
