package fetch

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// minListingTitleRunes drops nav links and section labels whose anchor
// text is too short to be a headline.
const minListingTitleRunes = 8

// Source describes one news site listing page and the URL-path rules
// that separate article links from everything else on the page.
type Source struct {
	Name       string
	ListingURL string
	// PathAllow keeps only links whose lowercased path contains one of
	// these substrings; empty means allow all.
	PathAllow []string
	// PathDeny removes links whose lowercased path contains any of
	// these substrings.
	PathDeny []string
}

// DefaultSources lists the financial news sections fetched when no
// override is configured.
func DefaultSources() []Source {
	return []Source{
		{
			Name:       "LiveMint",
			ListingURL: "https://www.livemint.com/latest-news",
			PathDeny:   []string{"/videos/", "/photos/"},
		},
		{
			Name:       "EconomicTimes",
			ListingURL: "https://economictimes.indiatimes.com/markets/stocks/news",
			PathDeny:   []string{"/slideshow/", "/photostory/"},
		},
		{
			Name:       "TheHindu",
			ListingURL: "https://www.thehindu.com/business/",
			PathAllow:  []string{"/business/"},
			PathDeny:   []string{"/sport/", "/entertainment/", "/sci-tech/", "/education/"},
		},
	}
}

// Anchor is one candidate article link lifted from a listing page.
type Anchor struct {
	Title string
	URL   string
}

// collectListingAnchors walks a parsed listing page and returns every
// link with text, resolved against the page URL and deduplicated in
// document order.
func collectListingAnchors(doc *html.Node, base *url.URL) []Anchor {
	var anchors []Anchor
	seen := make(map[string]struct{})

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := attrValue(n, "href"); href != "" {
				if resolved, err := base.Parse(href); err == nil && (resolved.Scheme == "http" || resolved.Scheme == "https") {
					anchor := Anchor{Title: nodeText(n), URL: resolved.String()}
					key := anchor.Title + "\x00" + anchor.URL
					if _, dup := seen[key]; !dup {
						seen[key] = struct{}{}
						anchors = append(anchors, anchor)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return anchors
}

// filterArticleAnchors applies the source's host and path rules and the
// minimum headline length.
func filterArticleAnchors(anchors []Anchor, source Source, listingURL *url.URL) []Anchor {
	listingHost := normalizeHost(listingURL.Host)

	kept := make([]Anchor, 0, len(anchors))
	for _, anchor := range anchors {
		parsed, err := url.Parse(anchor.URL)
		if err != nil {
			continue
		}
		if normalizeHost(parsed.Host) != listingHost {
			continue
		}
		path := strings.ToLower(parsed.Path)
		if len(source.PathAllow) > 0 && !containsAny(path, source.PathAllow) {
			continue
		}
		if containsAny(path, source.PathDeny) {
			continue
		}
		if len([]rune(anchor.Title)) < minListingTitleRunes {
			continue
		}
		kept = append(kept, anchor)
	}
	return kept
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
