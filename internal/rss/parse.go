// Package rss pulls items out of RSS feeds by scanning the text for tags.
//
// Feeds in the wild are frequently not well-formed XML, so a strict decoder would
// reject feeds a reader happily displays. Scanning degrades to fewer items instead.
package rss

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/juchunko/site-worker/internal/site"
)

var (
	itemRe   = regexp.MustCompile(`(?is)<item(?:\s[^>]*)?>(.*?)</item>`)
	cdataRe  = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	entityRe = regexp.MustCompile(`&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z]+);`)

	tagRes = map[string]*regexp.Regexp{}
)

func init() {
	for _, name := range []string{"title", "link", "description", "pubDate", "category", "author", "guid"} {
		tagRes[name] = regexp.MustCompile(`(?is)<` + name + `(?:\s[^>]*)?>(.*?)</` + name + `>`)
	}
}

var namedEntities = map[string]string{
	"&apos;":   "'",
	"&quot;":   `"`,
	"&amp;":    "&",
	"&lt;":     "<",
	"&gt;":     ">",
	"&nbsp;":   "\u00a0",
	"&hellip;": "…",
	"&mdash;":  "—",
	"&ndash;":  "–",
	"&lsquo;":  "\u2018",
	"&rsquo;":  "\u2019",
	"&ldquo;":  "\u201c",
	"&rdquo;":  "\u201d",
}

// Parse extracts the items of an RSS document. Items missing a title or a link are skipped.
// Anything unparseable yields an empty slice.
func Parse(xml string) []site.FeedItem {
	items := []site.FeedItem{}
	for _, m := range itemRe.FindAllStringSubmatch(xml, -1) {
		block := m[1]

		title, ok := tag(block, "title")
		if !ok {
			continue
		}
		link, ok := tag(block, "link")
		if !ok {
			continue
		}

		var (
			linkText = strings.TrimSpace(StripCDATA(link))
			id       = linkText
		)
		if linkText == "" {
			continue
		}
		if guid, ok := tag(block, "guid"); ok {
			if g := strings.TrimSpace(StripCDATA(guid)); g != "" {
				id = g
			}
		}

		item := site.FeedItem{
			ID:    id,
			Title: DecodeEntities(StripCDATA(title)),
			Link:  linkText,
		}
		if desc, ok := tag(block, "description"); ok {
			item.Description = DecodeEntities(StripCDATA(desc))
		}
		if pub, ok := tag(block, "pubDate"); ok {
			item.PubDate = strings.TrimSpace(pub)
		}
		if cat, ok := tag(block, "category"); ok {
			item.Category = DecodeEntities(StripCDATA(cat))
		}
		if author, ok := tag(block, "author"); ok {
			item.Author = DecodeEntities(StripCDATA(author))
		}

		items = append(items, item)
	}

	return items
}

// DedupByLink drops items whose link was already seen, keeping the first and the order.
func DedupByLink(items []site.FeedItem) []site.FeedItem {
	var (
		seen = make(map[string]struct{}, len(items))
		out  = make([]site.FeedItem, 0, len(items))
	)
	for _, it := range items {
		if _, ok := seen[it.Link]; ok {
			continue
		}
		seen[it.Link] = struct{}{}
		out = append(out, it)
	}
	return out
}

func tag(block, name string) (string, bool) {
	m := tagRes[name].FindStringSubmatch(block)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// StripCDATA unwraps every CDATA section in s.
func StripCDATA(s string) string {
	return cdataRe.ReplaceAllString(s, "${1}")
}

// DecodeEntities decodes the common named entities plus numeric character references
// and trims the result. Unknown named entities are left untouched.
func DecodeEntities(s string) string {
	if s == "" {
		return ""
	}

	decoded := entityRe.ReplaceAllStringFunc(s, func(ent string) string {
		if v, ok := namedEntities[ent]; ok {
			return v
		}
		if !strings.HasPrefix(ent, "&#") {
			return ent
		}

		var (
			num  = ent[2 : len(ent)-1]
			base = 10
		)
		if num[0] == 'x' || num[0] == 'X' {
			num, base = num[1:], 16
		}
		code, err := strconv.ParseInt(num, base, 32)
		if err != nil || code <= 0 || code > 0x10FFFF || (code >= 0xD800 && code <= 0xDFFF) {
			return ent
		}
		return string(rune(code))
	})

	return strings.TrimSpace(decoded)
}
