// Package when normalizes the date formats found across the upstream APIs and renders
// relative times for cards.
package when

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/juchunko/site-worker/internal/site"
)

// ROC (Minguo) calendar years are offset from the Gregorian calendar by this much.
const rocOffset = 1911

var rocRe = regexp.MustCompile(`^(\d{2,3})年(\d{1,2})月(\d{1,2})日`)

// ParseToDate parses raw into a UTC time. ROC dates like "113年5月1日" are converted,
// anything else has "/" swapped for "-" and goes through a lenient parser.
// The bool is false when nothing could be made of raw.
func ParseToDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if m := rocRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			t := time.Date(year+rocOffset, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			// Rejects overflow like 2月31日, which time.Date would silently roll over.
			if t.Day() == day {
				return t, true
			}
		}
	}

	t, err := dateparse.ParseIn(strings.ReplaceAll(s, "/", "-"), time.UTC)
	if err != nil {
		return time.Time{}, false
	}

	return t.UTC(), true
}

type unit struct {
	seconds int64
	en      string
	zh      string
}

var units = []unit{
	{seconds: 365 * 24 * 3600, en: "year", zh: "年"},
	{seconds: 30 * 24 * 3600, en: "month", zh: "個月"},
	{seconds: 24 * 3600, en: "day", zh: "天"},
	{seconds: 3600, en: "hour", zh: "小時"},
	{seconds: 60, en: "minute", zh: "分鐘"},
}

// TimeAgo renders t relative to now, e.g. "3 天前" or "2 hours ago". Times in the
// future read "in 2 days" / "2 天後", anything under a minute away is "just now".
func TimeAgo(t, now time.Time, lang site.Lang) string {
	var (
		delta  = int64(now.Sub(t) / time.Second)
		future = delta < 0
	)
	if future {
		delta = -delta
	}

	for _, u := range units {
		n := delta / u.seconds
		if n <= 0 {
			continue
		}

		if lang != site.LangEN {
			if future {
				return fmt.Sprintf("%d %s後", n, u.zh)
			}
			return fmt.Sprintf("%d %s前", n, u.zh)
		}

		name := u.en
		if n != 1 {
			name += "s"
		}
		if future {
			return fmt.Sprintf("in %d %s", n, name)
		}
		return fmt.Sprintf("%d %s ago", n, name)
	}

	if lang == site.LangEN {
		return "just now"
	}
	return "剛剛"
}

// TimeAgoString parses raw with [ParseToDate] and renders it with [TimeAgo].
// Unparseable input renders as the empty string.
func TimeAgoString(raw string, now time.Time, lang site.Lang) string {
	t, ok := ParseToDate(raw)
	if !ok {
		return ""
	}
	return TimeAgo(t, now, lang)
}
