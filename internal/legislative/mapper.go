package legislative

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/juchunko/site-worker/internal/site"
	"github.com/juchunko/site-worker/internal/when"
)

// Bill is a proposed or co-signed bill as listed by the legislative API.
type Bill struct {
	ID        string
	Title     string
	Status    string
	Law       string
	UpdatedAt string
	URL       string
}

// Meet is a meeting the legislator attended.
type Meet struct {
	ID       string
	Title    string
	Date     string
	Type     string
	Location string
	URL      string
}

// MapBill reads a bill record. Records without a bill number are rejected.
func MapBill(rec gjson.Result, lang site.Lang) (Bill, bool) {
	fields := rec.Map()

	id := str(fields["議案編號"])
	if id == "" {
		return Bill{}, false
	}

	b := Bill{
		ID:     id,
		Title:  firstOf(str(fields["議案名稱"]), id),
		Status: str(fields["議案狀態"]),
		Law:    firstOf(join(fields["法律編號:str"], lang), join(fields["法律編號"], lang)),
		UpdatedAt: firstOf(
			str(fields["最新進度日期"]),
			str(fields["資料抓取時間"]),
		),
	}

	if u := fields["url"]; u.Type == gjson.String {
		b.URL = u.String()
	} else {
		for _, att := range fields["相關附件"].Array() {
			if v := att.Get("網址"); att.IsObject() && v.Type == gjson.String {
				b.URL = v.String()
				break
			}
		}
	}

	return b, true
}

// MapMeet reads a meeting record. Records without a meeting code are rejected.
func MapMeet(rec gjson.Result, lang site.Lang) (Meet, bool) {
	fields := rec.Map()

	id := str(fields["會議代碼"])
	if id == "" {
		return Meet{}, false
	}

	m := Meet{
		ID:       id,
		Title:    firstOf(str(fields["標題"]), str(fields["會議標題"]), str(fields["name"]), id),
		Date:     firstString(fields["日期"]),
		Type:     join(fields["會議種類"], lang),
		Location: join(fields["地點"], lang),
	}

	var records []gjson.Result
	for _, r := range fields["會議資料"].Array() {
		if r.IsObject() {
			records = append(records, r)
		}
	}
	if m.Date == "" && len(records) > 0 {
		m.Date = firstString(records[0].Get("日期"))
	}

	for _, link := range fields["連結"].Array() {
		if !link.IsObject() {
			continue
		}
		target, kind := link.Get("連結"), link.Get("類型")
		if target.Type == gjson.String && (str(kind) == "" || kind.String() == "User") {
			m.URL = target.String()
			break
		}
	}
	if m.URL == "" {
		for _, r := range records {
			if v := r.Get("ppg_url"); v.Type == gjson.String {
				m.URL = v.String()
				break
			}
		}
	}

	return m, true
}

// Activity normalizes the bill into an activity of the given type (propose or cosign).
func (b Bill) Activity(t site.ActivityType) site.ActivityItem {
	return site.ActivityItem{
		ID:    b.ID,
		Type:  t,
		Title: b.Title,
		Date:  datePtr(b.UpdatedAt),
		URL:   b.URL,
		Details: site.Details{
			Status: b.Status,
			Law:    b.Law,
		},
	}
}

// Activity normalizes the meeting into an activity.
func (m Meet) Activity() site.ActivityItem {
	return site.ActivityItem{
		ID:    m.ID,
		Type:  site.ActivityMeet,
		Title: m.Title,
		Date:  datePtr(m.Date),
		URL:   m.URL,
		Details: site.Details{
			MeetingType: m.Type,
			Location:    m.Location,
		},
	}
}

func datePtr(raw string) *time.Time {
	t, ok := when.ParseToDate(raw)
	if !ok {
		return nil
	}
	return &t
}

func str(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.String()
}

// firstString takes a string, or the first non-blank string out of an array.
func firstString(r gjson.Result) string {
	if r.IsArray() {
		for _, v := range r.Array() {
			if v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
				return v.String()
			}
		}
		return ""
	}
	if strings.TrimSpace(str(r)) == "" {
		return ""
	}
	return r.String()
}

// join flattens a string-or-array field into a display string.
func join(r gjson.Result, lang site.Lang) string {
	if !r.IsArray() {
		return str(r)
	}

	var parts []string
	for _, v := range r.Array() {
		if s := strings.TrimSpace(str(v)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, lang.Separator())
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
