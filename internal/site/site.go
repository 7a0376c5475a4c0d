// Package site holds the value types shared between the aggregators, the chat
// gateway and the HTTP layer.
package site

import (
	"time"
)

// Lang is one of the two languages the site is published in.
type Lang string

const (
	LangZH Lang = "zh-TW"
	LangEN Lang = "en"
)

// ParseLang maps a query value onto a [Lang], defaulting to zh-TW.
func ParseLang(s string) Lang {
	if Lang(s) == LangEN {
		return LangEN
	}
	return LangZH
}

// Separator is the list separator used when joining values for display.
func (l Lang) Separator() string {
	if l == LangEN {
		return ", "
	}
	return "、"
}

// Icon is the display key for a card. The frontend maps it to a visual.
type Icon string

const (
	IconNewspaper Icon = "newspaper"
	IconPropose   Icon = "propose"
	IconCosign    Icon = "cosign"
	IconMeet      Icon = "meet"
	IconBlog      Icon = "blog"
	IconTranspal  Icon = "transpal"
)

// Icons is the full vocabulary understood by the frontend.
var Icons = []Icon{IconNewspaper, IconPropose, IconCosign, IconMeet, IconBlog, IconTranspal}

func (i Icon) Valid() bool {
	for _, known := range Icons {
		if i == known {
			return true
		}
	}
	return false
}

type (
	// CardItem is a source-agnostic teaser for one of the homepage feed sections.
	CardItem struct {
		Title       string `json:"title,omitempty"`
		Description string `json:"description,omitempty"`
		Date        string `json:"date,omitempty"` // Already formatted, e.g. "3 天前"
		Href        string `json:"href,omitempty"`
		Icon        Icon   `json:"icon"`
	}

	// FeedItem is a single RSS entry.
	FeedItem struct {
		ID          string `json:"id"` // guid, or link when there's no guid
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		Link        string `json:"link"`
		PubDate     string `json:"pubDate,omitempty"`
		Category    string `json:"category,omitempty"`
		Author      string `json:"author,omitempty"`
	}
)

// ActivityType tags what kind of legislative action an [ActivityItem] is.
type ActivityType string

const (
	ActivityPropose ActivityType = "propose"
	ActivityCosign  ActivityType = "cosign"
	ActivityMeet    ActivityType = "meet"
)

// Icon returns the card icon for the activity type.
func (t ActivityType) Icon() Icon {
	switch t {
	case ActivityPropose:
		return IconPropose
	case ActivityCosign:
		return IconCosign
	default:
		return IconMeet
	}
}

type (
	// ActivityItem is a normalized legislative action: a bill proposed, a bill co-signed
	// or a meeting attended.
	ActivityItem struct {
		ID      string       `json:"id"`
		Type    ActivityType `json:"type"`
		Title   string       `json:"title"`
		Date    *time.Time   `json:"date"` // nil when the source date couldn't be parsed
		URL     string       `json:"url,omitempty"`
		Details Details      `json:"details"`
	}

	// Details are the type dependent extras of an activity. Bills carry Status and Law,
	// meetings carry MeetingType and Location.
	Details struct {
		Status      string `json:"status,omitempty"`
		Law         string `json:"law,omitempty"`
		MeetingType string `json:"meetingType,omitempty"`
		Location    string `json:"location,omitempty"`
	}

	// Detail is one non-empty key/value out of [Details].
	Detail struct {
		Key   string
		Value string
	}
)

// Entries lists the non-empty details in display order.
func (d Details) Entries() []Detail {
	var out []Detail
	for _, e := range []Detail{
		{Key: "status", Value: d.Status},
		{Key: "law", Value: d.Law},
		{Key: "meetingType", Value: d.MeetingType},
		{Key: "location", Value: d.Location},
	} {
		if e.Value != "" {
			out = append(out, e)
		}
	}
	return out
}

type (
	// Page is the pagination envelope for list endpoints.
	Page[T any] struct {
		Success bool     `json:"success"`
		Data    []T      `json:"data"`
		Meta    PageMeta `json:"meta"`
	}

	PageMeta struct {
		Page       int `json:"page"`
		PageSize   int `json:"pageSize"`
		TotalItems int `json:"totalItems"`
		TotalPages int `json:"totalPages"`
	}
)

// Paginate slices a 1-based page out of all. Pages past the end are empty, never nil.
func Paginate[T any](all []T, page, pageSize int) Page[T] {
	page = max(page, 1)
	pageSize = max(pageSize, 1)

	var (
		total      = len(all)
		totalPages = (total + pageSize - 1) / pageSize
		start, end = total, total
	)
	// Compared before multiplying so absurd page numbers can't overflow.
	if page-1 <= total/pageSize {
		start = (page - 1) * pageSize
		end = min(start+pageSize, total)
	}

	data := make([]T, 0, end-start)
	data = append(data, all[start:end]...)

	return Page[T]{
		Success: true,
		Data:    data,
		Meta: PageMeta{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: totalPages,
		},
	}
}
