package site

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginate(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name     string
		page     int
		pageSize int
		want     []int
		pages    int
	}{
		{name: "first page", page: 1, pageSize: 2, want: []int{1, 2}, pages: 3},
		{name: "last partial page", page: 3, pageSize: 2, want: []int{5}, pages: 3},
		{name: "past the end", page: 100, pageSize: 20, want: []int{}, pages: 1},
		{name: "exact fit", page: 1, pageSize: 5, want: []int{1, 2, 3, 4, 5}, pages: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Paginate(all, tt.page, tt.pageSize)
			assert.True(t, got.Success)
			assert.Equal(t, tt.want, got.Data)
			assert.Equal(t, len(all), got.Meta.TotalItems)
			assert.Equal(t, tt.pages, got.Meta.TotalPages)
		})
	}
}

func TestPaginate_EmptyDataIsArray(t *testing.T) {
	byts, err := json.Marshal(Paginate([]int{}, 2, 10))
	require.NoError(t, err)

	assert.JSONEq(t, `{"success":true,"data":[],"meta":{"page":2,"pageSize":10,"totalItems":0,"totalPages":0}}`, string(byts))
}

func TestDetailsEntries_SkipsEmpty(t *testing.T) {
	d := Details{Status: "審查完畢", Location: "紅樓101"}

	assert.Equal(t, []Detail{
		{Key: "status", Value: "審查完畢"},
		{Key: "location", Value: "紅樓101"},
	}, d.Entries())

	byts, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"審查完畢","location":"紅樓101"}`, string(byts))
}

func TestParseLang(t *testing.T) {
	assert.Equal(t, LangEN, ParseLang("en"))
	assert.Equal(t, LangZH, ParseLang("zh-TW"))
	assert.Equal(t, LangZH, ParseLang("fr"))
	assert.Equal(t, LangZH, ParseLang(""))
}

func TestActivityTypeIconsAreInVocabulary(t *testing.T) {
	for _, typ := range []ActivityType{ActivityPropose, ActivityCosign, ActivityMeet} {
		assert.True(t, typ.Icon().Valid(), typ)
	}
	assert.False(t, Icon("rocket").Valid())
}
