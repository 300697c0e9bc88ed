package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rows(n int) []Row {
	out := make([]Row, n)
	for i := range out {
		out[i] = Row{ID: fmt.Sprintf("time_%02d:00", i), Title: fmt.Sprintf("slot %d", i)}
	}
	return out
}

var timeSpec = ListSpec{
	Header:     "Select Time",
	Body:       "Available slots:",
	ButtonText: "View Times",
	Noun:       "Slots",
	MoreHeader: "More Times",
	MoreBody:   "More available slots:",
}

func TestSplitListTwentyThreeRows(t *testing.T) {
	replies := SplitList(timeSpec, rows(23))
	require.Len(t, replies, 3)

	want := []struct {
		count   int
		section string
		button  string
		header  string
	}{
		{10, "Slots 1-10 of 23", "View Times (1-10)", "Select Time"},
		{10, "Slots 11-20 of 23", "View Times (11-20)", "More Times"},
		{3, "Slots 21-23 of 23", "View Times (21-23)", "More Times"},
	}
	seen := 0
	for i, w := range want {
		r := replies[i]
		require.Equal(t, ReplyList, r.Kind)
		require.Len(t, r.List.Sections, 1)
		assert.Len(t, r.List.Sections[0].Rows, w.count)
		assert.Equal(t, w.section, r.List.Sections[0].Title)
		assert.Equal(t, w.button, r.List.ButtonText)
		assert.Equal(t, w.header, r.List.Header)
		assert.Equal(t, fmt.Sprintf("time_%02d:00", seen), r.List.Sections[0].Rows[0].ID)
		seen += w.count
	}
}

func TestSplitListSingleChunk(t *testing.T) {
	replies := SplitList(timeSpec, rows(10))
	require.Len(t, replies, 1)
	assert.Equal(t, "10 Slots", replies[0].List.Sections[0].Title)
	assert.Equal(t, "View Times", replies[0].List.ButtonText)

	titled := timeSpec
	titled.SectionTitle = "Our Departments"
	replies = SplitList(titled, rows(2))
	assert.Equal(t, "Our Departments", replies[0].List.Sections[0].Title)

	assert.Nil(t, SplitList(timeSpec, nil))
}

func TestSplitListEveryChunkWithinCap(t *testing.T) {
	for n := 1; n <= 45; n++ {
		total := 0
		for _, r := range SplitList(timeSpec, rows(n)) {
			assert.LessOrEqual(t, len(r.List.Sections[0].Rows), MaxListRows)
			total += len(r.List.Sections[0].Rows)
		}
		assert.Equal(t, n, total)
	}
}

func TestButtonsReplyCapsOptions(t *testing.T) {
	r := ButtonsReply("pick", Button{ID: "a"}, Button{ID: "b"}, Button{ID: "c"}, Button{ID: "d"})
	assert.Len(t, r.Buttons, MaxButtons)
	assert.Equal(t, "hello 2", TextReply("hello %d", 2).Text)
	assert.Equal(t, "100%", TextReply("100%").Text)
}
