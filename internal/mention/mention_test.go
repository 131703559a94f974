package mention

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/feedsync/internal/model"
)

type fakeSearch struct {
	profiles []model.Profile
	lastArgs struct {
		prefix string
		limit  int
	}
}

func (f *fakeSearch) SearchProfiles(_ context.Context, prefix string, limit int) ([]model.Profile, error) {
	f.lastArgs.prefix, f.lastArgs.limit = prefix, limit
	var out []model.Profile
	for _, p := range f.profiles {
		if strings.HasPrefix(strings.ToLower(p.Username), strings.ToLower(prefix)) && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		cursor int
		want   Query
		ok     bool
	}{
		{"trailing", "hi @al", 6, Query{Partial: "al", Start: 3, End: 6}, true},
		{"cursor mid text", "hi @al and more", 6, Query{Partial: "al", Start: 3, End: 6}, true},
		{"space after", "hi @al ", 7, Query{}, false},
		{"bare at", "hi @", 4, Query{}, false},
		{"unicode before", "héllo @bo", 9, Query{Partial: "bo", Start: 6, End: 9}, true},
		{"cursor past end", "@x", 99, Query{Partial: "x", Start: 0, End: 2}, true},
		{"email-like still matches", "mail a@b", 8, Query{Partial: "b", Start: 6, End: 8}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Detect(tt.text, tt.cursor)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuggestSelectTargets(t *testing.T) {
	alice := model.Profile{UID: "u-alice", Username: "alice"}
	alan := model.Profile{UID: "u-alan", Username: "Alan"}
	bob := model.Profile{UID: "u-bob", Username: "bob"}
	search := &fakeSearch{profiles: []model.Profile{alice, alan, bob}}
	r := NewResolver(search)
	ctx := context.Background()

	text := "thanks @AL"
	q, ok := Detect(text, len([]rune(text)))
	require.True(t, ok)
	got, err := r.Suggest(ctx, q)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, SuggestionLimit, search.lastArgs.limit)

	text, cursor := r.Select(text, q, alice)
	assert.Equal(t, "thanks @alice ", text)
	assert.Equal(t, 14, cursor)

	text += "and @bob and @alice again"
	assert.Equal(t, []string{"u-alice"}, r.Targets(text), "typed mention without selection is ignored")

	q, _ = Detect("x @b", 4)
	_, _ = r.Select("x @b", q, bob)
	assert.Equal(t, []string{"u-alice", "u-bob"}, r.Targets(text))

	assert.Equal(t, []string{"u-bob"}, r.Targets("only @bob now"), "deleted mention drops out")
	r.Reset()
	assert.Empty(t, r.Targets(text))
}

func TestSelectMidText(t *testing.T) {
	r := NewResolver(&fakeSearch{})
	text := "hey @bo, see you"
	q, ok := Detect(text, 7)
	require.True(t, ok)
	out, cursor := r.Select(text, q, model.Profile{UID: "u", Username: "bobby"})
	assert.Equal(t, "hey @bobby , see you", out)
	assert.Equal(t, 11, cursor)
}

func TestSegments(t *testing.T) {
	got := Segments("hi @alice, meet @bob!")
	assert.Equal(t, []Segment{
		{Kind: TextSegment, Value: "hi "},
		{Kind: MentionSegment, Value: "@alice", Username: "alice"},
		{Kind: TextSegment, Value: ", meet "},
		{Kind: MentionSegment, Value: "@bob", Username: "bob"},
		{Kind: TextSegment, Value: "!"},
	}, got)
	assert.Nil(t, Segments(""))
	assert.Equal(t, []Segment{{Kind: MentionSegment, Value: "@x", Username: "x"}}, Segments("@x"))
	assert.Equal(t, []string{"alice", "bob"}, Usernames("@Alice @bob @alice"))
}
