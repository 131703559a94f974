// Package mention implements @username autocomplete for the composer and
// splits stored content into text and mention segments for rendering.
package mention

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/d60-Lab/feedsync/internal/model"
)

// SuggestionLimit caps the profiles offered for one partial name.
const SuggestionLimit = 5

var (
	trailingMention = regexp.MustCompile(`@(\w+)$`)
	anyMention      = regexp.MustCompile(`@(\w+)`)
)

// Searcher finds profiles whose username starts with prefix, ignoring case.
type Searcher interface {
	SearchProfiles(ctx context.Context, prefix string, limit int) ([]model.Profile, error)
}

// Query is a partial mention being typed. Start and End are rune offsets of
// the whole token including the '@'.
type Query struct {
	Partial string
	Start   int
	End     int
}

// Resolver keeps the usernames confirmed by selection for one draft.
type Resolver struct {
	search Searcher

	mu        sync.Mutex
	confirmed map[string]model.Profile
}

func NewResolver(search Searcher) *Resolver {
	return &Resolver{search: search, confirmed: make(map[string]model.Profile)}
}

// Detect looks for an @partial token ending at cursor (a rune offset).
func Detect(text string, cursor int) (Query, bool) {
	runes := []rune(text)
	if cursor < 0 || cursor > len(runes) {
		cursor = len(runes)
	}
	head := string(runes[:cursor])
	m := trailingMention.FindStringSubmatchIndex(head)
	if m == nil {
		return Query{}, false
	}
	start := len([]rune(head[:m[0]]))
	return Query{Partial: head[m[2]:m[3]], Start: start, End: cursor}, true
}

func (r *Resolver) Suggest(ctx context.Context, q Query) ([]model.Profile, error) {
	if q.Partial == "" {
		return nil, nil
	}
	return r.search.SearchProfiles(ctx, q.Partial, SuggestionLimit)
}

// Select replaces the partial token with "@username " and remembers the
// choice. It returns the new text and the cursor placed after the space.
func (r *Resolver) Select(text string, q Query, p model.Profile) (string, int) {
	runes := []rune(text)
	if q.Start < 0 || q.End > len(runes) || q.Start > q.End {
		return text, len(runes)
	}
	insert := []rune("@" + p.Username + " ")
	out := make([]rune, 0, len(runes)+len(insert))
	out = append(out, runes[:q.Start]...)
	out = append(out, insert...)
	out = append(out, runes[q.End:]...)

	r.mu.Lock()
	r.confirmed[p.Username] = p
	r.mu.Unlock()
	return string(out), q.Start + len(insert)
}

// Targets returns the uids of confirmed mentions still present in text, in
// order of first appearance. Mentions typed without selecting, or selected
// and later deleted, are ignored.
func (r *Resolver) Targets(text string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var uids []string
	seen := map[string]bool{}
	for _, m := range anyMention.FindAllStringSubmatch(text, -1) {
		p, ok := r.confirmed[m[1]]
		if !ok || seen[p.UID] {
			continue
		}
		seen[p.UID] = true
		uids = append(uids, p.UID)
	}
	return uids
}

// Reset forgets confirmations, e.g. after the draft was posted.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.confirmed = make(map[string]model.Profile)
	r.mu.Unlock()
}

type SegmentKind string

const (
	TextSegment    SegmentKind = "text"
	MentionSegment SegmentKind = "mention"
)

type Segment struct {
	Kind     SegmentKind `json:"type"`
	Value    string      `json:"value"`
	Username string      `json:"username,omitempty"`
}

// Segments splits content into text runs and @mentions.
func Segments(content string) []Segment {
	var out []Segment
	last := 0
	for _, m := range anyMention.FindAllStringSubmatchIndex(content, -1) {
		if m[0] > last {
			out = append(out, Segment{Kind: TextSegment, Value: content[last:m[0]]})
		}
		out = append(out, Segment{Kind: MentionSegment, Value: content[m[0]:m[1]], Username: content[m[2]:m[3]]})
		last = m[1]
	}
	if last < len(content) {
		out = append(out, Segment{Kind: TextSegment, Value: content[last:]})
	}
	return out
}

// Usernames lists the distinct names mentioned in content, lowercased.
func Usernames(content string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range anyMention.FindAllStringSubmatch(content, -1) {
		u := strings.ToLower(m[1])
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
