// Package topic assigns articles to a fixed news taxonomy by keyword match.
package topic

import (
	"context"
	"strings"

	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
)

// General is returned when no keyword matches.
const General = "general"

type rule struct {
	topic    string
	keywords []string
}

// Order matters: the first matching topic wins.
var taxonomy = []rule{
	{"technology", []string{"tech", "digital", "software", "hardware", "ai", "cyber"}},
	{"politics", []string{"politics", "government", "election", "parliament", "congress", "policy"}},
	{"business", []string{"business", "economy", "finance", "market", "stock", "trade"}},
	{"health", []string{"health", "medical", "medicine", "disease", "covid", "pandemic"}},
	{"sports", []string{"sport", "football", "soccer", "basketball", "tennis", "olympic"}},
	{"science", []string{"science", "research", "discovery", "space", "climate", "environment"}},
	{"entertainment", []string{"entertainment", "movie", "film", "music", "celebrity", "tv"}},
	{"world", []string{"world", "global", "international", "foreign"}},
	{"uk", []string{"uk", "britain", "london", "scotland", "wales", "england"}},
}

// Topics lists every label the classifier can produce, General last.
func Topics() []string {
	out := make([]string, 0, len(taxonomy)+1)
	for _, r := range taxonomy {
		out = append(out, r.topic)
	}
	return append(out, General)
}

// Determine checks the feed URL first, then title and description.
func Determine(title, description, feedURL string) string {
	if t := match(strings.ToLower(feedURL)); t != "" {
		return t
	}
	if t := match(strings.ToLower(title + " " + description)); t != "" {
		return t
	}
	return General
}

func match(text string) string {
	for _, r := range taxonomy {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.topic
			}
		}
	}
	return ""
}

// Keyword is the TopicClassifier backed by Determine.
type Keyword struct{}

var _ ports.TopicClassifier = Keyword{}

// Classify implements ports.TopicClassifier.
func (Keyword) Classify(_ context.Context, entry domain.FeedEntry) string {
	return Determine(entry.Title, entry.Description, entry.FeedURL)
}
