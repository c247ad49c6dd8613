package domain

import "time"

// Item is a single database record observed by a poll.
type Item struct {
	ID             string
	URL            string
	LastEditedTime *time.Time
}

// Key returns the identity used for novelty comparisons. Records without an
// ID fall back to the composite of ID and URL.
func (i Item) Key() string {
	if i.ID != "" {
		return "id:" + i.ID
	}
	return "url:" + i.URL
}

// ResultSet is the full collection of items returned by one poll, in the
// order the source returned them.
type ResultSet []Item
