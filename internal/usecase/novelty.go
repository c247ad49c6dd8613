package usecase

import "github.com/sglre6355/notion-notify/internal/domain"

// NewItems returns the items of current whose identity does not appear in
// previous, in the order they appear in current. Items that disappeared from
// current are not reported.
func NewItems(previous, current domain.ResultSet) domain.ResultSet {
	seen := make(map[string]struct{}, len(previous))
	for _, item := range previous {
		seen[item.Key()] = struct{}{}
	}

	var fresh domain.ResultSet
	for _, item := range current {
		if _, ok := seen[item.Key()]; ok {
			continue
		}
		fresh = append(fresh, item)
	}

	return fresh
}
