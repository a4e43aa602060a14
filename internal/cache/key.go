package cache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/surfwatch/internal/source"
)

// Data sources a route key can name.
const (
	SourceAPI     = "api"
	SourceScraper = "scraper"
)

const allCommunities = "all"

// Key identifies one route-level query.
type Key struct {
	Community string // empty means every configured community
	Sort      string
	Window    string
	Source    string
	Limit     int // zero or source.DefaultLimit is left out of the encoding
}

// String encodes the key as community:sort:window:source, with a trailing
// :limit segment when the limit is not the default.
func (k Key) String() string {
	community := k.Community
	if community == "" {
		community = allCommunities
	}
	parts := []string{community, k.Sort, k.Window, k.Source}
	if k.Limit > 0 && k.Limit != source.DefaultLimit {
		parts = append(parts, strconv.Itoa(k.Limit))
	}
	return strings.Join(parts, ":")
}

// ParseKey decodes a string produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 && len(parts) != 5 {
		return Key{}, fmt.Errorf("cache key %q: want 4 or 5 parts, got %d", s, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Key{}, errors.New("cache key " + s + ": empty part")
		}
	}
	k := Key{Community: parts[0], Sort: parts[1], Window: parts[2], Source: parts[3]}
	if k.Community == allCommunities {
		k.Community = ""
	}
	if len(parts) == 5 {
		n, err := strconv.Atoi(parts[4])
		if err != nil || n <= 0 {
			return Key{}, fmt.Errorf("cache key %q: invalid limit %q", s, parts[4])
		}
		k.Limit = n
	}
	return k, nil
}
