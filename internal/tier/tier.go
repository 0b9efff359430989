// Package tier holds the compiled-in subscription tier catalog.
package tier

// ID identifies a subscription tier.
type ID string

const (
	Free    ID = "free"
	Basic   ID = "basic"
	Pro     ID = "pro"
	Premium ID = "premium"
)

// Unlimited marks a quota or retention window without an upper bound.
const Unlimited = -1

// Format is an audio download format tag.
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
)

// Descriptor lists the entitlements bundled with a tier.
type Descriptor struct {
	ID                   ID       `json:"id"`
	Name                 string   `json:"name"`
	PriceCents           int      `json:"priceCents"`
	GenerationsPerMonth  int      `json:"generationsPerMonth"`
	DownloadFormats      []Format `json:"downloadFormats"`
	Priority             bool     `json:"priority"`
	AdFree               bool     `json:"adFree"`
	HistoryRetentionDays int      `json:"historyRetentionDays"`
}

// Unlimited reports whether the tier has no monthly generation cap.
func (d Descriptor) Unlimited() bool {
	return d.GenerationsPerMonth == Unlimited
}

var ordered = []ID{Free, Basic, Pro, Premium}

func descriptor(id ID) Descriptor {
	switch id {
	case Basic:
		return Descriptor{
			ID:                   Basic,
			Name:                 "Basic",
			PriceCents:           499,
			GenerationsPerMonth:  25,
			DownloadFormats:      []Format{FormatMP3},
			AdFree:               true,
			HistoryRetentionDays: 30,
		}
	case Pro:
		return Descriptor{
			ID:                   Pro,
			Name:                 "Pro",
			PriceCents:           999,
			GenerationsPerMonth:  100,
			DownloadFormats:      []Format{FormatMP3, FormatWAV},
			Priority:             true,
			AdFree:               true,
			HistoryRetentionDays: 90,
		}
	case Premium:
		return Descriptor{
			ID:                   Premium,
			Name:                 "Premium",
			PriceCents:           1999,
			GenerationsPerMonth:  Unlimited,
			DownloadFormats:      []Format{FormatMP3, FormatWAV},
			Priority:             true,
			AdFree:               true,
			HistoryRetentionDays: Unlimited,
		}
	default:
		return Descriptor{
			ID:                   Free,
			Name:                 "Free",
			PriceCents:           0,
			GenerationsPerMonth:  5,
			DownloadFormats:      []Format{FormatMP3},
			HistoryRetentionDays: 7,
		}
	}
}

// Lookup returns the descriptor for id. Unknown or empty ids resolve to Free.
func Lookup(id ID) Descriptor {
	return descriptor(Parse(string(id)))
}

// Parse maps a stored tier string onto a known ID, falling back to Free.
func Parse(raw string) ID {
	switch id := ID(raw); id {
	case Free, Basic, Pro, Premium:
		return id
	default:
		return Free
	}
}

// Valid reports whether raw names a tier in the catalog.
func Valid(raw string) bool {
	for _, id := range ordered {
		if string(id) == raw {
			return true
		}
	}
	return false
}

// Paid reports whether id can be bought through checkout.
func Paid(id ID) bool {
	return id == Basic || id == Pro || id == Premium
}

// All returns every descriptor in display order.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, descriptor(id))
	}
	return out
}
