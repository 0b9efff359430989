package audio

import "strings"

// Outcome is the result of one provider call: either Success or Failure.
type Outcome interface {
	isOutcome()
}

type Success struct {
	URL string
}

type Failure struct {
	Cause error
}

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// Source records where a resolved audio URL came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceFallback Source = "fallback"
)

const defaultDemoURL = "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-1.mp3"

var demoTracks = []struct {
	keywords []string
	url      string
}{
	{[]string{"blast beat", "blast-beat", "blastbeat"}, "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-4.mp3"},
	{[]string{"hip hop", "hip-hop", "hiphop", "boom bap"}, "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-7.mp3"},
	{[]string{"punk"}, "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-2.mp3"},
	{[]string{"jazz"}, "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-3.mp3"},
	{[]string{"reggae"}, "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-5.mp3"},
	{[]string{"funk"}, "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-6.mp3"},
	{[]string{"latin"}, "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-8.mp3"},
	{[]string{"trap"}, "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-9.mp3"},
	{[]string{"rock"}, defaultDemoURL},
}

// FallbackURL picks a demo track by the first genre keyword in prompt.
// The same prompt always yields the same URL.
func FallbackURL(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, track := range demoTracks {
		for _, kw := range track.keywords {
			if strings.Contains(lower, kw) {
				return track.url
			}
		}
	}
	return defaultDemoURL
}

// ResolveAudioURL always yields a playable URL for outcome.
func ResolveAudioURL(outcome Outcome, prompt string) (string, Source) {
	if o, ok := outcome.(Success); ok {
		if url := strings.TrimSpace(o.URL); url != "" {
			return url, SourceProvider
		}
	}
	return FallbackURL(prompt), SourceFallback
}
