package negotiate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/nolto/nolto-edge/pkg/domain"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		accept string
		ua     string
		want   Decision
	}{
		{
			name:   "activity json",
			accept: "application/activity+json",
			want:   Decision{Target: domain.TargetMachine, Signal: SignalAccept},
		},
		{
			name:   "activitystreams profile",
			accept: `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`,
			want:   Decision{Target: domain.TargetMachine, Signal: SignalAccept},
		},
		{
			name:   "mastodon style accept",
			accept: "application/activity+json, application/ld+json",
			want:   Decision{Target: domain.TargetMachine, Signal: SignalAccept},
		},
		{
			name:   "browser",
			accept: "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			ua:     "Mozilla/5.0",
			want:   Decision{Target: domain.TargetHuman, Signal: SignalAccept},
		},
		{
			name:   "html preferred over activity",
			accept: "text/html, application/activity+json;q=0.5",
			want:   Decision{Target: domain.TargetHuman, Signal: SignalAccept},
		},
		{
			name:   "activity preferred over html",
			accept: "text/html;q=0.4, application/activity+json",
			want:   Decision{Target: domain.TargetMachine, Signal: SignalAccept},
		},
		{
			name:   "activity refused",
			accept: "application/activity+json;q=0",
			want:   Decision{Target: domain.TargetHuman, Signal: SignalAccept},
		},
		{
			name:   "wildcard only",
			accept: "*/*",
			want:   Decision{Target: domain.TargetHuman, Signal: SignalAccept},
		},
		{
			name:   "accept wins over user agent",
			accept: "text/html",
			ua:     "application/activity+json",
			want:   Decision{Target: domain.TargetHuman, Signal: SignalAccept},
		},
		{
			name: "user agent fallback",
			ua:   "Fetcher (application/ACTIVITY+JSON)",
			want: Decision{Target: domain.TargetMachine, Signal: SignalUserAgent},
		},
		{
			name: "no signal",
			want: Decision{Target: domain.TargetHuman, Signal: SignalNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.accept, tt.ua))
		})
	}
}

func TestIsMachineMediaType(t *testing.T) {
	assert.True(t, IsMachineMediaType("application/activity+json"))
	assert.True(t, IsMachineMediaType("Application/LD+JSON; profile=\"x\""))
	assert.False(t, IsMachineMediaType("application/json"))
	assert.False(t, IsMachineMediaType("text/html"))
}

// Any Accept header without a federation media type routes to the human page.
func TestClassifyWithoutFederationTypeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		types := rapid.SliceOfN(rapid.SampledFrom([]string{
			"text/html", "application/json", "image/png", "*/*", "application/*", "text/plain",
		}), 1, 5).Draw(t, "types")

		accept := ""
		for i, mt := range types {
			if i > 0 {
				accept += ", "
			}
			accept += mt
		}
		ua := rapid.String().Draw(t, "user_agent")

		if got := Classify(accept, ua); got != domain.TargetHuman {
			t.Fatalf("Classify(%q) = %s, want human", accept, got)
		}
	})
}
