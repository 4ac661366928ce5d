// Package negotiate decides whether a client asking for a profile wants the
// human page or the federation document.
package negotiate

import (
	"strings"

	"github.com/munnerz/goautoneg"

	"github.com/nolto/nolto-edge/pkg/domain"
)

// Federation media types served by the backend actor endpoints.
const (
	MediaTypeActivityJSON = "application/activity+json"
	MediaTypeLDJSON       = "application/ld+json"
)

// Signal names the request attribute a decision was based on.
type Signal string

const (
	SignalAccept    Signal = "accept"
	SignalUserAgent Signal = "user_agent"
	SignalNone      Signal = "none"
)

// Decision is the outcome of Decide.
type Decision struct {
	Target domain.RedirectTarget
	Signal Signal
}

// machineTokens are searched in the user agent when no Accept header was sent.
var machineTokens = []string{"activity+json", "ld+json"}

// Decide chooses between the human profile and the federation endpoint. The
// Accept header is authoritative; the user agent is only consulted when Accept
// is absent.
func Decide(accept, userAgent string) Decision {
	if strings.TrimSpace(accept) != "" {
		if prefersMachine(accept) {
			return Decision{Target: domain.TargetMachine, Signal: SignalAccept}
		}
		return Decision{Target: domain.TargetHuman, Signal: SignalAccept}
	}

	ua := strings.ToLower(userAgent)
	for _, token := range machineTokens {
		if strings.Contains(ua, token) {
			return Decision{Target: domain.TargetMachine, Signal: SignalUserAgent}
		}
	}
	return Decision{Target: domain.TargetHuman, Signal: SignalNone}
}

// Classify returns only the target of Decide.
func Classify(accept, userAgent string) domain.RedirectTarget {
	return Decide(accept, userAgent).Target
}

// IsMachineMediaType reports whether mediaType (parameters allowed) is a
// federation document type.
func IsMachineMediaType(mediaType string) bool {
	base, _, _ := strings.Cut(mediaType, ";")
	base = strings.TrimSpace(base)
	return strings.EqualFold(base, MediaTypeActivityJSON) || strings.EqualFold(base, MediaTypeLDJSON)
}

// prefersMachine is true when a federation type is acceptable and ranked at
// least as high as HTML. Wildcards never count for either side.
func prefersMachine(accept string) bool {
	var machineQ, htmlQ float64
	for _, a := range goautoneg.ParseAccept(accept) {
		mediaType := a.Type + "/" + a.SubType
		switch {
		case IsMachineMediaType(mediaType):
			machineQ = max(machineQ, a.Q)
		case strings.EqualFold(mediaType, "text/html"), strings.EqualFold(mediaType, "application/xhtml+xml"):
			htmlQ = max(htmlQ, a.Q)
		}
	}
	return machineQ > 0 && machineQ >= htmlQ
}
