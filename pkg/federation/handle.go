package federation

import (
	"strings"

	"github.com/nolto/nolto-edge/pkg/domain"
)

const acctScheme = "acct:"

// ParseHandle accepts "@user@host", "user@host" and "acct:user@host".
func ParseHandle(s string) (domain.Handle, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(acctScheme) && strings.EqualFold(s[:len(acctScheme)], acctScheme) {
		s = s[len(acctScheme):]
	}
	s = strings.TrimPrefix(s, "@")

	user, host, ok := strings.Cut(s, "@")
	if !ok {
		return domain.Handle{}, domain.NewInvalidInput("handle must have the form @user@domain")
	}

	h := domain.Handle{Username: user, InstanceDomain: NormalizeHost(host)}
	if err := h.Validate(); err != nil {
		return domain.Handle{}, err
	}
	return h, nil
}

// AcctURI renders h as the acct: URI used as a webfinger resource.
func AcctURI(h domain.Handle) string {
	return acctScheme + h.Username + "@" + h.InstanceDomain
}
