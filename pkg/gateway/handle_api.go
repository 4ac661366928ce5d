package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nolto/nolto-edge/internal/respond"
	"github.com/nolto/nolto-edge/pkg/domain"
	"github.com/nolto/nolto-edge/pkg/federation"
)

// HandleResponse is the body of GET /api/v1/handle.
type HandleResponse struct {
	Handle   string `json:"handle"`
	Username string `json:"username"`
	Instance string `json:"instance"`
	Resource string `json:"resource"`
}

// serveHandle formats a handle for the query's username and identity context,
// resolving local users against the request host.
func (g *Gateway) serveHandle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	isLocal := false
	if raw := q.Get("local"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respond.Error(ctx, w, http.StatusBadRequest, domain.CodeInvalidInput, "local must be a boolean")
			return
		}
		isLocal = v
	}

	id := domain.IdentityContext{IsLocal: isLocal, HomeInstance: q.Get("home_instance")}
	h, err := g.Resolver().HandleFor(q.Get("username"), id, r.Host)
	if err != nil {
		var derr *domain.DomainError
		message := "invalid handle"
		if errors.As(err, &derr) {
			message = derr.Message
		}
		zerolog.Ctx(ctx).Debug().Err(err).Msg("handle request rejected")
		respond.Error(ctx, w, http.StatusBadRequest, domain.CodeFor(err), message)
		return
	}

	respond.JSON(ctx, w, http.StatusOK, HandleResponse{
		Handle:   h.String(),
		Username: h.Username,
		Instance: h.InstanceDomain,
		Resource: federation.AcctURI(h),
	})
}
