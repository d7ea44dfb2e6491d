// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package elnweb

import (
	"net/http"
	"strings"

	"github.com/arclab/eln/auth"
	"github.com/arclab/eln/eln"
)

// request carries the authenticated caller and its tenant bundle through a
// handler.
type request struct {
	user   *auth.User
	tenant *Tenant
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *request)

// authorized resolves the tenant from the host, validates the bearer token
// and attaches the tenant's permission mapping before dispatching.
func (server *Server) authorized(handle handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		bundle, err := server.tenantForRequest(r)
		if err != nil {
			server.writeError(w, err)
			return
		}

		bearer, err := bearerToken(r)
		if err != nil {
			server.writeError(w, err)
			return
		}
		user, err := bundle.Validator.Validate(ctx, bearer)
		if err != nil {
			server.writeError(w, err)
			return
		}
		auth.Attach(user, bundle.Config.PermissionsFor(user.Groups), bundle.Config.Auth.AdminGroups)

		handle(w, r, &request{user: user, tenant: bundle})
	}
}

func (server *Server) tenantForRequest(r *http.Request) (*Tenant, error) {
	name, err := server.resolver.TenantForHost(r.Host)
	if err != nil {
		return nil, err
	}
	return server.tenant(r.Context(), name)
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", eln.ErrUnauthenticated.Wrap(Error.New("missing authorization header"))
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", eln.ErrUnauthenticated.Wrap(Error.New("malformed authorization header"))
	}
	return token, nil
}
