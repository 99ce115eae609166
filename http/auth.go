package http

import (
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// HeaderClientID is the header a viewer identifies itself with.
const HeaderClientID = "X-Lodtree-Client-Id"

const (
	ErrTypeInvalidClientID = "invalid_client_id"
)

// ClientID returns the client id of a request, generating one when the
// request does not carry it.
func ClientID(r *http.Request) string {
	if id := r.Header.Get(HeaderClientID); id != "" {
		return id
	}
	return uuid.NewString()
}

// VerifyClientID returns a websocket handshake that rejects connections whose
// client id header is not a uuid. Connections without the header are only
// accepted when required is false.
func VerifyClientID(required bool) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		id := r.Header.Get(HeaderClientID)
		if id == "" && !required {
			return nil
		}

		if err := uuid.Validate(id); err != nil {
			err = errors.New("invalid client id").
				WithType(ErrTypeInvalidClientID).
				WithTag("client_id", id).
				Wrap(err)
			logs.WithClientID(id).Warn(err)
			return err
		}
		return nil
	}
}
