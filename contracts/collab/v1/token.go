package v1

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Identity is the immutable per-session user identity.
type Identity struct {
	UserID    string
	UserName  string
	UserEmail string
}

// Token derives the composite identity token: "<id>:<name>:<email-or-empty>".
// The transport treats the result as opaque; only the server parses it.
func (id Identity) Token() string {
	return id.UserID + ":" + id.UserName + ":" + id.UserEmail
}

// ParseIdentityToken reverses Identity.Token. Name and email may themselves
// not contain colons; this is a protocol constraint, not an escaping scheme.
func ParseIdentityToken(token string) (Identity, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("malformed identity token: want 3 colon-delimited fields, got %d", len(parts))
	}
	id := Identity{
		UserID:    strings.TrimSpace(parts[0]),
		UserName:  strings.TrimSpace(parts[1]),
		UserEmail: strings.TrimSpace(parts[2]),
	}
	if id.UserID == "" {
		return Identity{}, errors.New("identity token: empty user id")
	}
	if id.UserName == "" {
		return Identity{}, errors.New("identity token: empty user name")
	}
	return id, nil
}

// SessionURL builds the websocket URL for one document session:
// <base>/collaboration/ws/<doc-id>?token=<escaped>.
// http/https schemes are rewritten to ws/wss.
func SessionURL(base, documentID, token string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("empty base url")
	}
	if strings.TrimSpace(documentID) == "" {
		return "", errors.New("empty document id")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/collaboration/ws/" + url.PathEscape(documentID)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
