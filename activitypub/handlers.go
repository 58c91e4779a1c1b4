package activitypub

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vitalvas/fedsig/logger"
)

// Handler serves the local actor's discovery documents. The documents are
// encoded once at construction.
type Handler struct {
	identity  Identity
	actor     []byte
	webfinger []byte
}

// NewHandler prepares the documents of id publishing publicKeyPEM.
func NewHandler(id Identity, publicKeyPEM string) (*Handler, error) {
	if id.ID == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrInvalidIdentity)
	}

	if strings.TrimSpace(publicKeyPEM) == "" {
		return nil, fmt.Errorf("%w: empty public key", ErrInvalidIdentity)
	}

	actor, err := json.Marshal(NewActor(id, publicKeyPEM))
	if err != nil {
		return nil, err
	}

	webfinger, err := json.Marshal(NewWebFinger(id))
	if err != nil {
		return nil, err
	}

	return &Handler{identity: id, actor: actor, webfinger: webfinger}, nil
}

// Identity returns the identity the handler serves.
func (h *Handler) Identity() Identity {
	return h.identity
}

// Actor serves the actor profile document.
func (h *Handler) Actor(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", ContentTypeActivity)
	w.Write(h.actor)
}

// WebFinger answers /.well-known/webfinger?resource=<resource>. The
// resource may be the acct: handle (with or without the scheme) or the
// actor URL.
func (h *Handler) WebFinger(w http.ResponseWriter, r *http.Request) {
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))
	if resource == "" {
		http.Error(w, "missing resource parameter", http.StatusBadRequest)
		return
	}

	if !h.matches(resource) {
		logger.From(r.Context()).Debug("webfinger lookup for unknown resource", logger.Component("webfinger"), zapResource(resource))
		http.Error(w, "resource not found", http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", ContentTypeJRD)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(h.webfinger)
}

func (h *Handler) matches(resource string) bool {
	if resource == h.identity.ID {
		return true
	}

	user, domain, err := ParseAccount(resource)
	if err != nil {
		return false
	}

	return strings.EqualFold(user, h.identity.PreferredUsername) && domain == h.identity.Domain
}

const helloPage = `<!DOCTYPE html>
<html>
<head><title>%[1]s</title></head>
<body><h1>Hello from %[1]s</h1><p>Follow <a href="%[2]s">%[1]s</a>.</p></body>
</html>
`

// Hello serves a small HTML page naming the actor.
func (h *Handler) Hello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, helloPage, html.EscapeString("@"+h.identity.Account()), html.EscapeString(h.identity.ID))
}

func zapResource(v string) zap.Field { return zap.String("resource", v) }
