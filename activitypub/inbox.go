package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/logger"
)

// Activity is the envelope of an inbound activity. Only the fields needed
// to route and authorise it are decoded.
type Activity struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  json.RawMessage `json:"actor"`
	Object json.RawMessage `json:"object,omitempty"`

	// Raw is the request body as received.
	Raw json.RawMessage `json:"-"`
}

// ActorID returns the actor of the activity, given either as a URL string
// or as an object with an id.
func (a *Activity) ActorID() string {
	raw := bytes.TrimSpace(a.Actor)
	if len(raw) == 0 {
		return ""
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}

	var obj struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}

	return ""
}

// ActivityFunc is called for every accepted activity. A non-nil error turns
// into a 500 response.
type ActivityFunc func(ctx context.Context, activity *Activity, sig *httpsig.Result) error

// InboxHandler accepts signed activities. It must run behind
// httpsig.Middleware; requests without a verification result are refused.
// The activity actor must be the owner of the signing key.
func InboxHandler(onActivity ActivityFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.From(r.Context()).With(logger.Component("inbox"))

		sig, ok := httpsig.ResultFromContext(r.Context())
		if !ok {
			http.Error(w, "signature required", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}

		activity := &Activity{Raw: body}
		if err := json.Unmarshal(body, activity); err != nil || activity.Type == "" {
			http.Error(w, "body is not an activity", http.StatusBadRequest)
			return
		}

		owner := signerOf(sig)
		actor := activity.ActorID()

		if actor != owner {
			log.Warn("activity actor is not the key owner",
				logger.KeyID(sig.KeyID),
				logger.Owner(owner),
				logger.Actor(actor),
				logger.ActivityType(activity.Type),
			)
			http.Error(w, "actor does not match signature", http.StatusUnauthorized)

			return
		}

		log.Info("activity accepted",
			logger.KeyID(sig.KeyID),
			logger.Actor(actor),
			logger.ActivityType(activity.Type),
			zap.String("activity_id", activity.ID),
		)

		if onActivity != nil {
			if err := onActivity(r.Context(), activity, sig); err != nil {
				log.Error("activity handler failed", logger.Err(err))
				http.Error(w, "internal error", http.StatusInternalServerError)

				return
			}
		}

		w.WriteHeader(http.StatusAccepted)
	})
}

// signerOf returns the actor that controls the signing key: the resolved
// owner, or the keyId without its fragment when no owner is known.
func signerOf(sig *httpsig.Result) string {
	if sig.Owner != "" {
		return sig.Owner
	}

	id, _, _ := strings.Cut(sig.KeyID, "#")

	return id
}
