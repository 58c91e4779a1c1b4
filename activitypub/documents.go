package activitypub

// JSON-LD contexts of the actor document.
const (
	ContextActivityStreams = "https://www.w3.org/ns/activitystreams"
	ContextSecurity        = "https://w3id.org/security/v1"
)

// Media types.
const (
	ContentTypeActivity = "application/activity+json"
	ContentTypeLDJSON   = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	ContentTypeJRD      = "application/jrd+json"
)

// Actor is the ActivityPub actor profile document.
type Actor struct {
	Context           any       `json:"@context"`
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	PreferredUsername string    `json:"preferredUsername"`
	Inbox             string    `json:"inbox"`
	PublicKey         PublicKey `json:"publicKey"`
}

// PublicKey is the publicKey object embedded in an actor.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// NewActor builds the actor document for id publishing publicKeyPEM.
func NewActor(id Identity, publicKeyPEM string) Actor {
	return Actor{
		Context:           []string{ContextActivityStreams, ContextSecurity},
		ID:                id.ID,
		Type:              "Person",
		PreferredUsername: id.PreferredUsername,
		Inbox:             id.Inbox,
		PublicKey: PublicKey{
			ID:           id.KeyID,
			Owner:        id.ID,
			PublicKeyPem: publicKeyPEM,
		},
	}
}

// WebFinger is a JSON Resource Descriptor answering an acct: lookup.
type WebFinger struct {
	Subject string   `json:"subject"`
	Aliases []string `json:"aliases,omitempty"`
	Links   []Link   `json:"links"`
}

// Link is a WebFinger link relation.
type Link struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// NewWebFinger builds the WebFinger document for id.
func NewWebFinger(id Identity) WebFinger {
	return WebFinger{
		Subject: id.Subject(),
		Aliases: []string{id.ID},
		Links: []Link{
			{Rel: "self", Type: ContentTypeActivity, Href: id.ID},
		},
	}
}

// Self returns the href of the ActivityPub "self" link.
func (w WebFinger) Self() (string, bool) {
	for _, l := range w.Links {
		if l.Rel == "self" && l.Href != "" && (l.Type == ContentTypeActivity || l.Type == ContentTypeLDJSON) {
			return l.Href, true
		}
	}

	return "", false
}
