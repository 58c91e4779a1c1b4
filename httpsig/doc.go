// Package httpsig implements the HTTP Signatures scheme used between
// federated social servers (draft-cavage-http-signatures, as deployed by
// ActivityPub implementations), restricted to RSA-SHA256.
//
// A signature covers an ordered list of request components. Each one
// becomes a "<name>: <value>" line of the signing string; the first line
// is usually the (request-target) pseudo-header:
//
//	(request-target): post /inbox
//	host: example.org
//	date: Tue, 07 Jun 2022 20:51:35 GMT
//	digest: SHA-256=X48E9qOokqqrvdts8nOJRJN3OWDUoyWxBf7kbu9DBPE=
//
// The string is signed with RSASSA-PKCS1-v1_5 over SHA-256 and sent as
//
//	Signature: keyId="https://example.org/actor#main-key",headers="(request-target) host date digest",signature="..."
//
// # Signing Requests
//
//	signer, err := httpsig.NewRSASigner("https://example.org/actor#main-key", privateKey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = httpsig.SignRequest(req, httpsig.SignConfig{Signer: signer})
//
// # Verifying Requests
//
// The verifier rebuilds the signing string in the order the sender
// declared, checks Date freshness and the body Digest, and resolves the
// keyId through a KeyResolver:
//
//	res, err := httpsig.VerifyRequest(req, httpsig.VerifyConfig{
//	    Resolver:      resolver,
//	    RequireDigest: true,
//	})
//	if err != nil {
//	    log.Printf("rejected: %s", httpsig.KindOf(err))
//	}
//
// # Client Transport
//
// NewTransport creates an http.RoundTripper that signs every outgoing
// request:
//
//	client := &http.Client{
//	    Transport: httpsig.NewTransport(nil, httpsig.SignConfig{Signer: signer}),
//	}
//
// # Server Middleware
//
// Middleware verifies signatures on incoming requests and stores the
// *Result in the request context:
//
//	mw, err := httpsig.Middleware(httpsig.MiddlewareConfig{
//	    Verify: httpsig.VerifyConfig{Resolver: resolver},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	router.With(mw).Post("/inbox", inbox)
//
// # Request Target
//
// The (request-target) path excludes the query string unless IncludeQuery
// is set. Signer and verifier must agree on this setting.
package httpsig
