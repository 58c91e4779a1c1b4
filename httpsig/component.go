package httpsig

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Names usable in the headers parameter of a Signature header.
const (
	HeaderRequestTarget = "(request-target)"
	HeaderHost          = "host"
	HeaderDate          = "date"
	HeaderDigest        = "digest"
)

// DefaultHeaders is the ordered header list signed for outgoing requests.
var DefaultHeaders = []string{HeaderRequestTarget, HeaderHost, HeaderDate, HeaderDigest}

// dateLayout is http.TimeFormat: RFC 1123 with the literal "GMT" zone.
const dateLayout = http.TimeFormat

// SigningContext holds the request components a signing string is built
// from. The same context yields the same string on the sending and the
// receiving side.
type SigningContext struct {
	Method string
	Path   string
	Host   string
	Date   string
	Digest string

	// Header supplies values for covered headers other than the four above.
	Header http.Header

	// ContentLength is used for a covered content-length header when the
	// request carries no explicit Content-Length field. Negative means
	// unknown.
	ContentLength int64
}

// NewSigningContext extracts a SigningContext from r. When includeQuery is
// true, a non-empty raw query is appended to the path as "?query".
func NewSigningContext(r *http.Request, includeQuery bool) SigningContext {
	path := "/"
	query := ""

	if r.URL != nil {
		if p := r.URL.EscapedPath(); p != "" {
			path = p
		}

		query = r.URL.RawQuery
	}

	if includeQuery && query != "" {
		path += "?" + query
	}

	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}

	return SigningContext{
		Method:        r.Method,
		Path:          path,
		Host:          host,
		Date:          r.Header.Get("Date"),
		Digest:        r.Header.Get("Digest"),
		Header:        r.Header,
		ContentLength: r.ContentLength,
	}
}

// SigningString joins one "<name>: <value>" line per entry of headers, in
// the given order, separated by LF with no trailing LF.
func (c SigningContext) SigningString(headers []string) (string, error) {
	if len(headers) == 0 {
		return "", fmt.Errorf("%w: no headers to sign", ErrMissingHeader)
	}

	lines := make([]string, 0, len(headers))

	for _, name := range headers {
		name = strings.ToLower(name)

		value, err := c.value(name)
		if err != nil {
			return "", err
		}

		lines = append(lines, line(name, value))
	}

	return strings.Join(lines, "\n"), nil
}

func (c SigningContext) value(name string) (string, error) {
	var v string

	switch name {
	case HeaderRequestTarget:
		if c.Method == "" || c.Path == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingHeader, name)
		}

		return RequestTarget(c.Method, c.Path), nil

	case HeaderHost:
		v = c.Host

	case HeaderDate:
		v = c.Date

	case HeaderDigest:
		v = c.Digest

	case "content-length":
		v = strings.Join(c.Header.Values("Content-Length"), ", ")
		if v == "" && c.ContentLength >= 0 {
			v = strconv.FormatInt(c.ContentLength, 10)
		}

	default:
		values := c.Header.Values(http.CanonicalHeaderKey(name))
		trimmed := make([]string, 0, len(values))

		for _, value := range values {
			trimmed = append(trimmed, strings.TrimSpace(value))
		}

		v = strings.Join(trimmed, ", ")
	}

	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingHeader, name)
	}

	return v, nil
}

// CanonicalString builds the signing string for DefaultHeaders:
//
//	(request-target): <lowercased method> <path>
//	host: <host>
//	date: <date>
//	digest: <digest>
func CanonicalString(method, path, host, date, digest string) string {
	return strings.Join([]string{
		line(HeaderRequestTarget, RequestTarget(method, path)),
		line(HeaderHost, host),
		line(HeaderDate, date),
		line(HeaderDigest, digest),
	}, "\n")
}

// RequestTarget renders the (request-target) value: the lowercased method,
// a space, and the path.
func RequestTarget(method, path string) string {
	return strings.ToLower(method) + " " + path
}

func line(name, value string) string {
	return name + ": " + value
}

// FormatDate renders t in UTC with the literal "GMT" zone label, e.g.
// "Tue, 15 Nov 1994 08:12:31 GMT".
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ParseDate parses a Date header value. It accepts the GMT form written by
// FormatDate, RFC 1123 with a numeric zone ("+0000"), and the obsolete
// forms understood by net/http.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if t, err := http.ParseTime(s); err == nil {
		return t.UTC(), nil
	}

	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
