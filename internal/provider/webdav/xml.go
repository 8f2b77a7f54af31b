package webdav

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jbombled/genpwd-sync/internal/vault"
)

// PROPFIND request bodies. Sent verbatim — the shapes never vary.
const (
	propfindStat = `<?xml version="1.0" encoding="utf-8"?>` +
		`<propfind xmlns="DAV:"><prop>` +
		`<displayname/><getcontentlength/><getlastmodified/><getetag/><resourcetype/>` +
		`</prop></propfind>`

	propfindQuota = `<?xml version="1.0" encoding="utf-8"?>` +
		`<propfind xmlns="DAV:"><prop>` +
		`<quota-available-bytes/><quota-used-bytes/>` +
		`</prop></propfind>`
)

// multistatus mirrors the 207 PROPFIND response body. Field tags use
// bare local names so servers qualifying with DAV: or a prefix both
// parse.
type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	DisplayName    string       `xml:"displayname"`
	ContentLength  string       `xml:"getcontentlength"`
	LastModified   string       `xml:"getlastmodified"`
	ETag           string       `xml:"getetag"`
	QuotaAvailable string       `xml:"quota-available-bytes"`
	QuotaUsed      string       `xml:"quota-used-bytes"`
	ResourceType   resourceType `xml:"resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// okProp returns the prop block whose propstat carries a 200 status.
func (r *davResponse) okProp() *prop {
	for i := range r.Propstats {
		if strings.Contains(r.Propstats[i].Status, "200") {
			return &r.Propstats[i].Prop
		}
	}

	return nil
}

// isCollection reports whether the response describes a collection.
func (r *davResponse) isCollection() bool {
	p := r.okProp()
	return p != nil && p.ResourceType.Collection != nil
}

func parseMultistatus(data []byte) (*multistatus, error) {
	var ms multistatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, fmt.Errorf("webdav: decoding multistatus: %w", err)
	}

	return &ms, nil
}

// lastModifiedFormats are the timestamp layouts servers actually emit.
// rfc1123 is the RFC 4918 norm; the rest cover known stragglers.
var lastModifiedFormats = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC3339,
	time.ANSIC,
}

// parseLastModified parses getlastmodified strictly. A timestamp that
// parses under no known layout is a classified error, never replaced
// with the current time — a fabricated timestamp would corrupt newness
// comparisons between devices.
func parseLastModified(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &vault.Error{Provider: providerName, Message: "missing getlastmodified property"}
	}

	for _, layout := range lastModifiedFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &vault.Error{
		Provider: providerName,
		Message:  fmt.Sprintf("unparseable getlastmodified %q", raw),
	}
}

// parseSize tolerates a missing getcontentlength (collections omit it).
func parseSize(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}

	return n
}

// parseQuotaBytes returns vault.QuotaUnknown for empty or negative
// values (RFC 4331 allows servers to omit or refuse quota props).
func parseQuotaBytes(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return vault.QuotaUnknown
	}

	return n
}

// trimETag strips the quotes and weak-validator prefix from a getetag
// value.
func trimETag(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "W/")

	return strings.Trim(raw, `"`)
}
