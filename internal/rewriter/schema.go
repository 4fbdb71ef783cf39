// Package rewriter is the ID Rewriter (spec §4.6): a schema-informed
// scrubber that walks a Jellyfin JSON response or request body and
// replaces every backend-assigned id or URL with its proxy-visible
// virtual equivalent, minting ID Mapper entries on the fly.
package rewriter

// FieldKind classifies how a recognized field name should be rewritten.
type FieldKind int

const (
	// KindItemID is a backend media/library/session id translated
	// through the ID Mapper (spec §4.1 to_virtual/from_virtual).
	KindItemID FieldKind = iota
	// KindUserID is always replaced with the current request's own
	// virtual auth key — the proxy already knows which user is asking.
	KindUserID
	// KindServerID is always replaced with the proxy's configured server id.
	KindServerID
)

// FieldRule names one JSON field recognized anywhere in a Jellyfin
// payload, regardless of nesting depth — Jellyfin reuses the same field
// names (`Id`, `ParentId`, ...) across dozens of differently-shaped
// objects, so a name-based rule set generalizes better than a per-path one.
type FieldRule struct {
	Name string
	Kind FieldKind
}

// Fields is the closed table spec §9 calls for: "the list of id-bearing
// JSON fields is a closed table derived from the Jellyfin API; keep it
// as data, not code." Unknown fields are left untouched — new Jellyfin
// versions that add id fields must be caught by conformance tests
// (spec §8 testable property #2), not silently miss translation.
var Fields = []FieldRule{
	{"Id", KindItemID},
	{"ItemId", KindItemID},
	{"ParentId", KindItemID},
	{"SeriesId", KindItemID},
	{"SeasonId", KindItemID},
	{"AlbumId", KindItemID},
	{"AlbumArtistId", KindItemID},
	{"ChannelId", KindItemID},
	{"PlaylistItemId", KindItemID},
	{"PrimaryImageItemId", KindItemID},
	{"ParentThumbItemId", KindItemID},
	{"ParentBackdropItemId", KindItemID},
	{"ParentLogoItemId", KindItemID},
	{"UserId", KindUserID},
	{"ServerId", KindServerID},
}

// urlFields names fields whose string value is a backend-relative or
// backend-absolute URL that must be rewritten to route back through the
// proxy (spec §4.6: "rewrite so the client requests the image through
// the proxy, which then routes it to the owning backend").
var urlFields = map[string]bool{
	"PrimaryImageTag":  false, // a tag, not a URL — passed through untouched
	"ImageUrl":         true,
	"BackdropImageTags": false,
	"PlaybackUrl":      true,
	"TranscodingUrl":   true,
	"HlsPlaylistUrl":   true,
}

var fieldKinds = func() map[string]FieldKind {
	m := make(map[string]FieldKind, len(Fields))
	for _, f := range Fields {
		m[f.Name] = f.Kind
	}
	return m
}()

func lookupField(name string) (FieldKind, bool) {
	k, ok := fieldKinds[name]
	return k, ok
}

func isURLField(name string) bool {
	rewrite, known := urlFields[name]
	return known && rewrite
}
