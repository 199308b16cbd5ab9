package format

// MediaTypeTag names the role a blob plays, independent of which codec
// compressed it (spec section 6). Concrete dependency-carrying codec
// implementations live in package compression; this package only needs
// their name and extension suffix, passed in as plain strings, to avoid a
// format<->compression import cycle.
type MediaTypeTag string

const (
	MediaTypeChunk           MediaTypeTag = "chunk"
	MediaTypeMetadataLayer   MediaTypeTag = "metadata-layer"
	MediaTypeRootfsManifest  MediaTypeTag = "rootfs-manifest"
)

// MediaType composes a role tag with a codec's extension suffix (e.g.
// "+zstd"), matching the Rust original's Compression::append_extension.
func MediaType(tag MediaTypeTag, codecSuffix string) string {
	return string(tag) + codecSuffix
}
