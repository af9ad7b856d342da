package registry

// Media types for published archives.
const (
	// ArtifactType identifies app archives as an OCI 1.1 artifact type.
	ArtifactType = "application/vnd.meigma.mochi.archive.v1"

	// MediaTypeArchive is the media type of the ZIP layer.
	MediaTypeArchive = "application/zip"
)

// Annotation keys set on published manifests in addition to the standard
// OCI ones.
const (
	AnnotationApp   = "dev.meigma.mochi.app"
	AnnotationBuild = "dev.meigma.mochi.build"
)
