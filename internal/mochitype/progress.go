package mochitype

// ProgressEvent represents a progress update during a sync.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// App is the manifest's application name.
	App string

	// Item names the chunk GUID or file path that just finished, if any.
	Item string

	// Done is the number of items completed in the current stage,
	// including failed ones.
	Done int

	// Failed is the number of items in the current stage that failed.
	Failed int

	// Total is the number of items in the current stage.
	Total int
}

// Ratio returns Done/Total in [0, 1]. An empty stage reports 1.
func (e ProgressEvent) Ratio() float64 {
	if e.Total <= 0 {
		return 1
	}
	return float64(e.Done) / float64(e.Total)
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages of a sync.
const (
	// StageFetchingManifest indicates a manifest is being fetched.
	StageFetchingManifest ProgressStage = iota

	// StageDownloading indicates chunks are being downloaded.
	StageDownloading

	// StageReassembling indicates output files are being rebuilt.
	StageReassembling

	// StageArchiving indicates the asset tree is being zipped.
	StageArchiving

	// StagePublishing indicates the archive is being pushed to a registry.
	StagePublishing
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageFetchingManifest:
		return "fetching manifest"
	case StageDownloading:
		return "downloading"
	case StageReassembling:
		return "reassembling"
	case StageArchiving:
		return "archiving"
	case StagePublishing:
		return "publishing"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Calls for one stage are serialized; events arrive in completion order.
type ProgressFunc func(ProgressEvent)
