package mochi

import "github.com/meigma/mochi/internal/mochitype"

// Re-export progress types from mochitype.
type (
	// ProgressEvent represents a progress update during a sync.
	ProgressEvent = mochitype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = mochitype.ProgressStage

	// ProgressFunc receives progress updates. Calls for one stage are
	// serialized.
	ProgressFunc = mochitype.ProgressFunc
)

// Re-export progress stage constants.
const (
	StageFetchingManifest = mochitype.StageFetchingManifest
	StageDownloading      = mochitype.StageDownloading
	StageReassembling     = mochitype.StageReassembling
	StageArchiving        = mochitype.StageArchiving
	StagePublishing       = mochitype.StagePublishing
)
