package domain

import (
	"fmt"
	"time"
)

type UnitKind string

const (
	UnitPDF        UnitKind = "pdf"
	UnitImageGroup UnitKind = "image_group"
)

type UnitState string

const (
	UnitQueued      UnitState = "queued"
	UnitClassifying UnitState = "classifying"
	UnitExtracting  UnitState = "extracting"
	UnitAssembling  UnitState = "assembling"
	UnitUploading   UnitState = "uploading"
	UnitPersisting  UnitState = "persisting"
	UnitPersisted   UnitState = "persisted"
	UnitFailed      UnitState = "failed"
)

func (s UnitState) Terminal() bool {
	return s == UnitPersisted || s == UnitFailed
}

// BatchRequest is everything the caller submits for one destination.
type BatchRequest struct {
	Destination   string
	RequestedBy   string
	ExplicitTitle string
	Classified    bool
	Inputs        []RawInput
}

// LogicalDocumentUnit is one eventual persisted document: a single PDF or one image group.
type LogicalDocumentUnit struct {
	ID    int
	Kind  UnitKind
	Items []ClassifiedItem
}

func (u LogicalDocumentUnit) SourceIndices() []int {
	out := make([]int, 0, len(u.Items))
	for _, item := range u.Items {
		out = append(out, item.OriginalIndex)
	}
	return out
}

func (u LogicalDocumentUnit) SourceNames() []string {
	out := make([]string, 0, len(u.Items))
	for _, item := range u.Items {
		out = append(out, item.Input.OriginalName)
	}
	return out
}

type UnitReport struct {
	UnitID        int                `json:"unit_id"`
	Kind          UnitKind           `json:"kind"`
	SourceIndices []int              `json:"source_indices"`
	SourceNames   []string           `json:"source_names"`
	State         UnitState          `json:"state"`
	Document      *PersistedDocument `json:"document,omitempty"`
	StorageKey    string             `json:"storage_key,omitempty"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	Error         string             `json:"error,omitempty"`
	Orphaned      bool               `json:"orphaned_artifact,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	Duration      time.Duration      `json:"duration_ns"`
}

type BatchReport struct {
	BatchID     string          `json:"batch_id"`
	Destination string          `json:"destination"`
	RequestedBy string          `json:"requested_by"`
	Total       int             `json:"total"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Units       []UnitReport    `json:"units"`
	Rejected    []RejectedInput `json:"rejected"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

func (r *BatchReport) Summary() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%d succeeded, %d failed, %d rejected", r.Succeeded, r.Failed, len(r.Rejected))
}

// Progress is a point-in-time view of a running batch.
type Progress struct {
	BatchID   string
	Total     int
	Completed int
	Succeeded int
	Failed    int
	Percent   float64
	States    map[UnitState]int
}

type ProgressFunc func(Progress)

type SweepOptions struct {
	DryRun      bool
	GracePeriod time.Duration
}

type SweepReport struct {
	Scanned    int           `json:"scanned"`
	Referenced int           `json:"referenced"`
	Orphans    []string      `json:"orphans"`
	Deleted    []string      `json:"deleted"`
	Errors     []string      `json:"errors,omitempty"`
	DryRun     bool          `json:"dry_run"`
	Duration   time.Duration `json:"duration_ns"`
}
