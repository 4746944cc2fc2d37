package store

import (
	"encoding/json"
	"time"
)

type User struct {
	Department   string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Report is one submission by a department; Data holds the canonical
// per-category payload built by ingestion.
type Report struct {
	ID         string
	Department string
	Type       string
	Data       json.RawMessage
	CreatedAt  time.Time
}

// LeakTotals is the yearly running total of discovered/fixed leaks
// for one department.
type LeakTotals struct {
	Total int
	Done  int
}

// Remark is a yearly remark counter of one kind (ozp, gaz, ros, apk4)
// for one department. Total is set by planning; Done accumulates from
// report submissions.
type Remark struct {
	Year       int
	Department string
	Kind       string
	Total      int
	Done       int
}

// Plan is an annual quota of one kind (rp, pat, tu) with a
// quarter-indexed breakdown. Replaced wholesale per planning submission.
type Plan struct {
	Department string
	Year       int
	Kind       string
	Total      int
	Quarters   map[string]int
}

// Request is an approval-gated task. PathType and NumStages are joined
// from the paths catalog on read and never stored on the request itself.
type Request struct {
	ID              string
	Status          string
	ReqType         string
	IsComplete      bool
	RequestDatetime time.Time
	GpaID           string
	PathID          string
	Extra           json.RawMessage
	PathType        string
	NumStages       int
}

type Protocol struct {
	ID           string
	ProtocolNum  string
	ProtocolName string
	IssueDate    time.Time
	Deadline     string
	Text         string
	Departments  []string
	Done         map[string]string
	Archived     bool
	ArchivedAt   *time.Time
	CreatedAt    time.Time
}

type Order struct {
	ID          string
	Num         string
	IssueDate   time.Time
	Deadline    string
	Text        string
	Departments []string
	Done        map[string]string
	Archived    bool
	ArchivedAt  *time.Time
	CreatedAt   time.Time
}

type Fault struct {
	ID         string
	Department string
	Type       string
	Text       string
	DueDate    time.Time
	IsDone     bool
	DateDone   *time.Time
	Archived   bool
	CreatedAt  time.Time
}

// ReliabilityItem is a maintenance measure imported from the annual
// reliability program. Period is opaque text ("31.12.2026", "Постоянно").
type ReliabilityItem struct {
	ID          string
	Name        string
	Period      string
	Departments []string
	Note        string
	Done        map[string]string
	Source      string
	Archived    bool
	CreatedAt   time.Time
}

type Path struct {
	ID        string
	PathType  string
	NumStages int
}
