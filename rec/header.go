package rec

import (
	"time"

	"github.com/google/uuid"

	"github.com/beamrec/beamrec/column"
)

// Tool and engine identification written into every header.
const (
	ToolVersion   = "1.4.0"
	EngineVersion = "beamrec-transport 11.2"
	StoreVersion  = "bdr 1"
)

// File types.
const (
	FileTypeSimulation = "BDSIM"
	FileTypeCombined   = "COMBINED"
)

// Header describes a file. It is written twice: row 0 when the file is
// opened and row 1 with the final event counts when it is closed. In a run
// that rolled over, NOriginalEvents and NEventsInFile count this file only
// while NEventsRequested is the run's.
type Header struct {
	fieldSet

	DataVersion          int32
	ToolVersion          string
	EngineVersion        string
	StoreVersion         string
	TimeStamp            string
	FileType             string
	FileID               string
	RunID                string
	FileIndex            int32
	CombinedFiles        []string
	NOriginalEvents      int64
	NEventsRequested     int64
	NEventsInFile        int64
	NEventsInFileSkipped int64
	DoublePrecision      bool
}

func NewHeader() *Header {
	h := &Header{}
	h.bind(
		column.Int32("dataVersion", &h.DataVersion),
		column.String("toolVersion", &h.ToolVersion),
		column.String("engineVersion", &h.EngineVersion),
		column.String("storeVersion", &h.StoreVersion),
		column.String("timeStamp", &h.TimeStamp),
		column.String("fileType", &h.FileType),
		column.String("fileID", &h.FileID),
		column.String("runID", &h.RunID),
		column.Int32("fileIndex", &h.FileIndex),
		column.Strings("combinedFiles", &h.CombinedFiles),
		column.Int64("nOriginalEvents", &h.NOriginalEvents),
		column.Int64("nEventsRequested", &h.NEventsRequested),
		column.Int64("nEventsInFile", &h.NEventsInFile),
		column.Int64("nEventsInFileSkipped", &h.NEventsInFileSkipped),
		column.Bool("doublePrecision", &h.DoublePrecision),
	)
	return h
}

func (h *Header) Kind() string { return KindHeader }
func (h *Header) Version() int { return HeaderVersion }
func (h *Header) Flush()       { column.ResetAll(h.fields) }

// Fill sets the static metadata of a new file and gives it a fresh ID.
func (h *Header) Fill(dataVersion int32, fileType string, now time.Time) {
	h.DataVersion = dataVersion
	h.ToolVersion = ToolVersion
	h.EngineVersion = EngineVersion
	h.StoreVersion = StoreVersion
	h.TimeStamp = now.UTC().Format(time.RFC3339)
	h.FileType = fileType
	h.FileID = uuid.NewString()
	h.DoublePrecision = true
}

// SetRun places the file in a run: every file a run rolls over into shares
// the run ID and is numbered from 0.
func (h *Header) SetRun(id string, index int32) {
	h.RunID = id
	h.FileIndex = index
}

// SetCounts sets the final event counts written in the closing row.
func (h *Header) SetCounts(original, requested, inFile, skipped int64) {
	h.NOriginalEvents = original
	h.NEventsRequested = requested
	h.NEventsInFile = inFile
	h.NEventsInFileSkipped = skipped
}

func (h *Header) FillFrom(other *Header) { column.CopyFields(h.fields, other.fields) }
