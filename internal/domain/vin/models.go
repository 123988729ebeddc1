package vin

import (
	"time"
)

// ScanMode selects the recognition path for a session or a one-shot scan.
type ScanMode string

const (
	ModeText    ScanMode = "text"
	ModeBarcode ScanMode = "barcode"
)

func (m ScanMode) Valid() bool {
	return m == ModeText || m == ModeBarcode
}

// RecognitionResult is the raw output of one recognition pass over a frame.
type RecognitionResult struct {
	Mode       ScanMode `json:"mode"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"` // 0..100
}

// VehicleInfo carries everything known about a validated VIN. Registry
// fields (Make/Model/Year) stay empty when the external lookup fails;
// decoded fields fall back to "Unknown".
type VehicleInfo struct {
	VIN          string `json:"vin"`
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Year         string `json:"year,omitempty"`
	Country      string `json:"country,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	VehicleType  string `json:"vehicle_type,omitempty"`
}

// ScanEventPayload is the ingest shape for a completed scan.
type ScanEventPayload struct {
	SessionID      string                 `json:"session_id,omitempty"`
	Source         string                 `json:"source,omitempty"`
	Mode           ScanMode               `json:"mode"`
	VIN            string                 `json:"vin"`
	RawText        string                 `json:"raw_text,omitempty"`
	Confidence     float64                `json:"confidence"`
	CandidateCount int                    `json:"candidate_count"`
	ScannedAt      time.Time              `json:"scanned_at"`
	RawPayload     map[string]interface{} `json:"raw_payload,omitempty"`
}

// Event is a persisted scan event.
type Event struct {
	ID        int64
	VehicleID int64
	ScanEventPayload
	Vehicle VehicleInfo
}

// WatchHit reports a watch list containing the scanned VIN.
type WatchHit struct {
	ListID   int64  `json:"list_id"`
	ListName string `json:"list_name"`
	ListType string `json:"list_type"`
}

// RecordResult is returned to the caller after a scan is recorded.
type RecordResult struct {
	EventID   int64       `json:"event_id"`
	VehicleID int64       `json:"vehicle_id"`
	Vehicle   VehicleInfo `json:"vehicle"`
	Hits      []WatchHit  `json:"hits"`
}
