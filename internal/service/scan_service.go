package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vinscan-service/internal/domain/vin"
	"vinscan-service/internal/registry"
	"vinscan-service/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type ScanService struct {
	repo     *repository.ScanRepository
	registry *registry.Client
	log      zerolog.Logger
}

func NewScanService(repo *repository.ScanRepository, reg *registry.Client, log zerolog.Logger) *ScanService {
	return &ScanService{
		repo:     repo,
		registry: reg,
		log:      log,
	}
}

// RecordScan validates, decodes and enriches a scanned VIN, persists the
// event, and reports watch list hits. The registry lookup is best
// effort: a miss never fails the record.
func (s *ScanService) RecordScan(ctx context.Context, payload vin.ScanEventPayload) (*vin.RecordResult, error) {
	if payload.VIN == "" {
		return nil, fmt.Errorf("%w: vin is required", ErrInvalidInput)
	}
	if !payload.Mode.Valid() {
		return nil, fmt.Errorf("%w: mode must be text or barcode", ErrInvalidInput)
	}
	if payload.ScannedAt.IsZero() {
		return nil, fmt.Errorf("%w: scanned_at is required", ErrInvalidInput)
	}

	normalized := vin.Normalize(payload.VIN)
	if !vin.IsValid(normalized) {
		return nil, fmt.Errorf("%w: vin failed validation", ErrInvalidInput)
	}
	payload.VIN = normalized

	info := vin.VehicleInfo{VIN: normalized}
	decoded := vin.Decode(normalized)
	info.Country = decoded.Country
	info.Manufacturer = decoded.Manufacturer
	info.VehicleType = decoded.VehicleType

	if s.registry != nil {
		if enriched := s.registry.Lookup(ctx, normalized); enriched != nil {
			info.Make = enriched.Make
			info.Model = enriched.Model
			info.Year = enriched.Year
		}
	}

	vehicleID, err := s.repo.GetOrCreateVehicle(ctx, info)
	if err != nil {
		s.log.Error().Err(err).Str("vin", normalized).Msg("failed to get or create vehicle")
		return nil, fmt.Errorf("failed to get or create vehicle: %w", err)
	}

	eventID, err := s.repo.CreateScanEvent(ctx, vehicleID, payload)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("vin", normalized).
			Str("session_id", payload.SessionID).
			Msg("failed to create scan event")
		return nil, fmt.Errorf("failed to create scan event: %w", err)
	}

	s.log.Info().
		Int64("event_id", eventID).
		Int64("vehicle_id", vehicleID).
		Str("vin", normalized).
		Str("mode", string(payload.Mode)).
		Float64("confidence", payload.Confidence).
		Time("scanned_at", payload.ScannedAt).
		Msg("saved scan event to database")

	hits, err := s.repo.FindWatchHitsForVehicle(ctx, vehicleID)
	if err != nil {
		s.log.Error().
			Err(err).
			Int64("vehicle_id", vehicleID).
			Msg("failed to find watch lists for vehicle")
		return nil, fmt.Errorf("failed to find watch lists for vehicle: %w", err)
	}

	if len(hits) > 0 {
		s.log.Info().
			Int64("vehicle_id", vehicleID).
			Str("vin", normalized).
			Int("hits_count", len(hits)).
			Msg("vehicle found in watch lists")
		for _, hit := range hits {
			s.log.Debug().
				Int64("list_id", hit.ListID).
				Str("list_name", hit.ListName).
				Str("list_type", hit.ListType).
				Msg("watch list hit")
		}
	}

	return &vin.RecordResult{
		EventID:   eventID,
		VehicleID: vehicleID,
		Vehicle:   info,
		Hits:      hits,
	}, nil
}

// DescribeVIN validates a VIN and returns decoded plus registry data
// without persisting anything.
func (s *ScanService) DescribeVIN(ctx context.Context, vinStr string) (*vin.VehicleInfo, error) {
	normalized := vin.Normalize(vinStr)
	if !vin.IsValid(normalized) {
		return nil, fmt.Errorf("%w: vin failed validation", ErrInvalidInput)
	}

	info := vin.VehicleInfo{VIN: normalized}
	decoded := vin.Decode(normalized)
	info.Country = decoded.Country
	info.Manufacturer = decoded.Manufacturer
	info.VehicleType = decoded.VehicleType

	if s.registry != nil {
		if enriched := s.registry.Lookup(ctx, normalized); enriched != nil {
			info.Make = enriched.Make
			info.Model = enriched.Model
			info.Year = enriched.Year
		}
	}
	return &info, nil
}

func (s *ScanService) FindVehicles(ctx context.Context, limit, offset int) ([]VehicleInfoRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	vehicles, err := s.repo.FindVehicles(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find vehicles: %w", err)
	}

	result := make([]VehicleInfoRecord, 0, len(vehicles))
	for _, v := range vehicles {
		lastScan, _ := s.repo.GetLastScanTimeForVehicle(ctx, v.ID)
		rec := VehicleInfoRecord{
			ID:           v.ID,
			VIN:          v.VIN,
			Make:         v.Make,
			Model:        v.Model,
			Year:         v.Year,
			Country:      v.Country,
			Manufacturer: v.Manufacturer,
			VehicleType:  v.VehicleType,
			LastScanTime: lastScan,
		}
		result = append(result, rec)
	}

	return result, nil
}

func (s *ScanService) FindEvents(ctx context.Context, vinQuery *string, from, to *string, limit, offset int) ([]EventInfo, error) {
	var vinFilter *string
	if vinQuery != nil {
		normalized := vin.Normalize(*vinQuery)
		if normalized != "" {
			vinFilter = &normalized
		}
	}

	var fromTime, toTime *time.Time
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = &t
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	events, err := s.repo.FindEvents(ctx, vinFilter, fromTime, toTime, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}

	result := make([]EventInfo, 0, len(events))
	for _, e := range events {
		info := EventInfo{
			ID:             e.ID,
			VehicleID:      e.VehicleID,
			SessionID:      e.SessionID,
			Source:         e.Source,
			Mode:           e.Mode,
			VIN:            e.VIN,
			RawText:        e.RawText,
			Confidence:     e.Confidence,
			CandidateCount: e.CandidateCount,
			ScannedAt:      e.ScannedAt,
		}
		result = append(result, info)
	}

	return result, nil
}

// CleanupOldEvents deletes scan events older than the given number of days.
func (s *ScanService) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}
	deleted, err := s.repo.DeleteOldEvents(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old events")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old scan events")
	}
	return deleted, nil
}

// CreateWatchList registers a named VIN watch list.
func (s *ScanService) CreateWatchList(ctx context.Context, name, listType, description string) (int64, error) {
	if name == "" || listType == "" {
		return 0, fmt.Errorf("%w: name and type are required", ErrInvalidInput)
	}
	return s.repo.CreateWatchList(ctx, name, listType, description)
}

// AddWatchListItem puts a VIN on a watch list, creating the vehicle row
// if the VIN was never scanned.
func (s *ScanService) AddWatchListItem(ctx context.Context, listID int64, vinStr, note string) error {
	normalized := vin.Normalize(vinStr)
	if !vin.IsValid(normalized) {
		return fmt.Errorf("%w: vin failed validation", ErrInvalidInput)
	}
	vehicleID, err := s.repo.GetOrCreateVehicle(ctx, vin.VehicleInfo{VIN: normalized})
	if err != nil {
		return fmt.Errorf("failed to get or create vehicle: %w", err)
	}
	return s.repo.AddWatchListItem(ctx, listID, vehicleID, note)
}

type VehicleInfoRecord struct {
	ID           int64      `json:"id"`
	VIN          string     `json:"vin"`
	Make         *string    `json:"make,omitempty"`
	Model        *string    `json:"model,omitempty"`
	Year         *string    `json:"year,omitempty"`
	Country      *string    `json:"country,omitempty"`
	Manufacturer *string    `json:"manufacturer,omitempty"`
	VehicleType  *string    `json:"vehicle_type,omitempty"`
	LastScanTime *time.Time `json:"last_scan_time,omitempty"`
}

type EventInfo struct {
	ID             int64     `json:"id"`
	VehicleID      *int64    `json:"vehicle_id,omitempty"`
	SessionID      *string   `json:"session_id,omitempty"`
	Source         *string   `json:"source,omitempty"`
	Mode           string    `json:"mode"`
	VIN            string    `json:"vin"`
	RawText        *string   `json:"raw_text,omitempty"`
	Confidence     *float64  `json:"confidence,omitempty"`
	CandidateCount *int      `json:"candidate_count,omitempty"`
	ScannedAt      time.Time `json:"scanned_at"`
}
