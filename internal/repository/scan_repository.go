package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"vinscan-service/internal/domain/vin"
)

type ScanRepository struct {
	db *gorm.DB
}

func NewScanRepository(db *gorm.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

type Vehicle struct {
	ID           int64  `gorm:"primaryKey"`
	VIN          string `gorm:"column:vin;not null;uniqueIndex"`
	Make         *string
	Model        *string
	Year         *string
	Country      *string
	Manufacturer *string
	VehicleType  *string
	CreatedAt    time.Time
}

type ScanEvent struct {
	ID             int64 `gorm:"primaryKey"`
	VehicleID      *int64
	SessionID      *string
	Source         *string
	Mode           string `gorm:"not null"`
	VIN            string `gorm:"column:vin;not null"`
	RawText        *string
	Confidence     *float64
	CandidateCount *int
	RawPayload     datatypes.JSONMap `gorm:"type:jsonb"`
	ScannedAt      time.Time         `gorm:"not null"`
	CreatedAt      time.Time
}

type WatchList struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"not null;uniqueIndex"`
	Type        string `gorm:"not null"`
	Description *string
	CreatedAt   time.Time
}

type WatchListItem struct {
	ListID    int64 `gorm:"primaryKey"`
	VehicleID int64 `gorm:"primaryKey"`
	Note      *string
	CreatedAt time.Time
}

// GetOrCreateVehicle upserts the vehicle row for a validated VIN,
// filling attribute columns that are still empty.
func (r *ScanRepository) GetOrCreateVehicle(ctx context.Context, info vin.VehicleInfo) (int64, error) {
	var vehicle Vehicle
	err := r.db.WithContext(ctx).Where("vin = ?", info.VIN).First(&vehicle).Error
	if err == nil {
		updates := map[string]interface{}{}
		if vehicle.Make == nil && info.Make != "" {
			updates["make"] = info.Make
		}
		if vehicle.Model == nil && info.Model != "" {
			updates["model"] = info.Model
		}
		if vehicle.Year == nil && info.Year != "" {
			updates["year"] = info.Year
		}
		if len(updates) > 0 {
			if err := r.db.WithContext(ctx).Model(&vehicle).Updates(updates).Error; err != nil {
				return 0, err
			}
		}
		return vehicle.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}

	vehicle = Vehicle{
		VIN:       info.VIN,
		CreatedAt: time.Now(),
	}
	if info.Make != "" {
		vehicle.Make = &info.Make
	}
	if info.Model != "" {
		vehicle.Model = &info.Model
	}
	if info.Year != "" {
		vehicle.Year = &info.Year
	}
	if info.Country != "" && info.Country != vin.Unknown {
		vehicle.Country = &info.Country
	}
	if info.Manufacturer != "" && info.Manufacturer != vin.Unknown {
		vehicle.Manufacturer = &info.Manufacturer
	}
	if info.VehicleType != "" && info.VehicleType != vin.Unknown {
		vehicle.VehicleType = &info.VehicleType
	}
	if err := r.db.WithContext(ctx).Create(&vehicle).Error; err != nil {
		return 0, err
	}
	return vehicle.ID, nil
}

func (r *ScanRepository) CreateScanEvent(ctx context.Context, vehicleID int64, payload vin.ScanEventPayload) (int64, error) {
	event := ScanEvent{
		VehicleID: &vehicleID,
		Mode:      string(payload.Mode),
		VIN:       payload.VIN,
		ScannedAt: payload.ScannedAt,
		CreatedAt: time.Now(),
	}
	if payload.SessionID != "" {
		event.SessionID = &payload.SessionID
	}
	if payload.Source != "" {
		event.Source = &payload.Source
	}
	if payload.RawText != "" {
		event.RawText = &payload.RawText
	}
	if payload.Confidence != 0 {
		event.Confidence = &payload.Confidence
	}
	if payload.CandidateCount != 0 {
		event.CandidateCount = &payload.CandidateCount
	}
	if len(payload.RawPayload) > 0 {
		event.RawPayload = datatypes.JSONMap(payload.RawPayload)
	}

	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		return 0, err
	}
	return event.ID, nil
}

func (r *ScanRepository) FindWatchHitsForVehicle(ctx context.Context, vehicleID int64) ([]vin.WatchHit, error) {
	var hits []vin.WatchHit

	err := r.db.WithContext(ctx).
		Table("watch_list_items").
		Select("watch_lists.id as list_id, watch_lists.name as list_name, watch_lists.type as list_type").
		Joins("JOIN watch_lists ON watch_list_items.list_id = watch_lists.id").
		Where("watch_list_items.vehicle_id = ?", vehicleID).
		Scan(&hits).Error

	if err != nil {
		return nil, err
	}

	return hits, nil
}

func (r *ScanRepository) FindVehicleByVIN(ctx context.Context, vinStr string) (*Vehicle, error) {
	var vehicle Vehicle
	err := r.db.WithContext(ctx).Where("vin = ?", vinStr).First(&vehicle).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

func (r *ScanRepository) FindVehicles(ctx context.Context, limit, offset int) ([]Vehicle, error) {
	var vehicles []Vehicle
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&vehicles).Error
	return vehicles, err
}

func (r *ScanRepository) FindEvents(ctx context.Context, vinFilter *string, from, to *time.Time, limit, offset int) ([]ScanEvent, error) {
	query := r.db.WithContext(ctx).Model(&ScanEvent{})

	if vinFilter != nil {
		query = query.Where("vin = ?", *vinFilter)
	}
	if from != nil {
		query = query.Where("scanned_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("scanned_at <= ?", *to)
	}

	query = query.Order("scanned_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var events []ScanEvent
	err := query.Find(&events).Error
	return events, err
}

func (r *ScanRepository) GetLastScanTimeForVehicle(ctx context.Context, vehicleID int64) (*time.Time, error) {
	var event ScanEvent
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("scanned_at DESC").
		First(&event).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &event.ScannedAt, nil
}

func (r *ScanRepository) CreateWatchList(ctx context.Context, name, listType, description string) (int64, error) {
	list := WatchList{
		Name:      name,
		Type:      listType,
		CreatedAt: time.Now(),
	}
	if description != "" {
		list.Description = &description
	}
	if err := r.db.WithContext(ctx).Create(&list).Error; err != nil {
		return 0, err
	}
	return list.ID, nil
}

func (r *ScanRepository) AddWatchListItem(ctx context.Context, listID, vehicleID int64, note string) error {
	item := WatchListItem{
		ListID:    listID,
		VehicleID: vehicleID,
		CreatedAt: time.Now(),
	}
	if note != "" {
		item.Note = &note
	}
	return r.db.WithContext(ctx).Create(&item).Error
}

func (r *ScanRepository) DeleteOldEvents(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result := r.db.WithContext(ctx).
		Where("scanned_at < ?", cutoff).
		Delete(&ScanEvent{})
	return result.RowsAffected, result.Error
}
