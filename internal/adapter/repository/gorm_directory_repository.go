package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carelink/internal/domain/entity"
	"carelink/pkg/errors"
)

// GormDirectory reads the portal's participants and appointments from the
// SQL store. The Save methods exist for seeding and tests; the portal owns
// these records.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) GetParticipant(ctx context.Context, id string) (*entity.Participant, error) {
	var row participantRow
	if err := d.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, gormError("Participant", err)
	}
	return &entity.Participant{ID: row.ID, DisplayName: row.DisplayName, Role: row.Role}, nil
}

func (d *GormDirectory) GetAppointment(ctx context.Context, id string) (*entity.Appointment, error) {
	var row appointmentRow
	if err := d.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, gormError("Appointment", err)
	}
	return &entity.Appointment{ID: row.ID, PatientID: row.PatientID, DoctorID: row.DoctorID}, nil
}

func (d *GormDirectory) SaveParticipant(ctx context.Context, p *entity.Participant) error {
	row := &participantRow{ID: p.ID, DisplayName: p.DisplayName, Role: p.Role}
	if err := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return errors.Internal("Failed to save participant", err)
	}
	return nil
}

func (d *GormDirectory) SaveAppointment(ctx context.Context, a *entity.Appointment) error {
	row := &appointmentRow{ID: a.ID, PatientID: a.PatientID, DoctorID: a.DoctorID}
	if err := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return errors.Internal("Failed to save appointment", err)
	}
	return nil
}
