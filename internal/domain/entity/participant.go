package entity

import "time"

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
	RoleSystem  = "system"
)

type Participant struct {
	ID          string `json:"id" firestore:"id"`
	DisplayName string `json:"display_name" firestore:"displayName"`
	Role        string `json:"role" firestore:"role"`
}

// Appointment is the slice of the scheduling domain that conversation
// creation needs.
type Appointment struct {
	ID        string `json:"id" firestore:"id"`
	PatientID string `json:"patient_id" firestore:"patientId"`
	DoctorID  string `json:"doctor_id" firestore:"doctorId"`
}

// Identity is what the identity resolver extracts from a bearer credential.
type Identity struct {
	ParticipantID string    `json:"participant_id"`
	Role          string    `json:"role"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}
