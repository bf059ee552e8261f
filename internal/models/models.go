// Package models defines the health-data entities kept in secure storage.
//
// Each entity type maps to one encrypted container named by EntityName.
// Timestamps are RFC 3339 strings maintained by the storage layer.
package models

// Entity names, also used as container names.
const (
	EntityPatients            = "patients"
	EntityAppointments        = "appointments"
	EntityInvoices            = "invoices"
	EntityPhotos              = "photos"
	EntityConsultationReports = "consultation_reports"
)

// AllEntities lists every entity the application stores locally.
var AllEntities = []string{
	EntityPatients,
	EntityAppointments,
	EntityInvoices,
	EntityPhotos,
	EntityConsultationReports,
}

// Entity is implemented by every stored model.
type Entity interface {
	EntityName() string
	GetID() int64
}

// Base carries the fields every record has. A zero ID asks the store to
// allocate one.
type Base struct {
	ID        int64  `json:"id,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func (b Base) GetID() int64 { return b.ID }

type Patient struct {
	Base
	OsteopathID int64  `json:"osteopathId,omitempty"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	BirthDate   string `json:"birthDate,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	Occupation  string `json:"occupation,omitempty"`
	// MedicalHistory is free text entered by the practitioner.
	MedicalHistory string `json:"medicalHistory,omitempty"`
}

func (Patient) EntityName() string { return EntityPatients }

type Appointment struct {
	Base
	PatientID int64  `json:"patientId"`
	Date      string `json:"date"`
	Duration  int    `json:"duration,omitempty"` // minutes
	Reason    string `json:"reason,omitempty"`
	Status    string `json:"status,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (Appointment) EntityName() string { return EntityAppointments }

type Invoice struct {
	Base
	PatientID     int64   `json:"patientId"`
	AppointmentID int64   `json:"appointmentId,omitempty"`
	Number        string  `json:"number"`
	Date          string  `json:"date"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	Status        string  `json:"status,omitempty"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
}

func (Invoice) EntityName() string { return EntityInvoices }

// Photo embeds the image itself; Data is base64 in JSON.
type Photo struct {
	Base
	PatientID int64  `json:"patientId"`
	FileName  string `json:"fileName"`
	MimeType  string `json:"mimeType,omitempty"`
	Caption   string `json:"caption,omitempty"`
	TakenAt   string `json:"takenAt,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

func (Photo) EntityName() string { return EntityPhotos }

type ConsultationReport struct {
	Base
	PatientID       int64  `json:"patientId"`
	AppointmentID   int64  `json:"appointmentId,omitempty"`
	Date            string `json:"date"`
	Complaint       string `json:"complaint,omitempty"`
	Findings        string `json:"findings,omitempty"`
	Treatment       string `json:"treatment,omitempty"`
	Recommendations string `json:"recommendations,omitempty"`
}

func (ConsultationReport) EntityName() string { return EntityConsultationReports }
