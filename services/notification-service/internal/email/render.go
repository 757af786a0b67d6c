package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

const (
	TemplateAppointmentConfirmation = "appointment_confirmation"
	TemplatePaymentReceipt          = "payment_receipt"
	TemplateRefundConfirmation      = "refund_confirmation"
	TemplateAppointmentReminder     = "appointment_reminder"
)

//go:embed templates/*.html
var templateFS embed.FS

type AppointmentData struct {
	ClinicName  string
	OwnerName   string
	PetName     string
	ServiceName string
	Price       string
	Date        string
	Time        string
	Notes       string
	ArrivalNote string
}

type PaymentData struct {
	ClinicName  string
	OwnerName   string
	ServiceName string
	Amount      string
	Reference   string
	When        string
}

type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the named template (file name without extension).
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name+".html", data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
