// internal/models/form.go
package models

import "time"

type FormStatus string

const (
	FormStatusDraft     FormStatus = "DRAFT"
	FormStatusSubmitted FormStatus = "SUBMITTED"
)

func (s FormStatus) Valid() bool {
	return s == FormStatusDraft || s == FormStatusSubmitted
}

// FormType tags one of the monthly regulatory forms. Every form type shares
// the same lifecycle columns and lives in its own table.
type FormType string

const (
	FormTypeAgencyVisits           FormType = "agency_visits"
	FormTypeMonthlyCompliance      FormType = "monthly_compliance"
	FormTypeNoDuesCertificate      FormType = "no_dues_certificate"
	FormTypeManpowerRegister       FormType = "manpower_register"
	FormTypeTrainingRecords        FormType = "training_records"
	FormTypeEscalationDetails      FormType = "escalation_details"
	FormTypeProactiveEscalation    FormType = "proactive_escalation"
	FormTypeRepoKitTracker         FormType = "repo_kit_tracker"
	FormTypeTelephoneDeclaration   FormType = "telephone_declaration"
	FormTypeCodeOfConduct          FormType = "code_of_conduct"
	FormTypeBaselineReport         FormType = "baseline_report"
	FormTypeAssetManagement        FormType = "asset_management"
	FormTypePaymentRegister        FormType = "payment_register"
	FormTypePenaltyMatrix          FormType = "penalty_matrix"
	FormTypeDeclarationUndertaking FormType = "declaration_undertaking"
)

var formTables = map[FormType]string{
	FormTypeAgencyVisits:           "agency_visit_forms",
	FormTypeMonthlyCompliance:      "monthly_compliance_forms",
	FormTypeNoDuesCertificate:      "no_dues_certificate_forms",
	FormTypeManpowerRegister:       "manpower_register_forms",
	FormTypeTrainingRecords:        "training_record_forms",
	FormTypeEscalationDetails:      "escalation_detail_forms",
	FormTypeProactiveEscalation:    "proactive_escalation_forms",
	FormTypeRepoKitTracker:         "repo_kit_tracker_forms",
	FormTypeTelephoneDeclaration:   "telephone_declaration_forms",
	FormTypeCodeOfConduct:          "code_of_conduct_forms",
	FormTypeBaselineReport:         "baseline_report_forms",
	FormTypeAssetManagement:        "asset_management_forms",
	FormTypePaymentRegister:        "payment_register_forms",
	FormTypePenaltyMatrix:          "penalty_matrix_forms",
	FormTypeDeclarationUndertaking: "declaration_undertaking_forms",
}

// Valid reports whether t belongs to the closed set of form types.
func (t FormType) Valid() bool {
	_, ok := formTables[t]
	return ok
}

// Table returns the table backing t, or "" for unknown tags.
func (t FormType) Table() string {
	return formTables[t]
}

// FormTypes lists every known form type.
func FormTypes() []FormType {
	out := make([]FormType, 0, len(formTables))
	for t := range formTables {
		out = append(out, t)
	}
	return out
}

type FormSubmission struct {
	ID               string                 `json:"id"`
	OwnerID          string                 `json:"ownerId"`
	FormType         FormType               `json:"formType"`
	Period           string                 `json:"period"` // YYYY-MM
	Status           FormStatus             `json:"status"`
	Payload          map[string]interface{} `json:"payload"`
	FirstSubmittedAt *time.Time             `json:"firstSubmittedAt,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// Editable reports whether the owner may change the form without approval.
func (f *FormSubmission) Editable() bool {
	return f.Status == FormStatusDraft
}

// Snapshot returns the mutable fields recorded in activity logs.
func (f *FormSubmission) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"status":  f.Status,
		"period":  f.Period,
		"payload": f.Payload,
	}
}
