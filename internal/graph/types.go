// Package graph provides a client for the Microsoft Graph users API.
package graph

import (
	"encoding/json"
	"time"
)

// Schema limits for free-text user properties.
const (
	maxCompanyName    = 64
	maxDepartment     = 64
	maxDisplayName    = 256
	maxEmployeeID     = 16
	maxGivenName      = 64
	maxJobTitle       = 128
	maxMailNickname   = 64
	maxOfficeLocation = 128
	maxSurname        = 64
)

// UserFields are the local attributes of a user, before mapping to the remote schema.
type UserFields struct {
	// AccountEnabled is whether the remote account can sign in.
	AccountEnabled bool

	// CompanyName is the employing company.
	CompanyName string

	// Department is the department name.
	Department string

	// DisplayName is the full name shown in the directory.
	DisplayName string

	// Email is the user principal name and source of the mail nickname.
	Email string

	// EmployeeID is the HR employee identifier.
	EmployeeID string

	// EmployeeType is the employment type label.
	EmployeeType string

	// EndDate is the employment end date.
	EndDate time.Time

	// GivenName is the first name.
	GivenName string

	// HasManager is true when the local record references a manager.
	HasManager bool

	// HireDate is the hire date.
	HireDate time.Time

	// JobTitle is the job title.
	JobTitle string

	// ManagerRemoteID is the manager's remote object ID, empty if the manager is not yet linked.
	ManagerRemoteID string

	// OfficeLocation is the office location.
	OfficeLocation string

	// Phone is the business phone number.
	Phone string

	// StartDate is the employment start date.
	StartDate time.Time

	// Surname is the last name.
	Surname string
}

// User is the remote user resource as sent to the API.
type User struct {
	// AccountEnabled is whether the account can sign in.
	AccountEnabled bool `json:"accountEnabled"`

	// BusinessPhones is sent as an empty list to clear, and omitted when nil.
	BusinessPhones []string `json:"businessPhones,omitzero"`

	// CompanyName is the employing company.
	CompanyName string `json:"companyName,omitempty"`

	// Department is the department name.
	Department string `json:"department,omitempty"`

	// DisplayName is the name shown in the address book.
	DisplayName string `json:"displayName,omitempty"`

	// EmployeeHireDate is the hire date in RFC 3339 form.
	EmployeeHireDate string `json:"employeeHireDate,omitempty"`

	// EmployeeID is the HR identifier.
	EmployeeID string `json:"employeeId,omitempty"`

	// EmployeeType is the employment type label.
	EmployeeType string `json:"employeeType,omitempty"`

	// GivenName is the first name.
	GivenName string `json:"givenName,omitempty"`

	// JobTitle is the job title.
	JobTitle string `json:"jobTitle,omitempty"`

	// MailNickname is the mail alias, set on create only.
	MailNickname string `json:"mailNickname,omitempty"`

	// Manager binds the user's manager.
	Manager Ref `json:"manager@odata.bind,omitzero"`

	// OfficeLocation is the office location.
	OfficeLocation string `json:"officeLocation,omitempty"`

	// OnPremisesExtensionAttributes carries the employment dates.
	OnPremisesExtensionAttributes *OnPremisesExtensionAttributes `json:"onPremisesExtensionAttributes,omitempty"`

	// PasswordProfile is the initial password, set on create only.
	PasswordProfile *PasswordProfile `json:"passwordProfile,omitempty"`

	// Surname is the last name.
	Surname string `json:"surname,omitempty"`

	// UserPrincipalName is the sign-in name, set on create only.
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
}

// OnPremisesExtensionAttributes carries the employment start and end dates.
type OnPremisesExtensionAttributes struct {
	// ExtensionAttribute1 is the employment start date.
	ExtensionAttribute1 string `json:"extensionAttribute1,omitempty"`

	// ExtensionAttribute2 is the employment end date.
	ExtensionAttribute2 string `json:"extensionAttribute2,omitempty"`
}

// PasswordProfile sets the initial password of a new account.
type PasswordProfile struct {
	// ForceChangePasswordNextSignIn requires a password change at first sign-in.
	ForceChangePasswordNextSignIn bool `json:"forceChangePasswordNextSignIn"`

	// Password is the temporary password.
	Password string `json:"password"`
}

// Ref is an OData binding to another resource.
// The zero value is omitted, a cleared Ref is sent as null, otherwise the URL is sent.
type Ref struct {
	// Clear requests removal of an existing binding.
	Clear bool

	// URL is the bound resource URL.
	URL string
}

// IsZero reports whether the reference should be left out of the payload.
func (r Ref) IsZero() bool {
	return r.URL == "" && !r.Clear
}

// MarshalJSON implements json.Marshaler.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.URL == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.URL)
}

// RemoteUser is a user record read back from the directory.
type RemoteUser struct {
	// AccountEnabled is whether the account can sign in.
	AccountEnabled bool `json:"accountEnabled"`

	// BusinessPhones are the business phone numbers.
	BusinessPhones []string `json:"businessPhones"`

	// Department is the department name.
	Department string `json:"department"`

	// DisplayName is the name shown in the address book.
	DisplayName string `json:"displayName"`

	// EmployeeID is the HR identifier.
	EmployeeID string `json:"employeeId"`

	// ID is the remote object identifier.
	ID string `json:"id"`

	// JobTitle is the job title.
	JobTitle string `json:"jobTitle"`

	// Mail is the primary SMTP address.
	Mail string `json:"mail"`

	// UserPrincipalName is the sign-in name.
	UserPrincipalName string `json:"userPrincipalName"`
}

// Organization is the tenant organization resource.
type Organization struct {
	// DisplayName is the tenant's display name.
	DisplayName string `json:"displayName"`

	// ID is the tenant identifier.
	ID string `json:"id"`
}

// createResponse is the response body of a create call.
type createResponse struct {
	ID string `json:"id"`
}

// organizationResponse is the response body of an organization listing.
type organizationResponse struct {
	Value []Organization `json:"value"`
}

// disablePayload is the PATCH body that blocks sign-in.
type disablePayload struct {
	AccountEnabled bool `json:"accountEnabled"`
}
