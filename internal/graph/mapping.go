package graph

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/peteski22/dirsync/internal/config"
)

// isoDate is the layout for extension attribute dates.
const isoDate = "2006-01-02"

// newCreateUser maps local fields onto a create payload.
// The manager binding is omitted unless the manager is already linked.
func newCreateUser(f UserFields, password config.Secret, managerURL string) *User {
	u := baseUser(f)
	u.MailNickname = truncate(mailNickname(f.Email), maxMailNickname)
	u.PasswordProfile = &PasswordProfile{
		ForceChangePasswordNextSignIn: true,
		Password:                      password.Reveal(),
	}
	u.UserPrincipalName = strings.TrimSpace(f.Email)
	if managerURL != "" {
		u.Manager = Ref{URL: managerURL}
	}
	if phone := strings.TrimSpace(f.Phone); phone != "" {
		u.BusinessPhones = []string{phone}
	}
	return u
}

// newUpdateUser maps local fields onto a PATCH payload.
// A removed manager is cleared explicitly and an absent phone clears the remote list.
func newUpdateUser(f UserFields, managerURL string) *User {
	u := baseUser(f)
	switch {
	case managerURL != "":
		u.Manager = Ref{URL: managerURL}
	case !f.HasManager:
		u.Manager = Ref{Clear: true}
	}
	u.BusinessPhones = []string{}
	if phone := strings.TrimSpace(f.Phone); phone != "" {
		u.BusinessPhones = []string{phone}
	}
	return u
}

// baseUser maps the fields shared by create and update.
func baseUser(f UserFields) *User {
	u := &User{
		AccountEnabled: f.AccountEnabled,
		CompanyName:    truncate(f.CompanyName, maxCompanyName),
		Department:     truncate(f.Department, maxDepartment),
		DisplayName:    truncate(f.DisplayName, maxDisplayName),
		EmployeeID:     truncate(f.EmployeeID, maxEmployeeID),
		EmployeeType:   strings.TrimSpace(f.EmployeeType),
		GivenName:      truncate(f.GivenName, maxGivenName),
		JobTitle:       truncate(f.JobTitle, maxJobTitle),
		OfficeLocation: truncate(f.OfficeLocation, maxOfficeLocation),
		Surname:        truncate(f.Surname, maxSurname),
	}
	if !f.HireDate.IsZero() {
		u.EmployeeHireDate = midnightUTC(f.HireDate).Format(time.RFC3339)
	}
	if !f.StartDate.IsZero() || !f.EndDate.IsZero() {
		ext := &OnPremisesExtensionAttributes{}
		if !f.StartDate.IsZero() {
			ext.ExtensionAttribute1 = f.StartDate.Format(isoDate)
		}
		if !f.EndDate.IsZero() {
			ext.ExtensionAttribute2 = f.EndDate.Format(isoDate)
		}
		u.OnPremisesExtensionAttributes = ext
	}
	return u
}

// mailNickname returns the local part of an email address.
func mailNickname(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// midnightUTC returns the calendar date of t at 00:00 UTC.
func midnightUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// truncate trims s and cuts it to at most limit characters.
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
