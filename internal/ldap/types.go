package ldap

// Record is one normalized entry of the authoritative export.
// Email is always present and lowercase; the names may be empty when the
// export omitted them, which only matters for account creation.
type Record struct {
	Key       string // Map key of the entry in the export
	Email     string
	FirstName string
	LastName  string
}

// HasNames reports whether both name fields are present
func (r Record) HasNames() bool {
	return r.FirstName != "" && r.LastName != ""
}

// Domain returns the part of Email after the last '@'
func (r Record) Domain() string {
	_, domain := splitEmail(r.Email)
	return domain
}

// LocalPart returns the part of Email before the last '@'
func (r Record) LocalPart() string {
	local, _ := splitEmail(r.Email)
	return local
}

// CanonicalAccount is the directory-ready projection of a Record
type CanonicalAccount struct {
	PrimaryEmail string `json:"primary_email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	SourceEmail  string `json:"source_email"`
}

// FullName is the display name sent to the directory
func (a CanonicalAccount) FullName() string {
	return a.FirstName + " " + a.LastName
}

// MalformedRecord describes an entry that was dropped or could not be projected
type MalformedRecord struct {
	Key    string
	Reason string
}
