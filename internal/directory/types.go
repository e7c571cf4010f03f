package directory

// Account represents a user as returned by the directory users API
type Account struct {
	ID           string    `json:"id,omitempty"`
	PrimaryEmail string    `json:"primaryEmail"`
	Suspended    bool      `json:"suspended"`
	Name         *UserName `json:"name,omitempty"`
	IsAdmin      bool      `json:"isAdmin,omitempty"`
}

// UserName is the name block of a directory user
type UserName struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	FullName   string `json:"fullName,omitempty"`
}

// usersPage is one page of the users list API response
type usersPage struct {
	Kind          string    `json:"kind"`
	Users         []Account `json:"users"`
	NextPageToken string    `json:"nextPageToken"`
}

// insertUserRequest is the users.insert request body
type insertUserRequest struct {
	Name          UserName `json:"name"`
	PrimaryEmail  string   `json:"primaryEmail"`
	Password      string   `json:"password"`
	AgreedToTerms bool     `json:"agreedToTerms"`
}

// suspendUserRequest is the users.patch body used to disable an account
type suspendUserRequest struct {
	Suspended        bool   `json:"suspended"`
	SuspensionReason string `json:"suspensionReason,omitempty"`
}

// apiErrorResponse is the error envelope returned by the directory API
type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Domain  string `json:"domain"`
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}
