package ldap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Export field names. Profile v2 exports wrap each attribute as {"value": ...};
// flattened exports carry plain strings keyed by email.
const (
	fieldPrimaryEmail = "primary_email"
	fieldEmail        = "email"
	fieldFirstName    = "first_name"
	fieldLastName     = "last_name"
)

// Decode parses an export document into records in key order.
// Entries that are not objects or carry no usable email are returned as
// malformed instead of failing the whole document.
func Decode(data []byte) ([]Record, []MalformedRecord, error) {
	var document map[string]json.RawMessage
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, nil, fmt.Errorf("export is not a JSON object: %w", err)
	}
	if document == nil {
		return nil, nil, fmt.Errorf("export is not a JSON object")
	}

	keys := make([]string, 0, len(document))
	for key := range document {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	var malformed []MalformedRecord
	for _, key := range keys {
		record, err := decodeEntry(key, document[key])
		if err != nil {
			malformed = append(malformed, MalformedRecord{Key: key, Reason: err.Error()})
			continue
		}
		records = append(records, record)
	}

	return records, malformed, nil
}

func decodeEntry(key string, raw json.RawMessage) (Record, error) {
	var attributes map[string]json.RawMessage
	if err := json.Unmarshal(raw, &attributes); err != nil || attributes == nil {
		return Record{}, fmt.Errorf("entry is not an object")
	}

	email, ok := attributeString(attributes[fieldPrimaryEmail])
	if !ok {
		email, ok = attributeString(attributes[fieldEmail])
	}
	if !ok && strings.Contains(key, "@") {
		// Flattened exports are keyed by the email itself
		email, ok = key, true
	}
	if !ok {
		return Record{}, fmt.Errorf("missing %s", fieldPrimaryEmail)
	}

	email = normalizeEmail(email)
	if strings.Count(email, "@") != 1 || strings.ContainsAny(email, " \t\r\n") {
		return Record{}, fmt.Errorf("invalid email %q", email)
	}
	local, domain := splitEmail(email)
	if local == "" || domain == "" {
		return Record{}, fmt.Errorf("invalid email %q", email)
	}

	firstName, _ := attributeString(attributes[fieldFirstName])
	lastName, _ := attributeString(attributes[fieldLastName])

	return Record{
		Key:       key,
		Email:     email,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
	}, nil
}

// attributeString accepts "text" or {"value": "text"}
func attributeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, plain != ""
	}

	var wrapped struct {
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Value != nil {
		return *wrapped.Value, *wrapped.Value != ""
	}

	return "", false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func splitEmail(email string) (string, string) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email, ""
	}
	return email[:at], email[at+1:]
}
