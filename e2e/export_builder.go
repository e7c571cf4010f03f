package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/ldap"
)

type attribute struct {
	Value string `json:"value"`
}

// BuildExport renders users as a profile v2 export document keyed by
// user key (or email when no key is given)
func BuildExport(users []ScenarioUser) ([]byte, error) {
	document := make(map[string]map[string]attribute, len(users))
	for i, user := range users {
		key := user.Key
		if key == "" {
			key = user.Email
		}
		if key == "" {
			key = fmt.Sprintf("entry-%d", i)
		}

		entry := make(map[string]attribute)
		if user.Email != "" {
			entry["primary_email"] = attribute{Value: user.Email}
		}
		if user.FirstName != "" {
			entry["first_name"] = attribute{Value: user.FirstName}
		}
		if user.LastName != "" {
			entry["last_name"] = attribute{Value: user.LastName}
		}
		document[key] = entry
	}

	data, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}

// Compress encodes data the way the object key's suffix announces
func Compress(codec ldap.Codec, data []byte) ([]byte, error) {
	var buf bytes.Buffer

	switch codec {
	case ldap.CodecNone:
		return data, nil
	case ldap.CodecXZ:
		writer, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
	case ldap.CodecZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer func() { _ = encoder.Close() }()
		return encoder.EncodeAll(data, nil), nil
	case ldap.CodecGzip:
		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
	case ldap.CodecLZ4:
		writer := lz4.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}

	return buf.Bytes(), nil
}

// BuildObject renders and compresses the scenario's export for its key
func BuildObject(scenario *ScenarioConfig) ([]byte, error) {
	data, err := BuildExport(scenario.Users)
	if err != nil {
		return nil, err
	}
	return Compress(ldap.CodecForKey(scenario.ObjectKey), data)
}
