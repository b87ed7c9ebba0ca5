package codec

import (
	"encoding/base64"
	"strings"

	"imageConverter/errs"
)

// EncodeBase64 produces the standard (padded) Base64 text for data.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 accepts raw Base64 or a data URI ("data:image/png;base64,...")
// and returns the decoded bytes.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, ','); idx >= 0 && strings.HasPrefix(s, "data:") {
		s = s[idx+1:]
	}
	if s == "" {
		return nil, errs.New(errs.KindInputInvalid, "base64 data is required")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients strip padding.
		data, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, errs.Wrap(errs.KindInputInvalid, "invalid base64 data", err)
		}
	}
	return data, nil
}
