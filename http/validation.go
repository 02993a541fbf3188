package http

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// ValidatePaymentHeaderFormat performs cheap shape checks on an X-Payment
// header before the codec touches it, so obviously bogus headers fail with a
// precise message.
func ValidatePaymentHeaderFormat(header string) error {
	if header == "" {
		return fmt.Errorf("payment header is empty")
	}
	if !base64Regex.MatchString(header) {
		return fmt.Errorf("payment header is not valid base64")
	}
	return nil
}

// ValidateOutput checks a released response body against the route's
// declared output schema.
func ValidateOutput(schema []byte, body []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(body)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("output schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("response does not match output schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
