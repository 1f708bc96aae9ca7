package sbom

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/ecu-report/internal/model"
)

type Format string

const (
	FormatCycloneDX Format = "cyclonedx"
	FormatSPDX      Format = "spdx"
	FormatSWID      Format = "swid"
)

// Formats lists every supported format in a stable order.
var Formats = []Format{FormatCycloneDX, FormatSPDX, FormatSWID}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCycloneDX, FormatSPDX, FormatSWID:
		return f, nil
	}
	return "", fmt.Errorf("%w: invalid format %q, expected cyclonedx, spdx or swid", model.ErrInvalidInput, s)
}

// Extension is the file extension of documents in format f.
func (f Format) Extension() string {
	if f == FormatSWID {
		return "xml"
	}
	return "json"
}

func (f Format) ContentType() string {
	if f == FormatSWID {
		return "application/xml"
	}
	return "application/json"
}

// Options carries everything an encoder needs besides the scan itself. Encoders never read the
// clock, so the same inputs always produce the same bytes.
type Options struct {
	ToolName    string
	ToolVersion string
	// Namespace is the base URI of SPDX document namespaces, without a trailing slash.
	Namespace string
	Timestamp time.Time
}

const (
	DefaultToolName    = "ECU Vulnerability Scanner"
	DefaultToolVersion = "1.0.0"
	DefaultNamespace   = "https://ecu-scanner.io/spdx"
)

func (o Options) withDefaults() Options {
	if o.ToolName == "" {
		o.ToolName = DefaultToolName
	}
	if o.ToolVersion == "" {
		o.ToolVersion = DefaultToolVersion
	}
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	o.Namespace = strings.TrimRight(o.Namespace, "/")
	return o
}

func (o Options) timestamp() string {
	return o.Timestamp.UTC().Format(time.RFC3339)
}

// scanUUID returns the scan id when it already is a UUID and a stable name-based UUID otherwise.
func scanUUID(scanID string) string {
	if id, err := uuid.Parse(scanID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ecu-scan:"+scanID)).String()
}

func orUnknown(v *string) string {
	if v == nil || *v == "" {
		return "unknown"
	}
	return *v
}

func purl(c model.SBOMComponent) string {
	return fmt.Sprintf("pkg:generic/%s@%s", c.Name, orUnknown(c.Version))
}
