package sbom

import (
	"bytes"
	"fmt"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/yourorg/ecu-report/internal/model"
)

const (
	nvdDetailURL   = "https://nvd.nist.gov/vuln/detail/"
	cdxSchema15    = "http://cyclonedx.org/schema/bom-1.5.schema.json"
	cdxNamespace15 = "http://cyclonedx.org/schema/bom/1.5"
)

// ComponentRef is the bom-ref of the i-th component.
func ComponentRef(i int) string {
	return fmt.Sprintf("component-%d", i)
}

// EncodeCycloneDX renders a CycloneDX 1.5 JSON BOM. The scan is described as the firmware component
// in metadata; every CVE attached to a component becomes a top-level vulnerability affecting it.
// Component licenses and the vulnerability list are always present, empty when there is nothing to
// report.
func EncodeCycloneDX(scan *model.Scan, components []model.SBOMComponent, opts Options) ([]byte, error) {
	opts = opts.withDefaults()

	bom := cdx.NewBOM()
	bom.SpecVersion = cdx.SpecVersion1_5
	bom.JSONSchema = cdxSchema15
	bom.XMLNS = cdxNamespace15
	bom.SerialNumber = "urn:uuid:" + scanUUID(scan.ID)
	bom.Version = 1
	bom.Metadata = &cdx.Metadata{
		Timestamp: opts.timestamp(),
		Tools: &cdx.ToolsChoice{
			Components: &[]cdx.Component{{
				Type:    cdx.ComponentTypeApplication,
				Name:    opts.ToolName,
				Version: opts.ToolVersion,
			}},
		},
		Component: &cdx.Component{
			BOMRef:  scan.ID,
			Type:    cdx.ComponentTypeFirmware,
			Name:    scan.ECUName,
			Version: orUnknown(scan.Version),
			Properties: &[]cdx.Property{
				{Name: "architecture", Value: orUnknown(scan.Architecture)},
				{Name: "manufacturer", Value: orUnknown(scan.Manufacturer)},
				{Name: "ecu_type", Value: scan.ECUType},
			},
		},
	}

	comps := make([]cdx.Component, 0, len(components))
	vulns := make([]cdx.Vulnerability, 0)
	for i, c := range components {
		ref := ComponentRef(i)
		licenses := cdx.Licenses{}
		if lic := model.Deref(c.License); lic != "" {
			licenses = append(licenses, cdx.LicenseChoice{License: &cdx.License{ID: lic}})
		}
		comps = append(comps, cdx.Component{
			BOMRef:     ref,
			Type:       cdx.ComponentTypeLibrary,
			Name:       c.Name,
			Version:    orUnknown(c.Version),
			Licenses:   &licenses,
			PackageURL: purl(c),
			Properties: &[]cdx.Property{
				{Name: "source_file", Value: model.Deref(c.SourceFile)},
			},
		})
		for _, cve := range c.CVEIDs {
			vulns = append(vulns, cdx.Vulnerability{
				ID:      cve,
				Source:  &cdx.Source{Name: "NVD", URL: nvdDetailURL + cve},
				Affects: &[]cdx.Affects{{Ref: ref}},
			})
		}
	}
	bom.Components = &comps
	bom.Vulnerabilities = &vulns

	// EncodeVersion round-trips the BOM through a copy that drops empty lists, so the BOM is built
	// for 1.5 directly and encoded as is.
	var buf bytes.Buffer
	enc := cdx.NewBOMEncoder(&buf, cdx.BOMFileFormatJSON)
	enc.SetPretty(true)
	if err := enc.Encode(bom); err != nil {
		return nil, fmt.Errorf("encode cyclonedx: %w", err)
	}
	return buf.Bytes(), nil
}
