package sbom

import (
	"fmt"
	"strings"

	"github.com/yourorg/ecu-report/internal/model"
)

const swidNamespace = "http://standards.iso.org/iso/19770/-2/2015/schema.xsd"

// EncodeSWID renders an ISO/IEC 19770-2 SoftwareIdentity tag for the firmware with one payload File
// per component. Every value goes through EscapeXML.
func EncodeSWID(scan *model.Scan, components []model.SBOMComponent, opts Options) ([]byte, error) {
	opts = opts.withDefaults()

	version := model.Deref(scan.Version)
	if version == "" {
		version = "1.0.0"
	}
	manufacturer := model.Deref(scan.Manufacturer)
	if manufacturer == "" {
		manufacturer = "Unknown"
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<SoftwareIdentity xmlns="%s" name="%s" tagId="%s" version="%s" versionScheme="multipartnumeric">`+"\n",
		swidNamespace, EscapeXML(scan.ECUName), EscapeXML(scan.ID), EscapeXML(version))
	fmt.Fprintf(&b, `  <Entity name="%s" role="tagCreator softwareCreator"/>`+"\n", EscapeXML(manufacturer))
	fmt.Fprintf(&b, `  <Entity name="%s" role="tagCreator"/>`+"\n", EscapeXML(opts.ToolName))
	fmt.Fprintf(&b, `  <Meta product="%s" version="%s" architecture="%s" edition="%s" generator="%s"/>`+"\n",
		EscapeXML(scan.ECUName),
		EscapeXML(version),
		EscapeXML(model.Deref(scan.Architecture)),
		EscapeXML(scan.ECUType),
		EscapeXML(opts.ToolName+" "+opts.ToolVersion),
	)
	b.WriteString("  <Payload>\n")
	fmt.Fprintf(&b, `    <Directory name="%s">`+"\n", EscapeXML(scan.FileName))
	for _, c := range components {
		fmt.Fprintf(&b, `      <File name="%s" version="%s"/>`+"\n", EscapeXML(c.Name), EscapeXML(orUnknown(c.Version)))
	}
	b.WriteString("    </Directory>\n")
	b.WriteString("  </Payload>\n")
	b.WriteString("</SoftwareIdentity>\n")
	return []byte(b.String()), nil
}
