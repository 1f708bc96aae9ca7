package sbom

import (
	"bytes"
	"fmt"
	"strings"

	spdxjson "github.com/spdx/tools-golang/json"
	"github.com/spdx/tools-golang/spdx/v2/common"
	"github.com/spdx/tools-golang/spdx/v2/v2_3"

	"github.com/yourorg/ecu-report/internal/model"
)

const (
	spdxVersion            = "SPDX-2.3"
	spdxDataLicense        = "CC0-1.0"
	spdxLicenseListVersion = "3.21"
	spdxNoAssertion        = "NOASSERTION"
	spdxDocumentID         = common.ElementID("DOCUMENT")
	spdxRootPackageID      = common.ElementID("RootPackage")
)

// PackageID is the SPDX identifier of the i-th component package.
func PackageID(i int) string {
	return fmt.Sprintf("SPDXRef-Package-%d", i)
}

func elementRef(id common.ElementID) common.DocElementID {
	return common.MakeDocElementID("", string(id))
}

// EncodeSPDX renders an SPDX 2.3 JSON document with the firmware as root package and one package per
// component contained in it.
func EncodeSPDX(scan *model.Scan, components []model.SBOMComponent, opts Options) ([]byte, error) {
	opts = opts.withDefaults()

	root := &v2_3.Package{
		PackageSPDXIdentifier:     spdxRootPackageID,
		PackageName:               scan.ECUName,
		PackageVersion:            model.Deref(scan.Version),
		PackageSupplier:           &common.Supplier{Supplier: spdxNoAssertion},
		PackageDownloadLocation:   spdxNoAssertion,
		IsFilesAnalyzedTagPresent: true,
		PackageLicenseConcluded:   spdxNoAssertion,
		PackageLicenseDeclared:    spdxNoAssertion,
		PackageCopyrightText:      spdxNoAssertion,
		PackageDescription:        scan.ECUType,
		PackageSourceInfo:         scan.FileName,
		PrimaryPackagePurpose:     "FIRMWARE",
	}
	if m := model.Deref(scan.Manufacturer); m != "" {
		root.PackageSupplier = &common.Supplier{SupplierType: "Organization", Supplier: m}
	}
	if h := strings.ToLower(model.Deref(scan.FileHash)); len(h) == 64 {
		root.PackageChecksums = []common.Checksum{{Algorithm: common.SHA256, Value: h}}
	}

	doc := &v2_3.Document{
		SPDXVersion:       spdxVersion,
		DataLicense:       spdxDataLicense,
		SPDXIdentifier:    spdxDocumentID,
		DocumentName:      fmt.Sprintf("%s-sbom", scan.ECUName),
		DocumentNamespace: fmt.Sprintf("%s/%s", opts.Namespace, scan.ID),
		CreationInfo: &v2_3.CreationInfo{
			Created: opts.timestamp(),
			Creators: []common.Creator{
				{CreatorType: "Tool", Creator: fmt.Sprintf("%s-%s", opts.ToolName, opts.ToolVersion)},
			},
			LicenseListVersion: spdxLicenseListVersion,
		},
		Packages: append(make([]*v2_3.Package, 0, len(components)+1), root),
		Relationships: []*v2_3.Relationship{
			{RefA: elementRef(spdxDocumentID), RefB: elementRef(spdxRootPackageID), Relationship: "DESCRIBES"},
		},
	}

	for i, c := range components {
		license := spdxNoAssertion
		if l := model.Deref(c.License); l != "" {
			license = l
		}
		pkg := &v2_3.Package{
			PackageSPDXIdentifier:     common.ElementID(PackageID(i)),
			PackageName:               c.Name,
			PackageVersion:            model.Deref(c.Version),
			PackageDownloadLocation:   spdxNoAssertion,
			IsFilesAnalyzedTagPresent: true,
			PackageLicenseConcluded:   license,
			PackageLicenseDeclared:    license,
			PackageCopyrightText:      spdxNoAssertion,
			PackageSourceInfo:         model.Deref(c.SourceFile),
		}
		for _, cve := range c.CVEIDs {
			pkg.PackageExternalReferences = append(pkg.PackageExternalReferences, &v2_3.PackageExternalReference{
				Category: "SECURITY",
				RefType:  "cpe23Type",
				Locator:  cve,
			})
		}
		doc.Packages = append(doc.Packages, pkg)
		doc.Relationships = append(doc.Relationships, &v2_3.Relationship{
			RefA:         elementRef(spdxRootPackageID),
			RefB:         elementRef(pkg.PackageSPDXIdentifier),
			Relationship: "CONTAINS",
		})
	}

	var buf bytes.Buffer
	if err := spdxjson.Write(doc, &buf); err != nil {
		return nil, fmt.Errorf("encode spdx: %w", err)
	}
	return buf.Bytes(), nil
}
