package sbom

import "strings"

// xmlEscapes is applied in order. The ampersand must come first or the entities produced by later
// substitutions would be escaped a second time.
var xmlEscapes = []struct{ from, to string }{
	{"&", "&amp;"},
	{"<", "&lt;"},
	{">", "&gt;"},
	{`"`, "&quot;"},
	{"'", "&apos;"},
}

// EscapeXML makes s safe for XML character data and attribute values.
func EscapeXML(s string) string {
	for _, e := range xmlEscapes {
		s = strings.ReplaceAll(s, e.from, e.to)
	}
	return s
}
