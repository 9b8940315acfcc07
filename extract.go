package dov_fixtures

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"
)

// GMLNamespace is the OGC GML namespace WFS 1.1.0 feature collections use.
const GMLNamespace = "http://www.opengis.net/gml"

// ErrNoFeatureMember is returned by ExtractFirstFeatureMember when the
// document has no (or an empty) gml:featureMembers element.
var ErrNoFeatureMember = errors.New("the response contains no feature members")

var errNoRootElement = errors.New("no root element")

// ExtractFirstFeatureMember is a Transform which reduces a WFS GetFeature
// response to its first feature member.
func ExtractFirstFeatureMember(doc string) (string, error) {
	member, found, err := FirstFeatureMember(doc)
	if err != nil {
		return "", err
	}

	if !found {
		return "", ErrNoFeatureMember
	}

	return member, nil
}

// FirstFeatureMember finds the first gml:featureMembers element in a WFS
// GetFeature response and returns the XML for its first child element.
//
// The second return value is false when there is no featureMembers element or
// it has no children. The whole document must be well-formed, even the parts
// after the member that was found.
//
// The member is returned exactly as it appears in the document. Namespace
// declarations it relies on but which were made on one of its ancestors are
// copied onto its start tag. That covers prefixes in element and attribute
// names and in QName-valued attributes such as xsi:type="gml:PointType".
// Prefixes that only appear in text content are not detected.
func FirstFeatureMember(doc string) (string, bool, error) {
	decoder := xml.NewDecoder(strings.NewReader(doc))
	// The text has already been decoded, whatever the prolog says.
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var (
		scopes       []map[string]string
		membersDepth int
		searching    = true
		sawRoot      bool
		member       string
		found        bool
	)

	for {
		offset := decoder.InputOffset()

		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false, fmt.Errorf("unable to parse the response: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			scopes = append(scopes, namespaceDeclarations(t.Attr))

			if !searching {
				continue
			}

			if membersDepth == 0 && len(scopes) > 1 && isFeatureMembers(t.Name) {
				membersDepth = len(scopes)
				continue
			}

			if membersDepth > 0 && len(scopes) == membersDepth+1 {
				if err := decoder.Skip(); err != nil {
					return "", false, fmt.Errorf("unable to parse the response: %w", err)
				}

				raw := doc[offset:decoder.InputOffset()]
				scopes = scopes[:len(scopes)-1]

				member, err = withInheritedNamespaces(raw, scopes)
				if err != nil {
					return "", false, err
				}
				found = true
				searching = false
			}

		case xml.EndElement:
			if searching && membersDepth > 0 && len(scopes) == membersDepth {
				// An empty featureMembers element. Later ones are not
				// considered.
				searching = false
			}
			scopes = scopes[:len(scopes)-1]
		}
	}

	if !sawRoot {
		return "", false, fmt.Errorf("unable to parse the response: %w", errNoRootElement)
	}

	return member, found, nil
}

func isFeatureMembers(name xml.Name) bool {
	return name.Space == GMLNamespace && name.Local == "featureMembers"
}

// namespaceDeclarations gets the prefixes declared by an element's attributes.
// The default namespace is stored under the empty prefix.
func namespaceDeclarations(attrs []xml.Attr) map[string]string {
	var decls map[string]string

	for _, attr := range attrs {
		var prefix string

		switch {
		case attr.Name.Space == "xmlns":
			prefix = attr.Name.Local
		case attr.Name.Space == "" && attr.Name.Local == "xmlns":
			prefix = ""
		default:
			continue
		}

		if decls == nil {
			decls = make(map[string]string)
		}
		decls[prefix] = attr.Value
	}

	return decls
}

// withInheritedNamespaces adds declarations for every prefix the fragment
// uses without declaring it itself, taking their values from the ancestor
// scopes.
func withInheritedNamespaces(raw string, ancestors []map[string]string) (string, error) {
	inherited := make(map[string]string)
	for _, scope := range ancestors {
		for prefix, ns := range scope {
			inherited[prefix] = ns
		}
	}

	needed, err := undeclaredPrefixes(raw)
	if err != nil {
		return "", err
	}

	var missing []string
	for _, prefix := range needed {
		if ns, ok := inherited[prefix]; ok && ns != "" {
			missing = append(missing, prefix)
		}
	}

	if len(missing) == 0 {
		return raw, nil
	}

	sort.Strings(missing)

	var decls bytes.Buffer
	for _, prefix := range missing {
		if prefix == "" {
			decls.WriteString(` xmlns="`)
		} else {
			fmt.Fprintf(&decls, ` xmlns:%s="`, prefix)
		}
		if err := xml.EscapeText(&decls, []byte(inherited[prefix])); err != nil {
			return "", err
		}
		decls.WriteByte('"')
	}

	end := strings.IndexAny(raw, " \t\r\n/>")
	if end < 0 {
		return "", fmt.Errorf("unable to find the end of the element name in %q", raw)
	}

	return raw[:end] + decls.String() + raw[end:], nil
}

// undeclaredPrefixes lists the namespace prefixes a fragment uses but never
// declares. An unprefixed element counts as using the default namespace, and
// an attribute value which looks like a QName counts as using its prefix.
func undeclaredPrefixes(raw string) ([]string, error) {
	decoder := xml.NewDecoder(strings.NewReader(raw))

	var scopes []map[string]string
	seen := make(map[string]bool)
	var prefixes []string

	declared := func(prefix string) bool {
		for i := len(scopes) - 1; i >= 0; i-- {
			if _, ok := scopes[i][prefix]; ok {
				return true
			}
		}
		return false
	}
	use := func(prefix string) {
		if prefix == "xml" || seen[prefix] || declared(prefix) {
			return
		}
		seen[prefix] = true
		prefixes = append(prefixes, prefix)
	}

	for {
		tok, err := decoder.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to parse the feature member: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			scopes = append(scopes, namespaceDeclarations(t.Attr))
			use(t.Name.Space)

			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || (attr.Name.Space == "" && attr.Name.Local == "xmlns") {
					continue
				}
				if attr.Name.Space != "" {
					use(attr.Name.Space)
				}
				if prefix, ok := qnamePrefix(attr.Value); ok {
					use(prefix)
				}
			}

		case xml.EndElement:
			scopes = scopes[:len(scopes)-1]
		}
	}

	return prefixes, nil
}

// qnamePrefix gets the prefix of a value shaped like "prefix:local".
func qnamePrefix(value string) (string, bool) {
	prefix, local, ok := strings.Cut(value, ":")
	if !ok || !isNCName(prefix) || !isNCName(local) {
		return "", false
	}

	return prefix, true
}

func isNCName(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}

	return true
}
