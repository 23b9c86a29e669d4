// Package capability implements the delegation/invocation model (§4.5):
// canonical wire encoding, signing, and the verification engine that walks
// a capability's ancestry and checks attenuation.
//
// The canonical text wire format below is grounded on the teacher's catf
// package (Canonical Attestation Text Format): fixed section order, keys
// sorted lexicographically within a section, exactly one blank line between
// sections, no trailing whitespace, and — critically — Parse rejects any
// input that does not re-render to itself byte-for-byte. Kepler reuses that
// discipline for capabilities and invocations instead of plain JSON so a
// capability's CID is well-defined over one canonical byte form.
package capability

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"
)

// SectionOrder is the canonical order of a capability document's sections.
var SectionOrder = []string{"META", "ISSUER", "AUDIENCE", "RESOURCES", "CAVEATS", "PROOF"}

const (
	Preamble  = "-----BEGIN KEPLER CAPABILITY-----"
	Postamble = "-----END KEPLER CAPABILITY-----"
)

// Document is the canonical-text in-memory form shared by capabilities and
// invocations; invocations use a subset of sections (no RESOURCES).
type Document struct {
	Meta      map[string]string
	Issuer    map[string]string
	Audience  map[string]string
	Resources map[string]string
	Caveats   map[string]string
	Proof     map[string]string
}

type section struct {
	name  string
	pairs map[string]string
}

// Render produces canonical bytes from doc. Empty sections are still
// emitted (with no key/value lines) so section order stays fixed regardless
// of which fields a capability vs. an invocation populates.
func Render(doc Document) ([]byte, error) {
	sections := []section{
		{"META", doc.Meta},
		{"ISSUER", doc.Issuer},
		{"AUDIENCE", doc.Audience},
		{"RESOURCES", doc.Resources},
		{"CAVEATS", doc.Caveats},
		{"PROOF", doc.Proof},
	}

	var sb strings.Builder
	sb.WriteString(Preamble)
	sb.WriteString("\n")

	for i, sec := range sections {
		sb.WriteString(sec.name)
		sb.WriteString("\n")

		keys := make([]string, 0, len(sec.pairs))
		for k := range sec.pairs {
			if k == "" {
				return nil, errors.New("capability: empty key")
			}
			if !isASCII(k) {
				return nil, errors.New("capability: non-ASCII key")
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := sec.pairs[k]
			if v == "" {
				return nil, errors.New("capability: empty value")
			}
			if strings.HasPrefix(v, " ") || strings.HasSuffix(v, " ") || strings.HasSuffix(v, "\t") {
				return nil, errors.New("capability: value has leading/trailing whitespace")
			}
			if strings.ContainsAny(v, "\n\r") {
				return nil, errors.New("capability: value must not contain newlines")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\n")
		}

		if i != len(sections)-1 {
			sb.WriteString("\n")
		}
	}

	sb.WriteString(Postamble)
	return []byte(sb.String()), nil
}

// Parse decodes canonical bytes into a Document, rejecting anything that
// does not re-render to exactly the same bytes.
func Parse(data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("capability: must be valid UTF-8")
	}
	if bytes.Contains(data, []byte("\r")) {
		return nil, errors.New("capability: CR line endings not allowed")
	}
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return nil, errors.New("capability: BOM not allowed")
	}
	if !bytes.HasPrefix(data, []byte(Preamble)) {
		return nil, errors.New("capability: missing preamble")
	}
	if !bytes.HasSuffix(data, []byte(Postamble)) {
		return nil, errors.New("capability: missing postamble")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t') {
			return nil, errors.New("capability: trailing whitespace forbidden")
		}
	}

	sections := make(map[string]map[string]string)
	reader := bufio.NewReader(bytes.NewReader(data))
	readLine := func() (string, error) {
		l, err := reader.ReadString('\n')
		if err == io.EOF {
			return strings.TrimRight(l, "\n"), io.EOF
		}
		if err != nil {
			return "", err
		}
		return strings.TrimRight(l, "\n"), nil
	}

	first, err := readLine()
	if err != nil && err != io.EOF {
		return nil, err
	}
	if first != Preamble {
		return nil, errors.New("capability: preamble must be exact and on its own line")
	}

	sectionIndex := -1
	var currSection string
	var currPairs map[string]string
	var currKeyOrder []string
	seenSection := map[string]bool{}
	afterSeparator := false
	seenAny := false

	flush := func() error {
		if currSection == "" {
			return nil
		}
		sorted := append([]string(nil), currKeyOrder...)
		sort.Strings(sorted)
		if len(sorted) != len(currKeyOrder) {
			return errors.New("capability: duplicate keys in section")
		}
		for i := range sorted {
			if sorted[i] != currKeyOrder[i] {
				return errors.New("capability: keys not sorted lexicographically")
			}
		}
		sections[currSection] = currPairs
		currSection, currPairs, currKeyOrder = "", nil, nil
		return nil
	}

	for {
		line, rerr := readLine()
		if rerr != nil && rerr != io.EOF {
			return nil, rerr
		}

		if line == Postamble {
			if afterSeparator {
				return nil, errors.New("capability: unexpected blank line before postamble")
			}
			if err := flush(); err != nil {
				return nil, err
			}
			break
		}

		if isSectionHeader(line) {
			seenAny = true
			if currSection != "" {
				return nil, errors.New("capability: missing blank line between sections")
			}
			if seenSection[line] {
				return nil, errors.New("capability: duplicate section")
			}
			if err := flush(); err != nil {
				return nil, err
			}
			sectionIndex++
			if sectionIndex >= len(SectionOrder) || SectionOrder[sectionIndex] != line {
				return nil, errors.New("capability: sections missing or out of order")
			}
			if sectionIndex == 0 && afterSeparator {
				return nil, errors.New("capability: blank line before first section not allowed")
			}
			if sectionIndex > 0 && !afterSeparator {
				return nil, errors.New("capability: missing blank line between sections")
			}
			afterSeparator = false
			seenSection[line] = true
			currSection = line
			currPairs = make(map[string]string)
			continue
		}

		if !seenAny {
			return nil, errors.New("capability: unexpected content before first section")
		}

		if line == "" {
			if currSection == "" {
				return nil, errors.New("capability: blank line outside section")
			}
			if currSection == "PROOF" {
				return nil, errors.New("capability: blank line after PROOF not allowed")
			}
			if afterSeparator {
				return nil, errors.New("capability: multiple blank lines between sections")
			}
			if err := flush(); err != nil {
				return nil, err
			}
			afterSeparator = true
			continue
		}

		if currSection == "" {
			return nil, errors.New("capability: content outside section")
		}
		if afterSeparator {
			return nil, errors.New("capability: expected section header after blank line")
		}
		key, val, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, errors.New("capability: invalid key-value formatting")
		}
		if key == "" || !isASCII(key) {
			return nil, errors.New("capability: invalid key")
		}
		if strings.HasPrefix(val, " ") {
			return nil, errors.New("capability: value must not start with a space")
		}
		if _, exists := currPairs[key]; exists {
			return nil, errors.New("capability: duplicate key in section")
		}
		currPairs[key] = val
		currKeyOrder = append(currKeyOrder, key)

		if rerr == io.EOF {
			return nil, errors.New("capability: missing postamble")
		}
	}

	for _, s := range SectionOrder {
		if !seenSection[s] {
			sections[s] = map[string]string{}
		}
	}

	doc := &Document{
		Meta:      sections["META"],
		Issuer:    sections["ISSUER"],
		Audience:  sections["AUDIENCE"],
		Resources: sections["RESOURCES"],
		Caveats:   sections["CAVEATS"],
		Proof:     sections["PROOF"],
	}

	canonical, err := Render(*doc)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(data, canonical) {
		return nil, errors.New("capability: non-canonical encoding")
	}
	return doc, nil
}

// SignedScope returns the canonical bytes covering every section up to and
// including CAVEATS — the portion a signature in PROOF attests to. It is
// recovered positionally (everything before the blank line preceding the
// PROOF header), mirroring the teacher's BEGIN..end-of-CLAIMS scope.
func SignedScope(canonical []byte) ([]byte, error) {
	marker := []byte("\nPROOF\n")
	idx := bytes.Index(canonical, marker)
	if idx < 0 {
		return nil, fmt.Errorf("capability: cannot determine signature scope")
	}
	return canonical[:idx+1], nil
}

func isSectionHeader(line string) bool {
	for _, s := range SectionOrder {
		if line == s {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
