package osc

import (
	"errors"
	"regexp"
	"strings"
)

// Possible errors while handling OSC addresses.
var (
	ErrNeedsConcrete = errors.New("at least one address must be concrete")
	ErrJoinPattern   = errors.New(`cannot join with another "//" address`)
)

// matchChars are the characters that give an address pattern matching
// behaviour.
const matchChars = "?*[]{}"

// AddressPart is one part of an Address, delimited by forward slash.
type AddressPart struct {
	text   string
	isRoot bool

	compiled    bool
	re          *regexp.Regexp
	hasWildcard bool
}

// NewAddressPart creates a part from its textual form. isRoot marks the
// first part of an absolute address.
func NewAddressPart(text string, isRoot bool) *AddressPart {
	return &AddressPart{text: text, isRoot: isRoot}
}

// Text returns the address part as a string.
func (p *AddressPart) Text() string { return p.text }

// IsRoot reports whether this is the first part of an absolute Address.
func (p *AddressPart) IsRoot() bool { return p.isRoot }

// Name returns the part text stripped of any slashes, the plain node name
// the part refers to when it is concrete.
func (p *AddressPart) Name() string { return strings.Trim(p.text, "/") }

// Equal reports whether both parts have the same text and root flag.
func (p *AddressPart) Equal(other *AddressPart) bool {
	return p.text == other.text && p.isRoot == other.isRoot
}

// HasWildcard reports whether the part contains any pattern matching
// characters.
func (p *AddressPart) HasWildcard() bool {
	p.compile()
	return p.hasWildcard
}

// Match matches this part against another using OSC pattern matching. If
// either side carries wildcards its compiled expression must fully match
// the other side's Name; two literal parts compare by Name, so a leading
// "//" marker slash is ignored.
func (p *AddressPart) Match(other *AddressPart) bool {
	p.compile()
	other.compile()

	switch {
	case p.hasWildcard:
		return p.re != nil && p.re.MatchString(other.Name())
	case other.hasWildcard:
		return other.re != nil && other.re.MatchString(p.Name())
	default:
		return p.Name() == other.Name()
	}
}

// compile translates the OSC glob syntax to a regular expression, memoising
// the result:
//
//	osc style: [a-d]  [!a-d]  {foo,bar}  a?c  *
//	re style:  [a-d]  [^a-d]  (foo|bar)  a\w?c  [\w|\+]*
func (p *AddressPart) compile() {
	if p.compiled {
		return
	}
	p.compiled = true

	pattern := p.Name()
	if strings.Contains(pattern, "*") {
		pattern = strings.ReplaceAll(pattern, "*", `[\w|\+]*`)
		p.hasWildcard = true
	}
	if strings.Contains(pattern, "[") {
		p.hasWildcard = true
	}
	if strings.Contains(pattern, "[!") {
		pattern = strings.ReplaceAll(pattern, "[!", "[^")
		p.hasWildcard = true
	}
	for _, r := range [][2]string{{"{", "("}, {",", "|"}, {"}", ")"}} {
		if strings.Contains(pattern, r[0]) {
			pattern = strings.ReplaceAll(pattern, r[0], r[1])
			p.hasWildcard = true
		}
	}
	if strings.Contains(pattern, "?") {
		pattern = strings.ReplaceAll(pattern, "?", `\w?`)
		p.hasWildcard = true
	}

	if !p.hasWildcard {
		return
	}

	re, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
	if err != nil {
		// A malformed glob never matches anything.
		return
	}
	p.re = re
}

func (p *AddressPart) String() string {
	if p.isRoot {
		return "/" + p.text
	}

	return p.text
}

// Address is an OSC address pattern together with its parts.
type Address struct {
	// Pattern is the OSC address string.
	Pattern string

	parts    []*AddressPart
	concrete bool
}

// NewAddress parses an OSC address string into an Address.
//
// If the pattern contains "//", only the substring after the last "//" is
// considered for the parts; the first part keeps a leading slash to preserve
// that marker when serialising.
func NewAddress(pattern string) Address {
	if pattern == "" {
		pattern = "/"
	}

	return Address{
		Pattern:  pattern,
		parts:    patternToParts(pattern),
		concrete: patternIsConcrete(pattern),
	}
}

// AddressFromParts builds an Address from a sequence of parts.
func AddressFromParts(parts []*AddressPart) Address {
	pattern := PartsToPattern(parts)

	return Address{
		Pattern:  pattern,
		parts:    parts,
		concrete: patternIsConcrete(pattern),
	}
}

// PartsToPattern converts the given parts to an OSC address string.
func PartsToPattern(parts []*AddressPart) string {
	if len(parts) == 0 {
		return "/"
	}

	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		texts = append(texts, part.text)
	}

	pattern := strings.Join(texts, "/")
	if parts[0].isRoot {
		pattern = "/" + pattern
	}

	return pattern
}

func patternToParts(pattern string) []*AddressPart {
	var parts []*AddressPart

	if strings.Contains(pattern, "//") {
		segments := strings.Split(pattern, "//")
		for i, part := range strings.Split(segments[len(segments)-1], "/") {
			if len(part) == 0 {
				continue
			}
			if i == 0 {
				part = "/" + part
			}
			parts = append(parts, NewAddressPart(part, i == 0))
		}

		return parts
	}

	isRoot := strings.HasPrefix(pattern, "/")
	for i, part := range strings.Split(strings.TrimLeft(pattern, "/"), "/") {
		if len(part) == 0 {
			continue
		}
		parts = append(parts, NewAddressPart(part, isRoot && i == 0))
	}

	return parts
}

func patternIsConcrete(pattern string) bool {
	if strings.Contains(pattern, "//") {
		return false
	}

	return !strings.ContainsAny(pattern, matchChars)
}

// IsConcrete reports whether the address contains no pattern matching
// characters and no "//" marker.
func (a Address) IsConcrete() bool { return a.concrete }

// Len returns the number of parts.
func (a Address) Len() int { return len(a.parts) }

// Parts returns the parts derived from the pattern.
func (a Address) Parts() []*AddressPart { return a.parts }

// At returns the part at the given index.
func (a Address) At(i int) *AddressPart { return a.parts[i] }

// Equal reports whether both addresses consist of equal parts.
func (a Address) Equal(other Address) bool {
	if len(a.parts) != len(other.parts) {
		return false
	}
	for i, part := range a.parts {
		if !part.Equal(other.parts[i]) {
			return false
		}
	}

	return true
}

// Slice returns a new Address holding the parts in [start, end). When the
// slice does not include index zero, the new first part loses its root flag.
func (a Address) Slice(start, end int) Address {
	parts := a.parts[start:end]
	if start > 0 && len(parts) > 0 {
		sliced := make([]*AddressPart, len(parts))
		copy(sliced, parts)
		sliced[0] = NewAddressPart(parts[0].text, false)
		parts = sliced
	}

	return AddressFromParts(parts)
}

// Join appends the given address pattern, separated by "/". Joining with a
// "//" pattern fails with ErrJoinPattern.
func (a Address) Join(pattern string) (Address, error) {
	return a.JoinAddress(NewAddress(pattern))
}

// JoinAddress appends the parts of another Address.
func (a Address) JoinAddress(other Address) (Address, error) {
	if strings.Contains(other.Pattern, "//") {
		return Address{}, ErrJoinPattern
	}

	parts := make([]*AddressPart, 0, len(a.parts)+len(other.parts))
	parts = append(parts, a.parts...)
	parts = append(parts, other.parts...)

	return AddressFromParts(parts), nil
}

// MatchPattern matches the address against the given pattern string.
func (a Address) MatchPattern(pattern string) (bool, error) {
	return a.Match(NewAddress(pattern))
}

// Match matches this address against another using OSC pattern matching
// rules. Two concrete addresses compare by pattern equality. If both sides
// carry patterns the match is ambiguous and fails with ErrNeedsConcrete.
func (a Address) Match(other Address) (bool, error) {
	if a.concrete && other.concrete {
		return a.Pattern == other.Pattern, nil
	}
	if !a.concrete && !other.concrete {
		return false, ErrNeedsConcrete
	}

	if !strings.Contains(a.Pattern, "//") && !strings.Contains(other.Pattern, "//") {
		if len(a.parts) != len(other.parts) {
			return false, nil
		}
		for i, part := range a.parts {
			if !part.Match(other.parts[i]) {
				return false, nil
			}
		}

		return true, nil
	}

	// Exactly one side carries a "//" marker: walk the concrete side and
	// consume the wildcard side's parts as they match.
	wcParts, parts := a.parts, other.parts
	if strings.Contains(other.Pattern, "//") {
		wcParts, parts = other.parts, a.parts
	}

	i := 0
	for _, part := range parts {
		if i >= len(wcParts) {
			break
		}
		if part.Match(wcParts[i]) {
			i++
		}
	}

	return i == len(wcParts), nil
}

func (a Address) String() string { return a.Pattern }
