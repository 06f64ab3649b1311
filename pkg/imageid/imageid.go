// Package imageid parses compound image addresses of the form
//
//	<scheme>:<filePath>#orientation=<plane|rx,ry,rz,cx,cy,cz>&position=<x,y,z>&index=<n>&timepoint=<t>
//
// into ImageID values. The file path identifies the stack (and its frame of
// reference); the fragment addresses one slice of it.
package imageid

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"mprslicer/internal/models"
)

// ImageID is the structured form of an image address. It is a comparable
// value: equal addresses parse to equal ImageIDs.
type ImageID struct {
	// URL is the address exactly as given to Parse.
	URL string

	// Scheme names the loader the address is meant for (e.g. "mpr").
	Scheme string

	// FilePath locates the stack. It doubles as the frame of reference.
	FilePath string

	// StackID is the canonical cache and deduplication key.
	StackID string

	// Plane is set for volume-native orientations; Oblique means Cosines
	// holds explicit row and column cosines.
	Plane models.Plane

	// Cosines holds the row cosines followed by the column cosines when
	// Plane is Oblique.
	Cosines [6]float64

	Position    [3]float64
	HasPosition bool

	Index    int
	HasIndex bool

	Timepoint int
}

// Parse converts an address into an ImageID. Any malformed address yields a
// *models.ParseError.
func Parse(address string) (ImageID, error) {
	fail := func(reason string, err error) (ImageID, error) {
		return ImageID{}, &models.ParseError{Address: address, Reason: reason, Err: err}
	}

	scheme, rest, ok := strings.Cut(address, ":")
	if !ok {
		return fail("missing scheme separator", nil)
	}
	if !validScheme(scheme) {
		return fail("invalid scheme", nil)
	}

	filePath, fragment, _ := strings.Cut(rest, "#")
	if filePath == "" {
		return fail("empty file path", nil)
	}

	id := ImageID{
		URL:      address,
		Scheme:   scheme,
		FilePath: filePath,
		StackID:  scheme + ":" + filePath,
		Plane:    models.Axial,
	}
	if fragment == "" {
		return id, nil
	}

	values, err := parseFragment(fragment)
	if err != nil {
		return fail("malformed fragment", err)
	}

	for key, vals := range values {
		if len(vals) != 1 {
			return fail(fmt.Sprintf("duplicate key %q", key), nil)
		}
		v := vals[0]

		switch key {
		case "orientation":
			if plane, ok := models.ParsePlane(v); ok {
				id.Plane = plane
				continue
			}
			nums, err := parseFloats(v, 6)
			if err != nil {
				return fail("invalid orientation", err)
			}
			id.Plane = models.Oblique
			copy(id.Cosines[:], nums)
		case "position":
			nums, err := parseFloats(v, 3)
			if err != nil {
				return fail("invalid position", err)
			}
			copy(id.Position[:], nums)
			id.HasPosition = true
		case "index":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fail("invalid index", err)
			}
			id.Index = n
			id.HasIndex = true
		case "timepoint":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fail("invalid timepoint", err)
			}
			id.Timepoint = n
		default:
			return fail(fmt.Sprintf("unknown key %q", key), nil)
		}
	}

	if id.HasIndex && id.HasPosition {
		return fail("index and position are mutually exclusive", nil)
	}
	return id, nil
}

// String encodes the canonical address for id. Parsing the result yields an
// ImageID equal to id apart from URL, which holds the canonical form.
func (id ImageID) String() string {
	var b strings.Builder
	b.WriteString(id.Scheme)
	b.WriteByte(':')
	b.WriteString(id.FilePath)
	b.WriteString("#orientation=")
	if id.Plane == models.Oblique {
		b.WriteString(formatFloats(id.Cosines[:]))
	} else {
		b.WriteString(id.Plane.String())
	}
	if id.HasPosition {
		b.WriteString("&position=")
		b.WriteString(formatFloats(id.Position[:]))
	}
	if id.HasIndex {
		b.WriteString("&index=")
		b.WriteString(strconv.Itoa(id.Index))
	}
	if id.Timepoint != 0 {
		b.WriteString("&timepoint=")
		b.WriteString(strconv.Itoa(id.Timepoint))
	}
	return b.String()
}

// WithIndex returns a copy of id addressing slice index i of the same
// orientation.
func (id ImageID) WithIndex(i int) ImageID {
	id.Index = i
	id.HasIndex = true
	id.HasPosition = false
	id.Position = [3]float64{}
	id.URL = id.String()
	return id
}

// RowCosines returns the requested row direction.
func (id ImageID) RowCosines() [3]float64 {
	return [3]float64{id.Cosines[0], id.Cosines[1], id.Cosines[2]}
}

// ColumnCosines returns the requested column direction.
func (id ImageID) ColumnCosines() [3]float64 {
	return [3]float64{id.Cosines[3], id.Cosines[4], id.Cosines[5]}
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// parseFragment splits key=value pairs on '&'. Escapes are decoded as in a
// path, so '+' stays a plus sign (as in 1e+3).
func parseFragment(fragment string) (map[string][]string, error) {
	values := make(map[string][]string)
	for _, pair := range strings.Split(fragment, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key, err := url.PathUnescape(key)
		if err != nil {
			return nil, err
		}
		value, err = url.PathUnescape(value)
		if err != nil {
			return nil, err
		}
		values[key] = append(values[key], value)
	}
	return values, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("value %q is not finite", p)
		}
		out[i] = v
	}
	return out, nil
}

func formatFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
