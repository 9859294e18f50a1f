package domain

import (
	"fmt"
	"strings"
)

// Location is a known airport or city code.
type Location struct {
	Code string `mapstructure:"code" json:"code"`
	Name string `mapstructure:"name" json:"name"`
}

// DefaultLocations is used when configuration does not supply a catalog.
var DefaultLocations = []Location{
	{Code: "GRU", Name: "São Paulo"},
	{Code: "GIG", Name: "Rio de Janeiro"},
	{Code: "BSB", Name: "Brasília"},
	{Code: "SSA", Name: "Salvador"},
	{Code: "REC", Name: "Recife"},
	{Code: "FOR", Name: "Fortaleza"},
	{Code: "POA", Name: "Porto Alegre"},
	{Code: "CNF", Name: "Belo Horizonte"},
	{Code: "CWB", Name: "Curitiba"},
	{Code: "FLN", Name: "Florianópolis"},
	{Code: "BEL", Name: "Belém"},
	{Code: "MAO", Name: "Manaus"},
}

// Catalog is the ordered, fixed set of known locations.
type Catalog struct {
	locations []Location
	index     map[string]int
}

// NewCatalog builds a catalog; codes are upper-cased and must be unique.
func NewCatalog(locations []Location) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(locations))}
	for _, loc := range locations {
		code := strings.ToUpper(strings.TrimSpace(loc.Code))
		if code == "" {
			return nil, fmt.Errorf("location with empty code")
		}
		if code == AnyDestination {
			return nil, fmt.Errorf("location code %q is reserved", code)
		}
		if _, dup := c.index[code]; dup {
			return nil, fmt.Errorf("duplicate location code %q", code)
		}
		name := strings.TrimSpace(loc.Name)
		if name == "" {
			name = code
		}
		c.index[code] = len(c.locations)
		c.locations = append(c.locations, Location{Code: code, Name: name})
	}
	if len(c.locations) < 2 {
		return nil, fmt.Errorf("catalog needs at least two locations")
	}
	return c, nil
}

// MustCatalog panics on an invalid catalog. Intended for tests and defaults.
func MustCatalog(locations []Location) *Catalog {
	c, err := NewCatalog(locations)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup resolves a code case-insensitively.
func (c *Catalog) Lookup(code string) (Location, bool) {
	i, ok := c.index[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Location{}, false
	}
	return c.locations[i], true
}

func (c *Catalog) Known(code string) bool {
	_, ok := c.Lookup(code)
	return ok
}

// All returns the locations in catalog order.
func (c *Catalog) All() []Location {
	out := make([]Location, len(c.locations))
	copy(out, c.locations)
	return out
}

// Codes returns every code in catalog order.
func (c *Catalog) Codes() []string {
	out := make([]string, 0, len(c.locations))
	for _, loc := range c.locations {
		out = append(out, loc.Code)
	}
	return out
}

// Except returns the locations other than code, in catalog order.
func (c *Catalog) Except(code string) []Location {
	code = strings.ToUpper(code)
	out := make([]Location, 0, len(c.locations))
	for _, loc := range c.locations {
		if loc.Code != code {
			out = append(out, loc)
		}
	}
	return out
}

// Label renders "Name (CODE)", or the bare code for unknown entries.
func (c *Catalog) Label(code string) string {
	loc, ok := c.Lookup(code)
	if !ok {
		return code
	}
	return fmt.Sprintf("%s (%s)", loc.Name, loc.Code)
}
