// Package catalog loads the issuer and document-format catalog used to
// identify who issued a document and which layout it follows.
package catalog

import (
	"errors"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/docflow/internal/model"
)

// Catalog is the top-level catalog document.
type Catalog struct {
	Issuers []Issuer `yaml:"issuers"`
}

// Issuer describes one document issuer (a forwarder or carrier) and the
// signals that identify it in document text.
type Issuer struct {
	ID       string   `yaml:"id"`
	Code     string   `yaml:"code"`
	Name     string   `yaml:"name"`
	Names    []string `yaml:"names"`     // name variants
	Keywords []string `yaml:"keywords"`  // distinctive phrases
	Patterns []string `yaml:"patterns"`  // reference number formats (regex)
	LogoText []string `yaml:"logo_text"` // text printed near the logo
	Priority int      `yaml:"priority"`
	Formats  []Format `yaml:"formats"`

	patterns []*regexp.Regexp
}

// Format is one document layout produced by an issuer.
type Format struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
	Default  bool     `yaml:"default"`

	patterns []*regexp.Regexp
}

// CompiledPatterns returns the issuer's reference patterns, compiled
// case-insensitively.
func (i *Issuer) CompiledPatterns() []*regexp.Regexp { return i.patterns }

// CompiledPatterns returns the format's patterns, compiled case-insensitively.
func (f *Format) CompiledPatterns() []*regexp.Regexp { return f.patterns }

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	defer f.Close() //nolint:errcheck
	return Parse(f)
}

// Parse decodes, validates and compiles a catalog. Issuers come back ordered
// by priority, highest first; equal priorities keep file order.
func Parse(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrap(err, "catalog: parse")
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(c.Issuers, func(a, b Issuer) int { return b.Priority - a.Priority })
	return &c, nil
}

func (c *Catalog) compile() error {
	issuerIDs := make(map[string]bool, len(c.Issuers))
	formatIDs := make(map[string]bool)
	for i := range c.Issuers {
		iss := &c.Issuers[i]
		if iss.ID == "" {
			return model.NewConfigError("catalog", "issuer %d has no id", i)
		}
		if issuerIDs[iss.ID] {
			return model.NewConfigError("issuer "+iss.ID, "duplicate id")
		}
		issuerIDs[iss.ID] = true
		if iss.Name == "" {
			iss.Name = iss.ID
		}
		if len(iss.Names) == 0 {
			iss.Names = []string{iss.Name}
		}

		var err error
		if iss.patterns, err = compileAll("issuer "+iss.ID, iss.Patterns); err != nil {
			return err
		}

		defaults := 0
		for j := range iss.Formats {
			f := &iss.Formats[j]
			if f.ID == "" {
				return model.NewConfigError("issuer "+iss.ID, "format %d has no id", j)
			}
			if formatIDs[f.ID] {
				return model.NewConfigError("format "+f.ID, "duplicate id")
			}
			formatIDs[f.ID] = true
			if f.Default {
				defaults++
			}
			if f.patterns, err = compileAll("format "+f.ID, f.Patterns); err != nil {
				return err
			}
		}
		if defaults > 1 {
			return model.NewConfigError("issuer "+iss.ID, "more than one default format")
		}
	}
	return nil
}

func compileAll(subject string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, model.NewConfigError(subject, "invalid pattern %q: %v", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Issuer returns the issuer with the given id.
func (c *Catalog) Issuer(id string) (*Issuer, bool) {
	for i := range c.Issuers {
		if c.Issuers[i].ID == id {
			return &c.Issuers[i], true
		}
	}
	return nil, false
}

// IssuerByCode finds an issuer by its short code, ignoring case.
func (c *Catalog) IssuerByCode(code string) (*Issuer, bool) {
	for i := range c.Issuers {
		if strings.EqualFold(c.Issuers[i].Code, code) {
			return &c.Issuers[i], true
		}
	}
	return nil, false
}

// Format returns the format with the given id and the issuer that owns it.
func (c *Catalog) Format(id string) (*Format, *Issuer, bool) {
	for i := range c.Issuers {
		iss := &c.Issuers[i]
		for j := range iss.Formats {
			if iss.Formats[j].ID == id {
				return &iss.Formats[j], iss, true
			}
		}
	}
	return nil, nil, false
}
