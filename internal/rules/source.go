package rules

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
	"gopkg.in/yaml.v3"
)

// document is the on-disk rule source:
//
//	version: "2025.1"
//	policy:
//	  name: standard-outpatient
//	rules:
//	  - id: R1
//	    field: examDate
//	    operator: withinRange
//	    range: {min: "2025-01-01", max: "2025-12-31"}
//	    severity: hard
//	    effect: reject
type document struct {
	Version string `yaml:"version"`
	Policy  struct {
		Name string `yaml:"name"`
	} `yaml:"policy"`
	Rules *[]domain.RuleDefinition `yaml:"rules"`
}

// Load parses and validates a rule source document. Loading is
// all-or-nothing: the first invalid rule rejects the whole document.
func Load(src []byte) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, Message: "empty rule source"}
		}
		return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, Message: err.Error()}
	}
	if doc.Rules == nil {
		return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, Message: "missing rules section"}
	}

	return build(doc.Policy.Name, doc.Version, *doc.Rules, src)
}

// LoadFile reads and loads a rule source document from disk.
func LoadFile(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule source %s: %w", path, err)
	}
	return Load(src)
}

// FromDefinitions builds a catalog from already-decoded definitions.
// The canonical document is re-encoded so the version stays content based.
func FromDefinitions(name, label string, defs []domain.RuleDefinition) (*Catalog, error) {
	doc := document{Version: label, Rules: &defs}
	doc.Policy.Name = name
	src, err := yaml.Marshal(doc)
	if err != nil {
		return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, Message: err.Error()}
	}
	return build(name, label, defs, src)
}

func build(name, label string, defs []domain.RuleDefinition, src []byte) (*Catalog, error) {
	cat := &Catalog{
		name:     name,
		label:    label,
		version:  Version(src),
		rules:    make([]*Rule, 0, len(defs)),
		index:    make(map[string]*Rule, len(defs)),
		source:   append([]byte(nil), src...),
		loadedAt: time.Now().UTC(),
	}

	for _, def := range defs {
		if _, dup := cat.index[def.ID]; dup && def.ID != "" {
			return nil, &domain.RuleLoadError{
				Kind:    domain.RuleLoadDuplicateID,
				RuleID:  def.ID,
				Message: fmt.Sprintf("rule id %q is declared more than once", def.ID),
			}
		}

		rule, lerr := compileRule(def)
		if lerr != nil {
			return nil, lerr
		}
		cat.rules = append(cat.rules, rule)
		cat.index[rule.ID] = rule
	}

	return cat, nil
}

// Version returns the content version of a rule source: the first 16 hex
// characters of its SHA-256.
func Version(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])[:16]
}
