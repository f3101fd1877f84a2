// Package contract loads pipeline contracts: YAML documents declaring
// which hooks apply to a pipeline, in which phase, with what priority,
// dependencies, and activation predicates. The core consumes contracts
// as already-validated declarations; hook-specific config passes through
// opaquely.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/watzon/conduit/internal/hook"
	"github.com/watzon/conduit/internal/registry"
)

var (
	ErrInvalidContract = errors.New("invalid contract")
	ErrNoPipeline      = errors.New("contract missing pipeline name")
)

// HookDecl is one hook declaration as authored in a contract file.
type HookDecl struct {
	Name       string         `yaml:"name"`
	Phase      string         `yaml:"phase"`
	Priority   int            `yaml:"priority"`
	DependsOn  []string       `yaml:"depends_on"`
	Capability string         `yaml:"capability"`
	Category   string         `yaml:"category"`
	Handler    string         `yaml:"handler"`
	When       string         `yaml:"when"`
	Inputs     []string       `yaml:"inputs"`
	Config     map[string]any `yaml:"config"`
}

// File is the raw YAML contract document.
type File struct {
	Pipeline    string     `yaml:"pipeline"`
	Description string     `yaml:"description"`
	Hooks       []HookDecl `yaml:"hooks"`
	// Include and Exclude are glob patterns matched against hook
	// capabilities; an empty include list admits everything.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Contract is a parsed, validated contract ready for registry assembly.
type Contract struct {
	Pipeline    string
	Description string
	Hooks       []hook.Hook
	// ID digests the declarations, identifying the contract in manifests.
	ID string
}

// Load reads and parses a contract file.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contract: %w", err)
	}
	return Parse(data)
}

// Parse validates a contract document and converts its declarations into
// hooks, applying the capability include/exclude filters.
func Parse(data []byte) (*Contract, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContract, err)
	}

	if file.Pipeline == "" {
		return nil, ErrNoPipeline
	}

	include, err := compileGlobs(file.Include)
	if err != nil {
		return nil, fmt.Errorf("%w: include pattern: %w", ErrInvalidContract, err)
	}
	exclude, err := compileGlobs(file.Exclude)
	if err != nil {
		return nil, fmt.Errorf("%w: exclude pattern: %w", ErrInvalidContract, err)
	}

	c := &Contract{
		Pipeline:    file.Pipeline,
		Description: file.Description,
	}

	for _, decl := range file.Hooks {
		if decl.Name == "" {
			return nil, fmt.Errorf("%w: hook with empty name", ErrInvalidContract)
		}

		phase, err := hook.ParsePhase(decl.Phase)
		if err != nil {
			return nil, fmt.Errorf("%w: hook %q: %w", ErrInvalidContract, decl.Name, err)
		}
		category, err := hook.ParseCategory(decl.Category)
		if err != nil {
			return nil, fmt.Errorf("%w: hook %q: %w", ErrInvalidContract, decl.Name, err)
		}

		if !selected(decl.Capability, include, exclude) {
			continue
		}

		c.Hooks = append(c.Hooks, hook.Hook{
			Name:       decl.Name,
			Phase:      phase,
			Priority:   decl.Priority,
			DependsOn:  decl.DependsOn,
			Capability: decl.Capability,
			Category:   category,
			Predicate:  decl.When,
			Inputs:     decl.Inputs,
			Handler:    decl.Handler,
			Config:     decl.Config,
		})
	}

	c.ID = contractID(file)
	return c, nil
}

// BuildRegistry assembles and freezes a registry from the contract,
// binding each hook's implementation from the catalog. Hooks without a
// handler name get a pass-through implementation.
func (c *Contract) BuildRegistry(catalog *hook.Catalog) (*registry.Registry, error) {
	reg := registry.New()

	for _, h := range c.Hooks {
		if h.Handler != "" {
			fn, err := catalog.Bind(h)
			if err != nil {
				return nil, fmt.Errorf("hook %q: %w", h.Name, err)
			}
			h.Func = fn
		}
		if err := reg.Register(h); err != nil {
			return nil, err
		}
	}

	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	return reg, nil
}

// selected applies capability filters. Hooks with no capability are
// always selected; filters only constrain capability-tagged hooks.
func selected(capability string, include, exclude []glob.Glob) bool {
	if capability == "" {
		return true
	}
	for _, g := range exclude {
		if g.Match(capability) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, g := range include {
		if g.Match(capability) {
			return true
		}
	}
	return false
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// contractID digests the full declaration set. encoding/json keys are
// emitted in struct order, so equal documents always produce equal ids.
func contractID(file File) string {
	data, err := json.Marshal(file)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
