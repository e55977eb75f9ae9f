package recipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	requirementsFile = "requirements.md"
	designFile       = "design.md"
	metadataFile     = "recipe.yaml"
)

// Requirement bullets look like:
//
//	- req_7 [MUST] Parse all three artifacts
//	  - criteria: returns ParseError on missing artifact
var (
	requirementLineRegex = regexp.MustCompile(`^-\s+([a-zA-Z][a-zA-Z0-9_]*)\s+\[(MUST|SHOULD|COULD)\]\s+(.+)$`)
	criteriaLineRegex    = regexp.MustCompile(`^\s+-\s+criteria:\s*(.+)$`)
	componentHeaderRegex = regexp.MustCompile(`^###\s+(.+)$`)
	sectionHeaderRegex   = regexp.MustCompile(`^##\s+(.+)$`)
	interfaceLineRegex   = regexp.MustCompile("^Interface:\\s*`?([^`]+)`?\\s*$")
)

// LoadAll walks a collection root and loads every recipe directory found
// beneath it. A directory is a recipe if it contains recipe.yaml. Returns
// the recipes keyed by name; duplicate names are a ParseError.
func LoadAll(root string) (map[string]*Recipe, error) {
	recipes := make(map[string]*Recipe)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, statErr := os.Stat(filepath.Join(path, metadataFile)); statErr != nil {
			return nil
		}

		r, loadErr := Load(path)
		if loadErr != nil {
			return loadErr
		}
		if existing, ok := recipes[r.Name]; ok {
			return &ParseError{
				Recipe:   r.Name,
				Artifact: metadataFile,
				Msg:      fmt.Sprintf("duplicate recipe name (also defined in %s)", existing.Location),
			}
		}
		recipes[r.Name] = r
		return filepath.SkipDir // recipe directories do not nest
	})
	if err != nil {
		return nil, err
	}

	if len(recipes) == 0 {
		return nil, &ParseError{
			Recipe:   root,
			Artifact: metadataFile,
			Msg:      "no recipes found under collection root",
		}
	}

	slog.Debug("loaded recipe collection", "root", root, "count", len(recipes))
	return recipes, nil
}

// Load reads the three artifacts from one recipe directory and produces a
// validated Recipe with its content checksum.
func Load(dir string) (*Recipe, error) {
	metaText, err := readArtifact(dir, metadataFile)
	if err != nil {
		return nil, err
	}
	reqText, err := readArtifact(dir, requirementsFile)
	if err != nil {
		return nil, err
	}
	designText, err := readArtifact(dir, designFile)
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := yaml.Unmarshal([]byte(metaText), &meta); err != nil {
		return nil, &ParseError{Recipe: dir, Artifact: metadataFile, Msg: "invalid YAML", Err: err}
	}
	if err := meta.Validate(); err != nil {
		return nil, &ParseError{Recipe: dir, Artifact: metadataFile, Msg: "invalid metadata", Err: err}
	}

	reqs, err := ParseRequirements(meta.Name, reqText)
	if err != nil {
		return nil, err
	}
	design, err := ParseDesign(meta.Name, designText)
	if err != nil {
		return nil, err
	}

	r := &Recipe{
		Name:             meta.Name,
		Location:         dir,
		Requirements:     reqs,
		Design:           design,
		Metadata:         &meta,
		RequirementsText: reqText,
		DesignText:       designText,
		MetadataText:     metaText,
		ContentChecksum:  Checksum(reqText, designText, metaText),
		LoadedAt:         time.Now(),
	}
	if err := r.Validate(); err != nil {
		return nil, &ParseError{Recipe: meta.Name, Artifact: metadataFile, Msg: "validation failed", Err: err}
	}
	return r, nil
}

// Checksum computes the content checksum over the three source texts.
// The concatenation order is fixed: requirements, design, metadata.
func Checksum(requirements, design, metadata string) string {
	h := sha256.New()
	h.Write([]byte(requirements))
	h.Write([]byte(design))
	h.Write([]byte(metadata))
	return hex.EncodeToString(h.Sum(nil))
}

func readArtifact(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", &ParseError{Recipe: dir, Artifact: name, Msg: "artifact missing or unreadable", Err: err}
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", &ParseError{Recipe: dir, Artifact: name, Msg: "artifact is empty"}
	}
	return string(data), nil
}

// ParseRequirements parses a requirements document. Requirements are
// bullets with an id, a priority marker, and a description; indented
// "criteria:" bullets attach validation criteria to the preceding
// requirement.
func ParseRequirements(recipeName, text string) (*RequirementSet, error) {
	rs := &RequirementSet{}
	seen := make(map[string]int)

	section := ""
	var current *Requirement
	var purpose []string

	for lineNum, line := range strings.Split(text, "\n") {
		if m := sectionHeaderRegex.FindStringSubmatch(line); m != nil {
			section = strings.ToLower(strings.TrimSpace(m[1]))
			current = nil
			continue
		}

		switch {
		case strings.HasPrefix(section, "purpose"):
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				purpose = append(purpose, trimmed)
			}

		case strings.HasPrefix(section, "functional requirements"):
			if m := requirementLineRegex.FindStringSubmatch(line); m != nil {
				id := m[1]
				if prev, dup := seen[id]; dup {
					return nil, &ParseError{
						Recipe:   recipeName,
						Artifact: requirementsFile,
						Location: fmt.Sprintf("line %d", lineNum+1),
						Msg:      fmt.Sprintf("duplicate requirement id %s (first defined on line %d)", id, prev+1),
					}
				}
				seen[id] = lineNum
				rs.Requirements = append(rs.Requirements, Requirement{
					ID:          id,
					Priority:    Priority(m[2]),
					Description: strings.TrimSpace(m[3]),
				})
				current = &rs.Requirements[len(rs.Requirements)-1]
				continue
			}
			if m := criteriaLineRegex.FindStringSubmatch(line); m != nil {
				if current == nil {
					return nil, &ParseError{
						Recipe:   recipeName,
						Artifact: requirementsFile,
						Location: fmt.Sprintf("line %d", lineNum+1),
						Msg:      "criteria bullet without a preceding requirement",
					}
				}
				current.ValidationCriteria = append(current.ValidationCriteria, strings.TrimSpace(m[1]))
				continue
			}
			// Malformed requirement-looking bullets are errors, not silently skipped
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "- ") && strings.Contains(trimmed, "[") {
				return nil, &ParseError{
					Recipe:   recipeName,
					Artifact: requirementsFile,
					Location: fmt.Sprintf("line %d", lineNum+1),
					Msg:      fmt.Sprintf("malformed requirement bullet: %q", trimmed),
				}
			}

		case strings.HasPrefix(section, "success criteria"):
			if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "- ") {
				rs.SuccessCriteria = append(rs.SuccessCriteria, strings.TrimPrefix(trimmed, "- "))
			}
		}
	}

	rs.Purpose = strings.Join(purpose, "\n")
	if len(rs.Requirements) == 0 {
		return nil, &ParseError{
			Recipe:   recipeName,
			Artifact: requirementsFile,
			Msg:      "no requirements found (expected a '## Functional Requirements' section)",
		}
	}
	return rs, nil
}

// ParseDesign parses a design document: an architecture narrative, a
// component list ("### Name" headers under "## Components"), and an
// interface list.
func ParseDesign(recipeName, text string) (*Design, error) {
	d := &Design{}

	section := ""
	var arch []string
	var current *ComponentDesign

	for _, line := range strings.Split(text, "\n") {
		if m := sectionHeaderRegex.FindStringSubmatch(line); m != nil {
			section = strings.ToLower(strings.TrimSpace(m[1]))
			current = nil
			continue
		}

		switch {
		case strings.HasPrefix(section, "architecture"):
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				arch = append(arch, trimmed)
			}

		case strings.HasPrefix(section, "components"):
			if m := componentHeaderRegex.FindStringSubmatch(line); m != nil {
				d.Components = append(d.Components, ComponentDesign{Name: strings.TrimSpace(m[1])})
				current = &d.Components[len(d.Components)-1]
				continue
			}
			if current == nil {
				continue
			}
			if m := interfaceLineRegex.FindStringSubmatch(line); m != nil {
				current.Interfaces = append(current.Interfaces, strings.TrimSpace(m[1]))
				continue
			}
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				if current.Responsibility != "" {
					current.Responsibility += " "
				}
				current.Responsibility += trimmed
			}

		case strings.HasPrefix(section, "interfaces"):
			if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "- ") {
				d.Interfaces = append(d.Interfaces, strings.TrimPrefix(trimmed, "- "))
			}
		}
	}

	d.ArchitectureSummary = strings.Join(arch, "\n")
	if len(d.Components) == 0 {
		return nil, &ParseError{
			Recipe:   recipeName,
			Artifact: designFile,
			Msg:      "no components found (expected '### Name' headers under '## Components')",
		}
	}
	return d, nil
}
