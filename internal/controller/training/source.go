package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/engine"
	"github.com/kennethnrk/echo/internal/model"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrInvalidProjectID = errors.New("invalid project id")
	ErrModelNotFound    = errors.New("project has no trained model")
	ErrInvalidUpload    = errors.New("invalid upload name")
)

// ProjectSource supplies training data and output locations for projects.
type ProjectSource interface {
	// Project returns the modality and inputs of a project. Image patterns
	// are resolved to readable file paths.
	Project(ctx context.Context, projectID string) (constants.Modality, []model.Input, error)
	// OutputDir is where the trained model of a project lives.
	OutputDir(projectID string) string
	// ResolveUpload maps an uploaded file name to its path.
	ResolveUpload(projectID, name string) (string, error)
}

// Source file layout under the projects root:
//
//	<root>/<id>/source.json
//	<root>/<id>/uploads/<file>
//	<root>/<id>/output/{model.json,weights.bin,output.json}
const (
	SourceFile = "source.json"
	UploadsDir = "uploads"
	OutputDir  = "output"
)

type sourceDocument struct {
	Type   constants.Modality `json:"type"`
	Inputs []model.Input      `json:"inputs"`
}

// FSSource reads projects from a directory tree.
type FSSource struct {
	Root string
}

// NewFSSource returns a source rooted at root.
func NewFSSource(root string) *FSSource {
	return &FSSource{Root: root}
}

// ValidateUploadName accepts only bare file names, never paths.
func ValidateUploadName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return fmt.Errorf("%w: %q", ErrInvalidUpload, name)
	}
	return nil
}

// ValidateProjectID rejects ids that could escape the projects root.
func ValidateProjectID(projectID string) error {
	if projectID == "" || projectID == "." || projectID == ".." || strings.ContainsAny(projectID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, projectID)
	}
	return nil
}

func (s *FSSource) projectDir(projectID string) (string, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return "", err
	}
	return filepath.Join(s.Root, projectID), nil
}

// Project implements ProjectSource.
func (s *FSSource) Project(ctx context.Context, projectID string) (constants.Modality, []model.Input, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, SourceFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return "", nil, fmt.Errorf("read project source: %w", err)
	}

	var doc sourceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("parse project source %s: %w", projectID, err)
	}
	modality, ok := constants.ParseModality(string(doc.Type))
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", engine.ErrUnknownModality, doc.Type)
	}

	if modality == constants.ModalityImage {
		for i := range doc.Inputs {
			resolved := make([]string, len(doc.Inputs[i].Patterns))
			for j, p := range doc.Inputs[i].Patterns {
				if resolved[j], err = s.ResolveUpload(projectID, p); err != nil {
					return "", nil, err
				}
			}
			doc.Inputs[i].Patterns = resolved
		}
	}
	return modality, doc.Inputs, nil
}

// OutputDir implements ProjectSource.
func (s *FSSource) OutputDir(projectID string) string {
	return filepath.Join(s.Root, filepath.Base(projectID), OutputDir)
}

// ResolveUpload implements ProjectSource. Only the base name of name is used.
func (s *FSSource) ResolveUpload(projectID, name string) (string, error) {
	dir, err := s.projectDir(projectID)
	if err != nil {
		return "", err
	}
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUpload, name)
	}
	return filepath.Join(dir, UploadsDir, base), nil
}
