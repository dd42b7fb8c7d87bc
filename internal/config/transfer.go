package config

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/roleguard/internal/model"
)

// AssignmentFile is the YAML document used by assignment import and export.
type AssignmentFile struct {
	Assignments []model.RoleAssignment `yaml:"assignments"`
}

// ImportResult summarizes an ImportAssignments run.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

var validate = validator.New()

// ValidateAssignment checks the fields of an assignment before it is stored.
func ValidateAssignment(a *model.RoleAssignment) error {
	if err := validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: assignment %q: field %s failed %q", ErrInvalid, a.Resource, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: assignment %q: %v", ErrInvalid, a.Resource, err)
	}
	return nil
}

// ImportAssignments reads an AssignmentFile from r and upserts every entry by
// (resource, kind). All entries are validated before anything is written.
func (s *Store) ImportAssignments(ctx context.Context, r io.Reader) (ImportResult, error) {
	var res ImportResult

	var file AssignmentFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		return res, fmt.Errorf("%w: parse assignments: %v", ErrInvalid, err)
	}

	for i := range file.Assignments {
		a := &file.Assignments[i]
		if a.Kind == "" {
			a.Kind = model.KindView
		}
		if a.Access == "" {
			a.Access = model.AccessByRole
		}
		if err := ValidateAssignment(a); err != nil {
			return res, fmt.Errorf("entry %d: %w", i+1, err)
		}
	}

	for i := range file.Assignments {
		a := file.Assignments[i]
		existing, err := s.FindAssignment(ctx, a.Resource, a.Kind)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := s.CreateAssignment(ctx, &a); err != nil {
				return res, err
			}
			res.Created++
		case err != nil:
			return res, err
		default:
			a.ID = existing.ID
			if err := s.UpdateAssignment(ctx, &a); err != nil {
				return res, err
			}
			res.Updated++
		}
	}
	return res, nil
}

// ExportAssignments writes every assignment to w as an AssignmentFile.
func (s *Store) ExportAssignments(ctx context.Context, w io.Writer) error {
	list, err := s.ListAssignments(ctx, AssignmentFilter{})
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(AssignmentFile{Assignments: list}); err != nil {
		return fmt.Errorf("encode assignments: %w", err)
	}
	return enc.Close()
}
