package fieldops

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/schema"
)

// OptionsUpdater replaces the options of one field.
type OptionsUpdater interface {
	UpdateFieldOptions(ctx context.Context, baseID, tableID, fieldID string, options core.FieldOptions) (*core.FieldSchema, error)
}

// Service applies choice edits to select fields of a live base.
type Service struct {
	Schema  *schema.Cache
	Updater OptionsUpdater
	Logger  *logging.Logger
}

// Choices lists the current choices of a select field.
func (s *Service) Choices(ctx context.Context, baseID, table, field string) ([]core.Choice, error) {
	_, fieldSchema, err := s.selectField(ctx, baseID, table, field)
	if err != nil {
		return nil, err
	}
	if fieldSchema.Options == nil {
		return []core.Choice{}, nil
	}
	return fieldSchema.Options.Choices, nil
}

// Rename relabels a choice everywhere it is used.
func (s *Service) Rename(ctx context.Context, baseID, table, field, oldName, newName string) (*core.FieldSchema, error) {
	return s.edit(ctx, baseID, table, field, "rename", func(choices []core.Choice) ([]core.Choice, error) {
		return RenameChoice(choices, oldName, newName)
	})
}

// Add appends a choice.
func (s *Service) Add(ctx context.Context, baseID, table, field, name, color string) (*core.FieldSchema, error) {
	return s.edit(ctx, baseID, table, field, "add", func(choices []core.Choice) ([]core.Choice, error) {
		return AddChoice(choices, name, color)
	})
}

// Delete removes a choice; records holding it are cleared by the service.
func (s *Service) Delete(ctx context.Context, baseID, table, field, name string) (*core.FieldSchema, error) {
	return s.edit(ctx, baseID, table, field, "delete", func(choices []core.Choice) ([]core.Choice, error) {
		return DeleteChoice(choices, name)
	})
}

// Reorder moves the named choices to the front.
func (s *Service) Reorder(ctx context.Context, baseID, table, field string, order []string) (*core.FieldSchema, error) {
	return s.edit(ctx, baseID, table, field, "reorder", func(choices []core.Choice) ([]core.Choice, error) {
		return ReorderChoices(choices, order)
	})
}

func (s *Service) edit(ctx context.Context, baseID, table, field, action string, apply func([]core.Choice) ([]core.Choice, error)) (*core.FieldSchema, error) {
	if s == nil || s.Updater == nil {
		return nil, errors.New("field options service is not configured")
	}

	// The update replaces the whole choice list, so edit the live one.
	tableSchema, fieldSchema, err := s.selectField(ctx, baseID, table, field, schema.ForceRefresh())
	if err != nil {
		return nil, err
	}

	var current []core.Choice
	if fieldSchema.Options != nil {
		current = fieldSchema.Options.Choices
	}
	updated, err := apply(current)
	if err != nil {
		return nil, err
	}

	result, err := s.Updater.UpdateFieldOptions(ctx, baseID, tableSchema.ID, fieldSchema.ID, core.FieldOptions{Choices: updated})
	s.Schema.Invalidate(baseID)
	if err != nil {
		return nil, fmt.Errorf("%s option on %s.%s: %w", action, tableSchema.Name, fieldSchema.Name, err)
	}

	if s.Logger != nil {
		s.Logger.Info("select field updated",
			zap.String("action", action),
			zap.String("base", baseID),
			zap.String("table", tableSchema.Name),
			zap.String("field", fieldSchema.Name),
			zap.Int("choices", len(updated)))
	}
	return result, nil
}

func (s *Service) selectField(ctx context.Context, baseID, table, field string, opts ...schema.GetOption) (core.TableSchema, core.FieldSchema, error) {
	if s == nil || s.Schema == nil {
		return core.TableSchema{}, core.FieldSchema{}, errors.New("field options service has no schema cache")
	}
	tableSchema, err := s.Schema.Table(ctx, baseID, table, opts...)
	if err != nil {
		return core.TableSchema{}, core.FieldSchema{}, err
	}
	fieldSchema, ok := tableSchema.Field(field)
	if !ok {
		return core.TableSchema{}, core.FieldSchema{}, &core.NotFoundError{ResourceType: "field", ResourceID: tableSchema.Name + "." + field}
	}
	if !IsSelectType(fieldSchema.Type) {
		return core.TableSchema{}, core.FieldSchema{}, &core.ValidationError{
			Field:  fieldSchema.Name,
			Detail: fmt.Sprintf("field type %s has no choices", fieldSchema.Type),
		}
	}
	return tableSchema, fieldSchema, nil
}
