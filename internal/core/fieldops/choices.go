// Package fieldops edits the choice lists of select fields.
//
// A choice edit is a single metadata call that relabels the option in every
// record referencing it, so these are the cheap counterpart to rewriting records.
package fieldops

import (
	"fmt"
	"strings"

	"github.com/xwander/tablewright/internal/core"
)

// Field types whose values are choices and can be edited at the schema level.
const (
	TypeSingleSelect    = "singleSelect"
	TypeMultipleSelects = "multipleSelects"
)

// DefaultColor is used for new choices when none is given.
const DefaultColor = "blueLight2"

// Colors is the palette accepted for choices.
var Colors = []string{
	"blueLight2", "cyanLight2", "tealLight2", "greenLight2",
	"yellowLight2", "orangeLight2", "redLight2", "pinkLight2",
	"purpleLight2", "grayLight2",
	"blueBright", "cyanBright", "tealBright", "greenBright",
	"yellowBright", "orangeBright", "redBright", "pinkBright",
	"purpleBright", "grayBright",
	"blueDark1", "cyanDark1", "tealDark1", "greenDark1",
	"yellowDark1", "orangeDark1", "redDark1", "pinkDark1",
	"purpleDark1", "grayDark1",
}

// IsSelectType reports whether fieldType carries a choice list.
func IsSelectType(fieldType string) bool {
	return fieldType == TypeSingleSelect || fieldType == TypeMultipleSelects
}

// ValidColor reports whether color is part of the palette.
func ValidColor(color string) bool {
	for _, candidate := range Colors {
		if candidate == color {
			return true
		}
	}
	return false
}

// keep strips an existing choice down to what the update call needs.
func keep(choice core.Choice) core.Choice {
	return core.Choice{ID: choice.ID, Name: choice.Name}
}

func optionNotFound(name string) error {
	return &core.NotFoundError{ResourceType: "option", ResourceID: name}
}

// RenameChoice relabels oldName to newName, keeping every choice id.
func RenameChoice(choices []core.Choice, oldName, newName string) ([]core.Choice, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, &core.ValidationError{Field: "name", Detail: "new option name is required"}
	}
	if oldName == newName {
		return nil, &core.ValidationError{Field: "name", Detail: "new option name matches the current one"}
	}

	found := false
	for _, choice := range choices {
		if choice.Name == newName {
			return nil, &core.ValidationError{Field: "name", Detail: fmt.Sprintf("option %q already exists", newName)}
		}
		if choice.Name == oldName {
			found = true
		}
	}
	if !found {
		return nil, optionNotFound(oldName)
	}

	updated := make([]core.Choice, 0, len(choices))
	for _, choice := range choices {
		entry := keep(choice)
		if choice.Name == oldName {
			entry.Name = newName
		}
		updated = append(updated, entry)
	}
	return updated, nil
}

// AddChoice appends a new choice. An empty color uses DefaultColor.
func AddChoice(choices []core.Choice, name, color string) ([]core.Choice, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &core.ValidationError{Field: "name", Detail: "option name is required"}
	}
	if color == "" {
		color = DefaultColor
	}
	if !ValidColor(color) {
		return nil, &core.ValidationError{Field: "color", Detail: fmt.Sprintf("invalid color %q", color)}
	}

	updated := make([]core.Choice, 0, len(choices)+1)
	for _, choice := range choices {
		if choice.Name == name {
			return nil, &core.ValidationError{Field: "name", Detail: fmt.Sprintf("option %q already exists", name)}
		}
		updated = append(updated, keep(choice))
	}
	return append(updated, core.Choice{Name: name, Color: color}), nil
}

// DeleteChoice removes name. Records holding it lose the value.
func DeleteChoice(choices []core.Choice, name string) ([]core.Choice, error) {
	found := false
	updated := make([]core.Choice, 0, len(choices))
	for _, choice := range choices {
		if choice.Name == name {
			found = true
			continue
		}
		updated = append(updated, keep(choice))
	}
	if !found {
		return nil, optionNotFound(name)
	}
	return updated, nil
}

// ReorderChoices puts the named choices first, in order, followed by the rest
// in their current order.
func ReorderChoices(choices []core.Choice, order []string) ([]core.Choice, error) {
	byName := make(map[string]core.Choice, len(choices))
	for _, choice := range choices {
		byName[choice.Name] = choice
	}

	placed := make(map[string]bool, len(order))
	updated := make([]core.Choice, 0, len(choices))
	for _, name := range order {
		choice, ok := byName[name]
		if !ok {
			return nil, optionNotFound(name)
		}
		if placed[name] {
			continue
		}
		placed[name] = true
		updated = append(updated, keep(choice))
	}
	for _, choice := range choices {
		if !placed[choice.Name] {
			updated = append(updated, keep(choice))
		}
	}
	return updated, nil
}
