package fieldops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xwander/tablewright/internal/core"
	"github.com/xwander/tablewright/internal/core/schema"
)

func sampleChoices() []core.Choice {
	return []core.Choice{
		{ID: "sel1", Name: "Todo", Color: "blueLight2"},
		{ID: "sel2", Name: "Doing", Color: "yellowLight2"},
		{ID: "sel3", Name: "Done", Color: "greenLight2"},
	}
}

func names(choices []core.Choice) []string {
	out := make([]string, 0, len(choices))
	for _, choice := range choices {
		out = append(out, choice.Name)
	}
	return out
}

func TestRenameChoice(t *testing.T) {
	updated, err := RenameChoice(sampleChoices(), "Doing", "In Progress")
	require.NoError(t, err)
	require.Equal(t, []string{"Todo", "In Progress", "Done"}, names(updated))
	require.Equal(t, "sel2", updated[1].ID)
	require.Empty(t, updated[1].Color)

	_, err = RenameChoice(sampleChoices(), "Missing", "X")
	require.Equal(t, core.KindNotFound, core.Kind(err))

	_, err = RenameChoice(sampleChoices(), "Todo", "Done")
	require.Equal(t, core.KindValidation, core.Kind(err))

	_, err = RenameChoice(sampleChoices(), "Todo", " ")
	require.Equal(t, core.KindValidation, core.Kind(err))
}

func TestAddChoice(t *testing.T) {
	updated, err := AddChoice(sampleChoices(), "Blocked", "")
	require.NoError(t, err)
	require.Len(t, updated, 4)
	require.Equal(t, core.Choice{Name: "Blocked", Color: DefaultColor}, updated[3])

	_, err = AddChoice(sampleChoices(), "Blocked", "neonPink")
	require.Equal(t, core.KindValidation, core.Kind(err))

	_, err = AddChoice(sampleChoices(), "Done", "redBright")
	require.Equal(t, core.KindValidation, core.Kind(err))
}

func TestDeleteChoice(t *testing.T) {
	updated, err := DeleteChoice(sampleChoices(), "Doing")
	require.NoError(t, err)
	require.Equal(t, []string{"Todo", "Done"}, names(updated))

	_, err = DeleteChoice(sampleChoices(), "Nope")
	require.Equal(t, core.KindNotFound, core.Kind(err))
}

func TestReorderChoices(t *testing.T) {
	updated, err := ReorderChoices(sampleChoices(), []string{"Done", "Done"})
	require.NoError(t, err)
	require.Equal(t, []string{"Done", "Todo", "Doing"}, names(updated))

	_, err = ReorderChoices(sampleChoices(), []string{"Later"})
	require.Equal(t, core.KindNotFound, core.Kind(err))
}

func TestSelectTypesAndColors(t *testing.T) {
	require.True(t, IsSelectType("singleSelect"))
	require.True(t, IsSelectType("multipleSelects"))
	require.False(t, IsSelectType("singleLineText"))
	require.True(t, ValidColor("purpleDark1"))
	require.False(t, ValidColor("purple"))
}

type recordingUpdater struct {
	baseID, tableID, fieldID string
	options                  core.FieldOptions
}

func (u *recordingUpdater) UpdateFieldOptions(ctx context.Context, baseID, tableID, fieldID string, options core.FieldOptions) (*core.FieldSchema, error) {
	u.baseID, u.tableID, u.fieldID, u.options = baseID, tableID, fieldID, options
	return &core.FieldSchema{ID: fieldID, Name: "Status", Type: TypeSingleSelect, Options: &options}, nil
}

func newTestService(t *testing.T) (*Service, *recordingUpdater, *int) {
	t.Helper()
	fetches := 0
	cache := schema.NewCache(func(ctx context.Context, baseID string) ([]core.TableSchema, error) {
		fetches++
		return []core.TableSchema{{
			ID:   "tbl1",
			Name: "Tasks",
			Fields: []core.FieldSchema{
				{ID: "fld1", Name: "Name", Type: "singleLineText"},
				{ID: "fld2", Name: "Status", Type: TypeSingleSelect, Options: &core.FieldOptions{Choices: sampleChoices()}},
			},
		}}, nil
	}, 0)
	updater := &recordingUpdater{}
	return &Service{Schema: cache, Updater: updater}, updater, &fetches
}

func TestServiceRename(t *testing.T) {
	service, updater, fetches := newTestService(t)

	field, err := service.Rename(context.Background(), "appA", "Tasks", "Status", "Todo", "Backlog")
	require.NoError(t, err)
	require.Equal(t, "tbl1", updater.tableID)
	require.Equal(t, "fld2", updater.fieldID)
	require.Equal(t, []string{"Backlog", "Doing", "Done"}, field.ChoiceNames())
	require.Equal(t, 1, *fetches)

	// The edit invalidates the cached schema.
	_, err = service.Choices(context.Background(), "appA", "Tasks", "Status")
	require.NoError(t, err)
	require.Equal(t, 2, *fetches)
}

func TestServiceRejectsNonSelectField(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Add(context.Background(), "appA", "Tasks", "Name", "x", "")
	require.Equal(t, core.KindValidation, core.Kind(err))

	_, err = service.Delete(context.Background(), "appA", "Tasks", "Missing", "x")
	require.Equal(t, core.KindNotFound, core.Kind(err))
}

func TestServiceReorderAndDelete(t *testing.T) {
	service, updater, _ := newTestService(t)

	_, err := service.Reorder(context.Background(), "appA", "tbl1", "fld2", []string{"Done"})
	require.NoError(t, err)
	require.Equal(t, []string{"Done", "Todo", "Doing"}, names(updater.options.Choices))

	_, err = service.Delete(context.Background(), "appA", "Tasks", "Status", "Doing")
	require.NoError(t, err)
	require.Equal(t, []string{"Todo", "Done"}, names(updater.options.Choices))
}
