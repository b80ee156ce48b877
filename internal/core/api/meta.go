package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/xwander/tablewright/internal/core"
)

type basesPage struct {
	Bases  []core.Base `json:"bases"`
	Offset string      `json:"offset,omitempty"`
}

// ListBases returns every base visible to the token.
func (c *Client) ListBases(ctx context.Context) ([]core.Base, error) {
	bases := make([]core.Base, 0)
	query := url.Values{}

	for {
		var page basesPage
		err := c.do(ctx, request{
			method:       http.MethodGet,
			path:         "/v0/meta/bases",
			query:        query,
			resourceType: "bases",
		}, &page)
		if err != nil {
			return bases, err
		}
		bases = append(bases, page.Bases...)
		if page.Offset == "" {
			return bases, nil
		}
		query.Set("offset", page.Offset)
	}
}

type tablesResponse struct {
	Tables []core.TableSchema `json:"tables"`
}

// GetBaseSchema fetches the tables and fields of a base. It matches schema.FetchFunc.
func (c *Client) GetBaseSchema(ctx context.Context, baseID string) ([]core.TableSchema, error) {
	id := strings.TrimSpace(baseID)
	if id == "" {
		return nil, &core.ValidationError{Field: "base_id", Detail: "base id is required"}
	}

	var resp tablesResponse
	err := c.do(ctx, request{
		method:       http.MethodGet,
		path:         "/v0/meta/bases/" + url.PathEscape(id) + "/tables",
		baseID:       id,
		acquire:      true,
		resourceType: "base",
		resourceID:   id,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Tables == nil {
		resp.Tables = make([]core.TableSchema, 0)
	}
	return resp.Tables, nil
}

type fieldOptionsPayload struct {
	Options core.FieldOptions `json:"options"`
}

// UpdateFieldOptions replaces the options of a field in one call. For select
// fields this renames, adds, removes or reorders choices everywhere they are used.
func (c *Client) UpdateFieldOptions(ctx context.Context, baseID, tableID, fieldID string, options core.FieldOptions) (*core.FieldSchema, error) {
	for _, required := range [][2]string{{"base_id", baseID}, {"table_id", tableID}, {"field_id", fieldID}} {
		if strings.TrimSpace(required[1]) == "" {
			return nil, &core.ValidationError{Field: required[0], Detail: required[0] + " is required"}
		}
	}

	var field core.FieldSchema
	err := c.do(ctx, request{
		method:       http.MethodPatch,
		path:         "/v0/meta/bases/" + url.PathEscape(baseID) + "/tables/" + url.PathEscape(tableID) + "/fields/" + url.PathEscape(fieldID),
		body:         fieldOptionsPayload{Options: options},
		baseID:       baseID,
		acquire:      true,
		resourceType: "field",
		resourceID:   fieldID,
	}, &field)
	if err != nil {
		return nil, err
	}
	return &field, nil
}
