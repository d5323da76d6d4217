package handler

import (
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/vista/internal/api/response"
	"github.com/kiranshivaraju/vista/internal/catalog"
	"github.com/kiranshivaraju/vista/pkg/models"
)

// NewListTemplatesHandler returns the handler for GET /api/v1/templates.
// Query parameters: category, active (true|false).
func NewListTemplatesHandler(c catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := catalog.Filter{Category: r.URL.Query().Get("category")}
		if v := r.URL.Query().Get("active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "active must be true or false", nil)
				return
			}
			filter.Active = &active
		}

		templates, err := c.ListTemplates(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		if templates == nil {
			templates = []*models.Template{}
		}
		response.Collection(w, templates, response.ListMeta{Count: len(templates)})
	}
}
