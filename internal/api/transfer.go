package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prasenjit/mockpit/internal/portability"
)

const maxImportBytes = 20 << 20

// exportRequest selects what to export. No collection IDs exports everything.
type exportRequest struct {
	CollectionIDs []string `json:"collectionIds"`
}

// importRequest wraps an export document with the conflict policy
type importRequest struct {
	Data           json.RawMessage `json:"data"`
	ConflictPolicy string          `json:"conflictPolicy"`
}

type openAPIImportRequest struct {
	Content        string `json:"content" binding:"required"`
	BasePath       string `json:"basePath"`
	ConflictPolicy string `json:"conflictPolicy"`
}

// Export writes an export document as a download. The format query
// parameter selects json (default) or yaml.
func (h *Handler) Export(c *gin.Context) {
	format, err := portability.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req exportRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	doc, err := h.svc.Portability.Export(req.CollectionIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := portability.Encode(&buf, doc, format); err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="mockpit-export-%s.%s"`,
		doc.ExportedAt.Format("20060102-150405"), format))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// Import applies an export document. JSON bodies carry {data, conflictPolicy};
// a bare document (JSON or YAML) is accepted too, with the policy taken from
// the policy query parameter.
func (h *Handler) Import(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, policy := raw, c.Query("policy")
	if !strings.Contains(c.ContentType(), "yaml") {
		var req importRequest
		if err := json.Unmarshal(raw, &req); err == nil && len(req.Data) > 0 {
			data = req.Data
			if req.ConflictPolicy != "" {
				policy = req.ConflictPolicy
			}
		}
	}

	doc, err := portability.Decode(data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.runImport(c, doc, policy)
}

// ImportOpenAPI converts an OpenAPI 3 description and imports it
func (h *Handler) ImportOpenAPI(c *gin.Context) {
	var req openAPIImportRequest
	if !bindJSON(c, &req) {
		return
	}

	doc, err := portability.FromOpenAPI([]byte(req.Content), req.BasePath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.runImport(c, doc, req.ConflictPolicy)
}

func (h *Handler) runImport(c *gin.Context, doc *portability.Document, policy string) {
	result, err := h.svc.Portability.Import(doc, portability.ParsePolicy(policy))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
