package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/makeasinger/panelcast/internal/client"
	"github.com/makeasinger/panelcast/pkg/response"
)

// ObjectSource is a store that can hand back uploaded bytes.
type ObjectSource interface {
	Get(key string) (client.StoredObject, bool)
}

// AssetHandler serves in-process assets when no object store is configured.
type AssetHandler struct {
	source ObjectSource
}

func NewAssetHandler(source ObjectSource) *AssetHandler {
	return &AssetHandler{source: source}
}

// Get handles GET /assets/*
func (h *AssetHandler) Get(c *fiber.Ctx) error {
	obj, ok := h.source.Get(c.Params("*"))
	if !ok {
		return response.NotFound(c, "Asset not found")
	}
	c.Set(fiber.HeaderContentType, obj.ContentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=3600")
	return c.Send(obj.Data)
}
