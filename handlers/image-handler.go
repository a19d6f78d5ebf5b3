package handlers

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/pixvault/pixvault/imaging"
	"github.com/pixvault/pixvault/middleware"
	"github.com/pixvault/pixvault/service"
)

// FormFieldName is the multipart field carrying the upload.
const FormFieldName = "image"

type ImageHandler struct {
	svc *service.Service
}

func NewImageHandler(svc *service.Service) *ImageHandler {
	return &ImageHandler{svc: svc}
}

// Upload accepts one multipart image, runs it through the ingestion
// pipeline and answers with the public id.
func (h *ImageHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile(FormFieldName)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "No file was uploaded or the file is incorrect.",
		})
	}

	blob, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "No file was uploaded or the file is incorrect.",
		})
	}
	defer blob.Close()

	payload, err := io.ReadAll(blob)
	if err != nil {
		log.Error().Err(err).Msg("failed to read upload body")
		return serverError(c)
	}

	res, err := h.svc.Ingest(c.Context(), service.UploadRequest{
		Payload:          payload,
		DeclaredMimeType: file.Header.Get(fiber.HeaderContentType),
		OriginalName:     file.Filename,
		UploadedBy:       middleware.IPFromLocals(c),
	})
	if err != nil {
		if service.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		}
		log.Error().Err(err).Msg("ingestion failed")
		return serverError(c)
	}

	idWithExtension := res.PublicID
	if res.ExtensionHint != "" {
		idWithExtension += "." + res.ExtensionHint
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"already_exists":    res.AlreadyExists,
			"id":                res.PublicID,
			"id_with_extension": idWithExtension,
		},
	})
}

// View serves an image by public id. The extension suffix is cosmetic
// and optional; filter query parameters apply an in-memory transform
// before the response.
func (h *ImageHandler) View(c *fiber.Ctx) error {
	res, err := h.svc.Retrieve(c.Context(), c.Params("id"), middleware.IPFromLocals(c))
	if err != nil {
		log.Error().Err(err).Msg("retrieval failed")
		return serverError(c)
	}

	if !res.Found {
		c.Set(fiber.HeaderContentType, res.MimeType)
		return c.Status(fiber.StatusNotFound).Send(res.Payload)
	}

	payload := res.Payload
	if params := c.Queries(); imaging.HasFilterParams(params) {
		payload, err = imaging.Transform(res.Payload, res.MimeType, params)
		if err != nil {
			var ferr imaging.FilterError
			if errors.As(err, &ferr) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"success": false,
					"error":   ferr.Error(),
				})
			}
			log.Error().Err(err).Msg("transform failed")
			return serverError(c)
		}
	}

	c.Set(fiber.HeaderContentType, res.MimeType)
	c.Set(fiber.HeaderContentDisposition, inlineDisposition(res.OriginalName))
	return c.Send(payload)
}

// Check answers the health route.
func (h *ImageHandler) Check(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}

func serverError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "Internal server error.",
	})
}

func inlineDisposition(filename string) string {
	// Quotes and control characters would break the header value.
	clean := strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 {
			return -1
		}
		return r
	}, filename)
	return `inline; filename="` + clean + `"`
}
