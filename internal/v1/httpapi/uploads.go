package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openrooms/orc-server/internal/v1/apierr"
)

// Upload handles POST /uploads. The blob arrives either as a raw
// octet-stream body or as the "file" part of a multipart form.
func (h *Handlers) Upload(c *gin.Context) {
	maxBytes := h.core.Config().MaxUploadBytes
	if c.Request.ContentLength > maxBytes {
		writeError(c, apierr.PayloadTooLarge("upload exceeds %d bytes", maxBytes))
		return
	}

	var (
		data []byte
		mime string
		err  error
	)

	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		data, mime, err = readMultipartBlob(c, maxBytes)
	} else {
		// Raw body; the declared Content-Type is the mime hint.
		limited := http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		data, err = io.ReadAll(limited)
		mime = contentType
	}
	if err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			writeError(c, apierr.PayloadTooLarge("upload exceeds %d bytes", maxBytes))
		case apierr.Is(err, apierr.CodePayloadTooLarge):
			writeError(c, err)
		default:
			writeError(c, apierr.BadRequest("unreadable upload: %v", err))
		}
		return
	}
	if len(data) == 0 {
		writeError(c, apierr.BadRequest("empty upload"))
		return
	}

	meta, err := h.core.Upload(c.Request.Context(), data, mime)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

func readMultipartBlob(c *gin.Context, maxBytes int64) ([]byte, string, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	if fileHeader.Size > maxBytes {
		return nil, "", apierr.PayloadTooLarge("upload exceeds %d bytes", maxBytes)
	}

	f, err := fileHeader.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxBytes {
		return nil, "", apierr.PayloadTooLarge("upload exceeds %d bytes", maxBytes)
	}
	return data, fileHeader.Header.Get("Content-Type"), nil
}

// GetMedia handles GET /media/{cid}.
func (h *Handlers) GetMedia(c *gin.Context) {
	mime, data, err := h.core.Media(c.Param("cid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, mime, data)
}

// HeadMedia handles HEAD /media/{cid}.
func (h *Handlers) HeadMedia(c *gin.Context) {
	meta, err := h.core.MediaMeta(c.Param("cid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", meta.Mime)
	c.Header("Content-Length", strconv.FormatInt(meta.Bytes, 10))
	c.Status(http.StatusOK)
}
