package enhance

import (
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// ImageField and ImageFilename name the file part of an enhance request.
const (
	ImageField    = "image"
	ImageFilename = "image.png"
)

// Encode writes op and the PNG-encoded input into mw as an enhance request:
// one file part plus a "method" field and one field per parameter.
func Encode(mw *multipart.Writer, op Operation, pngData []byte) error {
	if err := writeFile(mw, ImageField, ImageFilename, "image/png", pngData); err != nil {
		return err
	}
	if err := mw.WriteField("method", string(op.Method())); err != nil {
		return fmt.Errorf("write method field: %w", err)
	}
	for _, p := range op.params() {
		if err := mw.WriteField(p.Name, p.Value); err != nil {
			return fmt.Errorf("write %s field: %w", p.Name, err)
		}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// writeFile is multipart.Writer.CreateFormFile with an explicit content type.
func writeFile(mw *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}
