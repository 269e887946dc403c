// internal/reporting/encoder.go
package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encoder renders a report document in one output format.
type Encoder interface {
	// Encode writes the full document to w.
	Encode(w io.Writer, doc *Document) error
	// Extension is the file extension of the artifact, without the dot.
	Extension() string
	// ContentType is the media type served for the artifact.
	ContentType() string
}

// NewEncoder returns the encoder for a configured report format.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case config.FormatJSON, "":
		return jsonEncoder{}, nil
	case config.FormatSARIF:
		return sarifEncoder{}, nil
	case config.FormatMarkdown, "md":
		return newMarkdownEncoder(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

type jsonEncoder struct{}

func (jsonEncoder) Extension() string   { return "json" }
func (jsonEncoder) ContentType() string { return "application/json" }

func (jsonEncoder) Encode(w io.Writer, doc *Document) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}
