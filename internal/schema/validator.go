// Package schema validates scrape-batch payloads before ingestion.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed scrape_batch.schema.json
var scrapeBatchSchemaJSON string

type ScrapeBatch struct {
	Name   string       `json:"name"`
	Source string       `json:"source"`
	Items  []ScrapeItem `json:"items"`
}

type ScrapeItem struct {
	Title       string  `json:"title"`
	Link        *string `json:"link,omitempty"`
	Summary     *string `json:"summary,omitempty"`
	SourceType  *string `json:"sourceType,omitempty"`
	PublishedAt *string `json:"publishedAt,omitempty"`
	Language    *string `json:"language,omitempty"`

	// Published is PublishedAt parsed during validation.
	Published *time.Time `json:"-"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateScrapeBatch decodes payload strictly, checks it against the
// embedded JSON schema and applies the semantic checks the schema cannot express.
func ValidateScrapeBatch(payload []byte) (*ScrapeBatch, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var batch ScrapeBatch
	if err := json.Unmarshal(normalized, &batch); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&batch); err != nil {
		return nil, err
	}

	return &batch, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("scrape_batch.schema.json", strings.NewReader(scrapeBatchSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("scrape_batch.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(batch *ScrapeBatch) error {
	if batch == nil {
		return fmt.Errorf("payload is nil")
	}
	if strings.TrimSpace(batch.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if strings.TrimSpace(batch.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}

	for i := range batch.Items {
		item := &batch.Items[i]
		if strings.TrimSpace(item.Title) == "" {
			return fmt.Errorf("items[%d].title must not be empty", i)
		}
		if item.Link != nil {
			if err := validateHTTPURL(fmt.Sprintf("items[%d].link", i), *item.Link); err != nil {
				return err
			}
		}
		if item.PublishedAt != nil {
			parsed, err := dateparse.ParseAny(strings.TrimSpace(*item.PublishedAt))
			if err != nil {
				return fmt.Errorf("items[%d].publishedAt is not a recognizable date: %w", i, err)
			}
			utc := parsed.UTC()
			item.Published = &utc
		}
	}

	return nil
}

func validateHTTPURL(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", fieldName)
	}
	return nil
}
