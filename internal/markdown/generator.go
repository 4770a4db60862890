// Package markdown turns Bitable records into Jekyll posts.
package markdown

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/models"
)

// DateLayout is the only accepted format of the date field.
const DateLayout = "2006-01-02"

const (
	missingFieldsCode = "RECORD_MISSING_FIELDS"
	invalidDateCode   = "RECORD_INVALID_DATE"
	invalidSlugCode   = "RECORD_INVALID_SLUG"
)

var (
	// ErrMissingFields is wrapped when a record lacks a required field.
	ErrMissingFields = errors.New("record is missing required fields")
	// ErrInvalidDate is wrapped when the date field is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("record date is not YYYY-MM-DD")
	// ErrInvalidSlug is wrapped when the slug is not a single path segment.
	ErrInvalidSlug = errors.New("record slug is not usable")
)

// postFields are the record fields a post is built from.
type postFields struct {
	Title    string `field:"title" validate:"required"`
	Content  string `field:"content" validate:"required"`
	Date     string `field:"date" validate:"required"`
	Slug     string `field:"slug" validate:"required"`
	Category string `field:"category"`
}

type frontMatter struct {
	Layout   string         `toml:"layout"`
	Title    string         `toml:"title"`
	Date     toml.LocalDate `toml:"date"`
	Category string         `toml:"category"`
}

// Generator renders records and writes them below the posts directory.
type Generator struct {
	config   config.OutputConfig
	validate *validator.Validate
}

// NewGenerator creates a Generator for the given output settings.
func NewGenerator(cfg config.OutputConfig) *Generator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("field")
	})
	return &Generator{config: cfg, validate: v}
}

// Generate renders record and writes it to disk, overwriting any previous
// version. Records that fail validation return an error in the go-errors
// validation category and leave the filesystem untouched.
func (g *Generator) Generate(record models.Record) (*models.GeneratedFile, error) {
	file, err := g.Render(record)
	if err != nil {
		return nil, err
	}
	if err := g.Write(file); err != nil {
		return nil, err
	}
	return file, nil
}

// Render validates record and builds the post without touching the disk.
func (g *Generator) Render(record models.Record) (*models.GeneratedFile, error) {
	fields := postFields{
		Title:    record.Fields[models.FieldTitle],
		Content:  record.Fields[models.FieldContent],
		Date:     record.Fields[models.FieldDate],
		Slug:     record.Fields[models.FieldSlug],
		Category: record.Fields[models.FieldCategory],
	}
	if err := g.validate.Struct(fields); err != nil {
		return nil, validationError(missingFieldsCode, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missingFields(err), ", ")))
	}

	date, err := time.Parse(DateLayout, fields.Date)
	if err != nil {
		return nil, validationError(invalidDateCode, fmt.Errorf("%w: %q", ErrInvalidDate, fields.Date))
	}

	name, err := fileSlug(fields.Slug)
	if err != nil {
		return nil, validationError(invalidSlugCode, err)
	}

	category := fields.Category
	if category == "" {
		category = g.config.DefaultCategory
	}

	var buf bytes.Buffer
	switch g.config.Format {
	case "toml":
		err = g.writeTOML(&buf, fields.Title, date, category)
	default:
		err = g.writeYAML(&buf, fields.Title, fields.Date, category)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}

	buf.WriteString("\n")
	buf.WriteString(fields.Content)
	if !strings.HasSuffix(fields.Content, "\n") {
		buf.WriteString("\n")
	}

	return &models.GeneratedFile{
		Path: filepath.Join(g.config.PostsDir, fmt.Sprintf("%s-%s.md", fields.Date, name)),
		Body: buf.Bytes(),
	}, nil
}

// Write creates the posts directory when needed and writes the file.
func (g *Generator) Write(file *models.GeneratedFile) error {
	if err := os.MkdirAll(filepath.Dir(file.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create posts directory: %w", err)
	}
	if err := os.WriteFile(file.Path, file.Body, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file.Path, err)
	}
	return nil
}

func (g *Generator) writeYAML(buf *bytes.Buffer, title, date, category string) error {
	node := &yaml.Node{Kind: yaml.MappingNode}
	appendPair := func(key string, value *yaml.Node) {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
	}
	appendPair("layout", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: g.config.Layout})
	appendPair("title", &yaml.Node{Kind: yaml.ScalarNode, Style: yaml.DoubleQuotedStyle, Value: title})
	appendPair("date", &yaml.Node{Kind: yaml.ScalarNode, Value: date})
	appendPair("category", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: category})

	buf.WriteString("---\n")
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return err
	}
	buf.WriteString("---\n")
	return nil
}

func (g *Generator) writeTOML(buf *bytes.Buffer, title string, date time.Time, category string) error {
	fm := frontMatter{
		Layout:   g.config.Layout,
		Title:    title,
		Date:     toml.LocalDate{Year: date.Year(), Month: int(date.Month()), Day: date.Day()},
		Category: category,
	}

	buf.WriteString("+++\n")
	if err := toml.NewEncoder(buf).Encode(fm); err != nil {
		return err
	}
	buf.WriteString("+++\n")
	return nil
}

// fileSlug returns the slug unchanged. Only values that could leave the
// posts directory or name nothing are rejected.
func fileSlug(value string) (string, error) {
	if strings.TrimSpace(value) == "" || value == ".." ||
		strings.ContainsAny(value, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, value)
	}
	return value, nil
}

func missingFields(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		names = append(names, fe.Field())
	}
	return names
}

func validationError(code string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, err.Error()).
		WithTextCode(code)
}

// IsSkippable reports whether err means the record should be skipped rather
// than aborting the run.
func IsSkippable(err error) bool {
	return goerrors.IsCategory(err, goerrors.CategoryValidation)
}
