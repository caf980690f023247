package httpx

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/splax/todolist/internal/apperr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaBaseURL = "https://todolist.local/schemas/"
	maxBodyBytes  = 1 << 20

	schemaCredentials = "credentials.json"
	schemaTodoCreate  = "todo_create.json"
	schemaTodoUpdate  = "todo_update.json"
	schemaTodoReorder = "todo_reorder.json"
)

var errInvalidJSON = apperr.Validation("invalid JSON body")

// schemaMessages replaces schema output for specific instance locations with
// a fixed client message.
var schemaMessages = map[string]map[string]string{
	schemaTodoReorder: {
		"":         "todoIds must be an array",
		"/todoIds": "todoIds must be an array",
	},
}

// requestValidator checks request bodies against the embedded JSON schemas.
type requestValidator struct {
	schemas map[string]*jsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		if err := compiler.AddResource(schemaBaseURL+entry.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", entry.Name(), err)
		}
		names = append(names, entry.Name())
	}

	v := &requestValidator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		schema, err := compiler.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// decode reads the body, validates it against schemaName and unmarshals it
// into dst. An empty body counts as an empty object. Every failure is a
// validation error.
func (v *requestValidator) decode(w http.ResponseWriter, req *http.Request, schemaName string, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body too large")
		}
		return errInvalidJSON
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return errInvalidJSON
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errInvalidJSON
	}

	schema, ok := v.schemas[schemaName]
	if !ok {
		return apperr.Internal(fmt.Errorf("unknown schema %q", schemaName))
	}
	if err := schema.Validate(doc); err != nil {
		return apperr.Validation(schemaMessage(schemaName, err))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

func schemaMessage(schemaName string, err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := firstLeaf(ve)
	location := strings.TrimPrefix(leaf.InstanceLocation, "#")
	if msg, ok := schemaMessages[schemaName][location]; ok {
		return msg
	}
	field := strings.TrimPrefix(location, "/")
	if field == "" {
		return leaf.Message
	}
	return strings.ReplaceAll(field, "/", ".") + ": " + leaf.Message
}

func firstLeaf(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}
