package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maruel/checkform/internal/models"
	"github.com/maruel/checkform/internal/server"
	"github.com/maruel/checkform/internal/storage"
	"github.com/maruel/ksid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplingYAML = `fields:
  - field_type: NUMBER
    field_label: Samples
    field_order: 0
    is_required: true
    validation_rules:
      min: 1
      max: 5
  - field_type: REPEATING_GROUP
    field_label: Sample
    field_order: 1
    is_required: true
    validation_rules:
      repeat_label: Sample
      repeat_template:
        - type: temperature
        - type: photo
    count_field: Samples
  - field_type: DROPDOWN
    field_label: Shift
    field_order: 2
    is_required: false
    options: [day, night]
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg, err := storage.NewRegistry(t.TempDir(), storage.BackendJSONL, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	srv := httptest.NewServer(server.NewRouter(reg, &server.Config{}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSchemaImportExport(t *testing.T) {
	srv := newTestServer(t)
	task := ksid.NewID().String()

	out, err := run(t, samplingYAML, "--server", srv.URL, "schema", "import", task, "-")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 fields")

	out, err = run(t, "", "--server", srv.URL, "schema", "export", task)
	require.NoError(t, err)
	assert.Contains(t, out, "count_field: Samples")
	assert.NotContains(t, out, "repeat_count_field_id")
	assert.NotContains(t, out, "id:")

	// Re-importing the export is stable.
	_, err = run(t, out, "--server", srv.URL, "schema", "import", task, "-")
	require.NoError(t, err)
	again, err := run(t, "", "--server", srv.URL, "schema", "export", task)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestSchemaImportErrors(t *testing.T) {
	srv := newTestServer(t)
	task := ksid.NewID().String()

	_, err := run(t, samplingYAML, "--server", srv.URL, "schema", "import", "not an id!", "-")
	require.ErrorIs(t, err, errArgs)

	bad := strings.Replace(samplingYAML, "count_field: Samples", "count_field: Missing", 1)
	_, err = run(t, bad, "--server", srv.URL, "schema", "import", task, "-")
	require.ErrorContains(t, err, `unknown count_field "Missing"`)

	_, err = run(t, "fields:\n  - colour: red\n", "--server", srv.URL, "schema", "import", task, "-")
	require.Error(t, err)

	late := strings.Replace(samplingYAML, "count_field: Samples", "count_field: Shift", 1)
	_, err = run(t, late, "--server", srv.URL, "schema", "import", task, "-")
	var schemaErr *models.SchemaInvalidError
	require.ErrorAs(t, err, &schemaErr)

	out, err := run(t, "", "--server", srv.URL, "schema", "export", task)
	require.NoError(t, err)
	assert.Equal(t, "fields: []\n", out)
}

func TestExportDocRejectsDanglingLink(t *testing.T) {
	defs := []models.FieldDefinition{{
		ID:              ksid.NewID(),
		FieldType:       models.FieldTypeRepeatingGroup,
		FieldLabel:      "Sample",
		ValidationRules: models.ValidationRules{RepeatCountFieldID: ksid.NewID()},
	}}
	_, err := exportDoc(defs)
	assert.ErrorContains(t, err, "unknown count field")
}

func TestResponsesList(t *testing.T) {
	srv := newTestServer(t)
	out, err := run(t, "", "--server", srv.URL, "responses", "list")
	require.NoError(t, err)
	var recs []models.ResponseRecord
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	assert.Empty(t, recs)

	_, err = run(t, "", "--server", srv.URL, "responses", "list", "--item", "bogus!")
	assert.ErrorIs(t, err, errArgs)
}

func TestJSONSchema(t *testing.T) {
	out, err := run(t, "", "jsonschema")
	require.NoError(t, err)
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.NotEmpty(t, m)
}
