package dov_fixtures

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:generate go run ./cmd/generate-jsonschema -out datasets.schema.json

//go:embed datasets.yaml
var defaultTable []byte

// Table lists every dataset whose fixtures should be refreshed.
type Table struct {
	Datasets []Dataset `json:"datasets" yaml:"datasets"`
	// Fixtures which don't belong to a dataset.
	Extras []Extra `json:"extras,omitempty" yaml:"extras,omitempty"`
}

// Dataset describes one DOV data type and the sample record used for its
// fixtures.
type Dataset struct {
	// The name used to select this dataset on the command line.
	Name string `json:"name" yaml:"name"`
	// The fixture directory, relative to the fixture root.
	Dir string `json:"dir" yaml:"dir"`
	// Path of the sample record relative to the base URL, without the
	// ".xml" extension (e.g. "data/boring/2004-103984").
	Record string `json:"record" yaml:"record"`
	// The WFS layer, as "workspace:layer".
	TypeName string `json:"type-name" yaml:"type-name"`
	// The layer attribute containing the record's URL.
	FilterProperty string `json:"filter-property" yaml:"filter-property"`
	// UUID of the layer's feature catalogue in the CSW service.
	FeatureCatalogue string `json:"feature-catalogue" yaml:"feature-catalogue"`
	// UUID of the layer's metadata record in the CSW service.
	Metadata string `json:"metadata" yaml:"metadata"`
	// XSD schemas for the data type. Relative paths are resolved against
	// the base URL.
	Schemas []string `json:"schemas,omitempty" yaml:"schemas,omitempty"`
}

// Extra is a fixture that isn't tied to a dataset.
type Extra struct {
	// The name used to select this fixture on the command line. Several
	// extras may share a group.
	Group string `json:"group" yaml:"group"`
	// Where to save the fixture, relative to the fixture root.
	Path string `json:"path" yaml:"path"`
	// The URL to fetch, relative to the base URL.
	URL string `json:"url" yaml:"url"`
}

// TableSchema is the JSON schema for dataset table files.
func TableSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Table{})
}

// DefaultTable returns the built-in dataset table.
func DefaultTable() (Table, error) {
	return ParseTable(defaultTable)
}

// LoadTable reads a dataset table from a YAML file.
func LoadTable(filename string) (Table, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return Table{}, fmt.Errorf("unable to read the dataset table: %w", err)
	}

	table, err := ParseTable(raw)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", filename, err)
	}

	return table, nil
}

// ParseTable parses and validates a YAML dataset table.
func ParseTable(raw []byte) (Table, error) {
	var table Table

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	if err := decoder.Decode(&table); err != nil {
		return Table{}, fmt.Errorf("invalid dataset table: %w", err)
	}

	if err := table.Validate(); err != nil {
		return Table{}, err
	}

	return table, nil
}

// Validate makes sure every entry has the fields needed to build its URLs and
// that names are unique.
func (t Table) Validate() error {
	var errs []error
	names := make(map[string]bool)

	for i, d := range t.Datasets {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("dataset %d has no name", i))
			continue
		}
		if names[d.Name] {
			errs = append(errs, fmt.Errorf("dataset %q is listed more than once", d.Name))
		}
		names[d.Name] = true

		if err := d.validate(); err != nil {
			errs = append(errs, fmt.Errorf("dataset %q: %w", d.Name, err))
		}
	}

	for i, e := range t.Extras {
		switch {
		case e.Group == "":
			errs = append(errs, fmt.Errorf("extra %d has no group", i))
		case e.URL == "":
			errs = append(errs, fmt.Errorf("extra %q has no URL", e.Path))
		case !isLocalPath(e.Path):
			errs = append(errs, fmt.Errorf("extra %q must be a relative path inside the fixture root", e.Path))
		}
	}

	return errors.Join(errs...)
}

func (d Dataset) validate() error {
	switch {
	case !isLocalPath(d.Dir):
		return fmt.Errorf("dir %q must be a relative path inside the fixture root", d.Dir)
	case d.Record == "":
		return errors.New("no sample record")
	case !strings.Contains(d.TypeName, ":"):
		return fmt.Errorf("type name %q should look like \"workspace:layer\"", d.TypeName)
	case d.FilterProperty == "":
		return errors.New("no filter property")
	case d.FeatureCatalogue == "":
		return errors.New("no feature catalogue UUID")
	case d.Metadata == "":
		return errors.New("no metadata UUID")
	}

	return nil
}

func isLocalPath(p string) bool {
	return p != "" && filepath.IsLocal(filepath.FromSlash(p))
}

// RecordURL is the URL of the sample record's XML document.
func (d Dataset) RecordURL(base string) string {
	return BuildURL(base, d.Record+".xml")
}

// GetFeatureURL is a WFS GetFeature request for just the sample record.
func (d Dataset) GetFeatureURL(base string) string {
	return BuildURL(base, fmt.Sprintf(
		"geoserver/ows?service=WFS&version=1.1.0&request=GetFeature&typeName=%s&maxFeatures=1&CQL_Filter=%s=%%27%s%%27",
		d.TypeName,
		d.FilterProperty,
		BuildURL(base, d.Record),
	))
}

// FeatureCatalogueURL is the CSW request for the layer's ISO 19110 feature
// catalogue.
func (d Dataset) FeatureCatalogueURL(base string) string {
	return cswRecordURL(base, "http://www.isotc211.org/2005/gfc", d.FeatureCatalogue)
}

// MetadataURL is the CSW request for the layer's ISO 19115 metadata.
func (d Dataset) MetadataURL(base string) string {
	return cswRecordURL(base, "http://www.isotc211.org/2005/gmd", d.Metadata)
}

// DescribeFeatureTypeURL is the layer's WFS DescribeFeatureType request.
func (d Dataset) DescribeFeatureTypeURL(base string) string {
	workspace, layer, _ := strings.Cut(d.TypeName, ":")
	return BuildURL(base, fmt.Sprintf(
		"geoserver/%s/%s/ows?service=wfs&version=1.1.0&request=DescribeFeatureType",
		workspace,
		layer,
	))
}

func cswRecordURL(base, outputSchema, id string) string {
	return BuildURL(base, fmt.Sprintf(
		"geonetwork/srv/dut/csw?Service=CSW&Request=GetRecordById&Version=2.0.2&outputSchema=%s&elementSetName=full&id=%s",
		outputSchema,
		id,
	))
}

// SchemaSource discovers the XSD schemas associated with a data type.
type SchemaSource interface {
	Schemas(ctx context.Context) ([]string, error)
}

// StaticSchemas is a SchemaSource backed by a fixed list of URLs.
type StaticSchemas []string

func (s StaticSchemas) Schemas(ctx context.Context) ([]string, error) {
	return s, nil
}

// SchemaSource gets the dataset's schemas as absolute URLs.
func (d Dataset) SchemaSource(base string) SchemaSource {
	if len(d.Schemas) == 0 {
		return nil
	}

	var urls StaticSchemas

	for _, schema := range d.Schemas {
		if strings.Contains(schema, "://") {
			urls = append(urls, schema)
		} else {
			urls = append(urls, BuildURL(base, schema))
		}
	}

	return urls
}

// Job is everything that needs to be fetched for one dataset or group of
// extras.
type Job struct {
	Name      string
	Dir       string
	Resources []Resource
	// Schemas is nil when the job has no XSD schemas.
	Schemas SchemaSource
}

// SchemaResource is the fixture for one of the job's XSD schemas. The file
// is named after the last segment of the schema's URL.
func (j Job) SchemaResource(schemaUrl string) Resource {
	segments := strings.Split(schemaUrl, "/")
	name := segments[len(segments)-1]

	return Resource{
		Dataset: j.Name,
		Path:    path.Join(j.Dir, fmt.Sprintf("xsd_%s.xml", name)),
		URL:     schemaUrl,
	}
}

// Job lists the fixtures for a dataset.
func (d Dataset) Job(base string) Job {
	resource := func(filename, url string, transform Transform) Resource {
		return Resource{
			Dataset:   d.Name,
			Path:      path.Join(d.Dir, filename),
			URL:       url,
			Transform: transform,
		}
	}

	return Job{
		Name: d.Name,
		Dir:  d.Dir,
		Resources: []Resource{
			resource(path.Base(d.Dir)+".xml", d.RecordURL(base), nil),
			resource("wfsgetfeature.xml", d.GetFeatureURL(base), nil),
			resource("feature.xml", d.GetFeatureURL(base), ExtractFirstFeatureMember),
			resource("fc_featurecatalogue.xml", d.FeatureCatalogueURL(base), nil),
			resource("md_metadata.xml", d.MetadataURL(base), nil),
			resource("wfsdescribefeaturetype.xml", d.DescribeFeatureTypeURL(base), nil),
		},
		Schemas: d.SchemaSource(base),
	}
}

// Plan turns the table into jobs, in table order with extras last.
//
// If any names are given, only the datasets and extra groups with those
// names are included.
func (t Table) Plan(base string, names ...string) ([]Job, error) {
	selected := make(map[string]bool)
	for _, name := range names {
		selected[name] = false
	}
	include := func(name string) bool {
		if len(names) == 0 {
			return true
		}
		if _, ok := selected[name]; ok {
			selected[name] = true
			return true
		}
		return false
	}

	var jobs []Job

	for _, d := range t.Datasets {
		if include(d.Name) {
			jobs = append(jobs, d.Job(base))
		}
	}

	groups := make(map[string]int)
	for _, e := range t.Extras {
		if !include(e.Group) {
			continue
		}

		index, ok := groups[e.Group]
		if !ok {
			index = len(jobs)
			groups[e.Group] = index
			jobs = append(jobs, Job{Name: e.Group})
		}

		jobs[index].Resources = append(jobs[index].Resources, Resource{
			Dataset: e.Group,
			Path:    e.Path,
			URL:     BuildURL(base, e.URL),
		})
	}

	var unknown []string
	for _, name := range names {
		if !selected[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown datasets: %s", strings.Join(unknown, ", "))
	}

	return jobs, nil
}
