package dov_fixtures

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

// fakeDOV serves just enough of the DOV services for the "boring" dataset.
// The DescribeFeatureType request always fails.
func fakeDOV(t *testing.T) *httptest.Server {
	r := http.NewServeMux()
	r.HandleFunc("/data/boring/2004-103984.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<boring/>"))
	})
	r.HandleFunc("/geoserver/ows", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GetFeature", r.URL.Query().Get("request"))
		_, _ = w.Write([]byte(twoMembers))
	})
	r.HandleFunc("/geonetwork/srv/dut/csw", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("outputSchema") {
		case "http://www.isotc211.org/2005/gfc":
			_, _ = w.Write([]byte("<gfc/>"))
		case "http://www.isotc211.org/2005/gmd":
			_, _ = w.Write([]byte("<gmd/>"))
		default:
			http.NotFound(w, r)
		}
	})
	r.HandleFunc("/geoserver/dov-pub/Boringen/ows", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	})
	r.HandleFunc("/xsd/BoringDataCodes.xsd", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<xs:schema/>"))
	})

	return httptest.NewServer(r)
}

var testDataset = Dataset{
	Name:             "boring",
	Dir:              "types/boring",
	Record:           "data/boring/2004-103984",
	TypeName:         "dov-pub:Boringen",
	FilterProperty:   "fiche",
	FeatureCatalogue: "c0cbd397-520f-4ee1-aca7-d70e271eeed6",
	Metadata:         "4e20bf9c-3a5c-42be-b5b6-bef6214d1fa7",
	Schemas:          []string{"xsd/BoringDataCodes.xsd", "xsd/Missing.xsd"},
}

func testUpdater(t *testing.T, root string, progress *bytes.Buffer) *Updater {
	logger := zaptest.NewLogger(t)
	return NewUpdater(root, NewFetcher(http.DefaultClient, "", nil, logger), progress, logger)
}

func TestRefresh_IsolatesFailures(t *testing.T) {
	srv := fakeDOV(t)
	defer srv.Close()
	base := srv.URL + "/"
	root := t.TempDir()
	var progress bytes.Buffer
	jobs, err := Table{Datasets: []Dataset{testDataset}}.Plan(base)
	require.NoError(t, err)

	report := Refresh(context.Background(), zaptest.NewLogger(t), testUpdater(t, root, &progress), base, jobs)

	assert.Nil(t, report.Interrupted)
	assert.Equal(t, base, report.BaseURL)
	assert.False(t, report.Finished.Before(report.Started))
	assert.Len(t, report.Outcomes, 8)
	assert.Equal(t, 6, report.Succeeded())
	assert.Equal(t, 2, report.Failed())
	assert.Equal(t, "6 updated, 2 failed.", report.Summary())

	errs := multierr.Errors(report.Err())
	require.Len(t, errs, 2)
	assert.True(t, strings.HasPrefix(errs[0].Error(), "types/boring/wfsdescribefeaturetype.xml: "))
	assert.True(t, strings.HasPrefix(errs[1].Error(), "types/boring/xsd_Missing.xsd.xml: "))

	expected := map[string]string{
		"boring.xml":                  "<boring/>",
		"wfsgetfeature.xml":           twoMembers,
		"feature.xml":                 "<A/>",
		"fc_featurecatalogue.xml":     "<gfc/>",
		"md_metadata.xml":             "<gmd/>",
		"xsd_BoringDataCodes.xsd.xml": "<xs:schema/>",
	}
	for name, contents := range expected {
		actual, err := os.ReadFile(filepath.Join(root, "types", "boring", name))
		if assert.NoError(t, err, name) {
			assert.Equal(t, contents, string(actual), name)
		}
	}
	assert.NoFileExists(t, filepath.Join(root, "types", "boring", "wfsdescribefeaturetype.xml"))
	assert.NoFileExists(t, filepath.Join(root, "types", "boring", "xsd_Missing.xsd.xml"))

	lines := strings.Split(strings.TrimSpace(progress.String()), "\n")
	assert.Equal(t, "Updating types/boring/boring.xml ... OK.", lines[0])
	assert.Contains(t, progress.String(), "Updating types/boring/wfsdescribefeaturetype.xml ... FAILED:\n   request failed with 500 Internal Server Error.\n")
}

type brokenSchemas struct{}

func (brokenSchemas) Schemas(ctx context.Context) ([]string, error) {
	return nil, errors.New("the catalogue is down")
}

func TestRefresh_SchemaDiscoveryFailure(t *testing.T) {
	srv := fakeDOV(t)
	defer srv.Close()
	base := srv.URL + "/"
	var progress bytes.Buffer
	jobs := []Job{
		{
			Name:      "boring",
			Dir:       "types/boring",
			Resources: []Resource{{Dataset: "boring", Path: "types/boring/boring.xml", URL: base + "data/boring/2004-103984.xml"}},
			Schemas:   brokenSchemas{},
		},
		{
			Name:      "owsutil",
			Resources: []Resource{{Dataset: "owsutil", Path: "util/owsutil/record.xml", URL: base + "data/boring/2004-103984.xml"}},
		},
	}

	report := Refresh(context.Background(), zaptest.NewLogger(t), testUpdater(t, t.TempDir(), &progress), base, jobs)

	require.Len(t, report.Outcomes, 3)
	failed := report.Outcomes[1]
	assert.Equal(t, "types/boring/xsd_*.xml", failed.Resource.Path)
	assert.ErrorContains(t, failed.Err, "the catalogue is down")
	assert.True(t, report.Outcomes[2].Succeeded())
	assert.Contains(t, progress.String(), "Updating types/boring/xsd_*.xml ... FAILED:\n   unable to discover the XSD schemas: the catalogue is down.\n")
}

func TestRefresh_Cancelled(t *testing.T) {
	srv := fakeDOV(t)
	defer srv.Close()
	base := srv.URL + "/"
	var progress bytes.Buffer
	jobs, err := Table{Datasets: []Dataset{testDataset}}.Plan(base)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := Refresh(ctx, zaptest.NewLogger(t), testUpdater(t, t.TempDir(), &progress), base, jobs)

	assert.ErrorIs(t, report.Interrupted, context.Canceled)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, progress.String())
	assert.Equal(t, "0 updated, 0 failed. (interrupted)", report.Summary())
	assert.ErrorIs(t, report.Err(), context.Canceled)
}

func TestRefresh_NothingToDo(t *testing.T) {
	var progress bytes.Buffer

	report := Refresh(context.Background(), zaptest.NewLogger(t), testUpdater(t, t.TempDir(), &progress), DefaultBaseURL, nil)

	assert.NoError(t, report.Err())
	assert.Equal(t, "0 updated, 0 failed.", report.Summary())
}
