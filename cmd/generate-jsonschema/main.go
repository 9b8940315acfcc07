// A helper command for updating the datasets.schema.json file based on the
// dataset Table type's JSON schema.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	dov_fixtures "github.com/Michael-F-Bryan/dov-fixtures"
)

func main() {
	var output string

	flag.StringVar(&output, "out", "datasets.schema.json", "Where to save the generated JSON schema")
	flag.Parse()

	schemaJson, err := dov_fixtures.TableSchema().MarshalJSON()
	if err != nil {
		log.Fatalf("Unable to serialize the schema: %s", err)
	}

	buffer := bytes.Buffer{}
	err = json.Indent(&buffer, schemaJson, "", "  ")
	if err != nil {
		log.Fatalf("Unable to pretty-print the schema: %s", err)
	}
	buffer.WriteByte('\n')

	parent := filepath.Dir(output)
	err = os.MkdirAll(parent, 0755)
	if err != nil {
		log.Fatalf("Unable to create the %s directory", parent)
	}

	err = os.WriteFile(output, buffer.Bytes(), 0644)
	if err != nil {
		log.Fatalf("Unable to write the JSON schema to %s: %s", output, err)
	}
}
