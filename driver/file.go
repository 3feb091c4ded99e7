package driver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"pipeline-runner/pipeline"
)

// FileDriverID is the module identifier of the file driver.
const FileDriverID = "file"

// Keyword arguments understood by the file driver.
const (
	KwargPath         = "path"
	KwargPipelineName = "pipeline_name"
	KwargTagsPath     = "tags_path"
)

// FileDriver loads a definition document that was authored or generated
// elsewhere. The document may be JSON, JSONC or YAML and is read from a local
// path or any go-getter source (s3::, https://, git::...).
func FileDriver() Driver {
	return Driver{
		Pipeline:   loadDefinitionFile,
		Kwargs:     true,
		CustomTags: loadTagsFile,
	}
}

func loadDefinitionFile(ctx context.Context, env Env, kwargs pipeline.Kwargs) (pipeline.Definition, error) {
	if env.Backend == nil {
		return nil, errors.New("no backend configured")
	}
	source, ok := kwargs.String(KwargPath)
	if !ok || source == "" {
		return nil, errors.Newf("kwarg %q is required", KwargPath)
	}

	path, cleanup, err := Fetch(ctx, source, env.Logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", source)
	}
	document, err := NormalizeDocument(path, data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", source)
	}

	name, ok := kwargs.String(KwargPipelineName)
	if !ok || name == "" {
		name = NameFromPath(source)
	}
	env.Logger.Debugw("Loaded pipeline definition", "source", source, "pipeline", name, "size", len(document))
	return env.Backend.Definition(name, document), nil
}

func loadTagsFile(ctx context.Context, env Env, kwargs pipeline.Kwargs, tags []pipeline.Tag) ([]pipeline.Tag, error) {
	source, ok := kwargs.String(KwargTagsPath)
	if !ok || source == "" {
		return tags, nil
	}

	path, cleanup, err := Fetch(ctx, source, env.Logger)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", source)
	}
	if !isYAML(path) {
		data = jsonc.ToJSON(data)
	}
	var extra []pipeline.Tag
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, errors.Wrapf(err, "parsing tags in %s", source)
	}
	return pipeline.MergeTags(tags, extra), nil
}

// NormalizeDocument converts a JSON, JSONC or YAML document into compact JSON.
// The document must be an object.
func NormalizeDocument(path string, data []byte) (string, error) {
	var doc map[string]interface{}
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return "", errors.Wrap(err, "parsing YAML definition")
		}
	} else {
		dec := json.NewDecoder(strings.NewReader(string(jsonc.ToJSON(data))))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return "", errors.Wrap(err, "parsing JSON definition")
		}
	}
	if doc == nil {
		return "", errors.New("definition must be a JSON object")
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "encoding definition")
	}
	return string(out), nil
}

// NameFromPath strips the directory and extension from a path or URL, e.g.
// "s3::https://bucket/pipelines/abalone.json?version=3" gives "abalone".
func NameFromPath(source string) string {
	base := filepath.Base(stripQuery(source))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
