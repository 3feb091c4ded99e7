package driver

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"
)

// Fetch makes source available as a local file. Existing local paths are used
// in place; anything else is downloaded with go-getter into a temporary
// directory that the returned cleanup function removes.
func Fetch(ctx context.Context, source string, log *zap.SugaredLogger) (string, func(), error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if info, err := os.Stat(source); err == nil {
		if info.IsDir() {
			return "", nil, errors.Newf("%s is a directory", source)
		}
		return source, func() {}, nil
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	detected, err := getter.Detect(source, pwd, getter.Detectors)
	if err != nil {
		return "", nil, errors.Wrapf(err, "failed to detect source type of %s", source)
	}

	tempDir, err := os.MkdirTemp("", "pipeline-runner-*")
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create temp directory")
	}
	cleanup := func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Warnw("Failed to remove temp directory", "dir", tempDir, "error", err)
		}
	}

	dst := filepath.Join(tempDir, NameFromPath(source)+extension(source))
	log.Infow("Fetching pipeline source", "source", source, "detected", detected)

	client := &getter.Client{
		Ctx:     ctx,
		Src:     detected,
		Dst:     dst,
		Pwd:     pwd,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
	}
	if err := client.Get(); err != nil {
		cleanup()
		return "", nil, errors.Wrapf(err, "failed to fetch %s", source)
	}
	return dst, cleanup, nil
}

func extension(source string) string {
	return filepath.Ext(filepath.Base(stripQuery(source)))
}

func stripQuery(source string) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 {
		return source[:i]
	}
	return source
}
