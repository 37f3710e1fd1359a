package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listTarGz(t *testing.T, archive []byte) []string {
	t.Helper()

	gzipReader, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	defer gzipReader.Close()

	var names []string
	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, header.Name)
	}
	sort.Strings(names)
	return names
}

func TestCreateTarFromDirWithExcludes(t *testing.T) {
	tempDir := t.TempDir()
	files := map[string]string{
		"Dockerfile":                    "FROM python:3.12-slim",
		"language.yaml":                 "category: scripting",
		"runner.hbs":                    "import {{user_module}}",
		"generator.hbs":                 "def generate(): ...",
		"requirements.txt":              "numpy",
		"__pycache__/x.cpython-312.pyc": "cache",
		"vendor/lib.py":                 "lib",
	}
	for relPath, content := range files {
		fullPath := filepath.Join(tempDir, relPath)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o644))
	}

	t.Run("default build excludes", func(t *testing.T) {
		archive, err := CreateTarFromDirWithExcludes(tempDir, []string{"*.hbs", "language.yaml", "__pycache__/"})
		require.NoError(t, err)

		assert.Equal(t, []string{"Dockerfile", "requirements.txt", "vendor/", "vendor/lib.py"}, listTarGz(t, archive))
	})

	t.Run("no excludes keeps everything", func(t *testing.T) {
		archive, err := CreateTarFromDirWithExcludes(tempDir, nil)
		require.NoError(t, err)

		names := listTarGz(t, archive)
		assert.Contains(t, names, "runner.hbs")
		assert.Contains(t, names, "__pycache__/x.cpython-312.pyc")
		assert.Len(t, names, len(files)+2)
	})

	t.Run("file contents preserved", func(t *testing.T) {
		archive, err := CreateTarFromDirWithExcludes(tempDir, []string{"*.hbs"})
		require.NoError(t, err)

		gzipReader, err := gzip.NewReader(bytes.NewReader(archive))
		require.NoError(t, err)
		tarReader := tar.NewReader(gzipReader)
		found := false
		for {
			header, err := tarReader.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			if header.Name == "Dockerfile" {
				content, err := io.ReadAll(tarReader)
				require.NoError(t, err)
				assert.Equal(t, "FROM python:3.12-slim", string(content))
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("missing dir", func(t *testing.T) {
		_, err := CreateTarFromDirWithExcludes(filepath.Join(tempDir, "absent"), nil)
		require.Error(t, err)
	})
}

func TestFileArchive(t *testing.T) {
	t.Run("file only, extracted into parent", func(t *testing.T) {
		dir, archive, err := fileArchive("/runner/main.py", "print('hi')")
		require.NoError(t, err)
		assert.Equal(t, "/runner", dir)

		files, err := readTar(bytes.NewReader(archive))
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"main.py": "print('hi')"}, files)
	})

	t.Run("leaves workdir ownership alone", func(t *testing.T) {
		_, archive, err := fileArchive("/runner/gen.py", "x")
		require.NoError(t, err)

		tr := tar.NewReader(bytes.NewReader(archive))
		for {
			header, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			assert.NotEqual(t, byte(tar.TypeDir), header.Typeflag, "unexpected directory entry %s", header.Name)
			assert.NotContains(t, header.Name, "/")
		}
	})

	t.Run("root level file", func(t *testing.T) {
		dir, archive, err := fileArchive("/main.py", "x")
		require.NoError(t, err)
		assert.Equal(t, "/", dir)

		files, err := readTar(bytes.NewReader(archive))
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"main.py": "x"}, files)
	})

	t.Run("empty content", func(t *testing.T) {
		_, archive, err := fileArchive("/runner/gen.py", "")
		require.NoError(t, err)

		files, err := readTar(bytes.NewReader(archive))
		require.NoError(t, err)
		assert.Equal(t, "", files["gen.py"])
	})

	t.Run("invalid destination", func(t *testing.T) {
		_, _, err := fileArchive("/", "x")
		require.Error(t, err)

		_, _, err = fileArchive("runner/main.py", "x")
		require.Error(t, err)
	})
}
