package sandbox

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const FilePermission = 0o644

// CreateTarFromDirWithExcludes archives srcDir as a tar.gz, leaving out every
// path matched by excludePatterns. Patterns ending in "/" match a directory
// anywhere in the tree; other patterns match a file's base name or its
// relative path.
func CreateTarFromDirWithExcludes(srcDir string, excludePatterns []string) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzipWriter)

	err := filepath.Walk(srcDir, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcDir, file)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if fi.IsDir() {
			if shouldExcludeFile(relPath+"/", excludePatterns) {
				return filepath.SkipDir
			}
		} else if shouldExcludeFile(relPath, excludePatterns) {
			return nil
		}

		header, err := tar.FileInfoHeader(fi, file)
		if err != nil {
			return err
		}
		header.Name = relPath
		if fi.IsDir() {
			header.Name += "/"
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if fi.Mode().IsRegular() {
			data, err := os.Open(file)
			if err != nil {
				return err
			}
			defer data.Close()

			if _, err := io.Copy(tarWriter, data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}

	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func shouldExcludeFile(relPath string, excludePatterns []string) bool {
	base := path.Base(strings.TrimSuffix(relPath, "/"))

	for _, pattern := range excludePatterns {
		if pattern == "" {
			continue
		}

		if strings.HasSuffix(pattern, "/") {
			if strings.HasPrefix(relPath, pattern) || strings.Contains(relPath, "/"+pattern) {
				return true
			}
			continue
		}

		// plain patterns only ever match files
		if strings.HasSuffix(relPath, "/") {
			continue
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
		if ok, _ := path.Match(pattern, relPath); ok {
			return true
		}
	}

	return false
}

// fileArchive builds an uncompressed tar holding only the base name of the
// absolute container path dst. It returns the directory the archive must be
// extracted into. The archive carries no directory entry, so the ownership
// and mode the image gave that directory are left alone.
func fileArchive(dst, content string) (string, []byte, error) {
	clean := path.Clean(dst)
	if !path.IsAbs(clean) || clean == "/" {
		return "", nil, fmt.Errorf("invalid destination path %q", dst)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path.Base(clean),
		Mode:     FilePermission,
		Size:     int64(len(content)),
		ModTime:  time.Now(),
	}); err != nil {
		return "", nil, err
	}
	if _, err := io.WriteString(tw, content); err != nil {
		return "", nil, err
	}
	if err := tw.Close(); err != nil {
		return "", nil, err
	}

	return path.Dir(clean), buf.Bytes(), nil
}
