// Package zip bundles exported artifacts into a single archive.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// Write streams assets into w. Images are stored uncompressed; everything else
// is deflated. Duplicate names get a numeric suffix before the extension.
func Write(w io.Writer, assets []Asset, modified time.Time) error {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := uniqueName(used, cleanName(asset.Filename))
		method := zip.Deflate
		if strings.HasPrefix(asset.MIME, "image/") {
			method = zip.Store
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: modified})
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

// ArchiveAssets returns the archive as a byte slice.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := Write(buf, assets, time.Now()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cleanName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = strings.TrimLeft(path.Clean("/"+name), "/")
	if name == "" || name == "." {
		return "file"
	}
	return name
}

func uniqueName(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	candidate := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
	return uniqueName(used, candidate)
}
