package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AssetsZipName is the companion archive holding auxiliary files (vocabulary
// files and similar) referenced by table initializers.
const AssetsZipName = "assets.zip"

// ZipAssets bundles the named asset files (relative to srcDir) into
// outDir/assets.zip. With no assets it writes nothing and reports no error.
func ZipAssets(srcDir string, assets []string, outDir string) error {
	if len(assets) == 0 {
		return nil
	}
	f, err := os.Create(filepath.Join(outDir, AssetsZipName))
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	for _, name := range assets {
		if err := addAsset(zw, srcDir, name); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("artifact: finalizing %s: %w", AssetsZipName, err)
	}
	return f.Close()
}

func addAsset(zw *zip.Writer, srcDir, name string) error {
	src, err := os.Open(filepath.Join(srcDir, name))
	if err != nil {
		return fmt.Errorf("artifact: asset %s: %w", name, err)
	}
	defer func() { _ = src.Close() }()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("artifact: asset %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("artifact: asset %s: %w", name, err)
	}
	return nil
}
