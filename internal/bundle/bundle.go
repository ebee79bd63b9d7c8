// Package bundle packs a run's output directory into a single
// zstd-compressed tarball for transfer or archival.
package bundle

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Result describes a built bundle.
type Result struct {
	Path  string
	Files int
	Bytes int64 // compressed size
}

// Build archives every regular file under srcDir into a zstd-compressed
// tarball at destPath. Entry names are relative to srcDir with forward
// slashes, in lexical walk order. The archive appears at destPath only once
// it is complete.
func Build(ctx context.Context, srcDir, destPath string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return nil, fmt.Errorf("create bundle dir: %w", err)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create bundle file: %w", err)
	}

	files, err := writeArchive(ctx, f, srcDir)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close bundle file: %w", err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("stat bundle file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename bundle file: %w", err)
	}

	return &Result{Path: destPath, Files: files, Bytes: info.Size()}, nil
}

func writeArchive(ctx context.Context, w io.Writer, srcDir string) (int, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("create zstd encoder: %w", err)
	}
	tw := tar.NewWriter(enc)

	files := 0
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header %s: %w", rel, err)
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}

		files++
		return nil
	})
	if walkErr != nil {
		tw.Close()
		enc.Close()
		return 0, walkErr
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		return 0, fmt.Errorf("close tar writer: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("close zstd encoder: %w", err)
	}
	return files, nil
}
