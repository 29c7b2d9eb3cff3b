package main

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/directorate/internal/store"
)

// Archive layout: documents/<file> and database/<file>.
const (
	sectionDocuments = "documents"
	sectionDatabase  = "database"
)

func runExport(args []string) error {
	out, _, err := archiveArgs(args, "export -f <out.tar.zst>")
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Fold the WAL into the main file so the copy is complete
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := db.Checkpoint(); err != nil {
		db.Close()
		return err
	}
	db.Close()

	n, err := exportArchive(out, cfg.Documents.Dir, cfg.Store.Path)
	if err != nil {
		return err
	}

	info, _ := os.Stat(out)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}
	fmt.Printf("Export complete: %d files, %s\n", n, formatSize(size))
	return nil
}

func runRestore(args []string) error {
	in, overwrite, err := archiveArgs(args, "restore -f <in.tar.zst> [-overwrite]")
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	n, err := restoreArchive(in, cfg.Documents.Dir, cfg.Store.Path, overwrite)
	if err != nil {
		return err
	}
	fmt.Printf("Restore complete: %d files\n", n)
	return nil
}

func archiveArgs(args []string, usage string) (file string, overwrite bool, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return "", false, fmt.Errorf("missing value for -f")
			}
			i++
			file = args[i]
		case "-overwrite":
			overwrite = true
		default:
			return "", false, fmt.Errorf("unknown argument %q", args[i])
		}
	}
	if file == "" {
		fmt.Fprintf(os.Stderr, "Usage: directorate %s\n", usage)
		return "", false, fmt.Errorf("missing -f flag")
	}
	return file, overwrite, nil
}

// exportArchive writes every regular file of docsDir and the database file
// into a zstd-compressed tar. Lock files are skipped.
func exportArchive(out, docsDir, dbPath string) (int, error) {
	f, err := os.Create(out)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	count := 0
	err = filepath.WalkDir(docsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == docsDir {
				slog.Warn("documents directory missing, exporting database only", "dir", docsDir)
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() || strings.HasSuffix(p, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(docsDir, p)
		if err != nil {
			return err
		}
		count++
		return addFile(tw, p, path.Join(sectionDocuments, filepath.ToSlash(rel)))
	})
	if err != nil {
		return 0, fmt.Errorf("archive documents: %w", err)
	}

	if err := addFile(tw, dbPath, path.Join(sectionDatabase, filepath.Base(dbPath))); err != nil {
		return 0, fmt.Errorf("archive database: %w", err)
	}
	count++

	// Close explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	return count, nil
}

func addFile(tw *tar.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write tar data: %w", err)
	}
	return nil
}

// restoreArchive extracts an export. Existing files are only replaced with
// overwrite set.
func restoreArchive(in, docsDir, dbPath string, overwrite bool) (int, error) {
	f, err := os.Open(in)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		section, rel := splitArchivePath(hdr.Name)
		var dst string
		switch section {
		case sectionDocuments:
			dst = filepath.Join(docsDir, filepath.FromSlash(rel))
		case sectionDatabase:
			dst = dbPath
		default:
			slog.Warn("skipping unknown archive entry", "name", hdr.Name)
			continue
		}

		if !overwrite {
			if _, err := os.Stat(dst); err == nil {
				return count, fmt.Errorf("%s already exists, add -overwrite to replace files", dst)
			}
		}
		if err := writeFile(dst, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func writeFile(dst string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Close()
}

// splitArchivePath splits "documents/run.json" into ("documents", "run.json").
// Unknown sections and paths escaping their section return empty strings.
func splitArchivePath(name string) (section, rel string) {
	name = strings.TrimLeft(name, "./")
	section, rel, ok := strings.Cut(name, "/")
	if !ok || rel == "" {
		return "", ""
	}
	if section != sectionDocuments && section != sectionDatabase {
		return "", ""
	}
	rel = path.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return "", ""
	}
	return section, rel
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
