package main

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
)

// doPack archives a pyramid directory into a .tar.gz for transfer to a
// hosting server.  Paths inside the archive are relative to the pyramid
// root so it unpacks into the layout the WTML descriptor expects.
func doPack(pyramidDir, outFile string) error {
	if pyramidDir == "" || outFile == "" {
		return fmt.Errorf("pack requires a pyramid directory and an output archive")
	}
	info, err := os.Stat(pyramidDir)
	if err != nil {
		return fmt.Errorf("unable to read pyramid directory %q: %v", pyramidDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("pyramid path %q is not a directory", pyramidDir)
	}

	f, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("unable to create archive %q: %v", outFile, err)
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	var files, bytes int64
	err = filepath.Walk(pyramidDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") {
			return nil // leftover from an interrupted write
		}
		rel, err := filepath.Rel(pyramidDir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, src)
		src.Close()
		if err != nil {
			return err
		}
		files++
		bytes += n
		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to archive pyramid: %v", err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	f = nil
	fmt.Printf("Packed %s files (%s) into %s\n", humanize.Comma(files),
		humanize.Bytes(uint64(bytes)), outFile)
	return nil
}
