package converter

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/janpfeifer/nasbench/internal/compact"
	"github.com/janpfeifer/nasbench/internal/dataset"
	"github.com/janpfeifer/nasbench/internal/tfrecord"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackupSuffix is appended to the name of an existing file overwritten by WriteFile.
const BackupSuffix = "~"

// WriteFile saves the index in the compact format to path.
//
// The file is written to a temporary file in the same directory and only renamed to path once
// complete and synced, so path either holds a complete dataset or is not touched. A previous
// file at path is kept with BackupSuffix.
func WriteFile(path string, idx *dataset.Index) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", path)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = compact.Write(w, idx); err != nil {
		return errors.WithMessagef(err, "failed to write %q", tmpName)
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write %q", tmpName)
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %q", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", tmpName)
	}

	if _, statErr := os.Stat(path); statErr == nil {
		backupName := path + BackupSuffix
		if err = os.Rename(path, backupName); err != nil {
			return errors.Wrapf(err, "failed to rename %q to %q", path, backupName)
		}
		klog.V(1).Infof("Previous %q saved as %q", path, backupName)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", tmpName, path)
	}
	return nil
}

// OpenReader loads a dataset from r, in either format: if it starts with the compact magic
// it is read as compact, otherwise it is converted as a verbose TFRecord source.
func OpenReader(ctx context.Context, r io.Reader, opts Options) (*dataset.Index, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(compact.Magic))
	if err == nil && string(magic) == compact.Magic {
		klog.V(1).Infof("Reading compact dataset")
		return compact.NewDecoder(br).WithHashVerification(opts.VerifyCompactHashes).Decode()
	}
	klog.V(1).Infof("Converting verbose dataset")
	return Convert(ctx, tfrecord.NewReader(br), opts)
}

// Open loads the dataset in path, see OpenReader.
func Open(ctx context.Context, path string, opts Options) (*dataset.Index, error) {
	f, r, err := openInput(path, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	idx, err := OpenReader(ctx, r, opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading dataset %q", path)
	}
	return idx, nil
}

// ConvertFile converts the verbose dataset in inputPath, and saves it in the compact format
// to outputPath. On failure outputPath is not created or modified.
func ConvertFile(ctx context.Context, inputPath, outputPath string, opts Options) (*dataset.Index, error) {
	f, r, err := openInput(inputPath, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	idx, err := Convert(ctx, tfrecord.NewReader(r), opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "while converting %q", inputPath)
	}
	if err := WriteFile(outputPath, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// openInput opens path for reading, wrapped with opts.WrapInput if set.
func openInput(path string, opts Options) (*os.File, io.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %q", path)
	}
	if opts.WrapInput == nil {
		return f, f, nil
	}
	var size int64 = -1
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return f, opts.WrapInput(f, size), nil
}
