package pipeline

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/features"
	"github.com/vibewatch/vibewatch/internal/ingest"
	"github.com/vibewatch/vibewatch/internal/storage"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// Object layout in storage.
const (
	DatasetsPrefix = "datasets"
	RunsPrefix     = "runs"
	LatestPrefix   = "latest"

	MasterFile  = "master_df.csv"
	SummaryFile = "anomaly_summary.csv"
)

// FileName is the canonical file name of a source inside a dataset.
func FileName(src types.Source) string {
	return string(src) + ".csv"
}

// DatasetObjects returns the object path of every source of a dataset.
func DatasetObjects(datasetID string) map[types.Source]string {
	out := make(map[types.Source]string, 6)
	for _, src := range types.AllSources() {
		out[src] = storage.Join(DatasetsPrefix, datasetID, FileName(src))
	}
	return out
}

// SaveDataset validates the header of each of the six uploads and stores
// them under a new dataset id. open is called once per source and must
// return a fresh reader each time. Nothing is stored unless every header is
// valid.
func SaveDataset(ctx context.Context, store storage.ObjectStorage, workDir string,
	open func(types.Source) (io.ReadCloser, error)) (string, error) {

	id := uuid.NewString()
	dir := filepath.Join(workDir, "upload-"+id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", vwerrors.NewStorageError(vwerrors.CodeWriteFailed, "create upload dir", err)
	}
	defer os.RemoveAll(dir)

	local := make(map[types.Source]string, 6)
	for _, src := range types.AllSources() {
		rc, err := open(src)
		if err != nil {
			return "", vwerrors.NewInputError(vwerrors.CodeMissingFile, FileName(src), "dataset upload is missing a source").
				WithDetails(map[string]interface{}{"source": string(src)})
		}
		p := filepath.Join(dir, FileName(src))
		err = spool(rc, p)
		rc.Close()
		if err != nil {
			return "", vwerrors.NewStorageError(vwerrors.CodeWriteFailed, "spool upload", err)
		}

		f, err := os.Open(p)
		if err != nil {
			return "", vwerrors.NewStorageError(vwerrors.CodeWriteFailed, "reopen upload", err)
		}
		err = ingest.ValidateHeader(src, FileName(src), f)
		f.Close()
		if err != nil {
			return "", err
		}
		local[src] = p
	}

	objects := DatasetObjects(id)
	stored := make([]string, 0, len(objects))
	for _, src := range types.AllSources() {
		if err := store.Upload(ctx, local[src], objects[src]); err != nil {
			details := map[string]interface{}{"source": string(src)}
			if leftover := rollback(ctx, store, stored); len(leftover) > 0 {
				details["leftover_objects"] = leftover
			}
			return "", vwerrors.NewStorageError(vwerrors.CodeUploadFailed, "store dataset", err).
				WithDetails(details)
		}
		stored = append(stored, objects[src])
	}
	return id, nil
}

// rollback deletes the objects of a partially stored dataset and returns the
// ones it could not remove. It runs even when ctx is already cancelled.
func rollback(ctx context.Context, store storage.ObjectStorage, objects []string) []string {
	ctx = context.WithoutCancel(ctx)
	var leftover []string
	for _, obj := range objects {
		if err := store.Delete(ctx, obj); err != nil {
			leftover = append(leftover, obj)
		}
	}
	return leftover
}

func spool(r io.Reader, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Fingerprint hashes the six input files with murmur3-128 in source order.
// Two snapshots with byte-identical files share a fingerprint.
func Fingerprint(paths features.Paths) (string, error) {
	h := murmur3.New128()
	for _, src := range types.AllSources() {
		p := paths.Get(src)
		f, err := os.Open(p)
		if err != nil {
			return "", vwerrors.Wrap(vwerrors.ErrCategoryInput, vwerrors.CodeMissingFile, "open input for fingerprint", err).
				WithDetails(map[string]interface{}{"file": p})
		}
		h.Write([]byte(src))
		h.Write([]byte{0})
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", vwerrors.Wrap(vwerrors.ErrCategoryInput, vwerrors.CodeMissingFile, "read input for fingerprint", err).
				WithDetails(map[string]interface{}{"file": p})
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
